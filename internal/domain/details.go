// Package domain defines the core entities and collaborator contracts for the
// caching probe service.
package domain

import "time"

// ProbeDetails is the per-probe payload attached to a ProbeResult. Each probe
// kind carries its own shape; Kind discriminates when serializing.
type ProbeDetails interface {
	Kind() string
}

// BasicDetails records the two identical calls of the basic repeat probe.
type BasicDetails struct {
	FirstCall  UsageSample `json:"first_call"`
	SecondCall UsageSample `json:"second_call"`
}

// Kind implements ProbeDetails.
func (BasicDetails) Kind() string { return "basic" }

// SizeResult is the outcome of one prompt size in the prompt-size probe.
type SizeResult struct {
	TargetTokens int         `json:"target_tokens"`
	PromptTokens int         `json:"prompt_tokens"`
	HitRate      float64     `json:"hit_rate"`
	FirstCall    UsageSample `json:"first_call"`
	SecondCall   UsageSample `json:"second_call"`
}

// SizesDetails records the per-size outcomes of the prompt-size probe.
type SizesDetails struct {
	Sizes []SizeResult `json:"sizes"`
}

// Kind implements ProbeDetails.
func (SizesDetails) Kind() string { return "prompt-size" }

// PartialDetails records the shared-system/different-user calls of the
// partial-cache probe.
type PartialDetails struct {
	FirstCall  UsageSample `json:"first_call"`
	SecondCall UsageSample `json:"second_call"`
}

// Kind implements ProbeDetails.
func (PartialDetails) Kind() string { return "partial-cache" }

// PersistenceDetails records the N sequential identical calls of the
// persistence probe, including how many were attempted and how many failed.
type PersistenceDetails struct {
	Attempted int           `json:"attempted"`
	Failed    int           `json:"failed"`
	Calls     []UsageSample `json:"calls"`
}

// Kind implements ProbeDetails.
func (PersistenceDetails) Kind() string { return "persistence" }

// TTLDelayResult is the outcome of one delay gap in the ttl probe.
type TTLDelayResult struct {
	Delay      time.Duration `json:"delay_ns"`
	HitRate    float64       `json:"hit_rate"`
	FirstCall  UsageSample   `json:"first_call"`
	SecondCall UsageSample   `json:"second_call"`
}

// TTLDetails records the per-delay outcomes of the ttl probe.
type TTLDetails struct {
	Delays []TTLDelayResult `json:"delays"`
}

// Kind implements ProbeDetails.
func (TTLDetails) Kind() string { return "ttl" }
