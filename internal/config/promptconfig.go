// Package config provides configuration loading utilities for probe prompts.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the prompt texts the probes send. Prompts are fixed per
// deployment so that repeat calls are byte-identical; only the isolation token
// varies between cycles.
type PromptConfig struct {
	// System is the shared system prompt for all probes.
	System string `yaml:"system"`
	// User is the user prompt repeated verbatim within a probe.
	User string `yaml:"user"`
	// AltUser is the alternate user prompt for the partial-cache probe; it must
	// differ from User while System stays identical.
	AltUser string `yaml:"alt_user"`
	// Filler is the text repeated to pad prompts up to a target token size.
	Filler string `yaml:"filler"`
}

// DefaultPromptConfig returns the built-in prompts used when no YAML file is
// provided.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		System: "You are a test assistant used to measure prompt caching behavior. " +
			"Answer in one short sentence.",
		User:    "Summarize in one sentence why caching repeated prompts reduces latency.",
		AltUser: "Name one drawback of caching repeated prompts.",
		Filler:  "The quick brown fox jumps over the lazy dog while the cache warms up. ",
	}
}

// LoadPromptConfig loads prompt configuration from a YAML file, falling back
// to the defaults for any field left empty. A missing path returns defaults.
func LoadPromptConfig(path string) (PromptConfig, error) {
	cfg := DefaultPromptConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return PromptConfig{}, fmt.Errorf("op=config.LoadPromptConfig: %w", err)
	}
	var file PromptConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return PromptConfig{}, fmt.Errorf("op=config.LoadPromptConfig: %w", err)
	}
	if file.System != "" {
		cfg.System = file.System
	}
	if file.User != "" {
		cfg.User = file.User
	}
	if file.AltUser != "" {
		cfg.AltUser = file.AltUser
	}
	if file.Filler != "" {
		cfg.Filler = file.Filler
	}
	return cfg, nil
}
