package domain

// Probe event statuses published by the orchestrator.
const (
	EventProbeStarted  = "probe_started"
	EventProbeFinished = "probe_finished"
	EventCycleFinished = "cycle_finished"
)

// ProbeEvent is the progress notification emitted as a model cycle advances.
// Consumers (persistence, logging, dashboard push) subscribe independently and
// must not block the rotation loop.
type ProbeEvent struct {
	CycleID      string   `json:"cycle_id"`
	ModelID      string   `json:"model_id"`
	ProbeName    string   `json:"probe_name,omitempty"`
	Status       string   `json:"status"`
	Success      bool     `json:"success"`
	CacheHitRate *float64 `json:"cache_hit_rate,omitempty"`
	ErrorKind    string   `json:"error_kind,omitempty"`
}
