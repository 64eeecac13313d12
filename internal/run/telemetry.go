package run

import "time"

// StageRecord is one telemetry entry: which stage ran, how long it took,
// and the error it returned, empty on success. Records live on the State
// they describe, appended in execution order; there is no process-wide
// telemetry collection.
type StageRecord struct {
	Stage          string  `json:"stage"`
	LatencySeconds float64 `json:"latency_seconds"`
	Error          string  `json:"error,omitempty"`
}

// RecordStage appends one telemetry record for a completed stage
// invocation. Called once per stage call, including repeated research,
// draft and verify passes during the retry loop.
func (s *State) RecordStage(stage string, latency time.Duration, err error) {
	rec := StageRecord{
		Stage:          stage,
		LatencySeconds: latency.Seconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.Telemetry = append(s.Telemetry, rec)
}
