// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import "time"

// CompositeSink fan-outs emitted events to multiple sinks.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink returns a sink that forwards events to all provided sinks.
// Nil sinks are dropped; a single survivor is returned unwrapped.
func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	default:
		return &CompositeSink{sinks: filtered}
	}
}

func (c *CompositeSink) EmitStepStart(planID, step, label string, total int) {
	for _, s := range c.sinks {
		s.EmitStepStart(planID, step, label, total)
	}
}

func (c *CompositeSink) EmitLog(planID, step, line string) {
	for _, s := range c.sinks {
		s.EmitLog(planID, step, line)
	}
}

func (c *CompositeSink) EmitStepDone(planID, step string, elapsed time.Duration, skipped bool) {
	for _, s := range c.sinks {
		s.EmitStepDone(planID, step, elapsed, skipped)
	}
}

func (c *CompositeSink) EmitStepFailed(planID, step string, err error, needsSudo bool) {
	for _, s := range c.sinks {
		s.EmitStepFailed(planID, step, err, needsSudo)
	}
}

func (c *CompositeSink) EmitNetworkWarning(planID, registry, url string, err error) {
	for _, s := range c.sinks {
		s.EmitNetworkWarning(planID, registry, url, err)
	}
}

func (c *CompositeSink) EmitDone(planID string, ok bool, message string, paused bool, pauseReason string) {
	for _, s := range c.sinks {
		s.EmitDone(planID, ok, message, paused, pauseReason)
	}
}
