// SPDX-License-Identifier: AGPL-3.0-or-later
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/toolup-org/toolup/internal/events"
)

// Sink adapts the journal to the plan event sink interface so every emitted
// event is also persisted. Append failures are logged and dropped: the journal
// must never abort a running plan.
type Sink struct {
	journal *Journal
}

// NewSink returns nil when the journal is nil so callers can pass the result
// straight into a CompositeSink.
func NewSink(j *Journal) *Sink {
	if j == nil {
		return nil
	}
	return &Sink{journal: j}
}

func (s *Sink) append(planID, eventType string, data map[string]any) {
	if s == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.journal.Append(ctx, planID, eventType, payload, time.Time{}); err != nil {
		slog.Debug("journal append dropped", "plan", planID, "event", eventType, "error", err)
	}
}

func (s *Sink) EmitStepStart(planID, step, label string, total int) {
	s.append(planID, events.TypeStepStart, map[string]any{"step": step, "label": label, "total": total})
}

func (s *Sink) EmitLog(planID, step, line string) {
	if line == "" {
		return
	}
	s.append(planID, events.TypeLog, map[string]any{"step": step, "line": line})
}

func (s *Sink) EmitStepDone(planID, step string, elapsed time.Duration, skipped bool) {
	s.append(planID, events.TypeStepDone, map[string]any{"step": step, "elapsed_ms": elapsed.Milliseconds(), "skipped": skipped})
}

func (s *Sink) EmitStepFailed(planID, step string, err error, needsSudo bool) {
	data := map[string]any{"step": step, "needs_sudo": needsSudo}
	if err != nil {
		data["error"] = err.Error()
	}
	s.append(planID, events.TypeStepFailed, data)
}

func (s *Sink) EmitNetworkWarning(planID, registry, url string, err error) {
	data := map[string]any{"registry": registry, "url": url}
	if err != nil {
		data["error"] = err.Error()
	}
	s.append(planID, events.TypeNetworkWarning, data)
}

func (s *Sink) EmitDone(planID string, ok bool, message string, paused bool, pauseReason string) {
	data := map[string]any{"ok": ok}
	if message != "" {
		data["message"] = message
	}
	if paused {
		data["paused"] = true
		data["pause_reason"] = pauseReason
	}
	s.append(planID, events.TypeDone, data)
}
