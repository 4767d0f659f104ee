// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	TypeStepStart      = "step_start"
	TypeLog            = "log"
	TypeStepDone       = "step_done"
	TypeStepFailed     = "step_failed"
	TypeNetworkWarning = "network_warning"
	TypeDone           = "done"
)

// PlanEvent is one entry of the ordered event sequence emitted while a plan
// executes.
type PlanEvent struct {
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	PlanID    string         `json:"plan_id"`
	Step      string         `json:"step,omitempty"`
	Line      string         `json:"line,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink consumes plan events. The scheduler is the single producer.
type Sink interface {
	EmitStepStart(planID, step, label string, total int)
	EmitLog(planID, step, line string)
	EmitStepDone(planID, step string, elapsed time.Duration, skipped bool)
	EmitStepFailed(planID, step string, err error, needsSudo bool)
	EmitNetworkWarning(planID, registry, url string, err error)
	EmitDone(planID string, ok bool, message string, paused bool, pauseReason string)
}

// Emitter writes events to an io.Writer, one per line, in JSON or a terse
// human form.
type Emitter struct {
	mu   sync.Mutex
	seq  int64
	out  io.Writer
	json bool
}

// NewEmitter returns nil when out is nil so callers can pass the result
// straight into a CompositeSink.
func NewEmitter(out io.Writer, json bool) *Emitter {
	if out == nil {
		return nil
	}
	return &Emitter{out: out, json: json}
}

func (e *Emitter) emit(ev PlanEvent) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	ev.Sequence = e.seq
	ev.Timestamp = time.Now().UTC()

	if e.json {
		payload, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(e.out, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintf(e.out, "%s\n", payload)
		return
	}

	fmt.Fprintf(e.out, "[%d] %s", ev.Sequence, ev.Type)
	if ev.Step != "" {
		fmt.Fprintf(e.out, " step=%s", ev.Step)
	}
	if ev.Line != "" {
		fmt.Fprintf(e.out, " %s", ev.Line)
	}
	for k, v := range ev.Data {
		fmt.Fprintf(e.out, " %s=%v", k, v)
	}
	fmt.Fprintln(e.out)
}

func (e *Emitter) EmitStepStart(planID, step, label string, total int) {
	e.emit(PlanEvent{Type: TypeStepStart, PlanID: planID, Step: step,
		Data: map[string]any{"label": label, "total": total}})
}

func (e *Emitter) EmitLog(planID, step, line string) {
	if line == "" {
		return
	}
	e.emit(PlanEvent{Type: TypeLog, PlanID: planID, Step: step, Line: line})
}

func (e *Emitter) EmitStepDone(planID, step string, elapsed time.Duration, skipped bool) {
	data := map[string]any{"elapsed_ms": elapsed.Milliseconds()}
	if skipped {
		data = map[string]any{"skipped": true}
	}
	e.emit(PlanEvent{Type: TypeStepDone, PlanID: planID, Step: step, Data: data})
}

func (e *Emitter) EmitStepFailed(planID, step string, err error, needsSudo bool) {
	data := map[string]any{}
	if err != nil {
		data["error"] = err.Error()
	}
	if needsSudo {
		data["needs_sudo"] = true
	}
	e.emit(PlanEvent{Type: TypeStepFailed, PlanID: planID, Step: step, Data: data})
}

func (e *Emitter) EmitNetworkWarning(planID, registry, url string, err error) {
	data := map[string]any{"registry": registry, "url": url}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emit(PlanEvent{Type: TypeNetworkWarning, PlanID: planID, Data: data})
}

func (e *Emitter) EmitDone(planID string, ok bool, message string, paused bool, pauseReason string) {
	data := map[string]any{"ok": ok}
	if message != "" {
		if ok {
			data["message"] = message
		} else {
			data["error"] = message
		}
	}
	if paused {
		data["paused"] = true
		data["pause_reason"] = pauseReason
	}
	e.emit(PlanEvent{Type: TypeDone, PlanID: planID, Data: data})
}
