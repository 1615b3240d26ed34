// Package telemetry provides a JSONL event stream for recording engine
// steps: source-set resolution, redirection decisions, branch plan
// assembly, materialization, and request expansion. Every decision the
// resolver makes is recorded as a structured JSON event, making runs
// auditable and replayable.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event kinds identify the type of telemetry event.
const (
	KindResolveStart    = "resolve_start"
	KindCandidate       = "candidate"
	KindRedirect        = "redirect"
	KindSibling         = "sibling"
	KindPlanReady       = "plan_ready"
	KindProjectCreated  = "project_created"
	KindPackageBranched = "package_branched"
	KindLinkRewritten   = "link_rewritten"
	KindActionExpanded  = "action_expanded"
	KindActionDropped   = "action_dropped"
	KindGateChecked     = "gate_checked"
	KindRerouted        = "rerouted"
)

// Event represents a single telemetry record. Each event carries a
// timestamp, a kind tag, and optional project/package context along with
// arbitrary structured data.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Project   string    `json:"project,omitempty"`
	Package   string    `json:"package,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Emitter writes telemetry events to a JSONL file. It is safe for
// concurrent use. A nil *Emitter is a valid no-op emitter.
type Emitter struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewEmitter creates an Emitter appending JSONL events to the file at
// path, creating it if needed.
func NewEmitter(path string) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Emitter{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes a single event. Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Record is a convenience wrapper discarding the write error; engine
// steps never fail because telemetry does.
func (e *Emitter) Record(kind, project, pkg string, data any) {
	_ = e.Emit(Event{Kind: kind, Project: project, Package: pkg, Data: data})
}

// Close flushes and closes the underlying file. Calling Close on a nil
// Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}
