// Package trace keeps a canonical record of the decisions taken for each
// trigger during one run.
//
// A trace contains logical facts only: no timestamps, durations, run ids or
// error strings. Two runs that took the same decisions over the same trigger
// graph produce byte-identical canonical encodings, whatever the order the
// events were recorded in.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the record of one run over a trigger graph.
type ExecutionTrace struct {
	GraphHash   string
	Environment string
	Events      []TraceEvent
}

// TraceEventKind discriminates TraceEvent. The string values are part of the
// canonical bytes; do not rename.
type TraceEventKind string

const (
	EventTriggerInhibited   TraceEventKind = "TriggerInhibited"
	EventTriggerUpToDate    TraceEventKind = "TriggerUpToDate"
	EventTriggerExecuted    TraceEventKind = "TriggerExecuted"
	EventHandlerFailed      TraceEventKind = "HandlerFailed"
	EventHandlerSpawnFailed TraceEventKind = "HandlerSpawnFailed"
)

// Reasons used by the engine.
const (
	ReasonEnvironment  = "Environment"
	ReasonNoChanges    = "NoChanges"
	ReasonNoHandlers   = "NoHandlers"
	ReasonPathsChanged = "PathsChanged"
	ReasonForced       = "Forced"
	ReasonNonZeroExit  = "NonZeroExit"
	ReasonSpawnFailure = "SpawnFailure"
)

// TraceEvent is a single decision about a trigger or one of its handlers.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`

	// TriggerID names the trigger the event refers to. Required.
	TriggerID string `json:"triggerId"`

	// Reason is a stable reason code such as "PathsChanged".
	Reason string `json:"reason,omitempty"`

	// Handler is the command line of a handler event.
	Handler string `json:"handler,omitempty"`

	// Paths are the outdated paths behind an execution. Sorted on
	// canonicalization; empty is omitted.
	Paths []string `json:"paths,omitempty"`
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.TriggerID == "" {
			return fmt.Errorf("events[%d].triggerId is required for kind %q", i, e.Kind)
		}
		if isHandlerEvent(e.Kind) && e.Handler == "" {
			return fmt.Errorf("events[%d].handler is required for kind %q", i, e.Kind)
		}
		for j, p := range e.Paths {
			if p == "" {
				return fmt.Errorf("events[%d].paths[%d] is empty", i, j)
			}
		}
	}
	return nil
}

func isHandlerEvent(kind TraceEventKind) bool {
	return kind == EventHandlerFailed || kind == EventHandlerSpawnFailed
}

// Canonicalize normalizes and sorts the trace in place.
//
// Events are stably sorted by (triggerId, kindOrder, handler, reason, paths).
// Paths are copied and sorted; empty Paths become nil.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Paths) == 0 {
			t.Events[i].Paths = nil
			continue
		}
		paths := make([]string, len(t.Events[i].Paths))
		copy(paths, t.Events[i].Paths)
		sort.Strings(paths)
		t.Events[i].Paths = paths
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.TriggerID != b.TriggerID {
			return a.TriggerID < b.TriggerID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Handler != b.Handler {
			return a.Handler < b.Handler
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return compareStringSlices(a.Paths, b.Paths)
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventTriggerInhibited:
		return 10
	case EventTriggerUpToDate:
		return 20
	case EventTriggerExecuted:
		return 30
	case EventHandlerFailed:
		return 40
	case EventHandlerSpawnFailed:
		return 50
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

type wireTrace struct {
	GraphHash   string       `json:"graphHash"`
	Environment string       `json:"environment,omitempty"`
	Events      []TraceEvent `json:"events"`
}

// CanonicalJSON returns the canonical JSON encoding of the trace. The
// receiver's slices are not modified.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash, Environment: t.Environment}
	cp.Events = make([]TraceEvent, len(t.Events))
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(wireTrace{GraphHash: cp.GraphHash, Environment: cp.Environment, Events: cp.Events})
}

// Hash returns the hash of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}
