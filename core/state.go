package core

import "time"

// State is a document's position in the ingestion state machine.
//
//	Queued -> Preprocessing (images only) -> Extracting -> Embedding -> Storing -> Done
//
// Any non-terminal state may move to Failed. Done and Failed are terminal.
type State int

const (
	StateQueued State = iota + 1
	StatePreprocessing
	StateExtracting
	StateEmbedding
	StateStoring
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateQueued:        "queued",
	StatePreprocessing: "preprocessing",
	StateExtracting:    "extracting",
	StateEmbedding:     "embedding",
	StateStoring:       "storing",
	StateDone:          "done",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether moving from s to next is allowed.
// States only move forward and never repeat.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	switch s {
	case StateQueued:
		return next == StatePreprocessing || next == StateExtracting
	case StatePreprocessing:
		return next == StateExtracting
	case StateExtracting:
		return next == StateEmbedding
	case StateEmbedding:
		return next == StateStoring
	case StateStoring:
		return next == StateDone
	}
	return false
}

// Transition records one state change of one document in a batch.
type Transition struct {
	Index      int // position in the submitted batch
	DocumentID ID
	Filename   string
	From       State
	To         State
	Err        error // set when To is StateFailed
	At         time.Time
}

// Outcome is the final result for one submitted document.
// Outcomes are created once, when the document reaches a terminal state.
type Outcome struct {
	DocumentID ID
	Filename   string
	State      State  // StateDone or StateFailed
	Text       string // extracted text, set on success
	Stage      State  // state in which the failure originated
	Err        error  // failure reason
}

// OK reports whether the document was stored.
func (o *Outcome) OK() bool {
	return o.State == StateDone
}

// Reason returns a human readable failure reason, or "" on success.
func (o *Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
