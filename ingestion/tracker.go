package ingestion

import (
	"time"

	"github.com/poiesic/docingest/core"
)

// tracker follows one document through its states and reports every
// change to the observer. A tracker is owned by a single goroutine.
type tracker struct {
	index      int
	id         core.ID
	submission *core.Submission
	state      core.State
	observer   Observer
}

func newTracker(index int, sub *core.Submission, observer Observer) *tracker {
	t := &tracker{
		index:      index,
		id:         core.NewID(),
		submission: sub,
		observer:   observer,
	}
	t.moveTo(core.StateQueued, nil)
	return t
}

func (t *tracker) advance(next core.State) {
	if !t.state.CanTransition(next) {
		panic("ingestion: invalid transition " + t.state.String() + " -> " + next.String())
	}
	t.moveTo(next, nil)
}

// fail ends the chain in Failed and records the state the failure came from.
func (t *tracker) fail(err error) *core.Outcome {
	stage := t.state
	t.moveTo(core.StateFailed, err)
	return &core.Outcome{
		DocumentID: t.id,
		Filename:   t.submission.Filename,
		State:      core.StateFailed,
		Stage:      stage,
		Err:        err,
	}
}

func (t *tracker) done(text string) *core.Outcome {
	t.advance(core.StateDone)
	return &core.Outcome{
		DocumentID: t.id,
		Filename:   t.submission.Filename,
		State:      core.StateDone,
		Stage:      core.StateDone,
		Text:       text,
	}
}

func (t *tracker) moveTo(next core.State, err error) {
	from := t.state
	t.state = next
	if t.observer == nil {
		return
	}
	t.observer.OnTransition(core.Transition{
		Index:      t.index,
		DocumentID: t.id,
		Filename:   t.submission.Filename,
		From:       from,
		To:         next,
		Err:        err,
		At:         time.Now(),
	})
}
