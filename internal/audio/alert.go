package audio

import (
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

// Evaluation is the result of one AlertEvaluator update.
type Evaluation struct {
	State     types.AlertState
	Previous  types.AlertState
	EnterDBFS float64
	LeaveDBFS float64
	Mode      types.ThresholdMode

	// Changed is true only on the tick where State differs from Previous.
	Changed bool
	// Held is how long Previous lasted, set when Changed.
	Held time.Duration
}

// AlertEvaluator is a two-state hysteresis machine.
// It is safe for concurrent use.
type AlertEvaluator struct {
	mu    sync.Mutex
	state types.AlertState
	since time.Time
}

// NewAlertEvaluator creates an evaluator in the quiet state.
func NewAlertEvaluator() *AlertEvaluator {
	return &AlertEvaluator{state: types.AlertQuiet}
}

// Evaluate applies one level to the state machine. The comparisons are strict:
// quiet enters alert when level > enter, alert leaves when level < leave.
// Thresholds are used as given; an inverted pair is not corrected.
func (e *AlertEvaluator) Evaluate(levelDBFS, ambientDBFS float64, cfg types.ThresholdConfig, now time.Time) Evaluation {
	enter, leave := cfg.Bounds(ambientDBFS)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.since.IsZero() {
		e.since = now
	}

	ev := Evaluation{
		Previous:  e.state,
		EnterDBFS: enter,
		LeaveDBFS: leave,
		Mode:      cfg.Mode(),
	}

	next := e.state
	switch e.state {
	case types.AlertActive:
		if levelDBFS < leave {
			next = types.AlertQuiet
		}
	default:
		if levelDBFS > enter {
			next = types.AlertActive
		}
	}

	if next != e.state {
		ev.Changed = true
		ev.Held = now.Sub(e.since)
		e.state = next
		e.since = now
	}
	ev.State = e.state
	return ev
}

// State returns the current alert state.
func (e *AlertEvaluator) State() types.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset returns the evaluator to quiet.
func (e *AlertEvaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = types.AlertQuiet
	e.since = time.Time{}
}
