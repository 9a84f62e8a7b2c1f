package audio

import "sync"

const (
	// BootstrapTicks is the number of ticks that use the fast smoothing factor.
	BootstrapTicks = 6
	// AlphaBootstrap is the smoothing factor during bootstrap.
	AlphaBootstrap = 0.4
	// AlphaNormal is the smoothing factor after bootstrap.
	AlphaNormal = 0.01
	// SilenceGateDBFS is the level at or below which the floor is not updated.
	SilenceGateDBFS = -95.0
)

// AmbientState is the estimated background level.
type AmbientState struct {
	DBFS           float64 `json:"dbfs"`
	BootstrapTicks int     `json:"bootstrap_ticks"`
}

// Bootstrapping reports whether the fast smoothing factor is still in use.
func (a AmbientState) Bootstrapping() bool {
	return a.BootstrapTicks < BootstrapTicks
}

// AmbientTracker follows the background level with an exponential moving average.
// It is safe for concurrent use; Update is expected once per tick.
type AmbientTracker struct {
	mu    sync.Mutex
	state AmbientState
}

// NewAmbientTracker creates a tracker starting at the silence floor.
func NewAmbientTracker() *AmbientTracker {
	return &AmbientTracker{state: AmbientState{DBFS: SilenceFloorDBFS}}
}

// Update folds one level into the floor and returns the new state.
// Levels at or below SilenceGateDBFS leave the floor unchanged but still count
// towards the bootstrap.
func (t *AmbientTracker) Update(levelDBFS float64) AmbientState {
	t.mu.Lock()
	defer t.mu.Unlock()

	alpha := AlphaNormal
	if t.state.Bootstrapping() {
		alpha = AlphaBootstrap
	}
	if levelDBFS > SilenceGateDBFS {
		t.state.DBFS = (1-alpha)*t.state.DBFS + alpha*levelDBFS
	}
	if t.state.BootstrapTicks < BootstrapTicks {
		t.state.BootstrapTicks++
	}
	return t.state
}

// State returns the current state.
func (t *AmbientTracker) State() AmbientState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset returns the tracker to its initial state.
func (t *AmbientTracker) Reset() {
	t.mu.Lock()
	t.state = AmbientState{DBFS: SilenceFloorDBFS}
	t.mu.Unlock()
}
