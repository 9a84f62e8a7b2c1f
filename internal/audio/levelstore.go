package audio

import "sync"

// PeakSnapshot is the most recent set of per-channel peaks.
// Entries at or beyond Channels are zero.
type PeakSnapshot struct {
	Channels int
	Peaks    [MaxChannels]float32
}

// Primary returns the peak of the first channel, or 0 when no channel is present.
func (s PeakSnapshot) Primary() float32 {
	if s.Channels == 0 {
		return 0
	}
	return s.Peaks[0]
}

// LevelStore holds the latest PeakSnapshot. It is written from the audio thread and
// read from the scheduler goroutine; each side holds the lock only for a copy.
type LevelStore struct {
	mu   sync.Mutex
	snap PeakSnapshot
}

// NewLevelStore creates an empty store.
func NewLevelStore() *LevelStore {
	return &LevelStore{}
}

// Update replaces the snapshot wholesale.
func (s *LevelStore) Update(channels int, peaks [MaxChannels]float32) {
	channels = max(0, min(channels, MaxChannels))
	for i := channels; i < MaxChannels; i++ {
		peaks[i] = 0
	}

	s.mu.Lock()
	s.snap = PeakSnapshot{Channels: channels, Peaks: peaks}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current snapshot.
func (s *LevelStore) Snapshot() PeakSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Reset clears the stored peaks.
func (s *LevelStore) Reset() {
	s.mu.Lock()
	s.snap = PeakSnapshot{}
	s.mu.Unlock()
}
