package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a held peak is shown before it may fall.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder keeps the highest recent level per channel for the live meter view.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         [MaxChannels]float64
	heldAt       [MaxChannels]time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a holder at the silence floor with the default duration.
func NewPeakHolder() *PeakHolder {
	p := &PeakHolder{holdDuration: DefaultPeakHoldDuration}
	p.held = [MaxChannels]float64{SilenceFloorDBFS, SilenceFloorDBFS}
	return p
}

// Update takes per-channel levels in dBFS and returns the held levels.
// Channels beyond len(levels) are reset to the silence floor.
func (p *PeakHolder) Update(levels []float64, now time.Time) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := min(len(levels), MaxChannels)
	for c := range MaxChannels {
		if c >= n {
			p.held[c] = SilenceFloorDBFS
			p.heldAt[c] = time.Time{}
			continue
		}
		if levels[c] >= p.held[c] || now.Sub(p.heldAt[c]) > p.holdDuration {
			p.held[c] = levels[c]
			p.heldAt[c] = now
		}
	}
	out := make([]float64, n)
	copy(out, p.held[:n])
	return out
}
