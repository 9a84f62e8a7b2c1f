// Package audio provides the level path: peak extraction, the shared peak store,
// the ambient floor tracker and the alert state machine, plus malgo capture.
package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

const (
	// SilenceFloorDBFS is the level reported for peaks at or below PeakEpsilon.
	SilenceFloorDBFS = -96.0
	// PeakEpsilon is the smallest peak that is converted logarithmically.
	PeakEpsilon = 1e-6
)

// Peak returns max(|sample|) of one channel, clamped to [0, 1]. NaN samples are ignored.
func Peak(plane []float32) float32 {
	var peak float32
	for _, s := range plane {
		if s < 0 {
			s = -s
		}
		// NaN fails every comparison and never raises the peak.
		if s > peak {
			peak = s
		}
	}
	return min(peak, 1)
}

// DBFS converts a normalized peak to dBFS.
func DBFS(p float64) float64 {
	if p > PeakEpsilon {
		return 20 * math.Log10(p)
	}
	return SilenceFloorDBFS
}

// Deinterleave decodes interleaved little-endian float32 frames into planes.
// The planes slice is reused when it has the right shape.
func Deinterleave(buf []byte, channels int, planes [][]float32) ([][]float32, int) {
	if channels <= 0 {
		return planes[:0], 0
	}
	frames := len(buf) / 4 / channels

	if len(planes) != channels {
		planes = make([][]float32, channels)
	}
	for c := range planes {
		if cap(planes[c]) < frames {
			planes[c] = make([]float32, frames)
		}
		planes[c] = planes[c][:frames]
	}

	for f := range frames {
		base := f * channels * 4
		for c := range channels {
			off := base + c*4
			planes[c][f] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		}
	}
	return planes, frames
}

// Meter turns source buffers into peak snapshots in a LevelStore.
// It implements Observer.
type Meter struct {
	store    *LevelStore
	channels atomic.Int32 // from the last OnFormatChanged, 0 when unknown

	mu       sync.Mutex // serializes OnBuffer against itself
	previous [MaxChannels]float32

	onFormat func(Format)
	onState  func(old, state StreamState, err error)
}

// MeterOption configures a Meter.
type MeterOption func(*Meter)

// WithFormatHandler sets a callback for format changes.
func WithFormatHandler(fn func(Format)) MeterOption {
	return func(m *Meter) { m.onFormat = fn }
}

// WithStateHandler sets a callback for stream state changes.
func WithStateHandler(fn func(old, state StreamState, err error)) MeterOption {
	return func(m *Meter) { m.onState = fn }
}

// NewMeter creates a Meter writing into store.
func NewMeter(store *LevelStore, opts ...MeterOption) *Meter {
	m := &Meter{store: store}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnFormatChanged records the channel count and logs the new format.
func (m *Meter) OnFormatChanged(f Format) {
	m.channels.Store(int32(max(f.Channels, 0)))
	slog.Info("capturing audio", "channels", f.Channels, "sample_rate", f.SampleRate)
	if m.onFormat != nil {
		m.onFormat(f)
	}
}

// OnStreamStateChanged logs stream errors and forwards the change.
func (m *Meter) OnStreamStateChanged(old, state StreamState, err error) {
	if state == StreamError {
		slog.Warn("audio stream error", "from", old, "error", err)
	} else {
		slog.Debug("audio stream state changed", "from", old, "to", state)
	}
	if m.onState != nil {
		m.onState(old, state, err)
	}
}

// OnBuffer computes per-channel peaks and replaces the store snapshot.
// A nil plane keeps the previous peak for that channel.
func (m *Meter) OnBuffer(b Buffer) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in audio buffer handler", "panic", r)
		}
	}()

	channels := int(m.channels.Load())
	if channels == 0 {
		channels = len(b.Planes)
	}
	channels = min(channels, MaxChannels, len(b.Planes))

	m.mu.Lock()
	defer m.mu.Unlock()

	var peaks [MaxChannels]float32
	for c := range channels {
		if b.Planes[c] == nil {
			peaks[c] = m.previous[c]
			continue
		}
		peaks[c] = Peak(b.Planes[c])
	}
	m.previous = peaks
	m.store.Update(channels, peaks)
}
