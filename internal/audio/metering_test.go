package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBFS(t *testing.T) {
	tests := []struct {
		name string
		peak float64
		want float64
	}{
		{"full scale", 1.0, 0},
		{"half scale", 0.5, 20 * math.Log10(0.5)},
		{"tenth", 0.1, -20},
		{"just above epsilon", 2e-6, 20 * math.Log10(2e-6)},
		{"at epsilon", 1e-6, -96},
		{"below epsilon", 1e-9, -96},
		{"zero", 0, -96},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DBFS(tt.peak), 1e-9)
		})
	}
	assert.Equal(t, -96.0, DBFS(1e-6), "floor must be exact")
}

func TestPeak(t *testing.T) {
	assert.Equal(t, float32(0), Peak(nil))
	assert.Equal(t, float32(0.75), Peak([]float32{0.1, -0.75, 0.5}))
	assert.Equal(t, float32(1), Peak([]float32{1.5, -0.2}), "peaks clamp to full scale")
	assert.Equal(t, float32(0.3), Peak([]float32{float32(math.NaN()), 0.3}))
}

func encodeFrames(t *testing.T, samples ...float32) []byte {
	t.Helper()
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

func TestDeinterleave(t *testing.T) {
	buf := encodeFrames(t, 0.1, -0.2, 0.3, -0.4, 0.5, -0.6)

	planes, frames := Deinterleave(buf, 2, nil)
	require.Len(t, planes, 2)
	assert.Equal(t, 3, frames)
	assert.Equal(t, []float32{0.1, 0.3, 0.5}, planes[0])
	assert.Equal(t, []float32{-0.2, -0.4, -0.6}, planes[1])

	// Reused planes keep their backing arrays.
	first := &planes[0][0]
	planes, frames = Deinterleave(encodeFrames(t, 0.9, 0.8), 2, planes)
	assert.Equal(t, 1, frames)
	assert.Same(t, first, &planes[0][0])
	assert.Equal(t, []float32{0.9}, planes[0])

	planes, frames = Deinterleave(buf, 0, planes)
	assert.Empty(t, planes)
	assert.Zero(t, frames)
}

func TestMeterOnBuffer(t *testing.T) {
	store := NewLevelStore()
	m := NewMeter(store)
	m.OnFormatChanged(Format{Channels: 2, SampleRate: 48000})

	m.OnBuffer(Buffer{Planes: [][]float32{{0.2, -0.5}, {0.1}}})
	snap := store.Snapshot()
	assert.Equal(t, 2, snap.Channels)
	assert.Equal(t, [MaxChannels]float32{0.5, 0.1}, snap.Peaks)

	t.Run("unavailable channel carries forward", func(t *testing.T) {
		m.OnBuffer(Buffer{Planes: [][]float32{{0.05}, nil}})
		snap := store.Snapshot()
		assert.Equal(t, float32(0.05), snap.Peaks[0])
		assert.Equal(t, float32(0.1), snap.Peaks[1])
	})

	t.Run("extra channels ignored", func(t *testing.T) {
		m.OnFormatChanged(Format{Channels: 6, SampleRate: 48000})
		m.OnBuffer(Buffer{Planes: [][]float32{{0.1}, {0.2}, {0.9}, {0.9}, {0.9}, {0.9}}})
		snap := store.Snapshot()
		assert.Equal(t, 2, snap.Channels)
		assert.Equal(t, [MaxChannels]float32{0.1, 0.2}, snap.Peaks)
	})

	t.Run("mono zeroes unused entries", func(t *testing.T) {
		m.OnFormatChanged(Format{Channels: 1, SampleRate: 48000})
		m.OnBuffer(Buffer{Planes: [][]float32{{0.4}}})
		snap := store.Snapshot()
		assert.Equal(t, 1, snap.Channels)
		assert.Equal(t, [MaxChannels]float32{0.4, 0}, snap.Peaks)
	})
}

func TestMeterUnknownFormatUsesPlaneCount(t *testing.T) {
	store := NewLevelStore()
	m := NewMeter(store)

	m.OnBuffer(Buffer{Planes: [][]float32{{0.3}}})
	assert.Equal(t, 1, store.Snapshot().Channels)
}

func TestMeterHandlers(t *testing.T) {
	var gotFormat Format
	var gotState StreamState
	m := NewMeter(NewLevelStore(),
		WithFormatHandler(func(f Format) { gotFormat = f }),
		WithStateHandler(func(_, state StreamState, _ error) { gotState = state }),
	)

	m.OnFormatChanged(Format{Channels: 1, SampleRate: 44100})
	m.OnStreamStateChanged(StreamUnconnected, StreamStreaming, nil)

	assert.Equal(t, Format{Channels: 1, SampleRate: 44100}, gotFormat)
	assert.Equal(t, StreamStreaming, gotState)
	assert.Equal(t, "1 ch, 44100 Hz", gotFormat.String())
}
