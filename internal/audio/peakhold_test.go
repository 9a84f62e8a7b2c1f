package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeakHolder(t *testing.T) {
	p := NewPeakHolder()
	start := time.Now()

	assert.Equal(t, []float64{-10, -20}, p.Update([]float64{-10, -20}, start))

	// Lower levels are held until the hold duration has passed.
	assert.Equal(t, []float64{-10, -15}, p.Update([]float64{-30, -15}, start.Add(time.Second)))
	assert.Equal(t, []float64{-30, -15}, p.Update([]float64{-30, -40}, start.Add(DefaultPeakHoldDuration+time.Millisecond)))

	// A channel that disappears falls back to the floor.
	assert.Equal(t, []float64{-5}, p.Update([]float64{-5}, start.Add(5*time.Second)))
	assert.Equal(t, []float64{-5, SilenceFloorDBFS}, p.Update([]float64{-50, SilenceFloorDBFS}, start.Add(6*time.Second)))
}
