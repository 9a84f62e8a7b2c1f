package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmbientTrackerInitial(t *testing.T) {
	tr := NewAmbientTracker()
	st := tr.State()
	assert.Equal(t, -96.0, st.DBFS)
	assert.Zero(t, st.BootstrapTicks)
	assert.True(t, st.Bootstrapping())
}

func TestAmbientTrackerBootstrapConvergence(t *testing.T) {
	tr := NewAmbientTracker()
	const level = -40.0
	gap := level - SilenceFloorDBFS

	var st AmbientState
	for range BootstrapTicks {
		st = tr.Update(level)
	}
	assert.False(t, st.Bootstrapping())
	assert.Equal(t, BootstrapTicks, st.BootstrapTicks)
	assert.InDelta(t, gap*math.Pow(1-AlphaBootstrap, BootstrapTicks), level-st.DBFS, 1e-9)

	// After bootstrap the gap shrinks by exactly the normal factor.
	before := level - st.DBFS
	st = tr.Update(level)
	assert.InDelta(t, before*(1-AlphaNormal), level-st.DBFS, 1e-9)
	assert.Equal(t, BootstrapTicks, st.BootstrapTicks, "counter saturates")
}

func TestAmbientTrackerSilenceGate(t *testing.T) {
	tr := NewAmbientTracker()

	st := tr.Update(-96)
	assert.Equal(t, -96.0, st.DBFS)
	assert.Equal(t, 1, st.BootstrapTicks, "silent ticks still count towards bootstrap")

	st = tr.Update(-95)
	assert.Equal(t, -96.0, st.DBFS, "gate is exclusive")

	st = tr.Update(-60)
	assert.InDelta(t, 0.6*-96+0.4*-60, st.DBFS, 1e-9)
}

func TestAmbientTrackerSilentBootstrapUsesSlowAlpha(t *testing.T) {
	tr := NewAmbientTracker()
	for range BootstrapTicks {
		tr.Update(SilenceFloorDBFS)
	}
	st := tr.Update(-40)
	assert.InDelta(t, 0.99*-96+0.01*-40, st.DBFS, 1e-9)
}

func TestAmbientTrackerTransientDuringBootstrap(t *testing.T) {
	tr := NewAmbientTracker()
	levels := []float64{-50, -50, -10, -50, -50, -50}
	for _, l := range levels {
		tr.Update(l)
	}
	for range 500 {
		tr.Update(-50)
	}
	assert.InDelta(t, -50, tr.State().DBFS, 0.1)

	tr.Reset()
	assert.Equal(t, AmbientState{DBFS: SilenceFloorDBFS}, tr.State())
}
