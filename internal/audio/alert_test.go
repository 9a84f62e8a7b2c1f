package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

var (
	dynamicDefaults = types.ThresholdConfig{
		Dynamic:             true,
		DynamicAlertOffset:  6,
		DynamicNormalOffset: 3,
		FixedAlertDBFS:      -16,
		FixedNormalDBFS:     -20,
		IntervalSeconds:     5,
	}
	fixedDefaults = types.ThresholdConfig{
		DynamicAlertOffset:  6,
		DynamicNormalOffset: 3,
		FixedAlertDBFS:      -16,
		FixedNormalDBFS:     -20,
		IntervalSeconds:     5,
	}
)

type step struct {
	level   float64
	want    types.AlertState
	changed bool
}

func runSteps(t *testing.T, e *AlertEvaluator, ambient float64, cfg types.ThresholdConfig, steps []step) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	for i, s := range steps {
		ev := e.Evaluate(s.level, ambient, cfg, now.Add(time.Duration(i)*time.Second))
		assert.Equal(t, s.want, ev.State, "step %d level %.1f", i, s.level)
		assert.Equal(t, s.changed, ev.Changed, "step %d level %.1f", i, s.level)
	}
}

func TestAlertEvaluatorDynamic(t *testing.T) {
	e := NewAlertEvaluator()
	require.Equal(t, types.AlertQuiet, e.State())

	runSteps(t, e, -40, dynamicDefaults, []step{
		{-36, types.AlertQuiet, false},
		{-34, types.AlertQuiet, false}, // exactly at enter is not above it
		{-33, types.AlertActive, true},
		{-35, types.AlertActive, false},
		{-37, types.AlertActive, false}, // exactly at leave is not below it
		{-38, types.AlertQuiet, true},
		{-35, types.AlertQuiet, false},
	})
}

func TestAlertEvaluatorFixed(t *testing.T) {
	e := NewAlertEvaluator()
	runSteps(t, e, -60, fixedDefaults, []step{
		{-17, types.AlertQuiet, false},
		{-10, types.AlertActive, true},
		{-18, types.AlertActive, false},
		{-25, types.AlertQuiet, true},
	})
}

func TestAlertEvaluatorReportsBounds(t *testing.T) {
	e := NewAlertEvaluator()
	now := time.Now()

	ev := e.Evaluate(-50, -40, dynamicDefaults, now)
	assert.Equal(t, types.ModeDynamic, ev.Mode)
	assert.Equal(t, -34.0, ev.EnterDBFS)
	assert.Equal(t, -37.0, ev.LeaveDBFS)

	ev = e.Evaluate(-50, -40, fixedDefaults, now)
	assert.Equal(t, types.ModeFixed, ev.Mode)
	assert.Equal(t, -16.0, ev.EnterDBFS)
	assert.Equal(t, -20.0, ev.LeaveDBFS)
}

func TestAlertEvaluatorHeldDuration(t *testing.T) {
	e := NewAlertEvaluator()
	start := time.Unix(1700000000, 0)

	e.Evaluate(-30, -60, fixedDefaults, start)
	ev := e.Evaluate(-10, -60, fixedDefaults, start.Add(10*time.Second))
	require.True(t, ev.Changed)
	assert.Equal(t, 10*time.Second, ev.Held)
	assert.Equal(t, types.AlertQuiet, ev.Previous)

	ev = e.Evaluate(-30, -60, fixedDefaults, start.Add(25*time.Second))
	require.True(t, ev.Changed)
	assert.Equal(t, 15*time.Second, ev.Held)
}

// An inverted pair (leave above enter) is applied as configured and flutters.
func TestAlertEvaluatorInvertedThresholdsFlutter(t *testing.T) {
	cfg := fixedDefaults
	cfg.FixedAlertDBFS = -20
	cfg.FixedNormalDBFS = -10
	require.True(t, cfg.Inverted())

	e := NewAlertEvaluator()
	runSteps(t, e, -60, cfg, []step{
		{-15, types.AlertActive, true},
		{-15, types.AlertQuiet, true},
		{-15, types.AlertActive, true},
		{-15, types.AlertQuiet, true},
	})
}

func TestAlertEvaluatorModeSwitchPerTick(t *testing.T) {
	e := NewAlertEvaluator()
	now := time.Now()

	// -30 is loud relative to a -40 floor but quiet against the fixed -16 threshold.
	assert.False(t, e.Evaluate(-30, -40, fixedDefaults, now).Changed)
	assert.True(t, e.Evaluate(-30, -40, dynamicDefaults, now).Changed)
	assert.True(t, e.Evaluate(-30, -40, fixedDefaults, now).Changed)

	e.Reset()
	assert.Equal(t, types.AlertQuiet, e.State())
}
