package learning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseFor(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		total int
		want  Phase
	}{
		{0, PhaseManual},
		{29, PhaseManual},
		{30, PhaseAssisted},
		{99, PhaseAssisted},
		{100, PhaseAutonomous},
		{5000, PhaseAutonomous},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.PhaseFor(tt.total), "total=%d", tt.total)
	}
}

func TestCapabilityThresholds(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled(CapFewShot, 29))
	assert.True(t, cfg.Enabled(CapFewShot, 30))
	assert.False(t, cfg.Enabled(CapDraftGeneration, 49))
	assert.True(t, cfg.Enabled(CapDraftGeneration, 50))
	assert.False(t, cfg.Enabled(CapDynamicThresholds, 74))
	assert.True(t, cfg.Enabled(CapDynamicThresholds, 75))
	assert.False(t, cfg.Enabled(CapAutonomous, 99))
	assert.True(t, cfg.Enabled(CapAutonomous, 100))
	assert.False(t, cfg.Enabled(Capability("telepathy"), 1<<30))
}

func TestCapabilitiesMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	for _, c := range Capabilities {
		unlocked := false
		for n := 0; n <= 500; n++ {
			enabled := cfg.Enabled(c, n)
			if unlocked {
				assert.True(t, enabled, "%s revoked at %d", c, n)
			}
			unlocked = unlocked || enabled
		}
		assert.True(t, unlocked, "%s never unlocked", c)
	}
}

func TestCategoryFloor(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 0.85, cfg.CategoryFloor(0), 1e-12)
	assert.InDelta(t, 0.80, cfg.CategoryFloor(50), 1e-12)
	assert.InDelta(t, 0.75, cfg.CategoryFloor(100), 1e-12)
	assert.InDelta(t, 0.75, cfg.CategoryFloor(10000), 1e-12)
	assert.InDelta(t, 0.85, cfg.CategoryFloor(-5), 1e-12)
}

func TestCategoryFloorNonIncreasingAndBounded(t *testing.T) {
	cfg := DefaultConfig()
	prev := cfg.CategoryFloor(0)
	for n := 1; n <= 2000; n++ {
		f := cfg.CategoryFloor(n)
		assert.LessOrEqual(t, f, prev, "n=%d", n)
		assert.GreaterOrEqual(t, f, 0.75, "n=%d", n)
		prev = f
	}
}

func TestCategoryThreshold(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0.90}, {9, 0.90},
		{10, 0.85}, {29, 0.85},
		{30, 0.80}, {49, 0.80},
		{50, 0.75}, {1000, 0.75},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.CategoryThreshold(tt.n), "n=%d", tt.n)
	}

	prev := cfg.CategoryThreshold(0)
	for n := 1; n < 200; n++ {
		cur := cfg.CategoryThreshold(n)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestExperimentalBucketStable(t *testing.T) {
	cfg := DefaultConfig()
	experimental := 0
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("req-%d", i)
		first := cfg.Experimental(id)
		assert.Equal(t, first, cfg.Experimental(id))
		if first {
			experimental++
		}
		b := Bucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 100)
	}
	// FNV-1a spreads ids roughly uniformly
	assert.InDelta(t, 2000, experimental, 300)
}

func TestExperimentPercentBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExperimentPercent = 0
	assert.False(t, cfg.Experimental("anything"))
	cfg.ExperimentPercent = 100
	assert.True(t, cfg.Experimental("anything"))
}

func TestAdjustWeightClamped(t *testing.T) {
	w := 1.0
	for i := 0; i < 50; i++ {
		w = AdjustWeight(w, true)
	}
	assert.Equal(t, 3.0, w)

	for i := 0; i < 100; i++ {
		w = AdjustWeight(w, false)
	}
	assert.Equal(t, 0.1, w)

	assert.InDelta(t, 1.2, AdjustWeight(1.0, true), 1e-12)
	assert.InDelta(t, 0.8, AdjustWeight(1.0, false), 1e-12)
}
