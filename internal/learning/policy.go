package learning

import (
	"hash/fnv"
	"math"

	"github.com/dshills/triage-mcp/pkg/types"
)

// Phase is the maturity tier of the system
type Phase string

const (
	PhaseManual     Phase = "manual"
	PhaseAssisted   Phase = "assisted"
	PhaseAutonomous Phase = "autonomous"
)

// Capability is a behavior unlocked by accumulated examples
type Capability string

const (
	CapFewShot           Capability = "few_shot"
	CapDraftGeneration   Capability = "draft_generation"
	CapDynamicThresholds Capability = "dynamic_thresholds"
	CapAutonomous        Capability = "autonomous"
)

// Capabilities lists every capability in unlock order
var Capabilities = []Capability{CapFewShot, CapDraftGeneration, CapDynamicThresholds, CapAutonomous}

// ThresholdTier maps categories with fewer than Below examples to Threshold
type ThresholdTier struct {
	Below     int     `koanf:"below"`
	Threshold float64 `koanf:"threshold"`
}

// Config holds the gate's policy values
type Config struct {
	AssistedAt   int `koanf:"assisted_at" validate:"min=1"`
	AutonomousAt int `koanf:"autonomous_at" validate:"gtefield=AssistedAt"`

	FewShotAt           int `koanf:"few_shot_at" validate:"min=0"`
	DraftAt             int `koanf:"draft_at" validate:"min=0"`
	DynamicThresholdsAt int `koanf:"dynamic_thresholds_at" validate:"min=0"`

	FloorBase         float64 `koanf:"floor_base" validate:"gt=0,lte=1"`
	FloorDecay        float64 `koanf:"floor_decay" validate:"min=0"`
	FloorMaxReduction float64 `koanf:"floor_max_reduction" validate:"min=0,lte=1"`
	FloorMin          float64 `koanf:"floor_min" validate:"min=0,lte=1"`

	ThresholdTiers   []ThresholdTier `koanf:"threshold_tiers" validate:"dive"`
	ThresholdDefault float64         `koanf:"threshold_default" validate:"min=0,lte=1"`

	ExperimentPercent int `koanf:"experiment_percent" validate:"min=0,max=100"`
}

// DefaultConfig returns the production policy
func DefaultConfig() Config {
	return Config{
		AssistedAt:          30,
		AutonomousAt:        100,
		FewShotAt:           30,
		DraftAt:             50,
		DynamicThresholdsAt: 75,
		FloorBase:           0.85,
		FloorDecay:          0.001,
		FloorMaxReduction:   0.10,
		FloorMin:            0.75,
		ThresholdTiers: []ThresholdTier{
			{Below: 10, Threshold: 0.90},
			{Below: 30, Threshold: 0.85},
			{Below: 50, Threshold: 0.80},
		},
		ThresholdDefault:  0.75,
		ExperimentPercent: 20,
	}
}

// PhaseFor returns the maturity phase at total validated examples
func (c Config) PhaseFor(total int) Phase {
	switch {
	case total >= c.AutonomousAt:
		return PhaseAutonomous
	case total >= c.AssistedAt:
		return PhaseAssisted
	default:
		return PhaseManual
	}
}

// Unlocks returns the example count at which capability becomes usable
func (c Config) Unlocks(capability Capability) int {
	switch capability {
	case CapFewShot:
		return c.FewShotAt
	case CapDraftGeneration:
		return c.DraftAt
	case CapDynamicThresholds:
		return c.DynamicThresholdsAt
	case CapAutonomous:
		return c.AutonomousAt
	default:
		return math.MaxInt
	}
}

// Enabled reports whether capability is usable at total examples
func (c Config) Enabled(capability Capability, total int) bool {
	return total >= c.Unlocks(capability)
}

// CategoryFloor is the dynamic confidence floor for a category with
// catCount examples: max(base - min(catCount*decay, maxReduction), min)
func (c Config) CategoryFloor(catCount int) float64 {
	if catCount < 0 {
		catCount = 0
	}
	reduction := math.Min(float64(catCount)*c.FloorDecay, c.FloorMaxReduction)
	return math.Max(c.FloorBase-reduction, c.FloorMin)
}

// CategoryThreshold is the confidence threshold for a category with
// catCount examples, a non-increasing step function
func (c Config) CategoryThreshold(catCount int) float64 {
	for _, tier := range c.ThresholdTiers {
		if catCount < tier.Below {
			return tier.Threshold
		}
	}
	return c.ThresholdDefault
}

// Experimental reports whether requestID falls in the experimental A/B
// bucket. The bucket is a pure function of the id.
func (c Config) Experimental(requestID string) bool {
	return Bucket(requestID) < c.ExperimentPercent
}

// Bucket maps requestID onto [0,100) with FNV-1a
func Bucket(requestID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return int(h.Sum32() % 100)
}

// AdjustWeight reinforces or contradicts an example weight, clamped to
// [0.1, 3.0]
func AdjustWeight(weight float64, success bool) float64 {
	return types.AdjustWeight(weight, success)
}
