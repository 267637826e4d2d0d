package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skookum/geocascade/internal/types"
)

func promptArea(tier types.Tier) *types.Area {
	return &types.Area{
		ID:     "a1",
		Tier:   tier,
		Center: types.Coordinate{Lat: -12.6, Lon: -65.3},
		Bounds: types.BoundingBox{
			North: -12.4, South: -12.8,
			East: -65.1, West: -65.5,
		},
		ResolutionM: 97,
	}
}

func TestBuildTierPromptScalesByTier(t *testing.T) {
	regional := BuildTierPrompt(promptArea(types.TierRegional), "optical")
	zone := BuildTierPrompt(promptArea(types.TierZone), "optical")
	site := BuildTierPrompt(promptArea(types.TierSite), "radar")

	assert.Contains(t, regional, "COARSE NETWORK PATTERNS")
	assert.Contains(t, zone, "DISCRETE GEOMETRIC FEATURES")
	assert.Contains(t, site, "PRECISE CONFIRMATION")

	// Every tier shares the structured reply contract and area context.
	for _, p := range []string{regional, zone, site} {
		assert.Contains(t, p, `"candidates"`)
		assert.Contains(t, p, "-12.60000, -65.30000")
	}
	assert.Contains(t, regional, "optical satellite imagery")
	assert.Contains(t, site, "radar satellite imagery")
}

func TestBuildLeveragePromptStatesLearnedProfile(t *testing.T) {
	region := &types.Region{
		ID:     "bolivia_casarabe_main",
		Name:   "Casarabe",
		Center: types.Coordinate{Lat: -12.6, Lon: -65.3},
	}
	pattern := types.PatternSummary{
		Count:              6,
		MeanRadiusM:        140,
		MedianRadiusM:      130,
		TopKinds:           []string{"concentric-ring", "causeway"},
		TypicalSpacingM:    3000,
		HasOrientation:     true,
		OrientationBiasDeg: 45,
	}

	p := BuildLeveragePrompt(region, pattern)
	require.Contains(t, p, "confirmed 6 anomalous features")
	assert.Contains(t, p, "concentric-ring, causeway")
	assert.Contains(t, p, "3.0 km")
	assert.Contains(t, p, "45 degrees")
	assert.Contains(t, p, `"candidates"`)
}
