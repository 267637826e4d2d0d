package gate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skookum/geocascade/internal/geo"
	"github.com/skookum/geocascade/internal/types"
)

func disc(id string, tier types.Tier, conf float64, center types.Coordinate) *types.Discovery {
	return &types.Discovery{
		ID:         id,
		Tier:       tier,
		AreaID:     "area-" + id,
		Center:     center,
		Confidence: conf,
		Kinds:      []string{"geometric-earthwork"},
		Evidence:   []string{"optical-" + id},
	}
}

func TestGateBoundary(t *testing.T) {
	g := NewConfidenceGate()
	center := types.Coordinate{Lat: -12.6, Lon: -65.3}
	eps := 1e-9

	cases := []struct {
		name string
		conf float64
		want bool
	}{
		{"at threshold", DefaultThreshold, true},
		{"just above", DefaultThreshold + eps, true},
		{"just below", DefaultThreshold - eps, false},
		{"zero", 0, false},
		{"one", 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := []*types.Discovery{disc("d1", types.TierRegional, tc.conf, center)}
			passed := g.Pass(in, types.TierRegional)
			if tc.want {
				assert.Len(t, passed, 1)
			} else {
				assert.Empty(t, passed)
			}
		})
	}
}

func TestGateIgnoresOtherTiers(t *testing.T) {
	g := NewConfidenceGate()
	center := types.Coordinate{Lat: -12.6, Lon: -65.3}
	in := []*types.Discovery{
		disc("zone", types.TierZone, 0.9, center),
		disc("regional", types.TierRegional, 0.9, center),
	}
	passed := g.Pass(in, types.TierRegional)
	require.Len(t, passed, 1)
	assert.Equal(t, "regional", passed[0].ID)
}

func TestSelectorTilesAroundHotspot(t *testing.T) {
	s := NewPriorityAreaSelector(NewConfidenceGate(), nil)
	center := types.Coordinate{Lat: -12.6, Lon: -65.3}
	in := []*types.Discovery{disc("hot", types.TierRegional, 0.8, center)}

	areas := s.SelectNextTierAreas("bolivia_casarabe_main", in, types.TierRegional)

	require.Len(t, areas, GridSize*GridSize)
	for _, a := range areas {
		assert.Equal(t, types.TierZone, a.Tier)
		assert.Equal(t, "area-hot", a.ParentID)
		assert.Equal(t, "bolivia_casarabe_main", a.RegionID)
		assert.NoError(t, a.Bounds.Validate())
	}
	// Tile block spans three tile-widths; corner tiles sit one tile
	// diagonal from the hotspot.
	corner := areas[len(areas)-1]
	d := geo.DistanceM(center, corner.Center)
	assert.InDelta(t, 10000*1.4142, d, 200)
}

func TestSelectorBelowThresholdEmitsNothing(t *testing.T) {
	s := NewPriorityAreaSelector(NewConfidenceGate(), nil)
	center := types.Coordinate{Lat: -12.6, Lon: -65.3}
	in := []*types.Discovery{disc("cold", types.TierRegional, 0.49, center)}

	areas := s.SelectNextTierAreas("r", in, types.TierRegional)
	assert.Empty(t, areas)
}

func TestSelectorDeduplicatesNearbyHotspots(t *testing.T) {
	s := NewPriorityAreaSelector(NewConfidenceGate(), nil)
	c1 := types.Coordinate{Lat: -12.6, Lon: -65.3}
	c2 := geo.Offset(c1, 500, 500) // well within half a 10km tile
	in := []*types.Discovery{
		disc("a", types.TierRegional, 0.9, c1),
		disc("b", types.TierRegional, 0.8, c2),
	}

	areas := s.SelectNextTierAreas("r", in, types.TierRegional)

	// The second hotspot's tiles all collapse into the first's.
	assert.Len(t, areas, GridSize*GridSize)
}

func TestSelectorDistantHotspotsKeepTheirTiles(t *testing.T) {
	s := NewPriorityAreaSelector(NewConfidenceGate(), nil)
	c1 := types.Coordinate{Lat: -12.6, Lon: -65.3}
	c2 := geo.Offset(c1, 100000, 0)
	in := []*types.Discovery{
		disc("a", types.TierRegional, 0.9, c1),
		disc("b", types.TierRegional, 0.8, c2),
	}

	areas := s.SelectNextTierAreas("r", in, types.TierRegional)
	assert.Len(t, areas, 2*GridSize*GridSize)
}

func TestSelectorDeterministicUnderPermutation(t *testing.T) {
	c1 := types.Coordinate{Lat: -12.6, Lon: -65.3}
	var in []*types.Discovery
	for i := 0; i < 4; i++ {
		in = append(in, disc(fmt.Sprintf("d%d", i), types.TierZone, 0.6+float64(i)*0.05, geo.Offset(c1, float64(i)*3000, 0)))
	}
	reversed := make([]*types.Discovery, len(in))
	for i, d := range in {
		reversed[len(in)-1-i] = d
	}

	s := NewPriorityAreaSelector(NewConfidenceGate(), nil)
	a1 := s.SelectNextTierAreas("r", in, types.TierZone)
	a2 := s.SelectNextTierAreas("r", reversed, types.TierZone)

	require.Equal(t, len(a1), len(a2))
	for i := range a1 {
		assert.Equal(t, a1[i].ID, a2[i].ID)
		assert.Equal(t, a1[i].Center, a2[i].Center)
	}
}

func TestSelectorSiteIsTerminal(t *testing.T) {
	s := NewPriorityAreaSelector(NewConfidenceGate(), nil)
	center := types.Coordinate{Lat: -12.6, Lon: -65.3}
	in := []*types.Discovery{disc("site", types.TierSite, 0.95, center)}

	assert.Empty(t, s.SelectNextTierAreas("r", in, types.TierSite))
}
