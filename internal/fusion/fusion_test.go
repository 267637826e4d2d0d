package fusion

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skookum/geocascade/internal/geo"
	"github.com/skookum/geocascade/internal/types"
)

func disc(id string, tier types.Tier, conf float64, center types.Coordinate, radiusM float64, kinds, evidence []string) *types.Discovery {
	return &types.Discovery{
		ID:         id,
		Tier:       tier,
		AreaID:     "area-" + id,
		Center:     center,
		Confidence: conf,
		Kinds:      kinds,
		RadiusM:    radiusM,
		Evidence:   evidence,
	}
}

func TestFuseMergesNearbyPair(t *testing.T) {
	e := NewEngine(nil)
	c := types.Coordinate{Lat: -12.6, Lon: -65.3}
	near := geo.Offset(c, 30, 0) // inside a Regional pixel (97m)

	fused := e.Fuse([]*types.Discovery{
		disc("weak", types.TierRegional, 0.55, near, 400, []string{"linear-feature"}, []string{"radar-1"}),
		disc("strong", types.TierRegional, 0.8, c, 600, []string{"geometric-earthwork"}, []string{"optical-1"}),
	})

	require.Len(t, fused, 2, "absorbed records are retained, never deleted")
	survivors := Survivors(fused)
	require.Len(t, survivors, 1)

	s := survivors[0]
	assert.Equal(t, "strong", s.ID)
	assert.Equal(t, 0.8, s.Confidence)
	assert.Equal(t, []string{"geometric-earthwork", "linear-feature"}, s.Kinds)
	assert.Equal(t, []string{"optical-1", "radar-1"}, s.Evidence)
	assert.Equal(t, 400.0, s.RadiusM, "survivor adopts the tighter geometry")

	for _, d := range fused {
		if d.ID == "weak" {
			assert.Equal(t, "strong", d.MergedInto)
		}
	}
}

func TestFuseGeometryAdoptedAsUnit(t *testing.T) {
	e := NewEngine(nil)
	c := types.Coordinate{Lat: -12.6, Lon: -65.3}

	// Member has the tighter radius but no polygon; the survivor keeps
	// its own radius+polygon pair rather than mixing the two.
	survivor := disc("strong", types.TierRegional, 0.8, c, 600, []string{"geometric-earthwork"}, []string{"optical-1"})
	survivor.Polygon = geo.BoxRing(geo.BoxAround(c, 1200))
	member := disc("weak", types.TierRegional, 0.5, geo.Offset(c, 20, 0), 300, []string{"linear-feature"}, []string{"radar-1"})

	fused := e.Fuse([]*types.Discovery{survivor, member})
	s := Survivors(fused)[0]
	assert.Equal(t, 600.0, s.RadiusM)
	assert.Equal(t, survivor.Polygon, s.Polygon)

	// With its own polygon the member's geometry wins whole.
	member2 := disc("weak2", types.TierRegional, 0.5, geo.Offset(c, 20, 0), 300, []string{"linear-feature"}, []string{"radar-1"})
	member2.Polygon = geo.BoxRing(geo.BoxAround(member2.Center, 600))

	fused = e.Fuse([]*types.Discovery{survivor, member2})
	s = Survivors(fused)[0]
	assert.Equal(t, 300.0, s.RadiusM)
	assert.Equal(t, member2.Polygon, s.Polygon)
}

func TestFuseCrossTierUsesCoarserResolution(t *testing.T) {
	e := NewEngine(nil)
	c := types.Coordinate{Lat: -12.6, Lon: -65.3}

	// 50m apart: inside one Regional pixel, far outside one Zone pixel.
	fused := e.Fuse([]*types.Discovery{
		disc("regional", types.TierRegional, 0.6, c, 500, []string{"linear-feature"}, []string{"optical-1"}),
		disc("zone", types.TierZone, 0.9, geo.Offset(c, 50, 0), 120, []string{"concentric-ring"}, []string{"optical-2"}),
	})

	require.Len(t, Survivors(fused), 1)

	// Two Zone hits 50m apart stay separate.
	fused = e.Fuse([]*types.Discovery{
		disc("z1", types.TierZone, 0.6, c, 120, []string{"concentric-ring"}, []string{"optical-1"}),
		disc("z2", types.TierZone, 0.9, geo.Offset(c, 50, 0), 120, []string{"concentric-ring"}, []string{"optical-2"}),
	})
	assert.Len(t, Survivors(fused), 2)
}

func TestFuseNoChains(t *testing.T) {
	e := NewEngine(nil)
	c := types.Coordinate{Lat: -12.6, Lon: -65.3}

	// Three Regional hits in a 60m line: all inside one pixel of the
	// strongest, so both weaker ones must point at it directly.
	fused := e.Fuse([]*types.Discovery{
		disc("a", types.TierRegional, 0.9, c, 500, []string{"x"}, []string{"s1"}),
		disc("b", types.TierRegional, 0.7, geo.Offset(c, 60, 0), 500, []string{"y"}, []string{"s2"}),
		disc("c", types.TierRegional, 0.5, geo.Offset(c, 30, 0), 500, []string{"z"}, []string{"s3"}),
	})

	byID := map[string]*types.Discovery{}
	for _, d := range fused {
		byID[d.ID] = d
	}
	assert.Empty(t, byID["a"].MergedInto)
	assert.Equal(t, "a", byID["b"].MergedInto)
	assert.Equal(t, "a", byID["c"].MergedInto)
	for _, d := range fused {
		if d.Merged() {
			assert.False(t, byID[d.MergedInto].Merged(), "merged_into must reference a survivor")
		}
	}
}

func TestFuseDeterministicUnderPermutation(t *testing.T) {
	e := NewEngine(nil)
	c := types.Coordinate{Lat: -12.6, Lon: -65.3}

	var in []*types.Discovery
	for i := 0; i < 12; i++ {
		in = append(in, disc(
			string(rune('a'+i)),
			types.TierZone,
			0.3+float64(i%5)*0.1,
			geo.Offset(c, float64(i%4)*3, float64(i/4)*5000),
			100,
			[]string{"concentric-ring"},
			[]string{"optical-1"},
		))
	}

	want := e.Fuse(in)
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]*types.Discovery(nil), in...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := e.Fuse(shuffled)
		require.Equal(t, len(want), len(got))
		for i := range want {
			assert.Equal(t, want[i].ID, got[i].ID)
			assert.Equal(t, want[i].MergedInto, got[i].MergedInto)
			assert.Equal(t, want[i].Confidence, got[i].Confidence)
			assert.Equal(t, want[i].Evidence, got[i].Evidence)
		}
	}
}

func TestFuseDoesNotMutateInput(t *testing.T) {
	e := NewEngine(nil)
	c := types.Coordinate{Lat: -12.6, Lon: -65.3}
	in := []*types.Discovery{
		disc("a", types.TierRegional, 0.9, c, 500, []string{"x"}, []string{"s1"}),
		disc("b", types.TierRegional, 0.6, geo.Offset(c, 20, 0), 300, []string{"y"}, []string{"s2"}),
	}

	_ = e.Fuse(in)

	assert.Empty(t, in[0].MergedInto)
	assert.Empty(t, in[1].MergedInto)
	assert.Equal(t, []string{"x"}, in[0].Kinds)
	assert.Equal(t, 500.0, in[0].RadiusM)
}

func TestFuseEmptyInput(t *testing.T) {
	e := NewEngine(nil)
	assert.Empty(t, e.Fuse(nil))
	assert.Empty(t, Survivors(nil))
}
