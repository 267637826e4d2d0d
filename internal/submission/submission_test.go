package submission

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skookum/geocascade/internal/types"
)

func runStateWith(n int) *types.RunState {
	rs := types.NewRunState("run-1")
	rs.Sources = []*types.EvidenceSource{
		{ID: "radar-1", Kind: "radar", DatasetID: "COPERNICUS/S1_GRD"},
		{ID: "optical-1", Kind: "optical", DatasetID: "COPERNICUS/S2_SR_HARMONIZED"},
	}
	region := &types.RegionState{Region: types.Region{ID: "r1"}}
	for i := 0; i < n; i++ {
		region.Discoveries = append(region.Discoveries, &types.Discovery{
			ID:         fmt.Sprintf("d%d", i),
			Tier:       types.TierSite,
			AreaID:     "a1",
			Center:     types.Coordinate{Lat: -12.6 + float64(i)*0.01, Lon: -65.3},
			Confidence: 0.5 + float64(i)*0.05,
			Kinds:      []string{"concentric-ring"},
			RadiusM:    150,
			Evidence:   []string{"optical-1"},
		})
	}
	rs.Regions["r1"] = region
	return rs
}

func passReport() *types.ComplianceReport {
	return &types.ComplianceReport{
		GeneratedAt: time.Now(),
		Overall:     types.CheckPass,
		Checks:      []types.ComplianceCheck{{Name: "evidence-source-diversity", Critical: true, Status: types.CheckPass}},
	}
}

func TestBuildRanksByConfidence(t *testing.T) {
	b := NewBuilder(nil)
	pkg, err := b.Build(runStateWith(7), passReport())
	require.NoError(t, err)

	require.Len(t, pkg.Top, TopN)
	require.Len(t, pkg.Others, 2)
	assert.Equal(t, "d6", pkg.Top[0].Discovery.ID, "highest confidence leads")
	assert.Equal(t, 1, pkg.Top[0].Rank)
	for i := 1; i < len(pkg.Top); i++ {
		assert.GreaterOrEqual(t, pkg.Top[i-1].Discovery.Confidence, pkg.Top[i].Discovery.Confidence)
	}
	assert.Equal(t, "d0", pkg.Others[len(pkg.Others)-1].Discovery.ID)
}

func TestBuildExcludesMerged(t *testing.T) {
	rs := runStateWith(3)
	rs.Regions["r1"].Discoveries[0].MergedInto = "d2"

	pkg, err := NewBuilder(nil).Build(rs, passReport())
	require.NoError(t, err)

	assert.Len(t, pkg.Top, 2)
	for _, e := range pkg.Top {
		assert.NotEqual(t, "d0", e.Discovery.ID)
	}
}

func TestBuildFootprintsAndSources(t *testing.T) {
	pkg, err := NewBuilder(nil).Build(runStateWith(2), passReport())
	require.NoError(t, err)

	for _, e := range pkg.Top {
		assert.Contains(t, e.FootprintWKT, "POLYGON((")
		require.Len(t, e.Sources, 1)
		assert.Equal(t, "COPERNICUS/S2_SR_HARMONIZED", e.Sources[0].DatasetID)
	}
	// Catalog is id-sorted regardless of registration order.
	assert.Equal(t, "optical-1", pkg.Catalog[0].ID)
	assert.Equal(t, "radar-1", pkg.Catalog[1].ID)
}

func TestBuildRequiresReport(t *testing.T) {
	_, err := NewBuilder(nil).Build(runStateWith(1), nil)
	assert.Error(t, err)
}

func TestWritePackage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "submission")
	b := NewBuilder(nil)
	pkg, err := b.Build(runStateWith(6), passReport())
	require.NoError(t, err)

	require.NoError(t, b.Write(pkg, dir))

	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-1"`)

	wkt, err := os.ReadFile(filepath.Join(dir, "footprints.wkt"))
	require.NoError(t, err)
	assert.Contains(t, string(wkt), "d5\tPOLYGON((")
	assert.Contains(t, string(wkt), "d0\t", "all ranked discoveries get a footprint line")
}
