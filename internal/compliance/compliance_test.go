package compliance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skookum/geocascade/internal/types"
)

func healthyRunState() *types.RunState {
	rs := types.NewRunState("run-1")
	rs.Sources = []*types.EvidenceSource{
		{ID: "optical-1", Kind: "optical", DatasetID: "COPERNICUS/S2_SR_HARMONIZED"},
		{ID: "radar-1", Kind: "radar", DatasetID: "COPERNICUS/S1_GRD"},
	}
	region := &types.RegionState{Region: types.Region{ID: "r1"}}
	for i := 0; i < 6; i++ {
		promptID := fmt.Sprintf("p%d", i)
		rs.Prompts = append(rs.Prompts, &types.PromptRecord{
			ID:       promptID,
			RegionID: "r1",
			Stage:    "site",
			Prompt:   "instruction",
			Response: "reply",
		})
		region.Discoveries = append(region.Discoveries, &types.Discovery{
			ID:         fmt.Sprintf("d%d", i),
			Tier:       types.TierSite,
			AreaID:     "a1",
			Center:     types.Coordinate{Lat: -12.6 + float64(i)*0.01, Lon: -65.3},
			Confidence: 0.8,
			Kinds:      []string{"concentric-ring"},
			Evidence:   []string{"optical-1"},
			Provenance: types.Provenance{PromptID: promptID, ResponseID: promptID},
		})
	}
	rs.Regions["r1"] = region
	rs.LeveragePasses = 1
	return rs
}

type stubReplayer struct {
	driftM  float64
	sampled int
	err     error
}

func (s *stubReplayer) Replay(context.Context, *types.RunState) (float64, int, error) {
	return s.driftM, s.sampled, s.err
}

func validatorWithReplay(drift float64) *Validator {
	v := New(nil)
	v.Replayer = &stubReplayer{driftM: drift, sampled: 3}
	return v
}

func TestValidateHealthyRun(t *testing.T) {
	v := validatorWithReplay(12)
	report := v.Validate(context.Background(), healthyRunState())

	assert.Equal(t, types.CheckPass, report.Overall)
	assert.True(t, report.Submittable())
	require.Len(t, report.Checks, 6)
	for _, c := range report.Checks {
		assert.Equal(t, types.CheckPass, c.Status, c.Name)
		assert.Empty(t, c.Reason, c.Name)
	}
}

func TestValidateCheckOrderFixed(t *testing.T) {
	report := New(nil).Validate(context.Background(), types.NewRunState("empty"))

	names := make([]string, 0, len(report.Checks))
	for _, c := range report.Checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"evidence-source-diversity",
		"minimum-discoveries",
		"dataset-identifiers",
		"prompt-audit-trail",
		"reproducibility",
		"leverage-analysis",
	}, names)
}

func TestValidateSingleSourceKindFails(t *testing.T) {
	rs := healthyRunState()
	rs.Sources = rs.Sources[:1] // optical only

	report := validatorWithReplay(0).Validate(context.Background(), rs)

	assert.Equal(t, types.CheckFail, report.Overall)
	c := report.Checks[0]
	assert.Equal(t, types.CheckFail, c.Status)
	assert.Contains(t, c.Reason, "optical")
	assert.Contains(t, c.Reason, "at least 2")
}

func TestValidateEmptyRunNamesCounts(t *testing.T) {
	report := validatorWithReplay(0).Validate(context.Background(), types.NewRunState("empty"))

	assert.False(t, report.Submittable())
	c := report.Checks[1]
	assert.Equal(t, "minimum-discoveries", c.Name)
	assert.Equal(t, types.CheckFail, c.Status)
	assert.Contains(t, c.Reason, "0 valid confirmed discoveries < required 5")
}

func TestValidateMergedDiscoveriesDoNotCount(t *testing.T) {
	rs := healthyRunState()
	rs.Regions["r1"].Discoveries[0].MergedInto = "d1"
	rs.Regions["r1"].Discoveries[2].MergedInto = "d1"

	report := validatorWithReplay(0).Validate(context.Background(), rs)

	c := report.Checks[1]
	assert.Equal(t, types.CheckFail, c.Status)
	assert.Contains(t, c.Reason, "4 valid confirmed discoveries")
}

func TestValidateMissingDatasetID(t *testing.T) {
	rs := healthyRunState()
	rs.Sources[1].DatasetID = "  "

	report := validatorWithReplay(0).Validate(context.Background(), rs)

	c := report.Checks[2]
	assert.Equal(t, types.CheckFail, c.Status)
	assert.Contains(t, c.Reason, "radar-1")
}

func TestValidateOrphanedProvenance(t *testing.T) {
	rs := healthyRunState()
	rs.Prompts = rs.Prompts[1:] // drop the record backing d0

	report := validatorWithReplay(0).Validate(context.Background(), rs)

	c := report.Checks[3]
	assert.Equal(t, types.CheckFail, c.Status)
	assert.Contains(t, c.Reason, "d0")
}

func TestValidateSimulatedDiscoveriesExempt(t *testing.T) {
	rs := healthyRunState()
	rs.Prompts = nil
	for _, d := range rs.Regions["r1"].Discoveries {
		d.Features = map[string]string{"extraction_method": "simulated"}
	}

	report := validatorWithReplay(0).Validate(context.Background(), rs)
	assert.Equal(t, types.CheckPass, report.Checks[3].Status)
}

func TestValidateReproducibility(t *testing.T) {
	rs := healthyRunState()

	t.Run("drift beyond tolerance", func(t *testing.T) {
		report := validatorWithReplay(80).Validate(context.Background(), rs)
		c := report.Checks[4]
		assert.Equal(t, types.CheckFail, c.Status)
		assert.Contains(t, c.Reason, "80.0 m")
		// Advisory failure never blocks submission.
		assert.True(t, report.Submittable())
	})

	t.Run("replay error", func(t *testing.T) {
		v := New(nil)
		v.Replayer = &stubReplayer{err: errors.New("imagery unavailable")}
		report := v.Validate(context.Background(), rs)
		assert.Contains(t, report.Checks[4].Reason, "imagery unavailable")
	})

	t.Run("no replayer configured", func(t *testing.T) {
		report := New(nil).Validate(context.Background(), rs)
		c := report.Checks[4]
		assert.Equal(t, types.CheckFail, c.Status)
		assert.Contains(t, c.Reason, "no replay verification")
	})
}

func TestValidateLeverageAdvisory(t *testing.T) {
	rs := healthyRunState()
	rs.LeveragePasses = 0

	report := validatorWithReplay(0).Validate(context.Background(), rs)

	c := report.Checks[5]
	assert.Equal(t, types.CheckFail, c.Status)
	assert.NotEmpty(t, c.Reason)
	assert.True(t, report.Submittable(), "advisory checks do not gate submission")
}

func TestValidateFreshReportEachCall(t *testing.T) {
	v := validatorWithReplay(0)
	rs := healthyRunState()

	first := v.Validate(context.Background(), rs)
	rs.Sources = rs.Sources[:1]
	second := v.Validate(context.Background(), rs)

	assert.Equal(t, types.CheckPass, first.Checks[0].Status)
	assert.Equal(t, types.CheckFail, second.Checks[0].Status)
	assert.Equal(t, types.CheckPass, first.Checks[0].Status, "earlier report is never mutated")
}
