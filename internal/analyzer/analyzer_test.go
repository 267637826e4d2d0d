package analyzer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skookum/geocascade/internal/imagery"
	"github.com/skookum/geocascade/internal/interpreter"
	"github.com/skookum/geocascade/internal/types"
)

type scriptedInterpreter struct {
	responses map[string]string // keyed by media type, "" key = default
	err       error
	calls     int
}

func (s *scriptedInterpreter) Interpret(_ context.Context, req interpreter.Request) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if r, ok := s.responses[req.MediaType]; ok {
		return r, nil
	}
	return s.responses[""], nil
}

type memoryRecorder struct {
	entries []recordedExchange
	err     error
}

type recordedExchange struct {
	regionID, areaID, stage, prompt, response string
}

func (m *memoryRecorder) RecordExchange(_ context.Context, regionID, areaID, stage, prompt, response string) (string, error) {
	m.entries = append(m.entries, recordedExchange{regionID, areaID, stage, prompt, response})
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("prompt-%d", len(m.entries)), nil
}

func testArea(tier types.Tier) *types.Area {
	center := types.Coordinate{Lat: -12.6, Lon: -65.3}
	return &types.Area{
		ID:          "area-1",
		RegionID:    "bolivia_casarabe_main",
		Tier:        tier,
		Center:      center,
		ResolutionM: Specs[tier].ResolutionM,
	}
}

func testComposites(n int) []*imagery.Composite {
	out := make([]*imagery.Composite, 0, n)
	kinds := []string{"optical", "radar"}
	for i := 0; i < n; i++ {
		kind := kinds[i%len(kinds)]
		out = append(out, &imagery.Composite{
			Source: types.EvidenceSource{
				ID:        fmt.Sprintf("%s-area-1", kind),
				Kind:      kind,
				DatasetID: imagery.DatasetSentinel2,
			},
			SceneCount: 3,
			ImageData:  []byte("raster"),
			MediaType:  "image/png",
		})
	}
	return out
}

func TestInterpreterAnalyzerExtractsPerRaster(t *testing.T) {
	interp := &scriptedInterpreter{responses: map[string]string{
		"": `{"candidates": [{"coordinates": [-12.61, -65.31], "confidence": 0.8, "kinds": ["concentric-ring"], "radius_m": 200}]}`,
	}}
	rec := &memoryRecorder{}
	a := NewInterpreterAnalyzer(interp, rec, nil)

	found, warnings := a.Analyze(context.Background(), testArea(types.TierZone), testComposites(2))

	require.Len(t, found, 2)
	assert.Empty(t, warnings)
	assert.Equal(t, 2, interp.calls)
	assert.Equal(t, "optical-area-1", found[0].Evidence[0])
	assert.Equal(t, "radar-area-1", found[1].Evidence[0])
	assert.Equal(t, "prompt-1", found[0].Provenance.PromptID)
	assert.Equal(t, "prompt-2", found[1].Provenance.PromptID)
}

func TestInterpreterAnalyzerRecordsEveryExchange(t *testing.T) {
	interp := &scriptedInterpreter{err: errors.New("overloaded")}
	rec := &memoryRecorder{}
	a := NewInterpreterAnalyzer(interp, rec, nil)

	found, warnings := a.Analyze(context.Background(), testArea(types.TierRegional), testComposites(2))

	assert.Empty(t, found)
	require.Len(t, warnings, 2)
	require.Len(t, rec.entries, 2, "failed calls still leave an audit record")
	assert.Contains(t, rec.entries[0].response, "ERROR: overloaded")
	assert.Equal(t, string(types.TierRegional), rec.entries[0].stage)
}

func TestInterpreterAnalyzerFailureDoesNotAbort(t *testing.T) {
	interp := &scriptedInterpreter{responses: map[string]string{
		"": `{"candidates": []}`,
	}}
	rec := &memoryRecorder{err: errors.New("disk full")}
	a := NewInterpreterAnalyzer(interp, rec, nil)

	found, warnings := a.Analyze(context.Background(), testArea(types.TierSite), testComposites(1))

	assert.Empty(t, found)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "retain interpreter exchange")
}

func TestInterpreterAnalyzerEmptyImagery(t *testing.T) {
	interp := &scriptedInterpreter{}
	a := NewInterpreterAnalyzer(interp, &memoryRecorder{}, nil)

	found, warnings := a.Analyze(context.Background(), testArea(types.TierZone), nil)

	assert.Empty(t, found)
	assert.Empty(t, warnings)
	assert.Zero(t, interp.calls)
}

func TestSimulatedAnalyzerDeterministic(t *testing.T) {
	sim := NewSimulatedAnalyzer()
	area := testArea(types.TierZone)
	comps := testComposites(2)

	first, _ := sim.Analyze(context.Background(), area, comps)
	second, _ := sim.Analyze(context.Background(), area, comps)

	require.Len(t, first, 4, "two scripted candidates per raster")
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Center, second[i].Center)
		assert.Equal(t, first[i].Confidence, second[i].Confidence)
	}
}

func TestSimulatedAnalyzerValidDiscoveries(t *testing.T) {
	sim := NewSimulatedAnalyzer()
	for _, tier := range []types.Tier{types.TierRegional, types.TierZone, types.TierSite} {
		found, warnings := sim.Analyze(context.Background(), testArea(tier), testComposites(1))
		assert.Empty(t, warnings)
		require.NotEmpty(t, found, "tier %s", tier)
		for _, d := range found {
			assert.NoError(t, d.Validate(), "tier %s discovery %s", tier, d.ID)
			assert.Equal(t, tier, d.Tier)
		}
	}
}
