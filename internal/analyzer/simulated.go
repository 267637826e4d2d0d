package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/skookum/geocascade/internal/geo"
	"github.com/skookum/geocascade/internal/imagery"
	"github.com/skookum/geocascade/internal/types"
)

// SimCandidate is a scripted detection offset from an area's center.
type SimCandidate struct {
	NorthM     float64
	EastM      float64
	Confidence float64
	Kind       string
	RadiusM    float64
}

// SimulatedAnalyzer emits scripted detections, keyed by tier. The same
// area and composite set always produce the same discoveries, which is
// what the cascade's replay tests depend on.
type SimulatedAnalyzer struct {
	ByTier map[types.Tier][]SimCandidate
}

// NewSimulatedAnalyzer returns an analyzer with a default script: one
// strong and one weak candidate per tier, enough to exercise gating at
// both sides of the threshold.
func NewSimulatedAnalyzer() *SimulatedAnalyzer {
	return &SimulatedAnalyzer{
		ByTier: map[types.Tier][]SimCandidate{
			types.TierRegional: {
				{NorthM: 4000, EastM: -2500, Confidence: 0.72, Kind: "linear-feature", RadiusM: 900},
				{NorthM: -9000, EastM: 6000, Confidence: 0.31, Kind: "geometric-earthwork", RadiusM: 650},
			},
			types.TierZone: {
				{NorthM: 800, EastM: 300, Confidence: 0.81, Kind: "concentric-ring", RadiusM: 220},
				{NorthM: -1500, EastM: -900, Confidence: 0.44, Kind: "raised-platform", RadiusM: 140},
			},
			types.TierSite: {
				{NorthM: 120, EastM: -60, Confidence: 0.9, Kind: "concentric-ring", RadiusM: 85},
			},
		},
	}
}

// Analyze implements Analyzer with deterministic output. One set of
// candidates is emitted per raster so multi-source areas yield nearby
// duplicates for the fusion stage to merge.
func (s *SimulatedAnalyzer) Analyze(_ context.Context, area *types.Area, composites []*imagery.Composite) ([]*types.Discovery, []types.Warning) {
	script := s.ByTier[area.Tier]
	if len(script) == 0 || len(composites) == 0 {
		return nil, nil
	}

	var out []*types.Discovery
	for _, comp := range composites {
		for i, cand := range script {
			center := geo.Offset(area.Center, cand.NorthM, cand.EastM)
			out = append(out, &types.Discovery{
				ID:         fmt.Sprintf("sim-%s-%s-%d", area.ID, comp.Source.Kind, i),
				Tier:       area.Tier,
				AreaID:     area.ID,
				Center:     center,
				Confidence: cand.Confidence,
				Kinds:      []string{cand.Kind},
				RadiusM:    cand.RadiusM,
				Polygon:    geo.BoxRing(geo.BoxAround(center, cand.RadiusM*2)),
				Features:   map[string]string{"extraction_method": "simulated"},
				Evidence:   []string{comp.Source.ID},
				Provenance: types.Provenance{PromptID: "sim", ResponseID: "sim"},
				CreatedAt:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			})
		}
	}
	return out, nil
}
