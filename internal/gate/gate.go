// Package gate decides which discoveries earn a closer look and turns
// them into next-tier analysis areas.
package gate

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/skookum/geocascade/internal/analyzer"
	"github.com/skookum/geocascade/internal/geo"
	"github.com/skookum/geocascade/internal/types"
)

// DefaultThreshold is the promotion cutoff applied at both the
// Regional→Zone and Zone→Site boundaries.
const DefaultThreshold = 0.5

// GridSize is the per-hotspot tiling dimension: each promoted
// discovery spawns a GridSize×GridSize block of next-tier areas.
const GridSize = 3

// ConfidenceGate filters discoveries by a per-boundary threshold.
type ConfidenceGate struct {
	Thresholds map[types.Tier]float64 // keyed by the discovery's own tier
}

// NewConfidenceGate returns a gate with DefaultThreshold at every
// boundary.
func NewConfidenceGate() *ConfidenceGate {
	return &ConfidenceGate{
		Thresholds: map[types.Tier]float64{
			types.TierRegional: DefaultThreshold,
			types.TierZone:     DefaultThreshold,
		},
	}
}

// Threshold reports the cutoff applied to discoveries of the given tier.
func (g *ConfidenceGate) Threshold(tier types.Tier) float64 {
	if t, ok := g.Thresholds[tier]; ok {
		return t
	}
	return DefaultThreshold
}

// Pass returns the discoveries at or above the tier's threshold,
// preserving input order.
func (g *ConfidenceGate) Pass(discoveries []*types.Discovery, tier types.Tier) []*types.Discovery {
	threshold := g.Threshold(tier)
	var out []*types.Discovery
	for _, d := range discoveries {
		if d.Tier == tier && d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// PriorityAreaSelector tiles next-tier areas around promoted
// discoveries and collapses overlapping tiles from nearby hotspots.
type PriorityAreaSelector struct {
	gate   *ConfidenceGate
	logger *slog.Logger
}

// NewPriorityAreaSelector wires a selector to its gate.
func NewPriorityAreaSelector(gate *ConfidenceGate, logger *slog.Logger) *PriorityAreaSelector {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriorityAreaSelector{gate: gate, logger: logger}
}

// SelectNextTierAreas derives areas for the tier after `tier` from its
// high-confidence discoveries. All discoveries in a batch belong to the
// given region. An empty result terminates that branch of the cascade;
// it is not an error.
func (s *PriorityAreaSelector) SelectNextTierAreas(regionID string, discoveries []*types.Discovery, tier types.Tier) []*types.Area {
	next := tier.Next()
	if next == "" {
		return nil
	}
	spec, ok := analyzer.Specs[next]
	if !ok {
		return nil
	}

	promoted := s.gate.Pass(discoveries, tier)
	if len(promoted) == 0 {
		return nil
	}
	// Deterministic tiling order regardless of how the caller
	// accumulated the discoveries.
	sort.SliceStable(promoted, func(i, j int) bool {
		if promoted[i].Confidence != promoted[j].Confidence {
			return promoted[i].Confidence > promoted[j].Confidence
		}
		return promoted[i].ID < promoted[j].ID
	})

	tileM := spec.SizeM
	half := GridSize / 2
	var out []*types.Area
	for _, d := range promoted {
		for row := -half; row <= half; row++ {
			for col := -half; col <= half; col++ {
				center := geo.Offset(d.Center, float64(row)*tileM, float64(col)*tileM)
				if tooClose(out, center, tileM/2) {
					continue
				}
				area := &types.Area{
					ID:          fmt.Sprintf("%s-%s-r%+dc%+d", next, d.ID, row, col),
					RegionID:    regionID,
					Tier:        next,
					ParentID:    d.AreaID,
					Center:      center,
					Bounds:      geo.BoxAround(center, tileM),
					ResolutionM: spec.ResolutionM,
				}
				out = append(out, area)
			}
		}
	}

	s.logger.Info("selected next-tier areas",
		"from_tier", tier, "to_tier", next,
		"promoted", len(promoted), "areas", len(out))
	return out
}

// tooClose reports whether center lands within minDistM of an already
// emitted area's center.
func tooClose(areas []*types.Area, center types.Coordinate, minDistM float64) bool {
	for _, a := range areas {
		if geo.DistanceM(a.Center, center) < minDistM {
			return true
		}
	}
	return false
}
