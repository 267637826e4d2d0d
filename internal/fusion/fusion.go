// Package fusion merges discoveries that describe the same physical
// feature across tiers and evidence sources.
package fusion

import (
	"log/slog"
	"sort"

	"github.com/skookum/geocascade/internal/analyzer"
	"github.com/skookum/geocascade/internal/geo"
	"github.com/skookum/geocascade/internal/types"
)

// Engine groups discoveries by center proximity. The proximity radius
// for a pair is one pixel at the coarser member's analysis resolution,
// so a Regional hit absorbs anything within ~97m while two Site hits
// must sit within ~2m of each other.
type Engine struct {
	logger *slog.Logger
}

// NewEngine returns a fusion engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Fuse returns a new slice containing every input discovery: survivors
// carry the merged confidence/kinds/evidence/geometry, absorbed members
// carry merged_into pointing directly at their survivor (no chains).
// The input is never mutated. Identical input always yields identical
// output regardless of input order.
func (e *Engine) Fuse(discoveries []*types.Discovery) []*types.Discovery {
	work := make([]*types.Discovery, 0, len(discoveries))
	for _, d := range discoveries {
		work = append(work, cloneDiscovery(d))
	}
	sort.SliceStable(work, func(i, j int) bool {
		if work[i].Confidence != work[j].Confidence {
			return work[i].Confidence > work[j].Confidence
		}
		return work[i].ID < work[j].ID
	})

	merged := 0
	for i, d := range work {
		if d.Merged() {
			continue
		}
		for _, other := range work[i+1:] {
			if other.Merged() {
				continue
			}
			if geo.DistanceM(d.Center, other.Center) <= proximityM(d.Tier, other.Tier) {
				absorb(d, other)
				merged++
			}
		}
	}

	if merged > 0 {
		e.logger.Info("fusion pass complete", "input", len(work), "merged", merged)
	}
	return work
}

// Survivors filters a fused slice down to the records still standing.
func Survivors(fused []*types.Discovery) []*types.Discovery {
	var out []*types.Discovery
	for _, d := range fused {
		if !d.Merged() {
			out = append(out, d)
		}
	}
	return out
}

// proximityM is the merge radius for a pair of tiers: one pixel at the
// coarser tier's resolution.
func proximityM(a, b types.Tier) float64 {
	return max(analyzer.Specs[a].ResolutionM, analyzer.Specs[b].ResolutionM)
}

// absorb folds `member` into survivor `s`: max confidence, unioned
// kinds and evidence, and the tightest geometry either side carries.
// Radius and polygon travel together so the survivor never ends up
// describing one discovery's radius with another's outline.
func absorb(s, member *types.Discovery) {
	if member.Confidence > s.Confidence {
		s.Confidence = member.Confidence
	}
	s.Kinds = unionSorted(s.Kinds, member.Kinds)
	s.Evidence = unionSorted(s.Evidence, member.Evidence)
	if member.RadiusM > 0 && (s.RadiusM == 0 || member.RadiusM < s.RadiusM) {
		if len(member.Polygon) > 0 || len(s.Polygon) == 0 {
			s.RadiusM = member.RadiusM
			s.Polygon = append([]types.Coordinate(nil), member.Polygon...)
		}
	}
	member.MergedInto = s.ID
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, lst := range [][]string{a, b} {
		for _, v := range lst {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func cloneDiscovery(d *types.Discovery) *types.Discovery {
	c := *d
	c.Kinds = append([]string(nil), d.Kinds...)
	c.Evidence = append([]string(nil), d.Evidence...)
	c.Polygon = append([]types.Coordinate(nil), d.Polygon...)
	if d.Features != nil {
		c.Features = make(map[string]string, len(d.Features))
		for k, v := range d.Features {
			c.Features[k] = v
		}
	}
	return &c
}
