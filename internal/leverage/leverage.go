// Package leverage turns confirmed discoveries into a search pattern
// and new candidate areas: settlements that fit a regional pattern
// tend to sit where the pattern predicts, not where a blind grid
// sweep happens to look.
package leverage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/skookum/geocascade/internal/analyzer"
	"github.com/skookum/geocascade/internal/extract"
	"github.com/skookum/geocascade/internal/geo"
	"github.com/skookum/geocascade/internal/interpreter"
	"github.com/skookum/geocascade/internal/types"
)

// DefaultSpacingM is used for gap-filling when too few discoveries
// exist to learn a spacing. Casarabe-culture sites cluster at roughly
// this interval.
const DefaultSpacingM = 3000.0

// Result is one leverage pass: the learned pattern plus the candidate
// areas it predicts.
type Result struct {
	Areas   []*types.Area
	Pattern types.PatternSummary
}

// Engine runs pattern extrapolation over confirmed discoveries.
type Engine struct {
	interp   interpreter.Interpreter
	recorder interpreter.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine wires a leverage engine. interp may be nil, in which case
// only statistical gap-filling runs and no pattern-match proposals are
// requested.
func NewEngine(interp interpreter.Interpreter, recorder interpreter.Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{interp: interp, recorder: recorder, logger: logger, now: time.Now}
}

// Leverage derives candidate Zone areas from confirmed discoveries two
// ways: gap-filling at the learned spacing around each confirmed
// center, and interpreter-proposed pattern matches. Empty input is the
// cascade's natural termination and returns an empty result.
func (e *Engine) Leverage(ctx context.Context, region *types.Region, confirmed []*types.Discovery) (Result, []types.Warning) {
	if len(confirmed) == 0 {
		return Result{}, nil
	}

	pattern := Summarize(confirmed)
	areas := e.gapFill(region, confirmed, pattern)

	var warnings []types.Warning
	if e.interp != nil {
		proposed, w := e.proposeMatches(ctx, region, pattern, confirmed, areas)
		areas = append(areas, proposed...)
		warnings = append(warnings, w...)
	}

	e.logger.Info("leverage pass complete",
		"region_id", region.ID,
		"confirmed", len(confirmed),
		"candidate_areas", len(areas),
		"spacing_m", pattern.TypicalSpacingM)
	return Result{Areas: areas, Pattern: pattern}, warnings
}

// Summarize computes the pattern statistics for a set of confirmed
// discoveries: size central tendency, dominant kinds, typical
// nearest-neighbor spacing, and the orientation bias of linear
// features.
func Summarize(confirmed []*types.Discovery) types.PatternSummary {
	s := types.PatternSummary{Count: len(confirmed)}
	if len(confirmed) == 0 {
		return s
	}

	var radii []float64
	for _, d := range confirmed {
		if d.RadiusM > 0 {
			radii = append(radii, d.RadiusM)
		}
	}
	if len(radii) > 0 {
		sort.Float64s(radii)
		var sum float64
		for _, r := range radii {
			sum += r
		}
		s.MeanRadiusM = sum / float64(len(radii))
		s.MedianRadiusM = median(radii)
	}

	s.TopKinds = topKinds(confirmed, 3)

	if len(confirmed) >= 2 {
		var nn []float64
		for i, d := range confirmed {
			best := math.MaxFloat64
			for j, other := range confirmed {
				if i == j {
					continue
				}
				if dist := geo.DistanceM(d.Center, other.Center); dist < best {
					best = dist
				}
			}
			nn = append(nn, best)
		}
		sort.Float64s(nn)
		s.TypicalSpacingM = median(nn)
	}

	if deg, ok := orientationBias(confirmed); ok {
		s.OrientationBiasDeg = deg
		s.HasOrientation = true
	}
	return s
}

// gapFill places Zone areas at the learned spacing in the four
// cardinal directions around each confirmed discovery, skipping spots
// already covered by a confirmed center or an earlier gap area.
func (e *Engine) gapFill(region *types.Region, confirmed []*types.Discovery, pattern types.PatternSummary) []*types.Area {
	spacing := pattern.TypicalSpacingM
	if spacing <= 0 {
		spacing = DefaultSpacingM
	}

	ordered := append([]*types.Discovery(nil), confirmed...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Confidence != ordered[j].Confidence {
			return ordered[i].Confidence > ordered[j].Confidence
		}
		return ordered[i].ID < ordered[j].ID
	})

	offsets := [][2]float64{{spacing, 0}, {0, spacing}, {-spacing, 0}, {0, -spacing}}
	spec := analyzer.Specs[types.TierZone]
	var out []*types.Area
	for _, d := range ordered {
		for i, off := range offsets {
			center := geo.Offset(d.Center, off[0], off[1])
			if covered(center, confirmed, out, spacing/2) {
				continue
			}
			out = append(out, &types.Area{
				ID:          fmt.Sprintf("gap-%s-%d", d.ID, i),
				RegionID:    region.ID,
				Tier:        types.TierZone,
				ParentID:    d.AreaID,
				Center:      center,
				Bounds:      geo.BoxAround(center, spec.SizeM),
				ResolutionM: spec.ResolutionM,
			})
		}
	}
	return out
}

// proposeMatches asks the interpreter for previously-unflagged
// locations that fit the learned pattern. Failures degrade to a
// warning; the statistical gap-fill areas still stand.
func (e *Engine) proposeMatches(ctx context.Context, region *types.Region, pattern types.PatternSummary, confirmed []*types.Discovery, existing []*types.Area) ([]*types.Area, []types.Warning) {
	prompt := interpreter.BuildLeveragePrompt(region, pattern)

	response, err := e.interp.Interpret(ctx, interpreter.Request{
		Prompt: prompt,
		Stage:  string(types.StageLeverage),
	})

	recorded := response
	if err != nil {
		recorded = fmt.Sprintf("ERROR: %v", err)
	}
	var warnings []types.Warning
	if e.recorder != nil {
		if _, recErr := e.recorder.RecordExchange(ctx, region.ID, "", string(types.StageLeverage), prompt, recorded); recErr != nil {
			warnings = append(warnings, e.warn(region.ID, fmt.Sprintf("failed to retain leverage exchange: %v", recErr)))
		}
	}
	if err != nil {
		return nil, append(warnings, e.warn(region.ID, fmt.Sprintf("pattern-match proposal failed: %v", err)))
	}

	result := extract.Parse[extract.Reply](response, fmt.Sprintf("leverage %s", region.ID))
	if !result.OK {
		return nil, append(warnings, e.warn(region.ID, fmt.Sprintf("pattern-match reply rejected: %v", result.Err())))
	}

	spacing := pattern.TypicalSpacingM
	if spacing <= 0 {
		spacing = DefaultSpacingM
	}
	spec := analyzer.Specs[types.TierZone]
	var out []*types.Area
	for i, cand := range result.Data.Candidates {
		center, cerr := cand.Center()
		if cerr != nil {
			warnings = append(warnings, e.warn(region.ID, fmt.Sprintf("pattern-match candidate %d: %v", i, cerr)))
			continue
		}
		if err := center.Validate(); err != nil {
			warnings = append(warnings, e.warn(region.ID, fmt.Sprintf("pattern-match candidate %d: %v", i, err)))
			continue
		}
		if covered(center, confirmed, append(existing, out...), spacing/2) {
			continue
		}
		out = append(out, &types.Area{
			ID:          fmt.Sprintf("match-%s-%d", region.ID, i),
			RegionID:    region.ID,
			Tier:        types.TierZone,
			Center:      center,
			Bounds:      geo.BoxAround(center, spec.SizeM),
			ResolutionM: spec.ResolutionM,
		})
	}
	return out, warnings
}

func (e *Engine) warn(regionID, msg string) types.Warning {
	return types.Warning{
		RegionID:  regionID,
		Stage:     string(types.StageLeverage),
		Message:   msg,
		Timestamp: e.now(),
	}
}

// covered reports whether center sits within minDistM of a confirmed
// discovery or an already planned area.
func covered(center types.Coordinate, confirmed []*types.Discovery, areas []*types.Area, minDistM float64) bool {
	for _, d := range confirmed {
		if geo.DistanceM(center, d.Center) < minDistM {
			return true
		}
	}
	for _, a := range areas {
		if geo.DistanceM(center, a.Center) < minDistM {
			return true
		}
	}
	return false
}

// topKinds returns the n most frequent kinds, frequency descending and
// name ascending on ties.
func topKinds(confirmed []*types.Discovery, n int) []string {
	counts := map[string]int{}
	for _, d := range confirmed {
		for _, k := range d.Kinds {
			counts[k]++
		}
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if counts[kinds[i]] != counts[kinds[j]] {
			return counts[kinds[i]] > counts[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	if len(kinds) > n {
		kinds = kinds[:n]
	}
	return kinds
}

// orientationBias computes the circular mean bearing (mod 180, since a
// line has no direction) between nearest linear-feature pairs. Needs at
// least two linear features to say anything.
func orientationBias(confirmed []*types.Discovery) (float64, bool) {
	var linear []*types.Discovery
	for _, d := range confirmed {
		for _, k := range d.Kinds {
			if k == "linear-feature" || k == "causeway" {
				linear = append(linear, d)
				break
			}
		}
	}
	if len(linear) < 2 {
		return 0, false
	}

	var sumSin, sumCos float64
	for i, d := range linear {
		best := math.MaxFloat64
		bearing := 0.0
		for j, other := range linear {
			if i == j {
				continue
			}
			if dist := geo.DistanceM(d.Center, other.Center); dist < best {
				best = dist
				bearing = geo.BearingDeg(d.Center, other.Center)
			}
		}
		// Double-angle trick folds the 0..360 bearing onto 0..180.
		rad := 2 * bearing * math.Pi / 180
		sumSin += math.Sin(rad)
		sumCos += math.Cos(rad)
	}
	mean := math.Atan2(sumSin, sumCos) * 180 / math.Pi / 2
	// Normalize into [0, 180). Reciprocal-bearing pairs (exact
	// north-south) leave atan2 a hair below zero, which would otherwise
	// fold to ~180 instead of 0; 180 and 0 are the same undirected line,
	// so float noise at the wrap snaps to 0.
	mean = math.Mod(mean+180, 180)
	if 180-mean < 1e-9 {
		mean = 0
	}
	return mean, true
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
