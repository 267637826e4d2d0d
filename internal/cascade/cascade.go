// Package cascade drives the three-tier discovery pipeline per region:
// regional sweep, gated zone and site refinement, fusion, pattern
// leverage, and a final fusion pass. Every stage persists its artifact
// before the next starts, so a cancelled run resumes where it stopped.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/skookum/geocascade/internal/analyzer"
	"github.com/skookum/geocascade/internal/config"
	"github.com/skookum/geocascade/internal/fusion"
	"github.com/skookum/geocascade/internal/gate"
	"github.com/skookum/geocascade/internal/geo"
	"github.com/skookum/geocascade/internal/imagery"
	"github.com/skookum/geocascade/internal/leverage"
	"github.com/skookum/geocascade/internal/observability"
	"github.com/skookum/geocascade/internal/storage"
	"github.com/skookum/geocascade/internal/types"
)

// Controller owns one run of the cascade across its regions.
type Controller struct {
	cfg       *config.Config
	store     *storage.Store
	providers []imagery.Provider
	analyzer  analyzer.Analyzer
	selector  *gate.PriorityAreaSelector
	gate      *gate.ConfidenceGate
	fuser     *fusion.Engine
	lever     *leverage.Engine
	metrics   *observability.Metrics
	clock     clockwork.Clock
	logger    *slog.Logger

	window  imagery.DateRange
	filters imagery.Filters
}

// New assembles a controller. The provider set must already satisfy the
// two-kind diversity requirement; that is checked at startup, not here.
func New(cfg *config.Config, store *storage.Store, providers []imagery.Provider, an analyzer.Analyzer, lever *leverage.Engine, metrics *observability.Metrics, clock clockwork.Clock, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}

	start, end, err := cfg.Imagery.Window()
	if err != nil {
		return nil, err
	}

	g := gate.NewConfidenceGate()
	g.Thresholds[types.TierRegional] = cfg.Cascade.PromotionThreshold
	g.Thresholds[types.TierZone] = cfg.Cascade.PromotionThreshold

	return &Controller{
		cfg:       cfg,
		store:     store,
		providers: providers,
		analyzer:  an,
		selector:  gate.NewPriorityAreaSelector(g, logger),
		gate:      g,
		fuser:     fusion.NewEngine(logger),
		lever:     lever,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		window:    imagery.DateRange{Start: start, End: end},
		filters:   imagery.Filters{MaxCloudPct: cfg.Imagery.MaxCloudPct},
	}, nil
}

// Run cascades every region, in parallel up to the configured region
// concurrency, and returns the reconstructed run state. A region that
// fails does not stop its siblings; its error surfaces as a warning in
// the returned state.
func (c *Controller) Run(ctx context.Context, runID string, regions []*types.Region) (*types.RunState, error) {
	if len(regions) == 0 {
		return nil, fmt.Errorf("no regions selected")
	}
	if err := imagery.ValidateProviders(c.providers); err != nil {
		return nil, err
	}
	if err := c.store.CreateRun(ctx, runID, c.clock.Now(), regions); err != nil {
		return nil, err
	}

	// Stable execution order keeps simulated runs reproducible.
	ordered := append([]*types.Region(nil), regions...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	prior, err := c.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(int64(c.cfg.Cascade.RegionConcurrency))
	var wg sync.WaitGroup
	for _, region := range ordered {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		c.metrics.RegionsActive.Inc()
		go func(region *types.Region) {
			defer wg.Done()
			defer sem.Release(1)
			defer c.metrics.RegionsActive.Dec()
			if err := c.runRegion(ctx, runID, region, prior.Regions[region.ID]); err != nil {
				c.logger.Error("region cascade failed", "region_id", region.ID, "error", err)
				c.recordWarning(ctx, runID, types.Warning{
					RegionID:  region.ID,
					Message:   fmt.Sprintf("region cascade aborted: %v", err),
					Timestamp: c.clock.Now(),
				})
			}
		}(region)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Partial artifacts are already persisted; a later resume
		// picks up from them.
		return c.store.LoadRun(context.WithoutCancel(ctx), runID)
	}

	if err := c.store.CompleteRun(ctx, runID, c.clock.Now()); err != nil {
		return nil, err
	}
	return c.store.LoadRun(ctx, runID)
}

// regionRun is the in-memory accumulator for one region's cascade.
type regionRun struct {
	runID  string
	region *types.Region

	mu          sync.Mutex
	areas       []*types.Area
	discoveries []*types.Discovery
}

func (r *regionRun) append(areas []*types.Area, found []*types.Discovery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.areas = append(r.areas, areas...)
	r.discoveries = append(r.discoveries, found...)
}

// snapshot returns defensive copies ordered by id, so persisted
// artifacts do not depend on goroutine completion order.
func (r *regionRun) snapshot() ([]*types.Area, []*types.Discovery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	areas := append([]*types.Area(nil), r.areas...)
	discoveries := append([]*types.Discovery(nil), r.discoveries...)
	sort.Slice(areas, func(i, j int) bool { return areas[i].ID < areas[j].ID })
	sort.Slice(discoveries, func(i, j int) bool { return discoveries[i].ID < discoveries[j].ID })
	return areas, discoveries
}

func (r *regionRun) byTier(tier types.Tier) []*types.Discovery {
	_, discoveries := r.snapshot()
	var out []*types.Discovery
	for _, d := range discoveries {
		if d.Tier == tier && !d.Merged() {
			out = append(out, d)
		}
	}
	return out
}

func (c *Controller) runRegion(ctx context.Context, runID string, region *types.Region, prior *types.RegionState) error {
	run := &regionRun{runID: runID, region: region}
	if prior != nil {
		run.areas = prior.Areas
		run.discoveries = prior.Discoveries
	}

	for _, stage := range types.StageOrder {
		done, err := c.store.HasStageArtifact(ctx, runID, region.ID, stage)
		if err != nil {
			return err
		}
		if done {
			c.logger.Info("stage artifact present, skipping", "region_id", region.ID, "stage", stage)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		start := c.clock.Now()
		if err := c.runStage(ctx, run, stage); err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		c.metrics.StageDuration.WithLabelValues(string(stage)).Observe(c.clock.Since(start).Seconds())

		areas, discoveries := run.snapshot()
		if err := c.store.SaveStageArtifact(ctx, runID, region.ID, stage, areas, discoveries); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runStage(ctx context.Context, run *regionRun, stage types.Stage) error {
	switch stage {
	case types.StageRegional:
		return c.regionalStage(ctx, run)
	case types.StageZone:
		return c.refinementStage(ctx, run, types.TierRegional, c.cfg.Cascade.MaxZoneAreas)
	case types.StageSite:
		return c.refinementStage(ctx, run, types.TierZone, c.cfg.Cascade.MaxSiteAreas)
	case types.StageFusion, types.StageFinal:
		c.fusionStage(run)
		return nil
	case types.StageLeverage:
		return c.leverageStage(ctx, run)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// regionalStage analyzes the single 50km overview area for the region.
func (c *Controller) regionalStage(ctx context.Context, run *regionRun) error {
	spec := analyzer.Specs[types.TierRegional]
	area := &types.Area{
		ID:          fmt.Sprintf("regional-%s", run.region.ID),
		RegionID:    run.region.ID,
		Tier:        types.TierRegional,
		Center:      run.region.Center,
		Bounds:      geo.BoxAround(run.region.Center, spec.SizeM),
		ResolutionM: spec.ResolutionM,
	}
	c.analyzeAreas(ctx, run, []*types.Area{area})
	return ctx.Err()
}

// refinementStage promotes the previous tier's discoveries into
// next-tier areas and analyzes them.
func (c *Controller) refinementStage(ctx context.Context, run *regionRun, fromTier types.Tier, limit int) error {
	areas := c.selector.SelectNextTierAreas(run.region.ID, run.byTier(fromTier), fromTier)
	if limit > 0 && len(areas) > limit {
		c.recordWarning(ctx, run.runID, types.Warning{
			RegionID:  run.region.ID,
			Stage:     string(fromTier.Next()),
			Message:   fmt.Sprintf("capping %d candidate areas at %d", len(areas), limit),
			Timestamp: c.clock.Now(),
		})
		areas = areas[:limit]
	}
	if len(areas) == 0 {
		// Natural termination of this branch.
		return ctx.Err()
	}
	c.analyzeAreas(ctx, run, areas)
	return ctx.Err()
}

// analyzeAreas fetches imagery for and analyzes each area, in parallel
// up to the configured area concurrency. Results are appended as each
// area completes; a failed area degrades to warnings.
func (c *Controller) analyzeAreas(ctx context.Context, run *regionRun, areas []*types.Area) {
	sem := semaphore.NewWeighted(int64(c.cfg.Cascade.AreaConcurrency))
	var wg sync.WaitGroup
	for _, area := range areas {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(area *types.Area) {
			defer wg.Done()
			defer sem.Release(1)
			c.analyzeOne(ctx, run, area)
		}(area)
	}
	wg.Wait()
}

func (c *Controller) analyzeOne(ctx context.Context, run *regionRun, area *types.Area) {
	composites, warnings := c.fetchComposites(ctx, run, area)
	for _, w := range warnings {
		c.recordWarning(ctx, run.runID, w)
	}
	if len(composites) == 0 {
		run.append([]*types.Area{area}, nil)
		return
	}

	found, analyzeWarnings := c.analyzer.Analyze(ctx, area, composites)
	for _, w := range analyzeWarnings {
		c.recordWarning(ctx, run.runID, w)
	}

	c.metrics.AreasAnalyzed.WithLabelValues(string(area.Tier)).Inc()
	for _, d := range found {
		method := d.Features["extraction_method"]
		if method == "" {
			method = "structured"
		}
		c.metrics.DiscoveriesFound.WithLabelValues(string(d.Tier), method).Inc()
	}
	run.append([]*types.Area{area}, found)
}

func (c *Controller) fetchComposites(ctx context.Context, run *regionRun, area *types.Area) ([]*imagery.Composite, []types.Warning) {
	var composites []*imagery.Composite
	var warnings []types.Warning
	for _, p := range c.providers {
		comp, err := p.Fetch(ctx, area, c.window, c.filters)
		if err != nil {
			warnings = append(warnings, types.Warning{
				RegionID:  area.RegionID,
				AreaID:    area.ID,
				Stage:     string(area.Tier),
				Message:   fmt.Sprintf("%s imagery fetch failed: %v", p.Kind(), err),
				Timestamp: c.clock.Now(),
			})
			continue
		}
		if err := c.store.RecordSource(ctx, run.runID, comp.Source); err != nil {
			warnings = append(warnings, types.Warning{
				RegionID:  area.RegionID,
				AreaID:    area.ID,
				Stage:     string(area.Tier),
				Message:   fmt.Sprintf("failed to record source %s: %v", comp.Source.ID, err),
				Timestamp: c.clock.Now(),
			})
		}
		composites = append(composites, comp)
	}
	return composites, warnings
}

// fusionStage is a single-threaded join point: it runs only after all
// area goroutines for the region finished.
func (c *Controller) fusionStage(run *regionRun) {
	run.mu.Lock()
	defer run.mu.Unlock()

	before := surviving(run.discoveries)
	fused := c.fuser.Fuse(run.discoveries)
	run.discoveries = fused
	if after := surviving(fused); before > after {
		c.metrics.DiscoveriesMerged.Add(float64(before - after))
	}
}

// leverageStage extrapolates the learned pattern into new Zone areas
// and analyzes them.
func (c *Controller) leverageStage(ctx context.Context, run *regionRun) error {
	if c.cfg.Cascade.MaxLeveragePasses < 1 || c.lever == nil {
		return nil
	}

	confirmed := c.gate.Pass(run.byTier(types.TierSite), types.TierSite)
	result, warnings := c.lever.Leverage(ctx, run.region, confirmed)
	for _, w := range warnings {
		c.recordWarning(ctx, run.runID, w)
	}
	c.metrics.LeveragePasses.Inc()

	areas := result.Areas
	if limit := c.cfg.Cascade.MaxZoneAreas; limit > 0 && len(areas) > limit {
		areas = areas[:limit]
	}
	if len(areas) > 0 {
		c.analyzeAreas(ctx, run, areas)
	}
	return ctx.Err()
}

func (c *Controller) recordWarning(ctx context.Context, runID string, w types.Warning) {
	if err := c.store.RecordWarning(context.WithoutCancel(ctx), runID, w); err != nil {
		c.logger.Error("failed to persist warning", "error", err, "warning", w.Message)
	}
}

func surviving(discoveries []*types.Discovery) int {
	n := 0
	for _, d := range discoveries {
		if !d.Merged() {
			n++
		}
	}
	return n
}

// Replay re-analyzes the first analyzed area of each region and
// reports the worst drift between replayed and recorded discovery
// centers. It backs the reproducibility compliance check.
func (c *Controller) Replay(ctx context.Context, rs *types.RunState) (float64, int, error) {
	var maxDrift float64
	sampled := 0

	regionIDs := make([]string, 0, len(rs.Regions))
	for id := range rs.Regions {
		regionIDs = append(regionIDs, id)
	}
	sort.Strings(regionIDs)

	for _, id := range regionIDs {
		state := rs.Regions[id]
		area := firstAnalyzedArea(state)
		if area == nil {
			continue
		}
		run := &regionRun{runID: rs.RunID, region: &state.Region}
		composites, _ := c.fetchComposites(ctx, run, area)
		if len(composites) == 0 {
			continue
		}
		replayed, _ := c.analyzer.Analyze(ctx, area, composites)
		sampled++

		for _, d := range replayed {
			best := -1.0
			for _, orig := range state.Discoveries {
				if orig.AreaID != area.ID {
					continue
				}
				dist := geo.DistanceM(d.Center, orig.Center)
				if best < 0 || dist < best {
					best = dist
				}
			}
			if best > maxDrift {
				maxDrift = best
			}
		}
	}
	return maxDrift, sampled, nil
}

// firstAnalyzedArea picks the area with the lowest id that produced at
// least one discovery.
func firstAnalyzedArea(state *types.RegionState) *types.Area {
	produced := map[string]bool{}
	for _, d := range state.Discoveries {
		produced[d.AreaID] = true
	}
	var pick *types.Area
	for _, a := range state.Areas {
		if !produced[a.ID] {
			continue
		}
		if pick == nil || a.ID < pick.ID {
			pick = a
		}
	}
	return pick
}

// RunID derives a stable default run identifier from the clock.
func RunID(clock clockwork.Clock) string {
	return "run-" + clock.Now().UTC().Format("20060102-150405")
}
