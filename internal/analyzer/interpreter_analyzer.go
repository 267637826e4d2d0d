package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skookum/geocascade/internal/extract"
	"github.com/skookum/geocascade/internal/imagery"
	"github.com/skookum/geocascade/internal/interpreter"
	"github.com/skookum/geocascade/internal/types"
)

// InterpreterAnalyzer is the production Analyzer: one interpreter call
// per raster, with every exchange retained through the recorder.
type InterpreterAnalyzer struct {
	interp    interpreter.Interpreter
	recorder  interpreter.Recorder
	extractor *extract.Extractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewInterpreterAnalyzer creates the production analyzer.
func NewInterpreterAnalyzer(interp interpreter.Interpreter, recorder interpreter.Recorder, logger *slog.Logger) *InterpreterAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &InterpreterAnalyzer{
		interp:    interp,
		recorder:  recorder,
		extractor: extract.New(logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze implements Analyzer. Each raster in the composite set is
// interpreted independently; a failed call degrades to a warning and
// the remaining rasters still run.
func (a *InterpreterAnalyzer) Analyze(ctx context.Context, area *types.Area, composites []*imagery.Composite) ([]*types.Discovery, []types.Warning) {
	if len(composites) == 0 {
		a.logger.Warn("analyze called with no imagery", "area_id", area.ID, "tier", area.Tier)
		return nil, nil
	}

	var discoveries []*types.Discovery
	var warnings []types.Warning

	for _, comp := range composites {
		prompt := interpreter.BuildTierPrompt(area, comp.Source.Kind)

		response, err := a.interp.Interpret(ctx, interpreter.Request{
			Prompt:    prompt,
			ImageData: comp.ImageData,
			MediaType: comp.MediaType,
			Stage:     string(area.Tier),
		})

		recorded := response
		if err != nil {
			recorded = fmt.Sprintf("ERROR: %v", err)
		}
		promptID, recErr := a.recorder.RecordExchange(ctx, area.RegionID, area.ID, string(area.Tier), prompt, recorded)
		if recErr != nil {
			warnings = append(warnings, types.Warning{
				RegionID:  area.RegionID,
				AreaID:    area.ID,
				Stage:     string(area.Tier),
				Message:   fmt.Sprintf("failed to retain interpreter exchange: %v", recErr),
				Timestamp: a.now(),
			})
		}

		if err != nil {
			a.logger.Warn("interpreter call failed for raster",
				"area_id", area.ID, "source", comp.Source.ID, "error", err)
			warnings = append(warnings, types.Warning{
				RegionID:  area.RegionID,
				AreaID:    area.ID,
				Stage:     string(area.Tier),
				Message:   fmt.Sprintf("interpreter call failed for source %s: %v", comp.Source.ID, err),
				Timestamp: a.now(),
			})
			continue
		}

		found := a.extractor.Extract(extract.Input{
			Area:       area,
			SourceID:   comp.Source.ID,
			PromptID:   promptID,
			ResponseID: promptID,
		}, response)
		discoveries = append(discoveries, found...)
	}

	a.logger.Info("area analysis complete",
		"area_id", area.ID,
		"tier", area.Tier,
		"rasters", len(composites),
		"discoveries", len(discoveries),
		"warnings", len(warnings))
	return discoveries, warnings
}
