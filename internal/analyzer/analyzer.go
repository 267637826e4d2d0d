// Package analyzer runs tier-scale analysis of fetched imagery,
// producing discovery candidates. The capability is an interface with a
// production implementation backed by the interpreter service and a
// deterministic simulated implementation for tests and dry runs.
package analyzer

import (
	"context"

	"github.com/skookum/geocascade/internal/imagery"
	"github.com/skookum/geocascade/internal/types"
)

// TierSpec fixes the footprint and analysis resolution of each tier.
type TierSpec struct {
	SizeM       float64 // window side length in meters
	ResolutionM float64 // meters per pixel
}

// Specs for the three fixed tiers. Resolutions follow the rendered
// composite sizes: a 512px render of each window.
var Specs = map[types.Tier]TierSpec{
	types.TierRegional: {SizeM: 50000, ResolutionM: 97.0},
	types.TierZone:     {SizeM: 10000, ResolutionM: 9.8},
	types.TierSite:     {SizeM: 2000, ResolutionM: 1.95},
}

// Analyzer is the scale-tier analysis capability.
//
// Contract: an empty imagery slice is a caller error and yields an
// empty result, not a failure. A failed interpreter call yields an
// empty result plus a warning; it never aborts the enclosing region,
// which is why the signature has no error return.
type Analyzer interface {
	Analyze(ctx context.Context, area *types.Area, composites []*imagery.Composite) ([]*types.Discovery, []types.Warning)
}
