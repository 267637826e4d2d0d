// Package imagery defines the raster-acquisition collaborator and the
// catalog of evidence-source datasets a run draws from.
package imagery

import (
	"context"
	"fmt"
	"time"

	"github.com/skookum/geocascade/internal/config"
	"github.com/skookum/geocascade/internal/types"
)

// DateRange bounds the acquisition window for a composite.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Filters narrows a fetch, e.g. maximum cloud cover for optical scenes.
type Filters struct {
	MaxCloudPct float64
}

// Composite is one fetched raster: a renderable image assembled from
// scene_count source scenes, tagged with the evidence source it came
// from.
type Composite struct {
	Source     types.EvidenceSource
	SceneCount int
	ImageData  []byte
	MediaType  string
}

// Provider fetches a composite raster for a bounding box and date
// range. Thumbnailing and rendering are owned by the provider, not by
// this core.
type Provider interface {
	// Kind identifies the raster kind this provider produces
	// ("optical", "radar", "basemap").
	Kind() string

	// DatasetID is the stable public identifier of the backing dataset.
	DatasetID() string

	// Fetch returns a composite for the area. A zero scene count with a
	// nil error means the archive had no coverage; callers skip the
	// raster rather than failing the area.
	Fetch(ctx context.Context, area *types.Area, dates DateRange, filters Filters) (*Composite, error)
}

// Well-known public dataset identifiers.
const (
	DatasetSentinel2 = "COPERNICUS/S2_SR_HARMONIZED"
	DatasetSentinel1 = "COPERNICUS/S1_GRD"
	DatasetNICFI     = "projects/planet-nicfi/assets/basemaps/americas"
)

// ValidateProviders enforces the evidence-diversity precondition:
// compliance requires at least two independently-sourced raster kinds,
// so configuring fewer is a fatal startup error, caught before any
// imagery is fetched.
func ValidateProviders(providers []Provider) error {
	kinds := make(map[string]bool)
	for _, p := range providers {
		if p.DatasetID() == "" {
			return fmt.Errorf("%w: provider %q has no dataset identifier", config.ErrConfiguration, p.Kind())
		}
		kinds[p.Kind()] = true
	}
	if len(kinds) < 2 {
		return fmt.Errorf("%w: need at least 2 distinct evidence-source kinds, configured %d", config.ErrConfiguration, len(kinds))
	}
	return nil
}
