package imagery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skookum/geocascade/internal/types"
)

// SimulatedProvider returns deterministic composites without touching
// the network. Used by tests and dry runs.
type SimulatedProvider struct {
	SourceKind string
	Dataset    string
	Scenes     int
	FailWith   error // returned from Fetch when set

	mu           sync.Mutex
	fetchedAreas []string
}

// NewSimulatedOptical creates a simulated Sentinel-2 provider.
func NewSimulatedOptical() *SimulatedProvider {
	return &SimulatedProvider{SourceKind: "optical", Dataset: DatasetSentinel2, Scenes: 12}
}

// NewSimulatedRadar creates a simulated Sentinel-1 provider.
func NewSimulatedRadar() *SimulatedProvider {
	return &SimulatedProvider{SourceKind: "radar", Dataset: DatasetSentinel1, Scenes: 8}
}

// NewSimulatedBasemap creates a simulated NICFI high-res basemap
// provider, the optional third evidence kind.
func NewSimulatedBasemap() *SimulatedProvider {
	return &SimulatedProvider{SourceKind: "basemap", Dataset: DatasetNICFI, Scenes: 1}
}

// Kind implements Provider.
func (p *SimulatedProvider) Kind() string { return p.SourceKind }

// FetchedAreas returns the area ids fetched so far.
func (p *SimulatedProvider) FetchedAreas() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.fetchedAreas...)
}

// DatasetID implements Provider.
func (p *SimulatedProvider) DatasetID() string { return p.Dataset }

// Fetch implements Provider. The composite's evidence source id is
// derived from the area and kind so repeated fetches are stable.
func (p *SimulatedProvider) Fetch(ctx context.Context, area *types.Area, dates DateRange, filters Filters) (*Composite, error) {
	if p.FailWith != nil {
		return nil, p.FailWith
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.fetchedAreas = append(p.fetchedAreas, area.ID)
	p.mu.Unlock()

	return &Composite{
		Source: types.EvidenceSource{
			ID:        fmt.Sprintf("%s-%s", p.SourceKind, area.ID),
			Kind:      p.SourceKind,
			DatasetID: p.Dataset,
			Tier:      area.Tier,
			Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		SceneCount: p.Scenes,
		ImageData:  []byte("simulated-raster"),
		MediaType:  "image/png",
	}, nil
}
