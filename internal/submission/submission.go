// Package submission packages a validated run into the artifact set a
// reviewer needs: ranked discoveries with WKT footprints, the evidence
// catalog, the interpreter audit log, and the compliance report.
package submission

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/skookum/geocascade/internal/geo"
	"github.com/skookum/geocascade/internal/types"
)

// TopN is how many ranked discoveries lead the package.
const TopN = 5

// Entry is one ranked discovery in the package.
type Entry struct {
	Rank         int                     `json:"rank"`
	Discovery    *types.Discovery        `json:"discovery"`
	FootprintWKT string                  `json:"footprint_wkt"`
	Sources      []*types.EvidenceSource `json:"sources"`
}

// Package is the complete submission bundle for one run.
type Package struct {
	RunID       string                  `json:"run_id"`
	GeneratedAt time.Time               `json:"generated_at"`
	Top         []Entry                 `json:"top_discoveries"`
	Others      []Entry                 `json:"other_discoveries,omitempty"`
	Catalog     []*types.EvidenceSource `json:"evidence_catalog"`
	Compliance  *types.ComplianceReport `json:"compliance"`
	AuditCount  int                     `json:"interpreter_exchanges"`
}

// Builder assembles submission packages.
type Builder struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewBuilder returns a package builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger, now: time.Now}
}

// Build ranks the run's surviving discoveries and assembles the
// bundle. Ranking is confidence descending with id as the tiebreak, so
// the same run state always packages identically.
func (b *Builder) Build(rs *types.RunState, report *types.ComplianceReport) (*Package, error) {
	if report == nil {
		return nil, fmt.Errorf("a compliance report is required to build a submission")
	}

	survivors := rs.SurvivingDiscoveries()
	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].Confidence != survivors[j].Confidence {
			return survivors[i].Confidence > survivors[j].Confidence
		}
		return survivors[i].ID < survivors[j].ID
	})

	pkg := &Package{
		RunID:       rs.RunID,
		GeneratedAt: b.now(),
		Catalog:     sortedCatalog(rs.Sources),
		Compliance:  report,
		AuditCount:  len(rs.Prompts),
	}
	for i, d := range survivors {
		entry := Entry{
			Rank:         i + 1,
			Discovery:    d,
			FootprintWKT: footprint(d),
			Sources:      resolveSources(rs, d),
		}
		if i < TopN {
			pkg.Top = append(pkg.Top, entry)
		} else {
			pkg.Others = append(pkg.Others, entry)
		}
	}

	b.logger.Info("submission package built",
		"run_id", rs.RunID,
		"top", len(pkg.Top),
		"others", len(pkg.Others),
		"submittable", report.Submittable())
	return pkg, nil
}

// Write serializes the package under dir: package.json plus a
// footprints.wkt file with one polygon per ranked discovery.
func (b *Builder) Write(pkg *Package, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create submission directory: %w", err)
	}

	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal submission package: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write package.json: %w", err)
	}

	var wkt []byte
	for _, e := range append(append([]Entry(nil), pkg.Top...), pkg.Others...) {
		wkt = append(wkt, fmt.Sprintf("%s\t%s\n", e.Discovery.ID, e.FootprintWKT)...)
	}
	if err := os.WriteFile(filepath.Join(dir, "footprints.wkt"), wkt, 0644); err != nil {
		return fmt.Errorf("failed to write footprints.wkt: %w", err)
	}
	return nil
}

// footprint prefers the discovery's own polygon; a radius-derived box
// stands in when the interpreter gave only a point and size.
func footprint(d *types.Discovery) string {
	if len(d.Polygon) >= 4 {
		return geo.RingWKT(d.Polygon)
	}
	radius := d.RadiusM
	if radius <= 0 {
		radius = 100
	}
	return geo.FootprintWKT(d.Center, radius)
}

func resolveSources(rs *types.RunState, d *types.Discovery) []*types.EvidenceSource {
	var out []*types.EvidenceSource
	for _, id := range d.Evidence {
		if src, err := rs.SourceByID(id); err == nil {
			out = append(out, src)
		}
	}
	return out
}

func sortedCatalog(sources []*types.EvidenceSource) []*types.EvidenceSource {
	out := append([]*types.EvidenceSource(nil), sources...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
