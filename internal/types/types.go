// Package types defines the core data model shared by the cascade
// pipeline: regions, analysis areas, discoveries, and evidence sources.
package types

import (
	"fmt"
	"time"
)

// Tier identifies one of the three fixed analysis scales.
type Tier string

const (
	// TierRegional is the coarse 50km network-detection scale.
	TierRegional Tier = "regional"
	// TierZone is the medium 10km site-detection scale.
	TierZone Tier = "zone"
	// TierSite is the fine 2km confirmation scale.
	TierSite Tier = "site"
)

// IsValid checks if the tier value is valid
func (t Tier) IsValid() bool {
	switch t {
	case TierRegional, TierZone, TierSite:
		return true
	}
	return false
}

// Next returns the tier one level finer, or "" when t is the finest tier.
func (t Tier) Next() Tier {
	switch t {
	case TierRegional:
		return TierZone
	case TierZone:
		return TierSite
	}
	return ""
}

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the coordinate is within WGS84 bounds.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90 (got %f)", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude must be between -180 and 180 (got %f)", c.Lon)
	}
	return nil
}

// BoundingBox is an axis-aligned geographic rectangle.
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Coordinate {
	return Coordinate{
		Lat: (b.South + b.North) / 2,
		Lon: (b.West + b.East) / 2,
	}
}

// Contains reports whether the coordinate lies inside the box.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Lat >= b.South && c.Lat <= b.North &&
		c.Lon >= b.West && c.Lon <= b.East
}

// Validate checks box ordering and coordinate bounds.
func (b BoundingBox) Validate() error {
	if b.West >= b.East {
		return fmt.Errorf("west (%f) must be less than east (%f)", b.West, b.East)
	}
	if b.South >= b.North {
		return fmt.Errorf("south (%f) must be less than north (%f)", b.South, b.North)
	}
	if err := (Coordinate{Lat: b.South, Lon: b.West}).Validate(); err != nil {
		return fmt.Errorf("southwest corner: %w", err)
	}
	if err := (Coordinate{Lat: b.North, Lon: b.East}).Validate(); err != nil {
		return fmt.Errorf("northeast corner: %w", err)
	}
	return nil
}

// Region is a static search region configured before a run.
// Regions are immutable while the cascade is running.
type Region struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Center   Coordinate `json:"center"`
	Priority string     `json:"priority"` // "high", "medium", "low"
	Country  string     `json:"country,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

// Validate checks if the region has valid field values
func (r *Region) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("region id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("region name is required")
	}
	if err := r.Center.Validate(); err != nil {
		return fmt.Errorf("region center: %w", err)
	}
	switch r.Priority {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("priority must be high, medium, or low (got %q)", r.Priority)
	}
	return nil
}

// Area is one analysis window at a fixed tier. Areas are created per
// Region at the regional tier, and derived from promoted discoveries at
// the zone and site tiers. ParentID is a back-reference only; the tier
// stage that created the area owns it.
type Area struct {
	ID          string      `json:"id"`
	RegionID    string      `json:"region_id"`
	Tier        Tier        `json:"tier"`
	ParentID    string      `json:"parent_id,omitempty"`
	Bounds      BoundingBox `json:"bounds"`
	Center      Coordinate  `json:"center"`
	ResolutionM float64     `json:"resolution_m"` // meters per pixel at this tier
	CreatedAt   time.Time   `json:"created_at"`
}

// Validate checks if the area has valid field values
func (a *Area) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("area id is required")
	}
	if a.RegionID == "" {
		return fmt.Errorf("area region_id is required")
	}
	if !a.Tier.IsValid() {
		return fmt.Errorf("invalid tier: %s", a.Tier)
	}
	if err := a.Bounds.Validate(); err != nil {
		return fmt.Errorf("area bounds: %w", err)
	}
	if a.ResolutionM <= 0 {
		return fmt.Errorf("resolution must be positive (got %f)", a.ResolutionM)
	}
	return nil
}

// EvidenceSource records one raster data origin backing a discovery.
// Immutable once created.
type EvidenceSource struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`       // "optical", "radar", "basemap"
	DatasetID string    `json:"dataset_id"` // e.g. "COPERNICUS/S2_SR_HARMONIZED"
	Tier      Tier      `json:"tier"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks if the evidence source has valid field values
func (e *EvidenceSource) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("evidence source id is required")
	}
	if e.Kind == "" {
		return fmt.Errorf("evidence source kind is required")
	}
	if e.DatasetID == "" {
		return fmt.Errorf("evidence source dataset_id is required")
	}
	if !e.Tier.IsValid() {
		return fmt.Errorf("invalid tier: %s", e.Tier)
	}
	return nil
}

// Provenance links a discovery back to the interpreter exchange that
// produced it.
type Provenance struct {
	PromptID   string `json:"prompt_id"`
	ResponseID string `json:"response_id"`
}

// Discovery is a candidate detected feature. Discoveries are created by
// tier analyzers, mutated only by fusion (merge) and leverage
// (confidence refinement), and never deleted: a superseded discovery is
// marked with MergedInto pointing at the survivor.
type Discovery struct {
	ID         string             `json:"id"`
	Tier       Tier               `json:"tier"`
	AreaID     string             `json:"area_id"`
	Center     Coordinate         `json:"center"`
	Confidence float64            `json:"confidence"`
	Kinds      []string           `json:"kinds"` // open vocabulary, e.g. "geometric-earthwork"
	RadiusM    float64            `json:"radius_m,omitempty"`
	Polygon    []Coordinate       `json:"polygon,omitempty"` // closed ring when present
	Features   map[string]string  `json:"features,omitempty"`
	Evidence   []string           `json:"evidence"` // EvidenceSource ids
	Provenance Provenance         `json:"provenance"`
	MergedInto string             `json:"merged_into,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Validate checks the discovery invariants: confidence bounds, a valid
// closed polygon when one is present, exactly one area reference, and
// at least one evidence source.
func (d *Discovery) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("discovery id is required")
	}
	if !d.Tier.IsValid() {
		return fmt.Errorf("invalid tier: %s", d.Tier)
	}
	if d.AreaID == "" {
		return fmt.Errorf("discovery must reference exactly one area")
	}
	if err := d.Center.Validate(); err != nil {
		return fmt.Errorf("discovery center: %w", err)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %f)", d.Confidence)
	}
	if len(d.Evidence) == 0 {
		return fmt.Errorf("discovery requires at least one evidence source")
	}
	if len(d.Polygon) > 0 {
		if err := validateRing(d.Polygon); err != nil {
			return fmt.Errorf("discovery polygon: %w", err)
		}
	}
	if d.RadiusM < 0 {
		return fmt.Errorf("radius cannot be negative (got %f)", d.RadiusM)
	}
	return nil
}

// Merged reports whether this discovery has been superseded by fusion.
func (d *Discovery) Merged() bool {
	return d.MergedInto != ""
}

// validateRing checks that a polygon ring is closed, has enough
// vertices, and does not self-intersect.
func validateRing(ring []Coordinate) error {
	if len(ring) < 4 {
		return fmt.Errorf("ring needs at least 4 points including closure (got %d)", len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		return fmt.Errorf("ring must be closed (first and last points differ)")
	}
	for _, c := range ring {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	// Check every non-adjacent edge pair for intersection.
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			// Skip the pair sharing the closure vertex.
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return fmt.Errorf("ring self-intersects between edges %d and %d", i, j)
			}
		}
	}
	return nil
}

// segmentsIntersect reports proper intersection of segments ab and cd.
func segmentsIntersect(a, b, c, d Coordinate) bool {
	o1 := orientation(a, b, c)
	o2 := orientation(a, b, d)
	o3 := orientation(c, d, a)
	o4 := orientation(c, d, b)
	return o1 != o2 && o3 != o4 && o1 != 0 && o2 != 0 && o3 != 0 && o4 != 0
}

func orientation(p, q, r Coordinate) int {
	v := (q.Lon-p.Lon)*(r.Lat-q.Lat) - (q.Lat-p.Lat)*(r.Lon-q.Lon)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
