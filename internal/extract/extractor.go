package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skookum/geocascade/internal/types"
)

// Reply is the structured envelope the interpreter is instructed to
// return at every tier. Unknown candidate fields are carried through as
// opaque feature attributes, never interpreted by name.
type Reply struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one flagged feature in an interpreter reply. The
// coordinate pair tolerates the three encodings observed in practice:
// "lat, lon" strings, [lat, lon] arrays, and {"lat":..,"lon":..}
// objects.
type Candidate struct {
	Coordinates json.RawMessage `json:"coordinates"`
	Confidence  float64         `json:"confidence"`
	Kinds       []string        `json:"kinds"`
	RadiusM     float64         `json:"radius_m"`

	// Attributes holds every other key of the candidate object.
	Attributes map[string]string `json:"-"`
}

// knownCandidateKeys are decoded into typed fields; everything else
// lands in Attributes.
var knownCandidateKeys = map[string]bool{
	"coordinates": true,
	"confidence":  true,
	"kinds":       true,
	"radius_m":    true,
}

// UnmarshalJSON decodes typed fields and collects the remainder as
// stringified attributes.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	type plain Candidate
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Candidate(p)

	for key, raw := range fields {
		if knownCandidateKeys[key] {
			continue
		}
		if c.Attributes == nil {
			c.Attributes = make(map[string]string)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			c.Attributes[key] = s
		} else {
			c.Attributes[key] = string(raw)
		}
	}
	return nil
}

// Center resolves the candidate coordinate pair, accepting any of the
// tolerated encodings.
func (c *Candidate) Center() (types.Coordinate, error) {
	if len(c.Coordinates) == 0 {
		return types.Coordinate{}, fmt.Errorf("candidate has no coordinates")
	}

	var pair []float64
	if err := json.Unmarshal(c.Coordinates, &pair); err == nil && len(pair) == 2 {
		return types.Coordinate{Lat: pair[0], Lon: pair[1]}, nil
	}

	var obj types.Coordinate
	if err := json.Unmarshal(c.Coordinates, &obj); err == nil && (obj.Lat != 0 || obj.Lon != 0) {
		return obj, nil
	}

	var s string
	if err := json.Unmarshal(c.Coordinates, &s); err == nil {
		parts := strings.Split(s, ",")
		if len(parts) == 2 {
			lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if errLat == nil && errLon == nil {
				return types.Coordinate{Lat: lat, Lon: lon}, nil
			}
		}
	}

	return types.Coordinate{}, fmt.Errorf("unrecognized coordinate encoding: %s", preview(string(c.Coordinates), 60))
}

// Input identifies where a reply came from, for provenance.
type Input struct {
	Area       *types.Area
	SourceID   string // evidence source id backing the analyzed raster
	PromptID   string
	ResponseID string
}

// Extractor converts interpreter replies into Discovery records.
type Extractor struct {
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Extract parses one raw interpreter reply into zero or more
// discoveries. Structured replies produce one discovery per candidate;
// unparseable replies fall back to a keyword scan that produces at most
// one low-confidence discovery tagged extraction_method=fallback.
// Returned confidences are always clamped to [0, 1].
func (e *Extractor) Extract(in Input, raw string) []*types.Discovery {
	result := Parse[Reply](raw, fmt.Sprintf("area %s", in.Area.ID))
	if !result.OK {
		e.logger.Warn("structured extraction failed, using keyword fallback",
			"area_id", in.Area.ID, "tier", in.Area.Tier)
		return e.fallback(in, raw)
	}

	var out []*types.Discovery
	for i, cand := range result.Data.Candidates {
		center, err := cand.Center()
		if err != nil {
			e.logger.Warn("skipping candidate with bad coordinates",
				"area_id", in.Area.ID, "index", i, "error", err)
			continue
		}
		if err := center.Validate(); err != nil {
			e.logger.Warn("skipping candidate outside coordinate bounds",
				"area_id", in.Area.ID, "index", i, "error", err)
			continue
		}

		kinds := cand.Kinds
		if len(kinds) == 0 {
			kinds = []string{"unclassified-anomaly"}
		}

		features := cand.Attributes
		if features == nil {
			features = make(map[string]string)
		}
		features["extraction_method"] = "structured"

		out = append(out, &types.Discovery{
			ID:         e.newID(),
			Tier:       in.Area.Tier,
			AreaID:     in.Area.ID,
			Center:     center,
			Confidence: clamp01(cand.Confidence),
			Kinds:      kinds,
			RadiusM:    cand.RadiusM,
			Features:   features,
			Evidence:   []string{in.SourceID},
			Provenance: types.Provenance{PromptID: in.PromptID, ResponseID: in.ResponseID},
			CreatedAt:  e.now(),
		})
	}
	return out
}

// Feature vocabulary recognized by the keyword fallback.
var fallbackKeywords = map[string]string{
	"ring":       "concentric-ring",
	"moat":       "concentric-ring",
	"platform":   "raised-platform",
	"mound":      "raised-platform",
	"causeway":   "linear-feature",
	"linear":     "linear-feature",
	"geometric":  "geometric-earthwork",
	"earthwork":  "geometric-earthwork",
	"enclosure":  "geometric-earthwork",
	"rectangle":  "geometric-earthwork",
	"circular":   "geometric-earthwork",
}

var confidenceTokenRegex = regexp.MustCompile(`(?i)confidence[^0-9]{0,20}([0-9]+(?:\.[0-9]+)?)(?:\s*/\s*(10|100))?`)

// fallback scans free text for feature keywords and a numeric
// confidence token. It emits at most one discovery, centered on the
// area, with confidence capped at 0.5.
func (e *Extractor) fallback(in Input, raw string) []*types.Discovery {
	lower := strings.ToLower(raw)

	var kinds []string
	seen := make(map[string]bool)
	for keyword, kind := range fallbackKeywords {
		if strings.Contains(lower, keyword) && !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		return nil
	}

	confidence := 0.3
	if m := confidenceTokenRegex.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if m[2] != "" {
				denom, _ := strconv.ParseFloat(m[2], 64)
				v /= denom
			} else if v > 1 {
				v /= 10
			}
			confidence = v
		}
	}
	// Fallback extractions are never trusted above 0.5.
	confidence = clamp01(confidence)
	if confidence > 0.5 {
		confidence = 0.5
	}

	return []*types.Discovery{{
		ID:         e.newID(),
		Tier:       in.Area.Tier,
		AreaID:     in.Area.ID,
		Center:     in.Area.Center,
		Confidence: confidence,
		Kinds:      sortStrings(kinds),
		Features:   map[string]string{"extraction_method": "fallback"},
		Evidence:   []string{in.SourceID},
		Provenance: types.Provenance{PromptID: in.PromptID, ResponseID: in.ResponseID},
		CreatedAt:  e.now(),
	}}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sortStrings keeps fallback kind ordering deterministic regardless of
// map iteration order.
func sortStrings(s []string) []string {
	sort.Strings(s)
	return s
}
