package interpreter

import (
	"fmt"
	"strings"

	"github.com/skookum/geocascade/internal/types"
)

// replySchema is the structured output contract shared by every tier
// instruction. Candidates carry a coordinate pair, a confidence in
// [0,1], open-vocabulary kind tags, and any extra measurement detail as
// additional keys, which the extractor passes through untouched.
const replySchema = `Respond ONLY with valid JSON in this exact shape:
{
  "candidates": [
    {
      "coordinates": [latitude, longitude],
      "confidence": 0.0,
      "kinds": ["geometric-earthwork"],
      "radius_m": 0
    }
  ]
}
Add any extra measurements (ring counts, platform dimensions,
orientation) as additional keys on the candidate objects. Report a
confidence between 0.0 and 1.0 for every candidate. Return an empty
candidates array if nothing anomalous is visible. Do not include any
text before or after the JSON.`

// BuildTierPrompt constructs the tier-specific instruction for one
// analysis area. Each tier looks for a different thing: coarse network
// patterns at the regional scale, discrete geometric features at the
// zone scale, and precise confirmation with measurements at the site
// scale.
func BuildTierPrompt(area *types.Area, sourceKind string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are analyzing %s satellite imagery for anomalous ground features of likely artificial origin.\n\n", sourceKind)
	fmt.Fprintf(&b, "AREA CENTER: %.5f, %.5f\n", area.Center.Lat, area.Center.Lon)
	fmt.Fprintf(&b, "BOUNDS: %.5f to %.5f latitude, %.5f to %.5f longitude\n",
		area.Bounds.South, area.Bounds.North, area.Bounds.West, area.Bounds.East)
	fmt.Fprintf(&b, "RESOLUTION: approximately %.1f meters per pixel\n\n", area.ResolutionM)

	switch area.Tier {
	case types.TierRegional:
		b.WriteString(`ANALYSIS SCALE: Regional overview (~50km window).

Look for COARSE NETWORK PATTERNS rather than individual features:
- Clusters of disturbance suggesting multiple connected settlements
  within 5-10km of one another
- Straight linear features radiating between clusters (ancient
  causeways or roads, typically 10-30m wide and too straight to be
  natural drainage)
- Hierarchical arrangement: a large central anomaly with smaller
  anomalies nearby connected by linear features

Flag the centers of the most promising zones for finer analysis.
`)
	case types.TierZone:
		b.WriteString(`ANALYSIS SCALE: Zone level (~10km window).

Look for DISCRETE GEOMETRIC FEATURES:
- Concentric rings: dark circular ditches with brighter inner banks,
  200m-2km across
- Raised platforms: lighter rectangular or polygonal areas
- Shapes too regular to be natural: circles, squares, straight lines
- Linear features connecting candidate sites

Measure feature sizes using the stated resolution and report a
radius_m for every candidate.
`)
	case types.TierSite:
		b.WriteString(`ANALYSIS SCALE: Site level (~2km window, maximum detail).

This is PRECISE CONFIRMATION AND MEASUREMENT:
- Count exact numbers of concentric rings and report diameters
- Map raised platforms and mounds with dimensions
- Trace connecting causeways with width and direction
- Note modern disturbance (roads, clearing, agriculture)

Only confirm candidates whose geometry is clearly artificial; lower
your confidence for ambiguous or degraded features.
`)
	}

	b.WriteString("\n")
	b.WriteString(replySchema)
	return b.String()
}

// BuildLeveragePrompt constructs the pattern-extrapolation instruction.
// It states what has been learned from confirmed discoveries and asks
// for matching, previously-unflagged locations.
func BuildLeveragePrompt(region *types.Region, pattern types.PatternSummary) string {
	var b strings.Builder

	b.WriteString("DISCOVERY LEVERAGE ANALYSIS\n\n")
	fmt.Fprintf(&b, "We have confirmed %d anomalous features in the region around %.4f, %.4f with this learned profile:\n",
		pattern.Count, region.Center.Lat, region.Center.Lon)
	fmt.Fprintf(&b, "- Typical feature radius: %.0f m (median %.0f m)\n", pattern.MeanRadiusM, pattern.MedianRadiusM)
	if len(pattern.TopKinds) > 0 {
		fmt.Fprintf(&b, "- Most frequent kinds: %s\n", strings.Join(pattern.TopKinds, ", "))
	}
	if pattern.TypicalSpacingM > 0 {
		fmt.Fprintf(&b, "- Typical spacing between features: %.1f km\n", pattern.TypicalSpacingM/1000)
	}
	if pattern.HasOrientation {
		fmt.Fprintf(&b, "- Linear features trend around %.0f degrees from north\n", pattern.OrientationBiasDeg)
	}

	b.WriteString(`
Using this learned pattern, identify locations in the imagery that
match the profile but have NOT yet been flagged:
- Gaps in the spacing pattern where a matching feature would complete
  the network
- Unexplored endpoints of linear features
- Terrain settings similar to the confirmed features

`)
	b.WriteString(replySchema)
	return b.String()
}
