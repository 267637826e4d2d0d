package types

// PatternSummary captures the statistics the leverage engine learns
// from confirmed discoveries. It feeds both the leverage instruction
// and the gap-filling area synthesis.
type PatternSummary struct {
	Count              int      `json:"count"`
	MeanRadiusM        float64  `json:"mean_radius_m"`
	MedianRadiusM      float64  `json:"median_radius_m"`
	TopKinds           []string `json:"top_kinds"`
	TypicalSpacingM    float64  `json:"typical_spacing_m"`
	OrientationBiasDeg float64  `json:"orientation_bias_deg"`
	HasOrientation     bool     `json:"has_orientation"`
}
