package types

import (
	"fmt"
	"time"
)

// Stage names for the per-region state machine. Stage completion is
// recorded in storage as an artifact; the in-memory flag on RegionState
// is only a cache hint and is always re-derived from persisted records
// on resume.
type Stage string

const (
	StageRegional Stage = "regional"
	StageZone     Stage = "zone"
	StageSite     Stage = "site"
	StageFusion   Stage = "fusion"
	StageLeverage Stage = "leverage"
	StageFinal    Stage = "final_fusion"
)

// IsValid checks if the stage value is valid
func (s Stage) IsValid() bool {
	switch s {
	case StageRegional, StageZone, StageSite, StageFusion, StageLeverage, StageFinal:
		return true
	}
	return false
}

// StageOrder lists the stages in execution order.
var StageOrder = []Stage{
	StageRegional, StageZone, StageSite, StageFusion, StageLeverage, StageFinal,
}

// PromptRecord is one retained interpreter exchange. Every interpreter
// invocation in a run must leave exactly one of these behind.
type PromptRecord struct {
	ID        string    `json:"id"`
	RegionID  string    `json:"region_id"`
	AreaID    string    `json:"area_id,omitempty"`
	Stage     string    `json:"stage"` // tier name or "leverage"
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Warning is a non-fatal problem recorded during a run.
type Warning struct {
	RegionID  string    `json:"region_id,omitempty"`
	AreaID    string    `json:"area_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RegionState is the accumulated per-region output of the cascade.
type RegionState struct {
	Region          Region       `json:"region"`
	CompletedStages []Stage      `json:"completed_stages"` // cache hint only
	Areas           []*Area      `json:"areas"`
	Discoveries     []*Discovery `json:"discoveries"`
	LeveragePassed  bool         `json:"leverage_passed"`
}

// StageDone reports whether the stage appears in the completed list.
// This is a cache hint; resume logic must confirm against persisted
// artifacts before skipping work.
func (rs *RegionState) StageDone(stage Stage) bool {
	for _, s := range rs.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// RunState is the full accumulated state of a cascade run. It is the
// sole input to compliance validation and submission packaging.
type RunState struct {
	RunID          string                  `json:"run_id"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    time.Time               `json:"completed_at,omitempty"`
	Regions        map[string]*RegionState `json:"regions"`
	Sources        []*EvidenceSource       `json:"sources"`
	Prompts        []*PromptRecord         `json:"prompts"`
	Warnings       []Warning               `json:"warnings"`
	LeveragePasses int                     `json:"leverage_passes"`

	// Compliance holds the latest persisted validation report, if any.
	Compliance *ComplianceReport `json:"compliance,omitempty"`
}

// NewRunState creates an empty run state.
func NewRunState(runID string) *RunState {
	return &RunState{
		RunID:   runID,
		Regions: make(map[string]*RegionState),
	}
}

// AllDiscoveries returns every discovery across regions, merged or not.
func (rs *RunState) AllDiscoveries() []*Discovery {
	var out []*Discovery
	for _, region := range rs.Regions {
		out = append(out, region.Discoveries...)
	}
	return out
}

// SurvivingDiscoveries returns discoveries that were not merged away.
func (rs *RunState) SurvivingDiscoveries() []*Discovery {
	var out []*Discovery
	for _, d := range rs.AllDiscoveries() {
		if !d.Merged() {
			out = append(out, d)
		}
	}
	return out
}

// SourceByID looks up an evidence source by id.
func (rs *RunState) SourceByID(id string) (*EvidenceSource, error) {
	for _, s := range rs.Sources {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown evidence source: %s", id)
}

// CheckStatus is the outcome of one compliance check.
type CheckStatus string

const (
	CheckPass CheckStatus = "PASS"
	CheckFail CheckStatus = "FAIL"
)

// ComplianceCheck is one named rule evaluation in a compliance report.
type ComplianceCheck struct {
	Name     string      `json:"name"`
	Critical bool        `json:"critical"`
	Status   CheckStatus `json:"status"`
	Reason   string      `json:"reason,omitempty"` // set when Status is FAIL
}

// ComplianceReport is the ordered result of validating a run. A fresh
// report is generated on every validation call.
type ComplianceReport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Checks      []ComplianceCheck `json:"checks"`
	Overall     CheckStatus       `json:"overall"`
}

// Submittable reports whether every critical check passed.
func (r *ComplianceReport) Submittable() bool {
	return r.Overall == CheckPass
}
