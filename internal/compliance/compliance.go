// Package compliance validates a finished run against the submission
// rules: evidence diversity, a minimum confirmed-discovery count,
// dataset attribution, a complete interpreter audit trail,
// reproducibility, and at least one leverage pass.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/skookum/geocascade/internal/types"
)

// DefaultMinDiscoveries is the confirmed-discovery floor. The source
// material wavers between 4 and 5; we hold the stricter line.
const DefaultMinDiscoveries = 5

// DefaultToleranceM is the coordinate drift allowed between a run and
// its replay.
const DefaultToleranceM = 50.0

// Replayer re-analyzes a sample of completed areas and reports the
// worst coordinate drift against the recorded discoveries.
type Replayer interface {
	Replay(ctx context.Context, rs *types.RunState) (maxDriftM float64, sampled int, err error)
}

// Validator runs the fixed ordered rule set. Each Validate call builds
// a fresh report; nothing is cached between calls.
type Validator struct {
	MinDiscoveries int
	ToleranceM     float64
	Replayer       Replayer // optional; reproducibility fails with guidance when absent

	logger *slog.Logger
	now    func() time.Time
}

// New returns a validator with the default thresholds.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		MinDiscoveries: DefaultMinDiscoveries,
		ToleranceM:     DefaultToleranceM,
		logger:         logger,
		now:            time.Now,
	}
}

// Validate evaluates every rule against the run state. Overall is PASS
// iff all critical checks pass; advisory failures are reported but do
// not block submission.
func (v *Validator) Validate(ctx context.Context, rs *types.RunState) *types.ComplianceReport {
	report := &types.ComplianceReport{
		GeneratedAt: v.now(),
		Overall:     types.CheckPass,
	}

	checks := []types.ComplianceCheck{
		v.checkSourceDiversity(rs),
		v.checkMinimumDiscoveries(rs),
		v.checkDatasetIdentifiers(rs),
		v.checkPromptAuditTrail(rs),
		v.checkReproducibility(ctx, rs),
		v.checkLeverage(rs),
	}
	for _, c := range checks {
		report.Checks = append(report.Checks, c)
		if c.Critical && c.Status == types.CheckFail {
			report.Overall = types.CheckFail
		}
	}

	v.logger.Info("compliance validation complete",
		"run_id", rs.RunID, "overall", report.Overall)
	return report
}

func (v *Validator) checkSourceDiversity(rs *types.RunState) types.ComplianceCheck {
	check := types.ComplianceCheck{Name: "evidence-source-diversity", Critical: true, Status: types.CheckPass}

	kinds := map[string]struct{}{}
	for _, s := range rs.Sources {
		kinds[s.Kind] = struct{}{}
	}
	if len(kinds) < 2 {
		names := make([]string, 0, len(kinds))
		for k := range kinds {
			names = append(names, k)
		}
		sort.Strings(names)
		check.Status = types.CheckFail
		check.Reason = fmt.Sprintf("only %d evidence source kind(s) used (%s); at least 2 independent kinds are required, e.g. optical plus radar",
			len(kinds), strings.Join(names, ", "))
	}
	return check
}

func (v *Validator) checkMinimumDiscoveries(rs *types.RunState) types.ComplianceCheck {
	check := types.ComplianceCheck{Name: "minimum-discoveries", Critical: true, Status: types.CheckPass}

	valid := 0
	seen := map[string]struct{}{}
	for _, d := range rs.SurvivingDiscoveries() {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		if d.Center.Validate() != nil {
			continue
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			continue
		}
		valid++
	}
	if valid < v.MinDiscoveries {
		check.Status = types.CheckFail
		check.Reason = fmt.Sprintf("%d valid confirmed discoveries < required %d; continue the cascade or add regions",
			valid, v.MinDiscoveries)
	}
	return check
}

func (v *Validator) checkDatasetIdentifiers(rs *types.RunState) types.ComplianceCheck {
	check := types.ComplianceCheck{Name: "dataset-identifiers", Critical: true, Status: types.CheckPass}

	var missing []string
	for _, s := range rs.Sources {
		if strings.TrimSpace(s.DatasetID) == "" {
			missing = append(missing, s.ID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		check.Status = types.CheckFail
		check.Reason = fmt.Sprintf("%d evidence source(s) lack a dataset identifier: %s; every source must name its catalog dataset",
			len(missing), strings.Join(missing, ", "))
	}
	return check
}

// checkPromptAuditTrail verifies that every retained exchange is
// complete and that every discovery's provenance resolves to one.
// Simulated discoveries involve no interpreter call and are exempt
// from the provenance lookup.
func (v *Validator) checkPromptAuditTrail(rs *types.RunState) types.ComplianceCheck {
	check := types.ComplianceCheck{Name: "prompt-audit-trail", Critical: true, Status: types.CheckPass}

	recorded := map[string]struct{}{}
	for i, p := range rs.Prompts {
		if p.Prompt == "" || p.Response == "" {
			check.Status = types.CheckFail
			check.Reason = fmt.Sprintf("prompt record %d (%s) is incomplete; both prompt and response must be retained for every interpreter call", i, p.ID)
			return check
		}
		recorded[p.ID] = struct{}{}
	}

	var orphaned []string
	for _, d := range rs.AllDiscoveries() {
		if d.Features["extraction_method"] == "simulated" {
			continue
		}
		if _, ok := recorded[d.Provenance.PromptID]; !ok {
			orphaned = append(orphaned, d.ID)
		}
	}
	if len(orphaned) > 0 {
		sort.Strings(orphaned)
		check.Status = types.CheckFail
		check.Reason = fmt.Sprintf("%d discovery(ies) reference interpreter exchanges with no retained record: %s",
			len(orphaned), strings.Join(orphaned, ", "))
	}
	return check
}

func (v *Validator) checkReproducibility(ctx context.Context, rs *types.RunState) types.ComplianceCheck {
	check := types.ComplianceCheck{Name: "reproducibility", Critical: false, Status: types.CheckPass}

	if v.Replayer == nil {
		check.Status = types.CheckFail
		check.Reason = "no replay verification performed; rerun a completed area and confirm coordinates agree within the tolerance"
		return check
	}
	driftM, sampled, err := v.Replayer.Replay(ctx, rs)
	switch {
	case err != nil:
		check.Status = types.CheckFail
		check.Reason = fmt.Sprintf("replay verification failed: %v", err)
	case sampled == 0:
		check.Status = types.CheckFail
		check.Reason = "replay verification sampled no areas; the run produced nothing to verify against"
	case driftM > v.ToleranceM:
		check.Status = types.CheckFail
		check.Reason = fmt.Sprintf("replayed coordinates drifted %.1f m from the original, beyond the %.0f m tolerance", driftM, v.ToleranceM)
	}
	return check
}

func (v *Validator) checkLeverage(rs *types.RunState) types.ComplianceCheck {
	check := types.ComplianceCheck{Name: "leverage-analysis", Critical: false, Status: types.CheckPass}
	if rs.LeveragePasses == 0 {
		check.Status = types.CheckFail
		check.Reason = "no leverage pass completed; run the cascade to the leverage stage at least once"
	}
	return check
}
