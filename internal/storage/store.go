// Package storage persists cascade run state in SQLite. Results are
// append-only: stage artifacts, sources, prompts and warnings are
// inserted and never rewritten, so a cancelled run leaves a clean
// prefix a resumed run can build on.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/skookum/geocascade/internal/types"
)

// Store is the SQLite-backed run-state store.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path with WAL mode.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewInMemory opens a throwaway store for tests.
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// A single connection keeps the in-memory database alive across
	// statements.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun registers a new run and its regions. Calling it again for
// an existing run is a no-op, which is what resume relies on.
func (s *Store) CreateRun(ctx context.Context, runID string, startedAt time.Time, regions []*types.Region) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (run_id, started_at) VALUES (?, ?)`,
		runID, startedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	for _, r := range regions {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO regions (run_id, region_id, name, center_lat, center_lon, priority)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, r.ID, r.Name, r.Center.Lat, r.Center.Lon, r.Priority); err != nil {
			return fmt.Errorf("failed to insert region %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// CompleteRun stamps the run's completion time.
func (s *Store) CompleteRun(ctx context.Context, runID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runs SET completed_at = ? WHERE run_id = ?`, at.UTC(), runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// SaveStageArtifact persists one completed stage for a region: the
// region's full accumulated areas and discoveries at that point. A
// second write for the same (run, region, stage) fails, preserving the
// append-only guarantee.
func (s *Store) SaveStageArtifact(ctx context.Context, runID, regionID string, stage types.Stage, areas []*types.Area, discoveries []*types.Discovery) error {
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return fmt.Errorf("failed to marshal areas: %w", err)
	}
	discJSON, err := json.Marshal(discoveries)
	if err != nil {
		return fmt.Errorf("failed to marshal discoveries: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_artifacts (run_id, region_id, stage, areas_json, discoveries_json, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, regionID, string(stage), string(areasJSON), string(discJSON), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save %s artifact for region %s: %w", stage, regionID, err)
	}
	return nil
}

// HasStageArtifact reports whether a persisted artifact exists for the
// stage. Resume decisions go through this, never a cached flag.
func (s *Store) HasStageArtifact(ctx context.Context, runID, regionID string, stage types.Stage) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stage_artifacts WHERE run_id = ? AND region_id = ? AND stage = ?`,
		runID, regionID, string(stage)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check %s artifact: %w", stage, err)
	}
	return n > 0, nil
}

// RecordSource registers an evidence source used by the run. Refetching
// the same source is idempotent.
func (s *Store) RecordSource(ctx context.Context, runID string, src types.EvidenceSource) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sources (run_id, source_id, kind, dataset_id, tier, acquired_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, src.ID, src.Kind, src.DatasetID, string(src.Tier), src.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to record source %s: %w", src.ID, err)
	}
	return nil
}

// RecordWarning appends a warning to the run's log.
func (s *Store) RecordWarning(ctx context.Context, runID string, w types.Warning) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO warnings (run_id, region_id, area_id, stage, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, w.RegionID, w.AreaID, w.Stage, w.Message, w.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to record warning: %w", err)
	}
	return nil
}

// RunRecorder satisfies the interpreter Recorder contract for one run.
type RunRecorder struct {
	store *Store
	runID string
}

// Recorder binds the store to a run id for audit-trail writes.
func (s *Store) Recorder(runID string) *RunRecorder {
	return &RunRecorder{store: s, runID: runID}
}

// RecordExchange retains one interpreter exchange and returns its id.
func (r *RunRecorder) RecordExchange(ctx context.Context, regionID, areaID, stage, prompt, response string) (string, error) {
	id := uuid.New().String()
	if _, err := r.store.db.ExecContext(ctx,
		`INSERT INTO prompts (id, run_id, region_id, area_id, stage, prompt, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.runID, regionID, areaID, stage, prompt, response, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to record interpreter exchange: %w", err)
	}
	return id, nil
}

// LoadRun reconstructs a run's full state from persisted artifacts.
// Each region's areas/discoveries come from its newest completed
// stage's snapshot; completed stages are derived from artifact rows.
func (s *Store) LoadRun(ctx context.Context, runID string) (*types.RunState, error) {
	rs := types.NewRunState(runID)

	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at, completed_at FROM runs WHERE run_id = ?`, runID).
		Scan(&rs.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if completedAt.Valid {
		rs.CompletedAt = completedAt.Time
	}

	if err := s.loadRegions(ctx, rs); err != nil {
		return nil, err
	}
	if err := s.loadArtifacts(ctx, rs); err != nil {
		return nil, err
	}
	if err := s.loadSources(ctx, rs); err != nil {
		return nil, err
	}
	if err := s.loadPrompts(ctx, rs); err != nil {
		return nil, err
	}
	if err := s.loadWarnings(ctx, rs); err != nil {
		return nil, err
	}
	if err := s.loadComplianceReport(ctx, rs); err != nil {
		return nil, err
	}

	for _, region := range rs.Regions {
		if region.StageDone(types.StageLeverage) {
			rs.LeveragePasses++
			region.LeveragePassed = true
		}
	}
	return rs, nil
}

func (s *Store) loadRegions(ctx context.Context, rs *types.RunState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region_id, name, center_lat, center_lon, priority FROM regions WHERE run_id = ? ORDER BY region_id`,
		rs.RunID)
	if err != nil {
		return fmt.Errorf("failed to load regions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r types.Region
		if err := rows.Scan(&r.ID, &r.Name, &r.Center.Lat, &r.Center.Lon, &r.Priority); err != nil {
			return fmt.Errorf("failed to scan region: %w", err)
		}
		rs.Regions[r.ID] = &types.RegionState{Region: r}
	}
	return rows.Err()
}

func (s *Store) loadArtifacts(ctx context.Context, rs *types.RunState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region_id, stage, areas_json, discoveries_json FROM stage_artifacts WHERE run_id = ?`,
		rs.RunID)
	if err != nil {
		return fmt.Errorf("failed to load stage artifacts: %w", err)
	}
	defer rows.Close()

	type artifact struct {
		areasJSON, discJSON string
	}
	byRegion := map[string]map[types.Stage]artifact{}
	for rows.Next() {
		var regionID, stage, areasJSON, discJSON string
		if err := rows.Scan(&regionID, &stage, &areasJSON, &discJSON); err != nil {
			return fmt.Errorf("failed to scan stage artifact: %w", err)
		}
		if byRegion[regionID] == nil {
			byRegion[regionID] = map[types.Stage]artifact{}
		}
		byRegion[regionID][types.Stage(stage)] = artifact{areasJSON, discJSON}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for regionID, stages := range byRegion {
		region := rs.Regions[regionID]
		if region == nil {
			region = &types.RegionState{Region: types.Region{ID: regionID}}
			rs.Regions[regionID] = region
		}
		// Walk stages in execution order so the snapshot of the newest
		// completed stage wins. Each snapshot decodes into fresh slices;
		// unmarshaling into the previous stage's slice would merge old
		// records into new ones element-by-element, smearing omitempty
		// fields like merged_into across unrelated discoveries.
		for _, stage := range types.StageOrder {
			art, ok := stages[stage]
			if !ok {
				continue
			}
			region.CompletedStages = append(region.CompletedStages, stage)
			var areas []*types.Area
			if err := json.Unmarshal([]byte(art.areasJSON), &areas); err != nil {
				return fmt.Errorf("failed to decode %s areas for region %s: %w", stage, regionID, err)
			}
			var discoveries []*types.Discovery
			if err := json.Unmarshal([]byte(art.discJSON), &discoveries); err != nil {
				return fmt.Errorf("failed to decode %s discoveries for region %s: %w", stage, regionID, err)
			}
			region.Areas = areas
			region.Discoveries = discoveries
		}
	}
	return nil
}

func (s *Store) loadSources(ctx context.Context, rs *types.RunState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, kind, dataset_id, tier, acquired_at FROM sources WHERE run_id = ? ORDER BY source_id`,
		rs.RunID)
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var src types.EvidenceSource
		var tier string
		var acquired sql.NullTime
		if err := rows.Scan(&src.ID, &src.Kind, &src.DatasetID, &tier, &acquired); err != nil {
			return fmt.Errorf("failed to scan source: %w", err)
		}
		src.Tier = types.Tier(tier)
		if acquired.Valid {
			src.Timestamp = acquired.Time
		}
		rs.Sources = append(rs.Sources, &src)
	}
	return rows.Err()
}

func (s *Store) loadPrompts(ctx context.Context, rs *types.RunState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region_id, area_id, stage, prompt, response, created_at FROM prompts WHERE run_id = ? ORDER BY created_at, id`,
		rs.RunID)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p types.PromptRecord
		if err := rows.Scan(&p.ID, &p.RegionID, &p.AreaID, &p.Stage, &p.Prompt, &p.Response, &p.Timestamp); err != nil {
			return fmt.Errorf("failed to scan prompt record: %w", err)
		}
		rs.Prompts = append(rs.Prompts, &p)
	}
	return rows.Err()
}

func (s *Store) loadWarnings(ctx context.Context, rs *types.RunState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region_id, area_id, stage, message, created_at FROM warnings WHERE run_id = ? ORDER BY id`,
		rs.RunID)
	if err != nil {
		return fmt.Errorf("failed to load warnings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w types.Warning
		if err := rows.Scan(&w.RegionID, &w.AreaID, &w.Stage, &w.Message, &w.Timestamp); err != nil {
			return fmt.Errorf("failed to scan warning: %w", err)
		}
		rs.Warnings = append(rs.Warnings, w)
	}
	return rows.Err()
}

// SaveComplianceReport stores the latest validation report for the
// run, replacing any previous one. Unlike stage artifacts, reports are
// derived state and safe to overwrite.
func (s *Store) SaveComplianceReport(ctx context.Context, runID string, report *types.ComplianceReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal compliance report: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_reports (run_id, report_json, generated_at) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET report_json = excluded.report_json, generated_at = excluded.generated_at`,
		runID, string(data), report.GeneratedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save compliance report: %w", err)
	}
	return nil
}

func (s *Store) loadComplianceReport(ctx context.Context, rs *types.RunState) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT report_json FROM compliance_reports WHERE run_id = ?`, rs.RunID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load compliance report: %w", err)
	}
	var report types.ComplianceReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return fmt.Errorf("failed to decode compliance report: %w", err)
	}
	rs.Compliance = &report
	return nil
}

// PruneStaleRuns deletes runs that never completed and started more
// than olderThan ago, along with all their rows. Returns the number of
// runs removed.
func (s *Store) PruneStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM runs WHERE completed_at IS NULL AND started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale runs: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan run id: %w", err)
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range stale {
		for _, table := range []string{"warnings", "prompts", "sources", "stage_artifacts", "compliance_reports", "regions", "runs"} {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, table), id); err != nil {
				return 0, fmt.Errorf("failed to prune run %s: %w", id, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// ListRuns returns run ids newest first.
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
