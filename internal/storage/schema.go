package storage

const schema = `
-- Runs table
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    completed_at DATETIME
);

-- Region catalog rows, written when a region enters a run
CREATE TABLE IF NOT EXISTS regions (
    run_id TEXT NOT NULL,
    region_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    center_lat REAL NOT NULL,
    center_lon REAL NOT NULL,
    priority TEXT NOT NULL DEFAULT 'medium',
    PRIMARY KEY (run_id, region_id),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

-- Stage artifacts: one row per completed stage per region, written
-- exactly once when the stage finishes. Resume reads these, never a
-- status flag. Payloads are full snapshots so the newest artifact for
-- a region carries its complete accumulated state.
CREATE TABLE IF NOT EXISTS stage_artifacts (
    run_id TEXT NOT NULL,
    region_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    areas_json TEXT NOT NULL,
    discoveries_json TEXT NOT NULL,
    completed_at DATETIME NOT NULL,
    PRIMARY KEY (run_id, region_id, stage),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_stage_artifacts_run ON stage_artifacts(run_id);

-- Evidence sources used by a run
CREATE TABLE IF NOT EXISTS sources (
    run_id TEXT NOT NULL,
    source_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    dataset_id TEXT NOT NULL DEFAULT '',
    tier TEXT NOT NULL DEFAULT '',
    acquired_at DATETIME,
    PRIMARY KEY (run_id, source_id),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

-- Interpreter audit trail: one row per invocation, failures included
CREATE TABLE IF NOT EXISTS prompts (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    region_id TEXT NOT NULL DEFAULT '',
    area_id TEXT NOT NULL DEFAULT '',
    stage TEXT NOT NULL DEFAULT '',
    prompt TEXT NOT NULL,
    response TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_prompts_run ON prompts(run_id);
CREATE INDEX IF NOT EXISTS idx_prompts_area ON prompts(run_id, area_id);

-- Latest compliance report per run, replaced on each validation
CREATE TABLE IF NOT EXISTS compliance_reports (
    run_id TEXT PRIMARY KEY,
    report_json TEXT NOT NULL,
    generated_at DATETIME NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

-- Non-fatal problems recorded during a run
CREATE TABLE IF NOT EXISTS warnings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    region_id TEXT NOT NULL DEFAULT '',
    area_id TEXT NOT NULL DEFAULT '',
    stage TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_warnings_run ON warnings(run_id);
`
