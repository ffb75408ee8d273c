package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blockflow_nodes (
    id         TEXT PRIMARY KEY,
    canvas_id  TEXT NOT NULL,
    type       TEXT NOT NULL DEFAULT '',
    data       JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS blockflow_edges (
    id            TEXT PRIMARY KEY,
    canvas_id     TEXT NOT NULL,
    source        TEXT NOT NULL REFERENCES blockflow_nodes(id) ON DELETE CASCADE,
    source_handle TEXT NOT NULL,
    target        TEXT NOT NULL REFERENCES blockflow_nodes(id) ON DELETE CASCADE,
    target_handle TEXT NOT NULL,
    data          JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS blockflow_schedules (
    dashboard_id     TEXT NOT NULL,
    item_id          TEXT NOT NULL,
    cron             TEXT NOT NULL DEFAULT '',
    interval_seconds INTEGER NOT NULL DEFAULT 0,
    enabled          BOOLEAN NOT NULL DEFAULT FALSE,
    payload          JSONB NOT NULL DEFAULT '{}',
    next_run_at      TIMESTAMPTZ,
    last_run_at      TIMESTAMPTZ,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (dashboard_id, item_id)
);

CREATE TABLE IF NOT EXISTS blockflow_executions (
    id           TEXT PRIMARY KEY,
    dashboard_id TEXT NOT NULL,
    item_id      TEXT NOT NULL,
    status       TEXT NOT NULL,
    triggered_by TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ,
    error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_blockflow_nodes_canvas  ON blockflow_nodes(canvas_id);
CREATE INDEX IF NOT EXISTS idx_blockflow_edges_canvas  ON blockflow_edges(canvas_id);
CREATE INDEX IF NOT EXISTS idx_blockflow_edges_source  ON blockflow_edges(source);
CREATE INDEX IF NOT EXISTS idx_blockflow_edges_target  ON blockflow_edges(target);
CREATE INDEX IF NOT EXISTS idx_blockflow_schedules_due ON blockflow_schedules(next_run_at) WHERE enabled;
CREATE INDEX IF NOT EXISTS idx_blockflow_executions_item
    ON blockflow_executions(dashboard_id, item_id, started_at DESC);
`

// CreateSchema creates the canvas and schedule tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops every blockflow table.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`DROP TABLE IF EXISTS blockflow_executions, blockflow_schedules, blockflow_edges, blockflow_nodes CASCADE;`)
	return err
}
