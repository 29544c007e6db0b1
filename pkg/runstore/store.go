// Package runstore persists run results and suite analyses to PostgreSQL so
// experiment history survives across analyzer invocations.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"changelens/pkg/analysis"
)

type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without migrating, for tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_key TEXT PRIMARY KEY,
			run_id TEXT,
			scenario TEXT NOT NULL,
			rollback_triggered BOOLEAN NOT NULL,
			trigger_time DOUBLE PRECISION,
			trigger_reason TEXT,
			ttd_seconds DOUBLE PRECISION,
			recovery_seconds DOUBLE PRECISION,
			recovery_lower_bound BOOLEAN NOT NULL DEFAULT FALSE,
			traffic_to_v2_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			affected_users_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			requests_exposed INTEGER NOT NULL DEFAULT 0,
			mean_p99_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			mean_error_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario)`,
		`CREATE TABLE IF NOT EXISTS suite_analyses (
			id BIGSERIAL PRIMARY KEY,
			seed BIGINT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate runstore: %w", err)
		}
	}
	return nil
}

// SaveRun upserts one run's results, keyed by run id when present and the
// run directory otherwise.
func (s *Store) SaveRun(ctx context.Context, rs analysis.RunSummary) error {
	key := rs.RunID
	if key == "" {
		key = rs.RunDir
	}
	if key == "" {
		return fmt.Errorf("run has neither id nor directory")
	}

	var triggerReason sql.NullString
	if rs.Event.TriggerReason != "" {
		triggerReason = sql.NullString{String: rs.Event.TriggerReason, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_key, run_id, scenario, rollback_triggered, trigger_time,
			trigger_reason, ttd_seconds, recovery_seconds, recovery_lower_bound,
			traffic_to_v2_pct, affected_users_pct, requests_exposed,
			mean_p99_ms, mean_error_rate, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())
		ON CONFLICT (run_key) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			scenario = EXCLUDED.scenario,
			rollback_triggered = EXCLUDED.rollback_triggered,
			trigger_time = EXCLUDED.trigger_time,
			trigger_reason = EXCLUDED.trigger_reason,
			ttd_seconds = EXCLUDED.ttd_seconds,
			recovery_seconds = EXCLUDED.recovery_seconds,
			recovery_lower_bound = EXCLUDED.recovery_lower_bound,
			traffic_to_v2_pct = EXCLUDED.traffic_to_v2_pct,
			affected_users_pct = EXCLUDED.affected_users_pct,
			requests_exposed = EXCLUDED.requests_exposed,
			mean_p99_ms = EXCLUDED.mean_p99_ms,
			mean_error_rate = EXCLUDED.mean_error_rate,
			updated_at = NOW()`,
		key, rs.RunID, rs.Scenario, rs.Event.Triggered,
		nullableFloat(rs.Event.TriggerTime), triggerReason,
		nullableFloat(rs.Derived.TTDSeconds), nullableFloat(rs.Derived.RecoverySeconds),
		rs.Derived.RecoveryLowerBound,
		rs.Derived.Impact.TrafficToV2Pct, rs.Derived.Impact.AffectedUsersPct,
		rs.Derived.Impact.RequestsExposed,
		rs.MeanP99(), rs.MeanErrorRate(),
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", key, err)
	}
	return nil
}

// SaveAnalysis appends a suite analysis snapshot as JSONB.
func (s *Store) SaveAnalysis(ctx context.Context, sa analysis.SuiteAnalysis) error {
	payload, err := json.Marshal(sa)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suite_analyses (seed, generated_at, payload)
		VALUES ($1, $2, $3)`,
		sa.Seed, sa.GeneratedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// RunRecord is one persisted run row.
type RunRecord struct {
	RunKey             string
	RunID              string
	Scenario           string
	RollbackTriggered  bool
	TriggerTime        *float64
	TriggerReason      string
	TTDSeconds         *float64
	RecoverySeconds    *float64
	RecoveryLowerBound bool
	TrafficToV2Pct     float64
	AffectedUsersPct   float64
	RequestsExposed    int
	MeanP99Ms          float64
	MeanErrorRate      float64
	UpdatedAt          time.Time
}

// ListRuns returns persisted runs for a scenario, newest first.
func (s *Store) ListRuns(ctx context.Context, scenario string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_key, COALESCE(run_id, ''), scenario, rollback_triggered,
			trigger_time, COALESCE(trigger_reason, ''), ttd_seconds,
			recovery_seconds, recovery_lower_bound, traffic_to_v2_pct,
			affected_users_pct, requests_exposed, mean_p99_ms,
			mean_error_rate, updated_at
		FROM runs WHERE scenario = $1
		ORDER BY updated_at DESC LIMIT $2`,
		scenario, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var triggerTime, ttd, recovery sql.NullFloat64
		if err := rows.Scan(
			&r.RunKey, &r.RunID, &r.Scenario, &r.RollbackTriggered,
			&triggerTime, &r.TriggerReason, &ttd,
			&recovery, &r.RecoveryLowerBound, &r.TrafficToV2Pct,
			&r.AffectedUsersPct, &r.RequestsExposed, &r.MeanP99Ms,
			&r.MeanErrorRate, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.TriggerTime = floatPtr(triggerTime)
		r.TTDSeconds = floatPtr(ttd)
		r.RecoverySeconds = floatPtr(recovery)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullableFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
