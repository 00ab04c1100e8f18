// Package repository provides the SQL-backed tax-transaction graph store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnsupportedCycleLength = errors.New("unsupported cycle length")
)

// SQLRepository implements domain.GraphStore, domain.GraphWriter and
// domain.HistoryStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// openers maps a configured driver name to its connection setup.
var openers = map[string]func(domain.RepositoryConfig) (*sql.DB, error){
	"sqlite":   openSQLite,
	"postgres": openPostgres,
}

// New opens the graph store named by cfg.Driver and brings its schema up to
// date. Pool limits left at zero keep the database/sql defaults.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	if n := cfg.MaxOpenConns; n > 0 {
		db.SetMaxOpenConns(n)
	}
	if n := cfg.MaxIdleConns; n > 0 {
		db.SetMaxIdleConns(n)
	}
	if d := cfg.ConnMaxLifetime; d > 0 {
		db.SetConnMaxLifetime(d)
	}

	r := &SQLRepository{db: db, driver: cfg.Driver}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s graph store: %w", cfg.Driver, err)
	}
	return r, nil
}

// migrate applies every schema statement in one transaction. The statements
// are idempotent so reopening an existing store is safe.
func (r *SQLRepository) migrate(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range AllSchemas() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// GraphStats counts stored entities by kind.
func (r *SQLRepository) GraphStats(ctx context.Context) (*domain.GraphStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM taxpayers WHERE is_stub = 0),
			(SELECT COUNT(*) FROM invoices),
			(SELECT COUNT(*) FROM observations),
			(SELECT COUNT(*) FROM returns),
			(SELECT COUNT(*) FROM payments),
			(SELECT COUNT(*) FROM einvoices)
	`
	var s domain.GraphStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.Taxpayers, &s.Invoices, &s.Observations,
		&s.Returns, &s.Payments, &s.EInvoices,
	)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}
	return &s, nil
}

// SaveReconciliationRun records a completed run's header and summary.
func (r *SQLRepository) SaveReconciliationRun(ctx context.Context, run *domain.ReconciliationRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `
		INSERT INTO reconciliation_runs (id, started_at, completed_at, total_invoices, match_rate, summary)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.StartedAt, run.CompletedAt,
		run.Summary.TotalInvoices, run.Summary.MatchRate, string(summary),
	)
	return err
}

// ListReconciliationRuns returns the most recent runs first.
func (r *SQLRepository) ListReconciliationRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, started_at, completed_at, summary
		FROM reconciliation_runs
		ORDER BY completed_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		var rec domain.RunRecord
		var summary string
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.CompletedAt, &summary); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
			return nil, fmt.Errorf("run %s: corrupt summary: %w", rec.ID, err)
		}
		runs = append(runs, &rec)
	}
	return runs, rows.Err()
}

// SaveModelArtifact stores a trained model.
func (r *SQLRepository) SaveModelArtifact(ctx context.Context, art *domain.ModelArtifact) error {
	if art == nil || art.Version == "" {
		return fmt.Errorf("%w: model version is required", ErrInvalidInput)
	}
	query := `
		INSERT INTO model_artifacts (version, trained_at, training_size, payload)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), art.Version, art.TrainedAt, art.TrainingSize, string(art.Payload))
	return err
}

// LatestModelArtifact returns the most recently trained model.
func (r *SQLRepository) LatestModelArtifact(ctx context.Context) (*domain.ModelArtifact, error) {
	query := `
		SELECT version, trained_at, training_size, payload
		FROM model_artifacts
		ORDER BY trained_at DESC
		LIMIT 1
	`
	var art domain.ModelArtifact
	var payload string
	err := r.db.QueryRowContext(ctx, query).Scan(&art.Version, &art.TrainedAt, &art.TrainingSize, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	art.Payload = []byte(payload)
	return &art, nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders as $n when talking to PostgreSQL. Queries
// in this package never contain a literal question mark.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c != '?' {
			b.WriteRune(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
