package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/lokitest/internal/directive"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one recorded harness run.
type RunSummary struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Mode      string    `json:"mode"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
}

// CaseRecord is one recorded test case.
type CaseRecord struct {
	RunID    string        `json:"run_id"`
	Seq      int           `json:"seq"`
	Name     string        `json:"name"`
	Stage    string        `json:"stage"`
	Passed   bool          `json:"passed"`
	Reason   string        `json:"reason,omitempty"`
	ExitCode *int          `json:"exit_code,omitempty"`
	Duration time.Duration `json:"duration_ns"`

	// Fingerprint and Directives are empty for cases that failed before
	// CHECKING.
	Fingerprint string                `json:"fingerprint,omitempty"`
	Directives  []directive.Directive `json:"directives,omitempty"`
}

// ListRuns returns the most recent runs first, at most limit of them.
// A limit of zero or less returns every run.
//
// Returns an empty slice (not nil) if no runs are recorded.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
		SELECT id, started_at, mode, passed, failed, total
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// ReadRun returns the summary of one run, or ErrRunNotFound.
func (s *Store) ReadRun(ctx context.Context, runID string) (RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, mode, passed, failed, total
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ReadCases returns the cases of one run in batch order.
//
// Returns an empty slice (not nil) if the run has no cases.
func (s *Store) ReadCases(ctx context.Context, runID string) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, name, stage, passed, reason, exit_code, duration_ns, fingerprint, directives
		FROM cases
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	return collectCases(rows)
}

// CaseHistory returns the recorded outcomes of one test across runs, most
// recent run first, at most limit of them (zero or less means all).
func (s *Store) CaseHistory(ctx context.Context, name string, limit int) ([]CaseRecord, error) {
	query := `
		SELECT c.run_id, c.seq, c.name, c.stage, c.passed, c.reason, c.exit_code, c.duration_ns, c.fingerprint, c.directives
		FROM cases c
		JOIN runs r ON c.run_id = r.id
		WHERE c.name = ?
		ORDER BY r.started_at DESC, r.id COLLATE BINARY DESC
	`
	args := []any{name}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query case history: %w", err)
	}
	return collectCases(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunSummary, error) {
	var (
		run       RunSummary
		startedAt string
	)
	if err := row.Scan(&run.ID, &startedAt, &run.Mode, &run.Passed, &run.Failed, &run.Total); err != nil {
		return RunSummary{}, err
	}

	t, err := parseTime(startedAt)
	if err != nil {
		return RunSummary{}, err
	}
	run.StartedAt = t
	return run, nil
}

func collectCases(rows *sql.Rows) ([]CaseRecord, error) {
	defer rows.Close()

	cases := []CaseRecord{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return cases, nil
}

func scanCase(row scanner) (CaseRecord, error) {
	var (
		c           CaseRecord
		passed      int
		exitCode    sql.NullInt64
		durationNS  int64
		fingerprint sql.NullString
		data        sql.NullString
	)
	if err := row.Scan(&c.RunID, &c.Seq, &c.Name, &c.Stage, &passed, &c.Reason,
		&exitCode, &durationNS, &fingerprint, &data); err != nil {
		return CaseRecord{}, fmt.Errorf("scan case: %w", err)
	}

	c.Passed = passed != 0
	c.Duration = time.Duration(durationNS)
	c.Fingerprint = fingerprint.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		c.ExitCode = &code
	}

	ds, err := unmarshalDirectives(data)
	if err != nil {
		return CaseRecord{}, err
	}
	c.Directives = ds
	return c, nil
}
