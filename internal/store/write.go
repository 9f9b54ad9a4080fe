package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/lokitest/internal/harness"
)

// WriteRun records a finished batch and all of its cases in one
// transaction. Writing the same run ID again is a no-op.
func (s *Store) WriteRun(ctx context.Context, run *harness.BatchResult) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("write run: run ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, mode, passed, failed, total)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.RunID,
		formatTime(run.StartedAt),
		string(run.Mode),
		run.Passed,
		run.Failed,
		run.Total,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write run: rows affected: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	for seq, c := range run.Cases {
		if err := writeCase(ctx, tx, run.RunID, seq, c); err != nil {
			return fmt.Errorf("write run: case %s: %w", c.Case.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

func writeCase(ctx context.Context, tx *sql.Tx, runID string, seq int, c *harness.CaseResult) error {
	data, fingerprint, err := marshalDirectives(c.Directives)
	if err != nil {
		return err
	}

	var exitCode sql.NullInt64
	if c.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*c.ExitCode), Valid: true}
	}

	reason := ""
	if !c.Passed() {
		reason = c.Verdict.Reason
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cases
		(run_id, seq, name, stage, passed, reason, exit_code, duration_ns, fingerprint, directives)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		seq,
		c.Case.Name,
		c.Stage.String(),
		boolToInt(c.Passed()),
		reason,
		exitCode,
		c.Duration.Nanoseconds(),
		fingerprint,
		data,
	)
	return err
}
