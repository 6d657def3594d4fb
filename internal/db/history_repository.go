package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/hostdeck/internal/models"
)

// sortableTime is fixed-width so lexical ORDER BY matches chronological order.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidHistoryEntry is returned when a history record lacks required fields.
var ErrInvalidHistoryEntry = errors.New("invalid history entry")

// HistoryRepository persists command executions and file operations.
type HistoryRepository struct {
	db    *DB
	limit int
}

// NewHistoryRepository creates a HistoryRepository. A positive limit caps the
// rows kept per table; the oldest rows are pruned on append.
func NewHistoryRepository(db *DB, limit int) *HistoryRepository {
	return &HistoryRepository{db: db, limit: limit}
}

type execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// AppendExecution records one command execution.
func (r *HistoryRepository) AppendExecution(ctx context.Context, exec *models.CommandExecution) error {
	if exec == nil || exec.Command == "" {
		return ErrInvalidHistoryEntry
	}
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if err := insertExecution(ctx, tx, exec); err != nil {
			return err
		}
		return r.prune(ctx, tx, "command_executions", "started_at")
	})
}

// ListExecutions returns executions newest first. limit <= 0 returns all.
func (r *HistoryRepository) ListExecutions(ctx context.Context, limit int) ([]models.CommandExecution, error) {
	query := `
		SELECT id, command, server_ids_json, results_json, started_at, duration_ms
		FROM command_executions
		ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query command history: %w", err)
	}
	defer rows.Close()

	out := []models.CommandExecution{}
	for rows.Next() {
		var (
			exec                 models.CommandExecution
			idsJSON, resultsJSON string
			startedAt            string
			durationMs           int64
		)
		if err := rows.Scan(&exec.ID, &exec.Command, &idsJSON, &resultsJSON, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan command execution: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &exec.ServerIDs); err != nil {
			return nil, fmt.Errorf("decode server ids for %s: %w", exec.ID, err)
		}
		if err := json.Unmarshal([]byte(resultsJSON), &exec.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", exec.ID, err)
		}
		if t, err := time.Parse(sortableTime, startedAt); err == nil {
			exec.StartedAt = t
		}
		exec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating command history: %w", err)
	}
	return out, nil
}

// ReplaceExecutions swaps the whole command history for entries.
func (r *HistoryRepository) ReplaceExecutions(ctx context.Context, entries []models.CommandExecution) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM command_executions`); err != nil {
			return fmt.Errorf("failed to clear command history: %w", err)
		}
		for i := range entries {
			if err := insertExecution(ctx, tx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearExecutions deletes all command history.
func (r *HistoryRepository) ClearExecutions(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM command_executions`); err != nil {
		return fmt.Errorf("failed to clear command history: %w", err)
	}
	return nil
}

// AppendFileOperation records one transfer.
func (r *HistoryRepository) AppendFileOperation(ctx context.Context, op *models.FileOperation) error {
	if op == nil || op.ServerID == "" || op.Kind == "" {
		return ErrInvalidHistoryEntry
	}
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if err := insertFileOperation(ctx, tx, op); err != nil {
			return err
		}
		return r.prune(ctx, tx, "file_operations", "timestamp")
	})
}

// ListFileOperations returns transfers newest first. limit <= 0 returns all.
func (r *HistoryRepository) ListFileOperations(ctx context.Context, limit int) ([]models.FileOperation, error) {
	query := `
		SELECT id, kind, server_id, server_name, file_name, remote_path, success, message, timestamp
		FROM file_operations
		ORDER BY timestamp DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query file operations: %w", err)
	}
	defer rows.Close()

	out := []models.FileOperation{}
	for rows.Next() {
		var (
			op        models.FileOperation
			kind, ts  string
			succeeded int
		)
		if err := rows.Scan(&op.ID, &kind, &op.ServerID, &op.ServerName, &op.FileName, &op.RemotePath, &succeeded, &op.Message, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan file operation: %w", err)
		}
		op.Kind = models.FileOperationKind(kind)
		op.Success = succeeded != 0
		if t, err := time.Parse(sortableTime, ts); err == nil {
			op.Timestamp = t
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file operations: %w", err)
	}
	return out, nil
}

// ReplaceFileOperations swaps the whole transfer history for entries.
func (r *HistoryRepository) ReplaceFileOperations(ctx context.Context, entries []models.FileOperation) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_operations`); err != nil {
			return fmt.Errorf("failed to clear file operations: %w", err)
		}
		for i := range entries {
			if err := insertFileOperation(ctx, tx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearFileOperations deletes all transfer history.
func (r *HistoryRepository) ClearFileOperations(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM file_operations`); err != nil {
		return fmt.Errorf("failed to clear file operations: %w", err)
	}
	return nil
}

func insertExecution(ctx context.Context, ex execer, exec *models.CommandExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if exec.ServerIDs == nil {
		exec.ServerIDs = []string{}
	}
	if exec.Results == nil {
		exec.Results = map[string]models.CommandResult{}
	}

	idsJSON, err := json.Marshal(exec.ServerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal server ids: %w", err)
	}
	resultsJSON, err := json.Marshal(exec.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO command_executions (id, command, server_ids_json, results_json, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		exec.ID,
		exec.Command,
		string(idsJSON),
		string(resultsJSON),
		exec.StartedAt.UTC().Format(sortableTime),
		exec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert command execution: %w", err)
	}
	return nil
}

func insertFileOperation(ctx context.Context, ex execer, op *models.FileOperation) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	succeeded := 0
	if op.Success {
		succeeded = 1
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO file_operations (id, kind, server_id, server_name, file_name, remote_path, success, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.ID,
		string(op.Kind),
		op.ServerID,
		op.ServerName,
		op.FileName,
		op.RemotePath,
		succeeded,
		op.Message,
		op.Timestamp.UTC().Format(sortableTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert file operation: %w", err)
	}
	return nil
}

// prune keeps the newest r.limit rows of table ordered by column.
func (r *HistoryRepository) prune(ctx context.Context, ex execer, table, column string) error {
	if r.limit <= 0 {
		return nil
	}
	query := fmt.Sprintf(`
		DELETE FROM %[1]s WHERE id IN (
			SELECT id FROM %[1]s ORDER BY %[2]s DESC, id DESC LIMIT -1 OFFSET ?
		)`, table, column)
	if _, err := ex.ExecContext(ctx, query, r.limit); err != nil {
		return fmt.Errorf("failed to prune %s: %w", table, err)
	}
	return nil
}
