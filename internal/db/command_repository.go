package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/hostdeck/internal/models"
)

// ErrCommandNotFound is returned when a library entry does not exist.
var ErrCommandNotFound = errors.New("command not found")

// CommandRepository persists the saved command library.
type CommandRepository struct {
	db *DB
}

// NewCommandRepository creates a new CommandRepository.
func NewCommandRepository(db *DB) *CommandRepository {
	return &CommandRepository{db: db}
}

// Create adds a command to the end of the library.
func (r *CommandRepository) Create(ctx context.Context, cmd *models.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM commands`).Scan(&next); err != nil {
			return fmt.Errorf("failed to read command position: %w", err)
		}
		return insertCommand(ctx, tx, cmd, next)
	})
}

// Get returns a command by id.
func (r *CommandRepository) Get(ctx context.Context, id string) (*models.Command, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, command, category, description, created_at
		FROM commands WHERE id = ?
	`, id)

	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommandNotFound
	}
	return cmd, err
}

// List returns the library in insertion order.
func (r *CommandRepository) List(ctx context.Context) ([]models.Command, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, command, category, description, created_at
		FROM commands ORDER BY position, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	out := []models.Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}
	return out, nil
}

// Update replaces a command wholesale.
func (r *CommandRepository) Update(ctx context.Context, cmd *models.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE commands SET name = ?, command = ?, category = ?, description = ?
		WHERE id = ?
	`, cmd.Name, cmd.Command, cmd.Category, cmd.Description, cmd.ID)
	if err != nil {
		return fmt.Errorf("failed to update command: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// Delete removes a command.
func (r *CommandRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM commands WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete command: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// ReplaceAll swaps the library for cmds, keeping their order.
func (r *CommandRepository) ReplaceAll(ctx context.Context, cmds []models.Command) error {
	for i := range cmds {
		if err := cmds[i].Validate(); err != nil {
			return fmt.Errorf("invalid command at %d: %w", i, err)
		}
	}
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM commands`); err != nil {
			return fmt.Errorf("failed to clear commands: %w", err)
		}
		for i := range cmds {
			if err := insertCommand(ctx, tx, &cmds[i], i); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertCommand(ctx context.Context, ex execer, cmd *models.Command, position int) error {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO commands (id, name, command, category, description, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		cmd.ID,
		cmd.Name,
		cmd.Command,
		cmd.Category,
		cmd.Description,
		position,
		cmd.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*models.Command, error) {
	var (
		cmd       models.Command
		createdAt string
	)
	if err := row.Scan(&cmd.ID, &cmd.Name, &cmd.Command, &cmd.Category, &cmd.Description, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan command: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		cmd.CreatedAt = t
	}
	return &cmd, nil
}
