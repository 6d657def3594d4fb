package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/hostdeck/internal/models"
)

func TestHistoryExecutionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	defer database.Close()

	repo := NewHistoryRepository(database, 0)
	code := 0
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	exec := &models.CommandExecution{
		Command:   "uptime",
		ServerIDs: []string{"a", "b"},
		Results: map[string]models.CommandResult{
			"a": {ServerID: "a", Success: true, Stdout: "up 3 days", ExitCode: &code},
			"b": {ServerID: "b", Success: false, Stderr: "connection failed: refused", ErrorKind: models.ErrorKindConnect},
		},
		StartedAt: base,
		Duration:  1500 * time.Millisecond,
	}
	require.NoError(t, repo.AppendExecution(ctx, exec))
	require.NotEmpty(t, exec.ID)

	later := &models.CommandExecution{Command: "df -h", ServerIDs: []string{"a"}, StartedAt: base.Add(time.Minute)}
	require.NoError(t, repo.AppendExecution(ctx, later))

	list, err := repo.ListExecutions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "df -h", list[0].Command, "newest first")

	got := list[1]
	assert.Equal(t, []string{"a", "b"}, got.ServerIDs)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, got.StartedAt.Equal(base))
	require.NotNil(t, got.Results["a"].ExitCode)
	assert.Nil(t, got.Results["b"].ExitCode)
	assert.Equal(t, models.ErrorKindConnect, got.Results["b"].ErrorKind)

	limited, err := repo.ListExecutions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, repo.ClearExecutions(ctx))
	list, err = repo.ListExecutions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.True(t, errors.Is(repo.AppendExecution(ctx, &models.CommandExecution{}), ErrInvalidHistoryEntry))
}

func TestHistoryPrunesToLimit(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	defer database.Close()

	repo := NewHistoryRepository(database, 3)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendFileOperation(ctx, &models.FileOperation{
			Kind:       models.FileOperationUpload,
			ServerID:   "a",
			FileName:   "f.txt",
			RemotePath: "/tmp/f.txt",
			Success:    true,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	ops, err := repo.ListFileOperations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.True(t, ops[0].Timestamp.Equal(base.Add(4*time.Second)))
	assert.True(t, ops[2].Timestamp.Equal(base.Add(2*time.Second)))
	assert.True(t, ops[0].Success)
	assert.Equal(t, models.FileOperationUpload, ops[0].Kind)
}

func TestHistoryReplace(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	defer database.Close()

	repo := NewHistoryRepository(database, 0)
	require.NoError(t, repo.AppendFileOperation(ctx, &models.FileOperation{
		Kind: models.FileOperationDownload, ServerID: "a", FileName: "x", RemotePath: "/x",
	}))

	require.NoError(t, repo.ReplaceFileOperations(ctx, []models.FileOperation{
		{Kind: models.FileOperationUpload, ServerID: "b", FileName: "y", RemotePath: "/y"},
		{Kind: models.FileOperationUpload, ServerID: "c", FileName: "z", RemotePath: "/z"},
	}))
	ops, err := repo.ListFileOperations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	require.NoError(t, repo.ReplaceExecutions(ctx, []models.CommandExecution{{Command: "ls"}}))
	execs, err := repo.ListExecutions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "ls", execs[0].Command)

	require.NoError(t, repo.ClearFileOperations(ctx))
	ops, err = repo.ListFileOperations(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
