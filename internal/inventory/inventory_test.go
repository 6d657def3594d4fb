package inventory

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/secrets"
	"github.com/tOgg1/hostdeck/internal/store"
)

func newStore(t *testing.T, key string) *store.Store {
	t.Helper()
	cipher, err := secrets.NewCipher(key)
	require.NoError(t, err)
	s, err := store.Open(filepath.Join(t.TempDir(), "servers.json"), cipher, store.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return s
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newStore(t, "shared-key")
	require.True(t, src.Add(ctx, models.Server{
		ID: "a", Name: "web", Host: "10.0.0.1", User: "root",
		AuthType: models.AuthTypePassword, Password: "hunter2",
	}))
	require.True(t, src.Add(ctx, models.Server{
		ID: "b", Name: "db", Host: "10.0.0.2", Port: 2222, User: "ops",
		AuthType: models.AuthTypeKey, KeyPath: "/keys/id_ed25519",
	}))

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, src, &buf))
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "version: 1")

	doc, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, doc.Servers, 2)

	dst := newStore(t, "shared-key")
	report, err := Import(ctx, dst, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Added)
	assert.Empty(t, report.Skipped)

	got, err := dst.Get(ctx, "a", true)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Password)

	got, err = dst.Get(ctx, "b", true)
	require.NoError(t, err)
	assert.Equal(t, 2222, got.Port)
	assert.Equal(t, "/keys/id_ed25519", got.KeyPath)
}

func TestImportUpdatesAndSkips(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "k")
	require.True(t, s.Add(ctx, models.Server{
		ID: "a", Name: "old", Host: "10.0.0.1", User: "root",
		AuthType: models.AuthTypePassword, Password: "pw",
	}))

	doc, err := Parse(strings.NewReader(`
servers:
  - id: a
    name: renamed
    host: 10.0.0.9
    user: root
    password: pw2
  - name: fresh
    host: 10.0.0.3
    user: deploy
    auth_type: key
    key_path: /keys/deploy
  - name: broken
    user: nobody
`))
	require.NoError(t, err)

	report, err := Import(ctx, s, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Added)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 2, report.Skipped[0].Index)
	assert.Equal(t, "broken", report.Skipped[0].Name)

	got, err := s.Get(ctx, "a", true)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "pw2", got.Password)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEmpty(t, all[1].ID)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"unknown field", "servers:\n  - name: x\n    colour: red\n"},
		{"future version", "version: 9\nservers: []\n"},
		{"not yaml", "servers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
		})
	}
}
