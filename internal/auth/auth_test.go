package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/hostdeck/internal/config"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "hunter22",
		TokenTTL:      time.Hour,
		LoginRate:     1,
		LoginBurst:    3,
	}
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("short")
	require.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
}

func TestNewRequiresPassword(t *testing.T) {
	cfg := testConfig()
	cfg.AdminPassword = ""
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrNoAdminPassword)

	cfg.AdminPasswordHash = "not-a-hash"
	_, err = New(cfg)
	require.Error(t, err)
}

func TestLoginWithHash(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.AdminPassword = ""
	cfg.AdminPasswordHash = hash
	a, err := New(cfg)
	require.NoError(t, err)

	tok, err := a.Login("admin", "s3cret!", "10.0.0.1")
	require.NoError(t, err)
	assert.Len(t, tok.Value, 64)
	assert.Equal(t, "admin", tok.Username)

	_, err = a.Login("admin", "nope", "10.0.0.1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginPlaintextAndVerify(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)

	_, err = a.Login("root", "hunter22", "c")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	tok, err := a.Login("admin", "hunter22", "c")
	require.NoError(t, err)

	got, ok := a.Verify(tok.Value)
	require.True(t, ok)
	assert.Equal(t, tok.ExpiresAt, got.ExpiresAt)

	_, ok = a.Verify("bogus")
	assert.False(t, ok)
	_, ok = a.Verify("")
	assert.False(t, ok)

	a.Revoke(tok.Value)
	_, ok = a.Verify(tok.Value)
	assert.False(t, ok)
}

func TestTokenExpiry(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	tok, err := a.Login("admin", "hunter22", "c")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)

	now = now.Add(59 * time.Minute)
	_, ok := a.Verify(tok.Value)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = a.Verify(tok.Value)
	assert.False(t, ok)
}

func TestLoginRateLimitPerClient(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := a.Login("admin", "wrong", "1.1.1.1")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = a.Login("admin", "hunter22", "1.1.1.1")
	require.ErrorIs(t, err, ErrRateLimited)

	// Another client has its own budget.
	_, err = a.Login("admin", "hunter22", "2.2.2.2")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = a.Login("admin", "hunter22", "1.1.1.1")
	require.NoError(t, err)
}

func TestSweep(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	_, err = a.Login("admin", "hunter22", "c")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	a.Sweep()
	assert.Empty(t, a.tokens)
	assert.Empty(t, a.limiters)
}

func TestMiddleware(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)
	tok, err := a.Login("admin", "hunter22", "c")
	require.NoError(t, err)

	var seen Token
	handler := a.Middleware([]string{"/api/health"}, []string{"/api/download"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = FromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}),
	)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public", "/api/health", "", http.StatusNoContent},
		{"missing", "/api/servers", "", http.StatusUnauthorized},
		{"bearer", "/api/servers", "Bearer " + tok.Value, http.StatusNoContent},
		{"lowercase scheme", "/api/servers", "bearer " + tok.Value, http.StatusNoContent},
		{"bad token", "/api/servers", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "/api/servers", "Basic " + tok.Value, http.StatusUnauthorized},
		{"query on download", "/api/download?token=" + tok.Value, "", http.StatusNoContent},
		{"query elsewhere", "/api/servers?token=" + tok.Value, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"success":false`)
			}
		})
	}
	assert.Equal(t, "admin", seen.Username)
}
