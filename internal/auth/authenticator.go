package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tOgg1/hostdeck/internal/config"
	"github.com/tOgg1/hostdeck/internal/logging"
)

// Errors returned by Login.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrNoAdminPassword    = errors.New("no admin password configured")
)

// limiterIdle is how long an unused per-client limiter is kept.
const limiterIdle = 10 * time.Minute

// Token is an issued bearer token.
type Token struct {
	Value     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Authenticator checks admin credentials and tracks issued tokens in memory.
// Tokens do not survive a restart.
type Authenticator struct {
	username string
	hash     string
	plain    string
	ttl      time.Duration
	rate     rate.Limit
	burst    int
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	tokens   map[string]Token
	limiters map[string]*clientLimiter
}

// New creates an Authenticator from the auth config section. A bcrypt hash
// is preferred; a plaintext password is accepted with a warning.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		username: cfg.AdminUsername,
		hash:     cfg.AdminPasswordHash,
		plain:    cfg.AdminPassword,
		ttl:      cfg.TokenTTL,
		rate:     rate.Limit(cfg.LoginRate),
		burst:    cfg.LoginBurst,
		logger:   logging.Component("auth"),
		now:      time.Now,
		tokens:   make(map[string]Token),
		limiters: make(map[string]*clientLimiter),
	}

	switch {
	case a.hash != "":
		if _, err := bcryptCostOf(a.hash); err != nil {
			return nil, err
		}
	case a.plain != "":
		a.logger.Warn().Msg("admin password configured in plaintext; set auth.admin_password_hash instead")
	default:
		return nil, ErrNoAdminPassword
	}
	if a.ttl <= 0 {
		a.ttl = 24 * time.Hour
	}
	if a.burst < 1 {
		a.burst = 1
	}
	return a, nil
}

// Login verifies credentials and issues a token. client identifies the
// caller for rate limiting (usually the remote IP).
func (a *Authenticator) Login(username, password, client string) (Token, error) {
	if !a.allow(client) {
		a.logger.Warn().Str("client", client).Msg("login rate limited")
		return Token{}, ErrRateLimited
	}
	if !a.checkCredentials(username, password) {
		a.logger.Warn().Str("client", client).Str("username", username).Msg("login failed")
		return Token{}, ErrInvalidCredentials
	}

	value, err := newToken()
	if err != nil {
		return Token{}, err
	}
	tok := Token{Value: value, Username: username, ExpiresAt: a.now().Add(a.ttl)}

	a.mu.Lock()
	a.tokens[value] = tok
	a.mu.Unlock()

	a.logger.Info().Str("client", client).Str("username", username).Msg("login succeeded")
	return tok, nil
}

// Verify returns the token's record if it is known and unexpired.
func (a *Authenticator) Verify(value string) (Token, bool) {
	if value == "" {
		return Token{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	tok, ok := a.tokens[value]
	if !ok {
		return Token{}, false
	}
	if !a.now().Before(tok.ExpiresAt) {
		delete(a.tokens, value)
		return Token{}, false
	}
	return tok, true
}

// Revoke forgets a token.
func (a *Authenticator) Revoke(value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, value)
}

// Sweep drops expired tokens and idle limiters.
func (a *Authenticator) Sweep() {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	for v, tok := range a.tokens {
		if !now.Before(tok.ExpiresAt) {
			delete(a.tokens, v)
		}
	}
	for c, l := range a.limiters {
		if now.Sub(l.lastSeen) > limiterIdle {
			delete(a.limiters, c)
		}
	}
}

func (a *Authenticator) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	var passOK bool
	if a.hash != "" {
		passOK = CheckPassword(a.hash, password)
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(a.plain)) == 1
	}
	return userOK && passOK
}

func (a *Authenticator) allow(client string) bool {
	now := a.now()
	a.mu.Lock()
	l, ok := a.limiters[client]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(a.rate, a.burst)}
		a.limiters[client] = l
	}
	l.lastSeen = now
	a.mu.Unlock()

	return l.limiter.AllowN(now, 1)
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
