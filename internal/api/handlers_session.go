package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tOgg1/hostdeck/internal/auth"
	"github.com/tOgg1/hostdeck/internal/fanout"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/ssh"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  len(s.deps.Sessions.Connected()),
		"timestamp": time.Now().UTC(),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeError(w, http.StatusNotFound, "authentication is disabled")
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	tok, err := s.deps.Auth.Login(req.Username, req.Password, clientIP(r))
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     tok.Value,
		"username":  tok.Username,
		"expiresAt": tok.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth != nil {
		s.deps.Auth.Revoke(auth.BearerToken(r))
	}
	writeOK(w, "logged out")
}

type connectRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Host     string          `json:"ip"`
	Port     int             `json:"port"`
	User     string          `json:"user"`
	AuthType models.AuthType `json:"authType"`
	Password string          `json:"password"`
	KeyPath  string          `json:"keyPath"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" || req.Host == "" || req.User == "" {
		writeError(w, http.StatusBadRequest, "id, ip and user are required")
		return
	}
	if req.AuthType == "" {
		req.AuthType = models.AuthTypePassword
	}

	sess, err := s.deps.Sessions.Connect(r.Context(), models.Server{
		ID:       req.ID,
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		User:     req.User,
		AuthType: req.AuthType,
		Password: req.Password,
		KeyPath:  req.KeyPath,
	})
	if err != nil {
		writeError(w, connectStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "connected to " + sess.ServerName,
		Data: map[string]any{
			"serverId":  sess.ServerID,
			"createdAt": sess.CreatedAt,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st := s.deps.Prober.Probe(r.Context(), id)
	if s.deps.Status != nil {
		s.deps.Status.Observe(st)
	}
	writeData(w, st)
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status poller is disabled")
		return
	}
	writeData(w, s.deps.Status.History(r.PathValue("id")))
}

type executeRequest struct {
	ServerID string `json:"serverId"`
	Command  string `json:"command"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ServerID == "" || strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "serverId and command are required")
		return
	}

	result := s.deps.Executor.RunOne(r.Context(), req.ServerID, req.Command)
	switch result.ErrorKind {
	case models.ErrorKindNone:
		writeData(w, result)
	case models.ErrorKindConnect:
		writeErrorData(w, http.StatusBadGateway, result.Stderr, result)
	case models.ErrorKindTimeout:
		writeErrorData(w, http.StatusGatewayTimeout, result.Stderr, result)
	default:
		writeErrorData(w, http.StatusInternalServerError, result.Stderr, result)
	}
}

type batchExecuteRequest struct {
	ServerIDs []string `json:"serverIds"`
	Command   string   `json:"command"`
}

func (s *Server) handleBatchExecute(w http.ResponseWriter, r *http.Request) {
	var req batchExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := fanout.Unique(req.ServerIDs)
	if len(ids) == 0 || strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "serverIds and command are required")
		return
	}
	writeData(w, s.deps.Executor.RunBatch(r.Context(), ids, req.Command))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Sessions.Dispose(id); err != nil {
		s.logger.Warn().Err(err).Str("server_id", id).Msg("disconnect")
	}
	writeOK(w, "disconnected")
}

func (s *Server) handleDisconnectAll(w http.ResponseWriter, _ *http.Request) {
	n := len(s.deps.Sessions.Connected())
	if err := s.deps.Sessions.DisposeAll(); err != nil {
		s.logger.Warn().Err(err).Msg("disconnect all")
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "all sessions closed",
		Data:    map[string]int{"closed": n},
	})
}

// connectStatus maps a session failure onto an HTTP status. SSH auth
// failures stay 502 so clients do not mistake them for an expired token.
func connectStatus(err error) int {
	var ce *ssh.ConnectError
	if !errors.As(err, &ce) {
		return http.StatusBadGateway
	}
	switch ce.Kind {
	case ssh.ConnectNotFound:
		return http.StatusNotFound
	case ssh.ConnectConfig, ssh.ConnectKey:
		return http.StatusBadRequest
	case ssh.ConnectTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
