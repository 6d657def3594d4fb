package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tOgg1/hostdeck/internal/db"
	"github.com/tOgg1/hostdeck/internal/models"
)

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeError(w, http.StatusServiceUnavailable, "command library is unavailable")
		return
	}
	cmds, err := s.deps.Commands.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list commands: "+err.Error())
		return
	}
	if cmds == nil {
		cmds = []models.Command{}
	}
	writeData(w, cmds)
}

func (s *Server) handleSaveCommands(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeError(w, http.StatusServiceUnavailable, "command library is unavailable")
		return
	}
	var cmds []models.Command
	if err := decodeJSON(w, r, &cmds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i := range cmds {
		if err := cmds[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("command %d: %v", i, err))
			return
		}
	}
	if err := s.deps.Commands.ReplaceAll(r.Context(), cmds); err != nil {
		writeError(w, http.StatusInternalServerError, "save commands: "+err.Error())
		return
	}
	writeOK(w, "command library saved")
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	entries, err := s.deps.History.ListExecutions(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list command history: "+err.Error())
		return
	}
	if entries == nil {
		entries = []models.CommandExecution{}
	}
	writeData(w, entries)
}

func (s *Server) handleSaveExecutions(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	var entries []models.CommandExecution
	if err := decodeJSON(w, r, &entries); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.History.ReplaceExecutions(r.Context(), entries); err != nil {
		writeError(w, historyStatus(err), "save command history: "+err.Error())
		return
	}
	writeOK(w, "command history saved")
}

func (s *Server) handleAddExecution(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	var entry models.CommandExecution
	if err := decodeJSON(w, r, &entry); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.History.AppendExecution(r.Context(), &entry); err != nil {
		writeError(w, historyStatus(err), "add command history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "command history entry added", Data: entry})
}

func (s *Server) handleClearExecutions(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	if err := s.deps.History.ClearExecutions(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "clear command history: "+err.Error())
		return
	}
	writeOK(w, "command history cleared")
}

func (s *Server) handleListFileOperations(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	ops, err := s.deps.History.ListFileOperations(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list file operations: "+err.Error())
		return
	}
	if ops == nil {
		ops = []models.FileOperation{}
	}
	writeData(w, ops)
}

func (s *Server) handleSaveFileOperations(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	var ops []models.FileOperation
	if err := decodeJSON(w, r, &ops); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.History.ReplaceFileOperations(r.Context(), ops); err != nil {
		writeError(w, historyStatus(err), "save file operations: "+err.Error())
		return
	}
	writeOK(w, "file operations saved")
}

func (s *Server) handleAddFileOperation(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	var op models.FileOperation
	if err := decodeJSON(w, r, &op); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.History.AppendFileOperation(r.Context(), &op); err != nil {
		writeError(w, historyStatus(err), "add file operation: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "file operation added", Data: op})
}

func (s *Server) handleClearFileOperations(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	if err := s.deps.History.ClearFileOperations(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "clear file operations: "+err.Error())
		return
	}
	writeOK(w, "file operations cleared")
}

// handleEvents pages through the persisted event log.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log is unavailable")
		return
	}
	q := r.URL.Query()
	query := db.EventQuery{Cursor: q.Get("cursor"), Limit: queryLimit(r)}
	if v := q.Get("type"); v != "" {
		t := models.EventType(v)
		query.Type = &t
	}
	if v := q.Get("serverId"); v != "" {
		query.EntityID = &v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		query.Since = &since
	}

	page, err := s.deps.Events.Query(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query events: "+err.Error())
		return
	}
	events := page.Events
	if events == nil {
		events = []*models.Event{}
	}
	writeData(w, map[string]any{"events": events, "nextCursor": page.NextCursor})
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history is unavailable")
		return false
	}
	return true
}

func historyStatus(err error) int {
	if errors.Is(err, db.ErrInvalidHistoryEntry) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
