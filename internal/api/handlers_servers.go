package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/tOgg1/hostdeck/internal/inventory"
	"github.com/tOgg1/hostdeck/internal/models"
)

// maxInventoryBody caps YAML imports.
const maxInventoryBody = 4 << 20

// handleListServers returns records with secrets as stored (encrypted).
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.deps.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list servers: "+err.Error())
		return
	}
	if servers == nil {
		servers = []models.Server{}
	}
	writeData(w, servers)
}

func (s *Server) handleSaveServers(w http.ResponseWriter, r *http.Request) {
	var servers []models.Server
	if err := decodeJSON(w, r, &servers); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.deps.Store.Save(r.Context(), servers) {
		writeError(w, http.StatusInternalServerError, "saving servers failed")
		return
	}
	writeOK(w, "servers saved")
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var server models.Server
	if err := decodeJSON(w, r, &server); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateIncoming(&server); err != nil {
		writeErrorData(w, http.StatusBadRequest, err.Error(), models.FieldErrors(err))
		return
	}

	stored, ok := s.deps.Store.Insert(r.Context(), server)
	if !ok {
		writeError(w, http.StatusConflict, "adding server failed")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "server added", Data: stored.Redacted()})
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var server models.Server
	if err := decodeJSON(w, r, &server); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	server.ID = id
	if err := validateIncoming(&server); err != nil {
		writeErrorData(w, http.StatusBadRequest, err.Error(), models.FieldErrors(err))
		return
	}

	if !s.deps.Store.Update(r.Context(), id, server) {
		writeError(w, http.StatusNotFound, "server not found or update failed")
		return
	}
	// The next call redials with the new credentials.
	s.dropSession(id)

	stored, err := s.deps.Store.Get(r.Context(), id, false)
	if err != nil {
		writeOK(w, "server updated")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "server updated", Data: stored.Redacted()})
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Store.Delete(r.Context(), id) {
		writeError(w, http.StatusNotFound, "server not found or delete failed")
		return
	}
	s.dropSession(id)
	if s.deps.Status != nil {
		s.deps.Status.Forget(id)
	}
	writeOK(w, "server deleted")
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition",
		`attachment; filename="hostdeck-inventory-`+time.Now().UTC().Format("20060102")+`.yaml"`)
	if err := inventory.Export(r.Context(), s.deps.Store, w); err != nil {
		s.logger.Error().Err(err).Msg("export inventory")
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxInventoryBody)
	doc, err := inventory.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := inventory.Import(r.Context(), s.deps.Store, doc)
	if err != nil {
		writeErrorData(w, http.StatusInternalServerError, err.Error(), report)
		return
	}
	for _, skipped := range report.Skipped {
		s.logger.Warn().Int("index", skipped.Index).Str("name", skipped.Name).Str("reason", skipped.Reason).Msg("import skipped server")
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "inventory imported", Data: report})
}

func (s *Server) dropSession(id string) {
	if err := s.deps.Sessions.Dispose(id); err != nil {
		s.logger.Warn().Err(err).Str("server_id", id).Msg("close session")
	}
}

// validateIncoming checks a record from a client. The id may be absent on
// add; the store assigns one.
func validateIncoming(server *models.Server) error {
	server.Name = strings.TrimSpace(server.Name)
	server.Host = strings.TrimSpace(server.Host)
	if server.AuthType == "" {
		server.AuthType = models.AuthTypePassword
	}
	check := *server
	if check.ID == "" {
		check.ID = "new"
	}
	return check.Validate()
}
