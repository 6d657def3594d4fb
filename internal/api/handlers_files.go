package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/tOgg1/hostdeck/internal/fanout"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/transfer"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to disk.
const multipartMemory = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxMB := s.cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 512
	}
	tooLarge := "upload exceeds " + strconv.FormatInt(maxMB, 10) + " MB"
	if r.ContentLength > maxMB<<20 {
		writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxMB<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	remotePath := strings.TrimSpace(r.FormValue("remotePath"))
	ids, err := formServerIDs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(ids) == 0 || remotePath == "" {
		writeError(w, http.StatusBadRequest, "serverId (or serverIds) and remotePath are required")
		return
	}

	if len(ids) > 1 || r.Form.Has("serverIds") {
		writeData(w, s.deps.Transfers.UploadBatch(r.Context(), ids, header.Filename, file, remotePath))
		return
	}

	result := s.deps.Transfers.Upload(r.Context(), ids[0], header.Filename, file, remotePath)
	if result.Success {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: result.Message, Data: result})
		return
	}
	writeErrorData(w, resultStatus(result.ErrorKind), result.Message, result)
}

// formServerIDs accepts serverId, repeated serverIds fields, a JSON array
// in serverIds, or a comma-separated serverIds value.
func formServerIDs(r *http.Request) ([]string, error) {
	var ids []string
	if id := strings.TrimSpace(r.FormValue("serverId")); id != "" {
		ids = append(ids, id)
	}
	for _, raw := range r.Form["serverIds"] {
		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "[") {
			var list []string
			if err := json.Unmarshal([]byte(raw), &list); err != nil {
				return nil, errors.New("serverIds must be a JSON array of strings")
			}
			ids = append(ids, list...)
			continue
		}
		for _, part := range strings.Split(raw, ",") {
			ids = append(ids, strings.TrimSpace(part))
		}
	}
	return fanout.Unique(ids), nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serverID := q.Get("serverId")
	remotePath := q.Get("remotePath")
	if serverID == "" || strings.TrimSpace(remotePath) == "" {
		writeError(w, http.StatusBadRequest, "serverId and remotePath are required")
		return
	}

	dl, err := s.deps.Transfers.Download(r.Context(), serverID, remotePath)
	if err != nil {
		writeError(w, downloadStatus(err), err.Error())
		return
	}
	defer dl.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName}))
	h.Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl); err != nil {
		s.logger.Warn().Err(err).Str("server_id", serverID).Str("remote_path", remotePath).Msg("download stream interrupted")
	}
}

func downloadStatus(err error) int {
	switch transfer.KindOf(err) {
	case transfer.KindInvalid:
		return http.StatusBadRequest
	case transfer.KindNotFound:
		return http.StatusNotFound
	case transfer.KindPermission:
		return http.StatusForbidden
	case transfer.KindConnect:
		return http.StatusBadGateway
	case transfer.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func resultStatus(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorKindConnect:
		return http.StatusBadGateway
	case models.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
