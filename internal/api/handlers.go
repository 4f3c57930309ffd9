package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/cas"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        s.cfg.AppName,
		"version":     s.cfg.AppVersion,
		"environment": s.cfg.AppEnvironment,
	})
}

// backendFrom resolves the backend a request targets: the "backend" query
// parameter when present, otherwise the default backend.
func (s *Server) backendFrom(r *http.Request) (storage.Backend, error) {
	if name := r.URL.Query().Get("backend"); name != "" {
		b, ok := s.reg.StorageByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown backend %q", name)
		}
		return b, nil
	}
	b := s.reg.Storage()
	if b == nil {
		return nil, fmt.Errorf("no storage backend configured")
	}
	return b, nil
}

// handleUpload stores the request payload under its content ID. Accepts
// either a multipart form with a "file" field (extension taken from the
// filename) or a raw body with an optional "extension" query parameter.
// A refused write, already-present content included, is a 409.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Server.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)
	}

	var data []byte
	var extension string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			writeError(w, http.StatusBadRequest, "unreadable upload")
			return
		}
		extension = path.Ext(header.Filename)
	} else {
		var err error
		if data, err = io.ReadAll(r.Body); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		extension = r.URL.Query().Get("extension")
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}
	if !cas.ValidExtension(extension) {
		writeError(w, http.StatusBadRequest, "invalid extension")
		return
	}

	backend, err := s.backendFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fileID := cas.ComputeID(data)
	if !backend.UploadWithID(r.Context(), fileID, data, extension) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "upload refused",
			"file_id": fileID,
		})
		return
	}

	storagePath := cas.StoragePath(fileID, extension)
	logging.WithContext(r.Context()).Info("file stored",
		zap.String("file_id", fileID),
		zap.String("backend", backend.Type()),
		zap.Int("size", len(data)),
	)
	writeJSON(w, http.StatusCreated, map[string]string{
		"file_id": fileID,
		"url":     backend.GetURL(storagePath),
	})
}

// handleGetFile resolves a stored file's URL by content ID. The extension
// the file was stored with must be passed back via the "extension" query
// parameter; it is part of the storage path.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	extension := r.URL.Query().Get("extension")
	if !cas.ValidID(fileID) {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	if !cas.ValidExtension(extension) {
		writeError(w, http.StatusBadRequest, "invalid extension")
		return
	}

	backend, err := s.backendFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	storagePath := cas.StoragePath(fileID, extension)
	if !backend.Exists(r.Context(), storagePath) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"file_id": fileID,
		"url":     backend.GetURL(storagePath),
	})
}

// handleDBHealth runs a connectivity test against every configured
// database. Any failure degrades the response to 503.
func (s *Server) handleDBHealth(w http.ResponseWriter, r *http.Request) {
	type dbStatus struct {
		Index int    `json:"index"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}

	statuses := []dbStatus{}
	allOK := true
	for i, m := range s.reg.Databases() {
		st := dbStatus{Index: i}
		ok, err := m.TestConnection(r.Context())
		st.OK = ok && err == nil
		if err != nil {
			st.Error = err.Error()
		}
		if !st.OK {
			allOK = false
		}
		statuses = append(statuses, st)
	}

	code := http.StatusOK
	if !allOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"databases": statuses})
}
