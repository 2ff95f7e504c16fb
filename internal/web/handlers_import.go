package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/JonMunkholm/importdesk/internal/web/templates"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of a multipart form is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// handleCreateImport uploads the file and creates a Pending session.
// Form fields: schema, mode, file.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	if max := s.cfg.Upload.MaxFileSize; max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = errors.Mark(errors.Mark(
				errors.Newf("file too large: more than %d bytes", s.cfg.Upload.MaxFileSize),
				core.ErrFileTooLarge), core.ErrValidation)
		} else {
			err = errors.Mark(errors.Wrap(err, "invalid upload form"), core.ErrValidation)
		}
		s.respondError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errors.Mark(errors.New("no file provided"), core.ErrValidation))
		return
	}
	defer file.Close()

	session, err := s.service.CreateImport(requestContext(r, ""), core.CreateImportRequest{
		Schema:   r.FormValue("schema"),
		Mode:     r.FormValue("mode"),
		FileName: header.Filename,
		File:     file,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/imports/"+session.ID)
	writeJSON(w, http.StatusCreated, session)
}

// openView opens the view named by the {id} route parameter. On failure
// the error response is already written.
func (s *Server) openView(w http.ResponseWriter, r *http.Request) (*core.View, bool) {
	id := chi.URLParam(r, "id")
	v, err := s.service.Views.Open(requestContext(r, id), id)
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return v, true
}

// handleGetImport returns the view state, refreshing it from the backend.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(w, r)
	if !ok {
		return
	}
	state, err := v.Refresh(requestContext(r, v.SessionID()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(w, r)
	if !ok {
		return
	}
	snap, err := v.Preview(requestContext(r, v.SessionID()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type mappingBody struct {
	Field string `json:"field"`
}

// handleUpdateMapping maps one source column and returns the new preview.
// An empty field clears the column's mapping.
func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	column, err := strconv.Atoi(chi.URLParam(r, "column"))
	if err != nil || column < 0 {
		s.respondError(w, r, errors.Mark(errors.Newf("invalid column index %q", chi.URLParam(r, "column")), core.ErrValidation))
		return
	}
	var body mappingBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		s.respondError(w, r, errors.Mark(errors.Wrap(err, "decode mapping"), core.ErrValidation))
		return
	}

	v, ok := s.openView(w, r)
	if !ok {
		return
	}
	snap, err := v.UpdateMapping(requestContext(r, v.SessionID()), column, body.Field)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStart launches the import and returns the state right after.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(w, r)
	if !ok {
		return
	}
	if err := v.Start(requestContext(r, v.SessionID())); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, v.State())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(w, r)
	if !ok {
		return
	}
	logs, err := v.Logs(requestContext(r, v.SessionID()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	if v, ok := s.service.Views.Get(chi.URLParam(r, "id")); ok {
		v.DismissNotice(chi.URLParam(r, "notice"))
	}
	if isHTMX(r) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCloseView tears the view down. Closing an unknown view is not an error.
func (s *Server) handleCloseView(w http.ResponseWriter, r *http.Request) {
	s.service.Views.Close(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleBadge renders the status badge partial.
func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(w, r)
	if !ok {
		return
	}
	state := v.State()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = templates.StatusBadge(state.Session.ID, state.Badge).Render(r.Context(), w)
}

// handleNotices renders the dismissable notices partial.
func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = templates.Notices(v.SessionID(), v.State().Notices).Render(r.Context(), w)
}
