package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
)

// handleListSchemas lists the record types that accept imports.
func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := s.service.Schemas.ListImportable(requestContext(r, ""))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": schemas})
}

// handleFields returns a schema's importable fields for ?mode= along with
// the default selection (mandatory fields).
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	schema := chi.URLParam(r, "schema")
	mode, err := core.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	fields, err := s.service.Schemas.Fields(requestContext(r, ""), schema, mode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema":   schema,
		"mode":     mode,
		"fields":   fields,
		"selected": core.NewFieldSelection(fields).Selected(),
	})
}

type templateBody struct {
	Mode       string   `json:"mode"`
	Fields     []string `json:"fields"`
	AllFields  bool     `json:"all_fields"`
	FileType   string   `json:"file_type"`
	Scope      string   `json:"scope"`
	SampleSize int      `json:"sample_size"`
}

// handleTemplate streams a field template for the schema as an attachment.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	var body templateBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		s.respondError(w, r, errors.Mark(errors.Wrap(err, "decode template request"), core.ErrValidation))
		return
	}
	fileType, err := core.ParseFileType(body.FileType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	mode, err := core.ParseMode(body.Mode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	art, err := s.service.Templates.Build(requestContext(r, ""), core.TemplateRequest{
		Schema:     chi.URLParam(r, "schema"),
		Mode:       mode,
		Fields:     body.Fields,
		AllFields:  body.AllFields,
		FileType:   fileType,
		Scope:      core.RecordScope(body.Scope),
		SampleSize: body.SampleSize,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	w.Header().Set("Content-Length", fmt.Sprint(len(art.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Body)
}
