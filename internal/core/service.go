package core

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
)

// Config holds engine settings.
type Config struct {
	PollInterval    time.Duration
	RefreshDebounce time.Duration
	ViewIdleTimeout time.Duration
	MaxViews        int
	SchemaCacheTTL  time.Duration
	SchemaCacheSize int

	MaxFileSize          int64
	MaxConcurrentUploads int
	UploadMaxWait        time.Duration
	UploadFolder         string
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder persists terminal outcomes through rec.
func WithRecorder(rec RunRecorder) Option {
	return func(s *Service) { s.recorder = rec }
}

// WithObserver reports engine events to obs.
func WithObserver(obs Observer) Option {
	return func(s *Service) { s.observer = obs }
}

// Service wires the engine components together over one backend.
type Service struct {
	Files     *FileRegistrar
	Schemas   *SchemaIntrospector
	Templates *TemplateBuilder
	Sessions  *SessionStore
	Previews  *PreviewEngine
	Runner    *JobRunner
	Views     *ViewRegistry

	limiter  *UploadLimiter
	recorder RunRecorder
	observer Observer
	cfg      Config
}

// NewService creates a Service.
func NewService(backend Backend, cfg Config, opts ...Option) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ViewIdleTimeout <= 0 {
		cfg.ViewIdleTimeout = 15 * time.Minute
	}

	s := &Service{cfg: cfg, observer: nopObserver{}}
	for _, opt := range opts {
		opt(s)
	}

	s.limiter = NewUploadLimiter(cfg.MaxConcurrentUploads, cfg.UploadMaxWait)
	s.Files = NewFileRegistrar(backend, s.limiter, FileRegistrarConfig{
		MaxFileSize: cfg.MaxFileSize,
		Folder:      cfg.UploadFolder,
		Private:     true,
	})
	s.Schemas = NewSchemaIntrospector(backend, cfg.SchemaCacheSize, cfg.SchemaCacheTTL)
	s.Templates = NewTemplateBuilder(backend, s.Schemas)
	s.Sessions = NewSessionStore(backend, cfg.RefreshDebounce)
	s.Previews = NewPreviewEngine(backend, s.Sessions, s.Schemas)
	s.Runner = NewJobRunner(backend, s.Sessions)

	deps := viewDeps{
		sessions: s.Sessions,
		previews: s.Previews,
		runner:   s.Runner,
		recorder: s.recorder,
		observer: s.observer,
		interval: cfg.PollInterval,
		now:      time.Now,
	}
	s.Views = NewViewRegistry(cfg.MaxViews, cfg.ViewIdleTimeout, func(sessionID string) *View {
		return newView(sessionID, deps)
	})
	return s
}

// CreateImportRequest carries everything needed to start a new session.
type CreateImportRequest struct {
	Schema   string
	Mode     string
	FileName string
	File     io.Reader
}

// CreateImport uploads the file and creates a Pending session for it.
func (s *Service) CreateImport(ctx context.Context, req CreateImportRequest) (Session, error) {
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return Session{}, err
	}
	if req.Schema == "" {
		return Session{}, errors.Mark(errors.New("schema is required"), ErrValidation)
	}

	file, err := s.Files.Register(ctx, req.FileName, req.File)
	if err != nil {
		return Session{}, err
	}

	return s.Sessions.Create(ctx, CreateSessionRequest{
		Schema:  req.Schema,
		Mode:    mode,
		FileRef: file.URL,
	})
}

// UploadLimiter exposes the upload limiter for status reporting.
func (s *Service) UploadLimiter() *UploadLimiter {
	return s.limiter
}

// Shutdown closes every view and waits for in-flight uploads.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Views.CloseAll()
	if err := s.limiter.WaitForDrain(ctx); err != nil {
		slog.Warn("uploads still active at shutdown", "active", s.limiter.ActiveCount())
		return err
	}
	return nil
}
