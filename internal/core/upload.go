package core

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/cockroachdb/errors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"
)

// DefaultMaxFileSize is the upload size limit when none is configured (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// acceptedUploads maps file extensions to the content types they must sniff as.
var acceptedUploads = map[string][]string{
	".csv":  {"text/plain", "text/csv"},
	".xlsx": {contentTypeXLSX},
	".xls":  {"application/vnd.ms-excel", "application/x-ole-storage"},
}

// RegisteredFile is a file stored by the backend.
type RegisteredFile struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// FileRegistrarConfig holds registrar limits.
type FileRegistrarConfig struct {
	MaxFileSize int64
	Folder      string
	Private     bool
}

// FileRegistrar hands uploaded import files to the backend's file store.
type FileRegistrar struct {
	backend Backend
	limiter *UploadLimiter
	cfg     FileRegistrarConfig
}

// NewFileRegistrar creates a registrar. limiter bounds concurrent uploads.
func NewFileRegistrar(backend Backend, limiter *UploadLimiter, cfg FileRegistrarConfig) *FileRegistrar {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Folder == "" {
		cfg.Folder = "Home"
	}
	return &FileRegistrar{backend: backend, limiter: limiter, cfg: cfg}
}

// Register validates and uploads a file, returning its stable URL.
func (fr *FileRegistrar) Register(ctx context.Context, name string, content io.Reader) (RegisteredFile, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if content == nil || name == "" || name == "." {
		return RegisteredFile{}, errors.Mark(errors.New("no file provided"), ErrValidation)
	}

	if err := fr.limiter.Acquire(ctx); err != nil {
		return RegisteredFile{}, err
	}
	defer fr.limiter.Release()

	start := time.Now()
	data, err := io.ReadAll(newCappedReader(content, fr.cfg.MaxFileSize))
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return RegisteredFile{}, errors.Mark(err, ErrValidation)
		}
		return RegisteredFile{}, errors.Wrap(err, "read upload")
	}
	if len(data) == 0 {
		return RegisteredFile{}, errors.Mark(errors.New("empty file"), ErrValidation)
	}

	contentType, err := sniffUpload(name, data)
	if err != nil {
		return RegisteredFile{}, err
	}

	raw, err := fr.backend.Upload(ctx, gateway.UploadRequest{
		FileName: name,
		Content:  bytes.NewReader(data),
		Private:  fr.cfg.Private,
		Folder:   fr.cfg.Folder,
		Doctype:  SessionDoctype,
	})
	if err != nil {
		return RegisteredFile{}, classify(err, "upload file")
	}

	url := gjson.GetBytes(raw, "file_url").String()
	if url == "" {
		return RegisteredFile{}, errors.Mark(errors.New("upload response has no file_url"), ErrMalformedPayload)
	}

	slog.Info("file registered",
		"file", name,
		"url", url,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return RegisteredFile{
		URL:         url,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// sniffUpload checks the extension is accepted and the content agrees with it.
func sniffUpload(name string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	wanted, ok := acceptedUploads[ext]
	if !ok {
		return "", errors.Mark(
			errors.Newf("unsupported file type %q: upload a .csv, .xlsx or .xls file", ext), ErrValidation)
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, w := range wanted {
			if m.Is(w) {
				return detected.String(), nil
			}
		}
	}
	return "", errors.Mark(
		errors.Newf("file content (%s) does not match extension %s", detected.String(), ext), ErrValidation)
}
