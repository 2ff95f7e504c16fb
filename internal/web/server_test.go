package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/importdesk/internal/config"
	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/JonMunkholm/importdesk/internal/history"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Upload: config.UploadConfig{MaxFileSize: 1 << 20},
	}
}

type fixture struct {
	backend *stubBackend
	svc     *core.Service
	server  *Server
}

func newFixture(t *testing.T, cfg *config.Config, opts Options) *fixture {
	t.Helper()
	b := newStubBackend()
	b.addSession("IMP-0001", "Pending")
	b.addSession("IMP-0002", "Success")

	svc := core.NewService(b, core.Config{
		PollInterval:         time.Hour,
		MaxConcurrentUploads: 2,
		UploadMaxWait:        time.Second,
	})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	return &fixture{backend: b, svc: svc, server: NewServer(svc, cfg, opts)}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	body := decode[struct {
		Status  string                   `json:"status"`
		Uploads core.UploadLimiterStatus `json:"uploads"`
	}](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, core.UploadLimiterStatus{Active: 0, Max: 2, Available: 2}, body.Uploads)
}

func TestListSchemas(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/schemas", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct{ Schemas []string }](t, rec)
	assert.Equal(t, []string{"Contact", "Item"}, body.Schemas)
}

func TestFields(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/schemas/Contact/fields?mode=update", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Fields   []core.FieldInfo `json:"fields"`
		Selected []string         `json:"selected"`
	}](t, rec)
	require.NotEmpty(t, body.Fields)
	assert.Equal(t, "name", body.Fields[0].Fieldname)
	assert.True(t, body.Fields[0].Required)
	assert.Equal(t, []string{"name", "email"}, body.Selected)
}

func TestFields_UnknownMode(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/schemas/Contact/fields?mode=upsert", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL005", decode[ErrorResponse](t, rec).Code)
}

func TestTemplateDownload(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/schemas/Contact/template",
		strings.NewReader(`{"fields":["email","first_name"],"file_type":"csv"}`))
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Contact_Template.csv"`)
	assert.Equal(t, "Email,First Name\n", rec.Body.String())
}

func TestTemplateDownload_KeepsMandatoryFields(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/schemas/Contact/template",
		strings.NewReader(`{"fields":["first_name"],"mode":"update"}`))
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	args := f.backend.downloadArgs()
	require.NotNil(t, args)
	assert.JSONEq(t, `{"Contact":["name","email","first_name"]}`, args["export_fields"].(string))
}

func TestTemplateDownload_BadBody(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/schemas/Contact/template", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartUpload(t *testing.T, fields map[string]string, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCreateImport(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	req := multipartUpload(t, map[string]string{"schema": "Contact", "mode": "insert"},
		"contacts.csv", "Email,Name\nann@example.com,Ann\n")
	rec := f.do(req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[core.Session](t, rec)
	assert.Equal(t, "IMP-0100", session.ID)
	assert.Equal(t, "/private/files/contacts.csv", session.FileRef)
	assert.Equal(t, "/api/imports/IMP-0100", rec.Header().Get("Location"))
}

func TestCreateImport_NoFile(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(multipartUpload(t, map[string]string{"schema": "Contact"}, "", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL002", decode[ErrorResponse](t, rec).Code)
}

func TestGetImport(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/imports/IMP-0001", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[core.ViewState](t, rec)
	assert.Equal(t, core.StatusPending, state.Session.Status)
	assert.Equal(t, "Pending", state.Badge.Label)
	assert.Equal(t, 1, f.svc.Views.Len())
}

func TestGetImport_NotFound(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/imports/IMP-9999", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "GW001", decode[ErrorResponse](t, rec).Code)
	assert.Zero(t, f.svc.Views.Len())
}

func TestUpdateMapping(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	req := httptest.NewRequest(http.MethodPut, "/api/imports/IMP-0001/mapping/1",
		strings.NewReader(`{"field":"first_name"}`))
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[core.PreviewSnapshot](t, rec)
	require.Len(t, snap.Columns, 2)
	assert.Equal(t, "first_name", snap.Columns[1].MappedField)
	assert.Equal(t, core.ColumnMapped, snap.Columns[1].Class)
}

func TestUpdateMapping_BadColumn(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodPut, "/api/imports/IMP-0001/mapping/x", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL007", decode[ErrorResponse](t, rec).Code)
}

func TestUpdateMapping_Frozen(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodPut, "/api/imports/IMP-0002/mapping/1",
		strings.NewReader(`{"field":"first_name"}`)))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "MAP001", decode[ErrorResponse](t, rec).Code)
}

func TestStart_NotPending(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/imports/IMP-0002/start", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB001", decode[ErrorResponse](t, rec).Code)
}

func TestStart(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/imports/IMP-0001/start", nil))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	state := decode[core.ViewState](t, rec)
	assert.True(t, f.backend.wasStarted())
	require.NotEmpty(t, state.Notices)
	assert.Equal(t, "Import started in background", state.Notices[len(state.Notices)-1].Message)
}

func TestLogs(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/imports/IMP-0002/logs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct{ Logs []core.LogEntry }](t, rec)
	require.Len(t, body.Logs, 1)
	assert.Equal(t, []int{1}, body.Logs[0].RowIndexes)
}

func TestCloseView(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	f.do(httptest.NewRequest(http.MethodGet, "/api/imports/IMP-0001", nil))
	require.Equal(t, 1, f.svc.Views.Len())

	rec := f.do(httptest.NewRequest(http.MethodDelete, "/api/imports/IMP-0001/view", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.svc.Views.Len())
}

func TestBadge(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/imports/IMP-0002/badge", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "bg-green-100")
	assert.Contains(t, rec.Body.String(), ">Success<")
}

func TestHTMXErrorPartial(t *testing.T) {
	f := newFixture(t, testConfig(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/imports/IMP-9999", nil)
	req.Header.Set("HX-Request", "true")
	rec := f.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `role="alert"`)
	assert.Contains(t, rec.Body.String(), "Code: GW001")
}

type stubHistory struct {
	opts history.Options
}

func (h *stubHistory) Recent(_ context.Context, opts history.Options) (*history.Page, error) {
	h.opts = opts
	return &history.Page{
		Runs:     []core.RunRecord{{SessionID: "IMP-0002", Status: core.StatusSuccess}},
		Total:    1,
		Page:     1,
		PageSize: opts.Limit,
	}, nil
}

func TestHistory(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, testConfig(), Options{})
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/history", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "HIST001", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("lists runs", func(t *testing.T) {
		h := &stubHistory{}
		f := newFixture(t, testConfig(), Options{History: h})
		rec := f.do(httptest.NewRequest(http.MethodGet,
			"/api/history?schema=Contact&status=Success&limit=10&since=2026-01-01T00:00:00Z", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[history.Page](t, rec)
		require.Len(t, page.Runs, 1)
		assert.Equal(t, "Contact", h.opts.Schema)
		assert.Equal(t, core.StatusSuccess, h.opts.Status)
		assert.Equal(t, 10, h.opts.Limit)
		assert.Equal(t, 2026, h.opts.Since.Year())
	})

	t.Run("bad since", func(t *testing.T) {
		f := newFixture(t, testConfig(), Options{History: &stubHistory{}})
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/history?since=yesterday", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	f := newFixture(t, cfg, Options{})

	for i := 0; i < 2; i++ {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	f := newFixture(t, cfg, Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/schemas", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/schemas", nil)
	req.Header.Set("X-API-Key", "k1")
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestEvents_StreamsAndClosesOnDisconnect(t *testing.T) {
	f := newFixture(t, testConfig(), Options{Heartbeat: 20 * time.Millisecond})
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/imports/IMP-0001/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var sawState, sawPing bool
	deadline := time.Now().Add(2 * time.Second)
	for (!sawState || !sawPing) && time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: state"):
			sawState = true
		case strings.HasPrefix(line, ": ping"):
			sawPing = true
		}
	}
	assert.True(t, sawState, "no state event")
	assert.True(t, sawPing, "no heartbeat")
	require.Equal(t, 1, f.svc.Views.Len())

	cancel()
	assert.Eventually(t, func() bool { return f.svc.Views.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errors.Mark(errors.New("schema is required"), core.ErrValidation), http.StatusBadRequest},
		{"too large", errors.Mark(errors.Mark(errors.New("file too large"), core.ErrFileTooLarge), core.ErrValidation), http.StatusRequestEntityTooLarge},
		{"busy", errors.Wrap(core.ErrTooManyUploads, "register"), http.StatusServiceUnavailable},
		{"frozen", errors.Mark(errors.New("session is Success"), core.ErrMappingFrozen), http.StatusConflict},
		{"job start", errors.Mark(errors.New("rejected"), core.ErrJobStart), http.StatusConflict},
		{"closed", core.ErrViewClosed, http.StatusGone},
		{"not found", errors.Mark(errors.New("missing"), core.ErrNotFound), http.StatusNotFound},
		{"forbidden", errors.Mark(&gateway.ServerError{Status: 403, Message: "Not permitted"}, core.ErrTransport), http.StatusForbidden},
		{"transport", errors.Mark(errors.New("connection refused"), core.ErrTransport), http.StatusBadGateway},
		{"malformed", errors.Mark(errors.New("bad envelope"), core.ErrMalformedPayload), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
