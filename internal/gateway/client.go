// Package gateway is the HTTP client for the document backend that owns
// import sessions, schema metadata and uploaded files.
//
// It speaks the backend's RPC dialect (POST/GET /api/method/<dotted.name>)
// and normalizes every answer through [Unwrap] so callers never deal with
// response envelopes. Reads that are safe to repeat are retried with
// backoff; writes are sent exactly once.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// Backend RPC method names.
const (
	MethodGet      = "frappe.client.get"
	MethodSave     = "frappe.client.save"
	MethodGetList  = "frappe.client.get_list"
	MethodUpload   = "upload_file"
	MethodPreview  = "frappe.core.doctype.data_import.data_import.get_preview_from_template"
	MethodStart    = "frappe.core.doctype.data_import.data_import.form_start_import"
	MethodLogs     = "frappe.core.doctype.data_import.data_import.get_import_logs"
	MethodStatus   = "frappe.core.doctype.data_import.data_import.get_import_status"
	MethodTemplate = "frappe.core.doctype.data_import.data_import.download_template"
)

// maxResponseBytes bounds how much of a response body is read into memory.
const maxResponseBytes = 64 << 20

// ObserveFunc receives one call per backend request for instrumentation.
// outcome is "ok", "server_error" or "unavailable".
type ObserveFunc func(method, outcome string, elapsed time.Duration)

// Config holds client settings.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Timeout       time.Duration
	RetryAttempts uint
	RetryDelay    time.Duration
	RateLimit     float64 // requests per second, 0 disables limiting

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client talks to the document backend.
type Client struct {
	base     *url.URL
	auth     string
	http     *http.Client
	limiter  *rate.Limiter
	attempts uint
	delay    time.Duration
	observe  ObserveFunc
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "gateway: parse base URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Newf("gateway: unsupported scheme %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		base:     base,
		http:     httpClient,
		attempts: cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
	}
	if c.attempts == 0 {
		c.attempts = 1
	}
	if c.delay <= 0 {
		c.delay = 200 * time.Millisecond
	}
	if cfg.APIKey != "" {
		c.auth = "token " + cfg.APIKey + ":" + cfg.APISecret
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// SetObserver installs an instrumentation hook.
func (c *Client) SetObserver(fn ObserveFunc) {
	c.observe = fn
}

// ListQuery describes a filtered document listing.
type ListQuery struct {
	Doctype string
	Fields  []string
	Filters [][]any // [["field", "op", value], ...]
	Limit   int
	OrderBy string
}

// UploadRequest describes a file handed to the backend's file store.
type UploadRequest struct {
	FileName string
	Content  io.Reader
	Private  bool
	Folder   string
	Doctype  string // record type the file will be attached to
}

// Artifact is a downloaded binary or text payload.
type Artifact struct {
	Body        []byte
	ContentType string
}

// Get reads one document.
func (c *Client) Get(ctx context.Context, doctype, name string) (json.RawMessage, error) {
	q := url.Values{"doctype": {doctype}, "name": {name}}
	return c.read(ctx, MethodGet, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, MethodGet, q, nil, "")
	})
}

// Save writes doc (full document or patch) and returns the stored copy.
func (c *Client) Save(ctx context.Context, doctype string, doc map[string]any) (json.RawMessage, error) {
	payload := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		payload[k] = v
	}
	payload["doctype"] = doctype

	body, err := json.Marshal(map[string]any{"doc": payload, "action": "Save"})
	if err != nil {
		return nil, errors.Wrap(err, "gateway: encode document")
	}

	resp, err := c.do(ctx, MethodSave, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, MethodSave, nil, bytes.NewReader(body), "application/json")
	})
	if err != nil {
		return nil, err
	}
	return Unwrap(resp)
}

// List returns the documents matching q.
func (c *Client) List(ctx context.Context, q ListQuery) ([]json.RawMessage, error) {
	values := url.Values{"doctype": {q.Doctype}}
	if len(q.Fields) > 0 {
		fields, _ := json.Marshal(q.Fields)
		values.Set("fields", string(fields))
	}
	if len(q.Filters) > 0 {
		filters, err := json.Marshal(q.Filters)
		if err != nil {
			return nil, errors.Wrap(err, "gateway: encode filters")
		}
		values.Set("filters", string(filters))
	}
	if q.Limit > 0 {
		values.Set("limit_page_length", strconv.Itoa(q.Limit))
	}
	if q.OrderBy != "" {
		values.Set("order_by", q.OrderBy)
	}

	var body []byte
	err := c.withRetry(ctx, func() error {
		var err error
		body, err = c.do(ctx, MethodGetList, func() (*http.Request, error) {
			return c.newRequest(ctx, http.MethodGet, MethodGetList, values, nil, "")
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return UnwrapList(body)
}

// Call invokes a state-changing RPC method once.
func (c *Client) Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	body, err := c.do(ctx, method, c.jsonRequest(ctx, method, args))
	if err != nil {
		return nil, err
	}
	return Unwrap(body)
}

// Query invokes a read-only RPC method, retrying transient failures.
func (c *Client) Query(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	return c.read(ctx, method, c.jsonRequest(ctx, method, args))
}

// Download invokes a method whose answer is a file. The body is returned
// as-is together with its content type; JSON-wrapped answers are left for
// the caller to interpret.
func (c *Client) Download(ctx context.Context, method string, args map[string]any) (Artifact, error) {
	var art Artifact
	err := c.withRetry(ctx, func() error {
		req, err := c.jsonRequest(ctx, method, args)()
		if err != nil {
			return err
		}
		body, header, err := c.send(method, req)
		if err != nil {
			return err
		}
		art = Artifact{Body: body, ContentType: header.Get("Content-Type")}
		return nil
	})
	return art, err
}

// Upload stores a file and returns the backend's file record.
func (c *Client) Upload(ctx context.Context, up UploadRequest) (json.RawMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", up.FileName)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: create form file")
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return nil, errors.Wrap(err, "gateway: copy upload content")
	}

	fields := map[string]string{
		"is_private": boolFlag(up.Private),
		"folder":     up.Folder,
		"doctype":    up.Doctype,
		"file_name":  up.FileName,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, errors.Wrapf(err, "gateway: write field %s", k)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "gateway: close multipart writer")
	}

	body, err := c.do(ctx, MethodUpload, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, MethodUpload, nil, bytes.NewReader(buf.Bytes()), mw.FormDataContentType())
	})
	if err != nil {
		return nil, err
	}
	return Unwrap(body)
}

func (c *Client) jsonRequest(ctx context.Context, method string, args map[string]any) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		if args == nil {
			args = map[string]any{}
		}
		body, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Wrapf(err, "gateway: encode arguments for %s", method)
		}
		return c.newRequest(ctx, http.MethodPost, method, nil, bytes.NewReader(body), "application/json")
	}
}

// read performs an idempotent request with retries and unwraps the answer.
func (c *Client) read(ctx context.Context, method string, build func() (*http.Request, error)) (json.RawMessage, error) {
	var body []byte
	err := c.withRetry(ctx, func() error {
		var err error
		body, err = c.do(ctx, method, build)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Unwrap(body)
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
}

func isRetryable(err error) bool {
	if se, ok := AsServerError(err); ok {
		return se.Retryable()
	}
	return errors.Is(err, ErrUnavailable)
}

func (c *Client) do(ctx context.Context, method string, build func() (*http.Request, error)) ([]byte, error) {
	req, err := build()
	if err != nil {
		return nil, err
	}
	body, _, err := c.send(method, req)
	return body, err
}

func (c *Client) send(method string, req *http.Request) ([]byte, http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, nil, errors.Mark(errors.Wrap(err, "gateway: rate limiter"), ErrUnavailable)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(method, "unavailable", start)
		return nil, nil, errors.Mark(errors.Wrapf(err, "gateway: %s", method), ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.record(method, "unavailable", start)
		return nil, nil, errors.Mark(errors.Wrapf(err, "gateway: read %s response", method), ErrUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.record(method, "server_error", start)
		return nil, nil, parseServerError(resp.StatusCode, body)
	}

	c.record(method, "ok", start)
	return body, resp.Header, nil
}

func (c *Client) record(method, outcome string, start time.Time) {
	if c.observe != nil {
		c.observe(method, outcome, time.Since(start))
	}
}

func (c *Client) newRequest(ctx context.Context, httpMethod, method string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/api/method/" + method
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, u.String(), body)
	if err != nil {
		return nil, errors.Wrapf(err, "gateway: build %s request", method)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	return req, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
