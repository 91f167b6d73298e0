// Package store is a thin REST client for the shared document store. It speaks
// the backend's typed-value encoding and supports document fetch, creation with
// a server-assigned id, and field-masked partial updates. Every call carries
// the session credential as a bearer token.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aeroaid/dronewatch/internal/errs"
)

const defaultBaseURL = "https://firestore.googleapis.com/v1/projects/%s/databases/(default)/documents"

// Client issues authenticated document requests. Safe for concurrent use.
type Client struct {
	baseURL string
	hc      *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithBaseURL overrides the document root URL (tests, self-hosted backends).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithLogger attaches a logger for request-level diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the given backend project.
func New(projectID string, opts ...Option) *Client {
	c := &Client{
		baseURL: fmt.Sprintf(defaultBaseURL, projectID),
		hc:      &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// document is the wire shape of a stored document.
type document struct {
	Name   string           `json:"name,omitempty"`
	Fields map[string]Value `json:"fields"`
}

// Get fetches the fields of one document.
func (c *Client) Get(ctx context.Context, token, collection, id string) (map[string]Value, error) {
	u := c.baseURL + "/" + collection + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building get request: %w", err)
	}
	doc, err := c.do(req, token)
	if err != nil {
		return nil, err
	}
	return doc.Fields, nil
}

// Create stores a new document in the collection and returns the server-assigned
// document name. Failure implies no id was assigned, so retrying is always safe.
func (c *Client) Create(ctx context.Context, token, collection string, fields map[string]Value) (string, error) {
	body, err := json.Marshal(document{Fields: fields})
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	u := c.baseURL + "/" + collection
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building create request: %w", err)
	}
	doc, err := c.do(req, token)
	if err != nil {
		return "", err
	}
	return doc.Name, nil
}

// Patch updates exactly the masked fields of a document, leaving all others
// untouched. Every mask entry must name a field in the payload and vice versa;
// a mismatch is a programming error and is rejected before any request is sent.
func (c *Client) Patch(ctx context.Context, token, collection, id string, fields map[string]Value, mask []string) error {
	if err := checkMask(fields, mask); err != nil {
		return err
	}
	body, err := json.Marshal(document{Fields: fields})
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	q := url.Values{}
	for _, path := range mask {
		q.Add("updateMask.fieldPaths", path)
	}
	u := c.baseURL + "/" + collection + "/" + url.PathEscape(id) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building patch request: %w", err)
	}
	_, err = c.do(req, token)
	return err
}

func checkMask(fields map[string]Value, mask []string) error {
	seen := make(map[string]struct{}, len(mask))
	for _, path := range mask {
		if _, dup := seen[path]; dup {
			return fmt.Errorf("field mask entry %q is duplicated", path)
		}
		seen[path] = struct{}{}
		if _, ok := fields[path]; !ok {
			return fmt.Errorf("field mask entry %q has no payload field", path)
		}
	}
	if len(seen) != len(fields) {
		return fmt.Errorf("field mask %v does not cover payload fields %v", mask, fieldNames(fields))
	}
	return nil
}

func fieldNames(fields map[string]Value) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) do(req *http.Request, token string) (*document, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("document store error",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: %s %s: status %d: %s",
			errs.ErrBackendRejected, req.Method, req.URL.Path, resp.StatusCode, snippet(body))
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedResponse, err)
	}
	return &doc, nil
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
