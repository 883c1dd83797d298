// Package transport provides the HTTP plumbing shared by the job API
// clients: JSON and multipart requests, response decoding, and the
// error-body handling both job families rely on.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// File is one input file for a multipart submission.
type File struct {
	Name    string
	Content []byte
}

// StatusError is returned for a non-2xx response. Message carries the
// parsed {error} body when one could be decoded, otherwise the HTTP
// status text.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Client issues requests against the job API base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a transport client. A zero timeout leaves the underlying
// http.Client default in place.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// PostJSON sends body as JSON and decodes a 2xx response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// PostMultipart sends files as a multipart form, one part per file under
// the given field name, and decodes a 2xx response into out.
func (c *Client) PostMultipart(ctx context.Context, path, field string, files []File, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := writer.CreateFormFile(field, f.Name)
		if err != nil {
			return fmt.Errorf("failed to create form file %q: %w", f.Name, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return fmt.Errorf("failed to write form file %q: %w", f.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req, out)
}

// GetJSON issues a GET with the given query parameters and decodes a 2xx
// response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	return c.do(req, out)
}

// do executes the request and decodes the response. Transport failures
// are returned unchanged; non-2xx responses become a *StatusError.
func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Request failed",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Any("error", err),
		)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("Request completed",
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(raw)),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, raw)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}

	return nil
}

// decodeError extracts a message from a failed response. The body is
// best-effort {error} JSON; anything unparseable falls back to the HTTP
// status text and must never surface a secondary parse error.
func decodeError(resp *http.Response, raw []byte) *StatusError {
	message := http.StatusText(resp.StatusCode)
	if message == "" {
		message = resp.Status
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		message = body.Error
	}

	return &StatusError{
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}
