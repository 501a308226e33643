// Package gateway is the typed HTTP layer every backend call goes through: JSON and multipart
// requests, bearer-token injection, raw downloads and status classification. It never retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fotobudka/internal/infra"
)

// TokenSource supplies the bearer token for authenticated calls. An empty token means the
// request is sent without an Authorization header; the server decides whether that is fatal.
type TokenSource interface {
	AccessToken() string
}

// Options configures the gateway.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Tokens         TokenSource
	Logger         *infra.Logger
}

// Gateway performs HTTP calls against the generation backend.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger

	mu     sync.RWMutex
	tokens TokenSource
}

// New constructs a gateway with sane defaults and injected dependencies.
func New(opts Options) (*Gateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Gateway{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     infra.OrDiscard(opts.Logger),
		tokens:     opts.Tokens,
	}, nil
}

// SetTokenSource replaces the token source. The composition root calls it once the auth
// session, which itself needs the gateway, exists.
func (g *Gateway) SetTokenSource(tokens TokenSource) {
	g.mu.Lock()
	g.tokens = tokens
	g.mu.Unlock()
}

// BaseURL returns the configured backend root.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// Do sends a JSON request and decodes a JSON response into out. body and out may be nil.
func (g *Gateway) Do(ctx context.Context, method, path string, body any, useAuth bool, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.resolve(path), reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return g.roundTrip(req, useAuth, out)
}

// DoMultipart sends a multipart/form-data request made of text fields followed by one
// optional binary part, and decodes a JSON response into out.
func (g *Gateway) DoMultipart(ctx context.Context, path string, fields []Field, file *FilePart, useAuth bool, out any) error {
	payload, contentType, err := encodeMultipart(fields, file)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.resolve(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return g.roundTrip(req, useAuth, out)
}

// Download fetches raw bytes. rawURL may be absolute or relative to the base URL.
func (g *Gateway) Download(ctx context.Context, rawURL string, useAuth bool) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := g.DownloadTo(ctx, rawURL, useAuth, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadTo streams the body of rawURL into w and returns the number of bytes written.
func (g *Gateway) DownloadTo(ctx context.Context, rawURL string, useAuth bool, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.resolve(rawURL), nil)
	if err != nil {
		return 0, fmt.Errorf("gateway: build download request: %w", err)
	}
	resp, err := g.send(req, useAuth)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &HTTPStatusError{Code: resp.StatusCode, Body: raw}
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &NetworkError{Method: req.Method, Path: req.URL.Path, Err: err}
	}
	return n, nil
}

func (g *Gateway) roundTrip(req *http.Request, useAuth bool, out any) error {
	resp, err := g.send(req, useAuth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: req.Method, Path: req.URL.Path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{Code: resp.StatusCode, Body: raw}
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &DecodingError{Err: errors.New("empty response body")}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodingError{Err: err}
	}
	return nil
}

func (g *Gateway) send(req *http.Request, useAuth bool) (*http.Response, error) {
	if useAuth {
		if token := g.accessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Debug().
			Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Msg("gateway: request failed")
		return nil, &NetworkError{Method: req.Method, Path: req.URL.Path, Err: err}
	}
	g.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("gateway: request done")
	return resp, nil
}

func (g *Gateway) accessToken() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.tokens == nil {
		return ""
	}
	return strings.TrimSpace(g.tokens.AccessToken())
}

func (g *Gateway) resolve(path string) string {
	if IsAbsoluteURL(path) {
		return path
	}
	return g.baseURL + "/" + strings.TrimLeft(path, "/")
}

// IsAbsoluteURL reports whether ref carries its own http(s) scheme and host.
func IsAbsoluteURL(ref string) bool {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
