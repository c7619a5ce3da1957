// Package bluesky is a small XRPC client for the Bluesky app view and PDS:
// session management, search, profiles, author feeds and record creation.
package bluesky

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"skyherd/internal/network"
	"skyherd/internal/types"
)

// Config configures a Client.
type Config struct {
	ServiceURL string
	Identifier string // handle or email
	Password   string // app password
	Timeout    time.Duration
	// RequestsPerSecond and Burst pace every outgoing request. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

type session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

// Client implements network.Client over XRPC.
type Client struct {
	baseURL    string
	identifier string
	password   string
	http       *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu      sync.RWMutex
	session *session
	// refreshMu serializes refreshes; the refresh token is single use.
	refreshMu sync.Mutex
}

var _ network.Client = (*Client)(nil)

// New builds a client. Call Login before anything else.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = "https://bsky.social"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		identifier: cfg.Identifier,
		password:   cfg.Password,
		http:       hc,
		limiter:    limiter,
		logger:     logger,
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Login creates a session with the configured identifier and app password.
func (c *Client) Login(ctx context.Context) error {
	var s session
	err := c.call(ctx, http.MethodPost, "com.atproto.server.createSession", nil,
		map[string]string{"identifier": c.identifier, "password": c.password}, &s, "")
	if err != nil {
		return classify("login", c.identifier, err)
	}
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	c.logger.Info("logged in", zap.String("handle", s.Handle), zap.String("did", s.DID))
	return nil
}

// Self returns the logged-in account, or a zero Author before Login.
func (c *Client) Self() types.Author {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return types.Author{}
	}
	return types.Author{DID: c.session.DID, Handle: c.session.Handle}
}

func (c *Client) tokens() (access, refresh string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return "", "", false
	}
	return c.session.AccessJwt, c.session.RefreshJwt, true
}

// refresh trades the refresh token for a new session, falling back to a
// fresh login when the refresh token is no longer accepted. stale is the
// access token that was rejected; if the session has moved on since, another
// caller already refreshed and nothing is done.
func (c *Client) refresh(ctx context.Context, stale string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	access, refreshJwt, ok := c.tokens()
	if !ok {
		return network.ErrNotLoggedIn
	}
	if access != stale {
		return nil
	}
	var s session
	err := c.call(ctx, http.MethodPost, "com.atproto.server.refreshSession", nil, nil, &s, refreshJwt)
	if err != nil {
		c.logger.Warn("session refresh failed, logging in again", zap.Error(err))
		return c.Login(ctx)
	}
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	c.logger.Debug("session refreshed")
	return nil
}

// authed runs an authenticated call, refreshing the session once if the
// access token has expired.
func (c *Client) authed(ctx context.Context, method, nsid string, params url.Values, body, out any, op, target string) error {
	access, _, ok := c.tokens()
	if !ok {
		return types.NewTransient(op, target, network.ErrNotLoggedIn)
	}
	err := c.call(ctx, method, nsid, params, body, out, access)
	if isExpired(err) {
		if rerr := c.refresh(ctx, access); rerr != nil {
			return classify(op, target, rerr)
		}
		access, _, _ = c.tokens()
		err = c.call(ctx, method, nsid, params, body, out, access)
	}
	return classify(op, target, err)
}

// =============================================================================
// TRANSPORT
// =============================================================================

// XRPCError is a non-2xx XRPC response.
type XRPCError struct {
	Status  int
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *XRPCError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("xrpc %d %s: %s", e.Status, e.Name, e.Message)
	}
	return fmt.Sprintf("xrpc %d", e.Status)
}

func isExpired(err error) bool {
	var xe *XRPCError
	if !errors.As(err, &xe) {
		return false
	}
	return xe.Status == http.StatusUnauthorized || xe.Name == "ExpiredToken" || xe.Name == "InvalidToken"
}

// classify wraps err as an ActionError. Client errors are permanent except
// for auth and rate limiting.
func classify(op, target string, err error) error {
	if err == nil {
		return nil
	}
	var ae *types.ActionError
	if errors.As(err, &ae) {
		return err
	}
	var xe *XRPCError
	if errors.As(err, &xe) && xe.Status >= 400 && xe.Status < 500 &&
		xe.Status != http.StatusUnauthorized && xe.Status != http.StatusTooManyRequests && !isExpired(xe) {
		return types.NewPermanent(op, target, err)
	}
	return types.NewTransient(op, target, err)
}

func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, body, out any, token string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + "/xrpc/" + nsid
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("xrpc", zap.String("nsid", nsid), zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		xe := &XRPCError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, xe)
		return xe
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse %s response: %w", nsid, err)
		}
	}
	return nil
}
