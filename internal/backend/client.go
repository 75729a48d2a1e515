// Package backend talks to the Sygla REST API on behalf of console sessions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/rooby-r/sygla-h2o-sub001/internal/auth"
	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
)

// RefreshLeeway is how long before expiry an access token is refreshed proactively.
const RefreshLeeway = 30 * time.Second

// Client wraps interactions with the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	refreshes  singleflight.Group
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// Login implements auth.Backend.
func (c *Client) Login(ctx context.Context, creds auth.Credentials) (*auth.LoginResult, error) {
	var res auth.LoginResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, creds, &res); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %w", shared.ErrInvalidCredentials, err)
		}
		return nil, err
	}
	if res.User == nil || res.Tokens.Access == "" {
		return nil, fmt.Errorf("backend: login answer without user or token: %w", shared.ErrInvalidCredentials)
	}
	return &res, nil
}

// Logout implements auth.Backend.
func (c *Client) Logout(ctx context.Context, tokens auth.Tokens) error {
	body := map[string]string{"refresh": tokens.RefreshToken()}
	return c.do(ctx, http.MethodPost, "/auth/logout", tokens, body, nil)
}

// Profile implements auth.Backend.
func (c *Client) Profile(ctx context.Context, tokens auth.Tokens) (*auth.User, error) {
	var user auth.User
	if err := c.do(ctx, http.MethodGet, "/auth/profile", tokens, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile implements auth.Backend.
func (c *Client) UpdateProfile(ctx context.Context, tokens auth.Tokens, patch auth.UserPatch) (*auth.User, error) {
	var user auth.User
	if err := c.do(ctx, http.MethodPatch, "/auth/profile", tokens, patch, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 && user.Email == "" {
		return nil, nil
	}
	return &user, nil
}

// ChangePassword implements auth.Backend.
func (c *Client) ChangePassword(ctx context.Context, tokens auth.Tokens, change auth.PasswordChange) error {
	return c.do(ctx, http.MethodPost, "/auth/change-password", tokens, change, nil)
}

// CheckAccess implements auth.Backend.
func (c *Client) CheckAccess(ctx context.Context, tokens auth.Tokens) (*auth.AccessStatus, error) {
	var status auth.AccessStatus
	if err := c.do(ctx, http.MethodGet, "/auth/check-access", tokens, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// UnreadCount returns the number of unread notifications of the session's user.
func (c *Client) UnreadCount(ctx context.Context, tokens auth.Tokens) (int, error) {
	var res struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", tokens, nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// do sends one call. Authenticated calls refresh an expiring access token first
// and are retried once after a refresh when the backend answers 401.
func (c *Client) do(ctx context.Context, method, path string, tokens auth.Tokens, in, out any) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode %s: %w", path, err)
		}
		payload = data
	}

	if tokens != nil && c.expiring(tokens.AccessToken()) && tokens.RefreshToken() != "" {
		if err := c.refresh(ctx, tokens); err != nil {
			if errors.Is(err, shared.ErrUnauthenticated) {
				return err
			}
			c.logger.Warn("proactive token refresh", slog.String("path", path), slog.Any("error", err))
		}
	}

	status, body, err := c.send(ctx, method, path, bearer(tokens), payload)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && tokens != nil && tokens.RefreshToken() != "" {
		if err := c.refresh(ctx, tokens); err != nil {
			return err
		}
		status, body, err = c.send(ctx, method, path, bearer(tokens), payload)
		if err != nil {
			return err
		}
	}
	if status >= 400 {
		return decodeAPIError(status, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, token string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("backend: read %s: %w", path, err)
	}
	return resp.StatusCode, data, nil
}

// refresh obtains a new access token. Concurrent refreshes of one refresh token
// share a single backend call.
func (c *Client) refresh(ctx context.Context, tokens auth.Tokens) error {
	refreshToken := tokens.RefreshToken()
	ch := c.refreshes.DoChan(refreshToken, func() (any, error) {
		return c.exchange(context.WithoutCancel(ctx), refreshToken)
	})
	var access string
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		access = res.Val.(string)
	}
	if err := tokens.RotateAccess(ctx, access); err != nil {
		return fmt.Errorf("backend: store refreshed token: %w", err)
	}
	return nil
}

func (c *Client) exchange(ctx context.Context, refreshToken string) (string, error) {
	payload, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", err
	}
	status, body, err := c.send(ctx, http.MethodPost, "/auth/token/refresh", "", payload)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		apiErr := decodeAPIError(status, body)
		if status < 500 {
			return "", fmt.Errorf("backend: refresh rejected: %w: %w", shared.ErrUnauthenticated, apiErr)
		}
		return "", apiErr
	}
	var res struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Access == "" {
		return "", fmt.Errorf("backend: refresh answer without access token: %w", shared.ErrUnauthenticated)
	}
	return res.Access, nil
}

// expiring reports whether a JWT access token expires within RefreshLeeway.
// Tokens that are not JWTs or carry no expiry are never refreshed proactively.
func (c *Client) expiring(token string) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.Before(c.now().Add(RefreshLeeway))
}

func bearer(tokens auth.Tokens) string {
	if tokens == nil {
		return ""
	}
	return tokens.AccessToken()
}

var _ auth.Backend = (*Client)(nil)
