// Package transport talks to the chat backend REST API. It attaches the
// bearer token, refreshes it once on a 401 and opens event streams.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/metrics"
	"github.com/Rrens/chatstream/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	loginPath   = "auth/jwt/create/"
	refreshPath = "auth/jwt/refresh/"

	maxErrorBody = 64 << 10
	maxBlobBody  = 64 << 20
)

// Options configures a Client
type Options struct {
	// BaseURL is the API root, e.g. http://127.0.0.1:8000/api/
	BaseURL string
	// Timeout bounds every call except streams. Zero means no limit.
	Timeout       time.Duration
	RefreshLeeway time.Duration
	HTTPClient    *http.Client
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

// Client is the backend API client. It is safe for concurrent use.
type Client struct {
	baseURL   string
	timeout   time.Duration
	http      *http.Client
	store     domain.CredentialStore
	inspector *security.TokenInspector
	refreshes singleflight.Group
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewClient creates a client that reads and updates tokens in store
func NewClient(store domain.CredentialStore, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// no client-wide timeout; streams run until the watchdog or caller stops them
		httpClient = &http.Client{}
	}

	baseURL := opts.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Client{
		baseURL:   baseURL,
		timeout:   opts.Timeout,
		http:      httpClient,
		store:     store,
		inspector: security.NewTokenInspector(opts.RefreshLeeway),
		metrics:   opts.Metrics,
		log:       opts.Logger,
	}
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	accept      string
	// public requests never carry a bearer and are never retried
	public bool
}

func jsonRequest(method, path string, in any) (request, error) {
	r := request{method: method, path: path, accept: "application/json"}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return r, fmt.Errorf("failed to encode request: %w", err)
		}
		r.body = body
		r.contentType = "application/json"
	}
	return r, nil
}

// do sends r, refreshing the access token and retrying once if the
// backend answers 401
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	if r.public {
		return c.send(ctx, r, "")
	}

	access, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, r, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	c.log.Debug().Str("path", r.path).Msg("Access token rejected, refreshing")

	access, err = c.refreshAccess(ctx, access)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, r, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		defer resp.Body.Close()
		return nil, &domain.AuthError{Err: readTransportError(resp)}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, r request, access string) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.log.Debug().
		Str("request_id", requestID).
		Str("method", r.method).
		Str("path", r.path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Backend request")

	return resp, nil
}

// accessToken returns a usable access token, refreshing first when the
// stored one is missing or about to expire
func (c *Client) accessToken(ctx context.Context) (string, error) {
	creds, err := c.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.Empty() {
		return "", &domain.AuthError{}
	}
	if creds.Access == "" || (creds.Refresh != "" && c.inspector.NeedsRefresh(creds.Access)) {
		return c.refreshAccess(ctx, creds.Access)
	}
	return creds.Access, nil
}

// refreshAccess exchanges the refresh token for a new access token.
// Concurrent callers share one exchange; a caller whose stale token was
// already replaced gets the replacement without another round trip.
func (c *Client) refreshAccess(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		creds, err := c.store.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to load credentials: %w", err)
		}
		if creds.Access != "" && creds.Access != stale {
			return creds.Access, nil
		}
		if creds.Refresh == "" {
			c.clearCredentials(ctx)
			return "", &domain.AuthError{Err: errors.New("no refresh token")}
		}

		access, refresh, err := c.postRefresh(ctx, creds.Refresh)
		c.metrics.TokenRefresh(err == nil)
		if err != nil {
			var te *domain.TransportError
			if errors.As(err, &te) {
				c.log.Warn().Int("status", te.Status).Msg("Token refresh rejected, clearing credentials")
				c.clearCredentials(ctx)
				return "", &domain.AuthError{Err: err}
			}
			return "", err
		}

		if refresh != "" {
			err = c.store.Set(ctx, domain.Credentials{Access: access, Refresh: refresh})
		} else {
			err = c.store.SetAccess(ctx, access)
		}
		if err != nil {
			return "", fmt.Errorf("failed to store refreshed token: %w", err)
		}

		c.log.Debug().Msg("Access token refreshed")
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) postRefresh(ctx context.Context, refresh string) (string, string, error) {
	r, err := jsonRequest(http.MethodPost, refreshPath, map[string]string{"refresh": refresh})
	if err != nil {
		return "", "", err
	}
	r.public = true

	resp, err := c.send(ctx, r, "")
	if err != nil {
		return "", "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", "", readTransportError(resp)
	}

	var out domain.Credentials
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if out.Access == "" {
		return "", "", errors.New("refresh response carried no access token")
	}
	return out.Access, out.Refresh, nil
}

func (c *Client) clearCredentials(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.log.Error().Err(err).Msg("Failed to clear credentials")
	}
}

// call performs a bounded JSON round trip. out may be nil.
func (c *Client) call(ctx context.Context, r request, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return readTransportError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// fetch performs a bounded call whose response is a binary payload
func (c *Client) fetch(ctx context.Context, path string) (*domain.Blob, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, readTransportError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &domain.Blob{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		FileName:    attachmentName(resp.Header.Get("Content-Disposition")),
	}, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
