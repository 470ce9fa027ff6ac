// Package remote delivers queued mutations to the learning backend
// over HTTP and answers reachability probes against its health endpoint.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"azbuka/internal/config"
	"azbuka/internal/domain"
	"azbuka/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// APIError is an application-level rejection from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Client implements domain.Dispatcher and domain.Prober.
type Client struct {
	baseURL    string
	healthPath string
	routes     map[string]string
	permanent  map[int]bool
	httpClient *http.Client
	logger     *zerolog.Logger
}

// NewClient builds the backend client. Authentication is either a
// static bearer token or the OAuth2 client-credentials flow; requests
// go out unauthenticated when neither is configured.
func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	var httpClient *http.Client
	switch {
	case cfg.OAuth.Configured():
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		httpClient = cc.Client(context.Background())
	case cfg.Token != "":
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), source)
	default:
		httpClient = &http.Client{}
	}
	httpClient.Timeout = cfg.Timeout.Duration

	permanent := make(map[int]bool, len(cfg.PermanentStatuses))
	for _, status := range cfg.PermanentStatuses {
		permanent[status] = true
	}

	routes := make(map[string]string, len(cfg.Routes))
	for kind, path := range cfg.Routes {
		routes[kind] = path
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		healthPath: cfg.HealthPath,
		routes:     routes,
		permanent:  permanent,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Dispatch sends one mutation. The item ID doubles as an idempotency
// key so a retried delivery cannot apply twice server-side. Transport
// errors come back retryable; statuses listed in permanent_statuses
// (and unroutable kinds) come back marked permanent.
func (c *Client) Dispatch(ctx context.Context, item *models.QueueItem) error {
	path, ok := c.routes[item.Kind]
	if !ok {
		return domain.Permanent(fmt.Errorf("no route for kind %q", item.Kind))
	}

	req, err := http.NewRequestWithContext(ctx, methodFor(item.Kind), c.baseURL+path, bytes.NewReader(item.Payload))
	if err != nil {
		return domain.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", item.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver mutation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	if c.permanent[resp.StatusCode] {
		return domain.Permanent(apiErr)
	}
	return apiErr
}

// Probe checks the backend health endpoint.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

// profile and settings are whole-document replacements; everything
// else appends.
func methodFor(kind string) string {
	switch kind {
	case models.KindProfileUpdate, models.KindSettingsUpdate:
		return http.MethodPut
	default:
		return http.MethodPost
	}
}
