package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "goIdentity"
	maxBodyBytes     = 1 << 20
)

// Config holds the client credentials and endpoints of one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL is the authorization-code exchange endpoint.
	TokenURL string
	// APIBaseURL is the REST root the profile paths are resolved against.
	APIBaseURL  string
	RedirectURI string
	UserAgent   string
	// Timeout bounds every outbound call. Zero means 10s.
	Timeout time.Duration
	// HTTPClient overrides the default instrumented client. When its own
	// Timeout is zero, a copy carrying Timeout is used instead.
	HTTPClient *http.Client
}

func (c Config) validate(name string) error {
	switch {
	case c.ClientID == "":
		return fmt.Errorf("oauth %s: client id required", name)
	case c.ClientSecret == "":
		return fmt.Errorf("oauth %s: client secret required", name)
	case c.TokenURL == "":
		return fmt.Errorf("oauth %s: token url required", name)
	case c.APIBaseURL == "":
		return fmt.Errorf("oauth %s: api base url required", name)
	}
	return nil
}

// client is the shared transport for every provider adapter.
type client struct {
	cfg  Config
	http *http.Client
}

func newClient(cfg Config) *client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	hc := cfg.HTTPClient
	switch {
	case hc == nil:
		hc = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		}
	case hc.Timeout == 0:
		// Copy so the caller's client keeps its own settings.
		c := *hc
		c.Timeout = cfg.Timeout
		hc = &c
	}
	return &client{cfg: cfg, http: hc}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
}

// exchange trades code for an access token. Credentials go both in the form
// body and as HTTP Basic auth, since providers disagree on which they read.
func (c *client) exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	if c.cfg.RedirectURI != "" {
		form.Set("redirect_uri", c.cfg.RedirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", ErrUpstream, err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	var payload tokenResponse
	if err := c.do(req, &payload); err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: token response without access_token (%s)", ErrUpstream, payload.Error)
	}
	return payload.AccessToken, nil
}

// getJSON performs an authenticated GET against the API base URL.
func (c *client) getJSON(ctx context.Context, accessToken, path string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUpstream, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxBodyBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, body)
		return fmt.Errorf("%w: %s %s: status %d", ErrUpstream, req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, req.URL.Path, err)
	}
	return nil
}
