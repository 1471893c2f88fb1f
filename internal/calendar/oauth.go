package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/quantumlife/responsibility/internal/core"
)

// DefaultCallbackPort is where the local OAuth callback listens
const DefaultCallbackPort = 8765

// OAuthConfig holds Google Calendar OAuth configuration
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// NewOAuthConfig returns a config requesting free/busy reads and event writes
func NewOAuthConfig(clientID, clientSecret string) OAuthConfig {
	return OAuthConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  fmt.Sprintf("http://localhost:%d/callback", DefaultCallbackPort),
		Scopes: []string{
			gcal.CalendarReadonlyScope,
			gcal.CalendarEventsScope,
		},
	}
}

// Configured reports whether client credentials are present
func (c OAuthConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// OAuthClient handles OAuth2 authentication for Google Calendar
type OAuthClient struct {
	config *oauth2.Config
}

// NewOAuthClient creates a new OAuth client
func NewOAuthClient(cfg OAuthConfig) *OAuthClient {
	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthURL returns the URL for user authorization
func (c *OAuthClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code for tokens
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.config.Exchange(ctx, code)
}

// TokenSource returns a refreshing token source seeded with token
func (c *OAuthClient) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	return c.config.TokenSource(ctx, token)
}

// Authorize runs the browser flow with a local callback server. prompt is
// called with the URL the user must open.
func (c *OAuthClient) Authorize(ctx context.Context, prompt func(url string)) (*oauth2.Token, error) {
	state := fmt.Sprintf("resp-calendar-%d", time.Now().UnixNano())

	server := NewLocalAuthServer(state)
	if err := server.Start(DefaultCallbackPort); err != nil {
		return nil, fmt.Errorf("failed to start auth server: %w", err)
	}
	defer server.Stop(context.Background())

	prompt(c.AuthURL(state))

	code, err := server.WaitForCode(ctx, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}

	token, err := c.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// LocalAuthServer handles the OAuth callback locally
type LocalAuthServer struct {
	state    string
	server   *http.Server
	codeChan chan string
	errChan  chan error
}

// NewLocalAuthServer creates a callback server expecting state
func NewLocalAuthServer(state string) *LocalAuthServer {
	return &LocalAuthServer{
		state:    state,
		codeChan: make(chan string, 1),
		errChan:  make(chan error, 1),
	}
}

// Start listens on port in the background
func (s *LocalAuthServer) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fail(err)
		}
	}()
	return nil
}

// WaitForCode waits for the OAuth callback
func (s *LocalAuthServer) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case code := <-s.codeChan:
		return code, nil
	case err := <-s.errChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", fmt.Errorf("no callback received within %v", timeout)
	}
}

// Stop stops the auth server
func (s *LocalAuthServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *LocalAuthServer) fail(err error) {
	select {
	case s.errChan <- err:
	default:
	}
}

func (s *LocalAuthServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("state") != s.state {
		s.fail(fmt.Errorf("oauth state mismatch"))
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		errMsg := q.Get("error")
		if errMsg == "" {
			errMsg = "unknown error"
		}
		s.fail(fmt.Errorf("oauth error: %s", errMsg))
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	select {
	case s.codeChan <- code:
	default:
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Calendar connected. You can close this window and return to the terminal.")
}

// LoadToken reads a token saved by SaveToken. A missing file is reported as
// core.ErrNotConfigured.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no calendar token at %s: %w", path, core.ErrNotConfigured)
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &token, nil
}

// SaveToken writes token to path, readable only by the owner
func SaveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
