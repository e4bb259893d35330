package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Credentials holds the bearer and refresh tokens for the active session.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       string    `json:"user_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry.
func (c Credentials) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// Auth wraps the hosted platform's auth endpoints. It is the only component
// that sees passwords; everything else consumes tokens through Credentials.
type Auth struct {
	baseURL string
	anonKey string
	hc      *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	creds *Credentials
}

// NewAuth creates a session accessor for the hosted store's auth API.
func NewAuth(storeURL, anonKey string, logger *zap.Logger) *Auth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auth{
		baseURL: storeURL,
		anonKey: anonKey,
		hc:      &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// SignIn exchanges email+password for a token pair.
func (a *Auth) SignIn(ctx context.Context, email, password string) error {
	return a.tokenRequest(ctx, a.baseURL+"/auth/v1/token?grant_type=password", email, password)
}

// SignUp registers a new account. The hosted platform signs the user in as
// part of registration, so a token pair is stored on success.
func (a *Auth) SignUp(ctx context.Context, email, password string) error {
	return a.tokenRequest(ctx, a.baseURL+"/auth/v1/signup", email, password)
}

func (a *Auth) tokenRequest(ctx context.Context, url, email, password string) error {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", a.anonKey)

	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: auth endpoint returned %d", ErrAuthRequired, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}

	a.SetCredentials(Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		UserID:       tr.User.ID,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	})
	a.logger.Info("signed in", zap.String("user_id", tr.User.ID))
	return nil
}

// SignOut revokes the session server-side and clears local credentials.
// Local credentials are cleared even if the revoke call fails.
func (a *Auth) SignOut(ctx context.Context) error {
	creds, err := a.Credentials()
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", a.anonKey)
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, doErr := a.hc.Do(req)
	if doErr == nil {
		_ = resp.Body.Close()
	}

	a.mu.Lock()
	a.creds = nil
	a.mu.Unlock()

	if doErr != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, doErr)
	}
	return nil
}

// Credentials returns the active token pair, or ErrAuthRequired when there
// is no usable session.
func (a *Auth) Credentials() (Credentials, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.creds == nil || a.creds.Expired() {
		return Credentials{}, ErrAuthRequired
	}
	return *a.creds, nil
}

// SetCredentials installs a token pair directly (token cache, tests).
func (a *Auth) SetCredentials(c Credentials) {
	a.mu.Lock()
	a.creds = &c
	a.mu.Unlock()
}

// SaveToken persists the current credentials to path with 0600 permissions.
func (a *Auth) SaveToken(path string) error {
	creds, err := a.Credentials()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken restores credentials from a previous SaveToken. An expired or
// missing token yields ErrAuthRequired.
func (a *Auth) LoadToken(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrAuthRequired
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return ErrAuthRequired
	}
	if creds.Expired() {
		return ErrAuthRequired
	}
	a.SetCredentials(creds)
	return nil
}
