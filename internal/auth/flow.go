package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/typepulse/typepulse/internal/browser"
	"github.com/typepulse/typepulse/internal/credential"
)

// FlowTimeout is the global deadline for a login flow: if no callback arrives
// within it, the flow resolves as timed out and the listener is torn down.
const FlowTimeout = 5 * time.Minute

// LoginResult reports the outcome of a completed login flow.
type LoginResult struct {
	// Login is the display name returned by the backend, if any.
	Login string
	// AlreadyLoggedIn is set when a live credential short-circuited the flow.
	AlreadyLoggedIn bool
}

// Flow orchestrates the browser-mediated login handshake. At most one flow
// may be pending at a time because it binds a fixed local port; a second
// attempt fails fast instead of queueing.
type Flow struct {
	backendBaseURL string
	provider       string
	callbackPort   int
	creds          *credential.Store

	// NoBrowser prints the authorization URL instead of launching the browser.
	NoBrowser bool

	// timeout overrides FlowTimeout; tests shorten it.
	timeout time.Duration
	// openBrowser launches the authorization URL; tests replace it.
	openBrowser func(url string) error

	mu      sync.Mutex
	pending bool
}

// NewFlow creates a login flow bound to the given backend and credential store.
func NewFlow(backendBaseURL, provider string, callbackPort int, creds *credential.Store) *Flow {
	return &Flow{
		backendBaseURL: backendBaseURL,
		provider:       provider,
		callbackPort:   callbackPort,
		creds:          creds,
		timeout:        FlowTimeout,
		openBrowser:    browser.OpenURL,
	}
}

// Login runs the handshake to completion: it binds the loopback listener,
// opens the system browser on the authorization URL, waits for exactly one
// callback, and persists the returned token. All failures resolve the flow's
// outcome as an *AuthenticationError; nothing is thrown across the flow
// boundary.
func (f *Flow) Login(ctx context.Context) (*LoginResult, error) {
	if _, ok := f.creds.Get(); ok {
		log.Debug("credential already present, skipping login flow")
		return &LoginResult{Login: f.creds.Login(), AlreadyLoggedIn: true}, nil
	}

	if err := f.acquire(); err != nil {
		return nil, err
	}
	defer f.release()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state nonce: %w", err)
	}

	server := NewCallbackServer(f.callbackPort, state, f.creds.Set)
	if err = server.Start(); err != nil {
		return nil, err
	}
	defer func() {
		if errStop := server.Stop(context.Background()); errStop != nil {
			log.Warnf("failed to stop callback server: %v", errStop)
		}
	}()

	authURL := f.authorizationURL(state)
	log.Debugf("opening authorization URL: %s", authURL)

	if f.NoBrowser {
		fmt.Printf("Open this URL in your browser to log in:\n%s\n", authURL)
	} else if err = f.openBrowser(authURL); err != nil {
		return nil, NewAuthenticationError(ErrBrowserLaunchFailed, err)
	}

	outcome, err := server.WaitForCallback(ctx, f.timeout)
	if err != nil {
		return nil, err
	}

	log.Infof("logged in as %s", displayName(outcome.Login))
	return &LoginResult{Login: outcome.Login}, nil
}

// Logout clears the stored credential.
func (f *Flow) Logout() error {
	return f.creds.Clear()
}

// acquire enforces the single-flight rule for the fixed callback port.
func (f *Flow) acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		return ErrFlowInProgress
	}
	f.pending = true
	return nil
}

func (f *Flow) release() {
	f.mu.Lock()
	f.pending = false
	f.mu.Unlock()
}

// authorizationURL composes the backend authorization URL carrying the
// urlencoded loopback callback and the CSRF state.
func (f *Flow) authorizationURL(state string) string {
	callback := fmt.Sprintf("http://localhost:%d/callback", f.callbackPort)
	return fmt.Sprintf("%s/auth/%s?extension_callback=%s&state=%s",
		f.backendBaseURL, f.provider, url.QueryEscape(callback), state)
}

// generateState generates a cryptographically secure random state parameter
// to prevent CSRF attacks on the callback.
func generateState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func displayName(login string) string {
	if login == "" {
		return "user"
	}
	return login
}
