package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// callbackOutcome is the terminal result of one callback delivery: either the
// token and display name extracted from the redirect, or the error that
// resolved the flow.
type callbackOutcome struct {
	// Token is the bearer token returned by the backend.
	Token string
	// Login is the display name returned alongside the token, if present.
	Login string
	// Err is set when the callback failed validation.
	Err error
}

// CallbackServer is the ephemeral loopback HTTP listener that receives the
// OAuth redirect. It validates the CSRF state against the nonce issued at
// flow start, answers the browser with a success or failure page, and
// delivers exactly one outcome to the waiting flow.
type CallbackServer struct {
	// server is the underlying HTTP server instance.
	server *http.Server
	// ln is the bound listener; Stop closes it directly because Shutdown
	// only covers listeners Serve has already registered.
	ln net.Listener
	// port is the fixed local port on which the server listens.
	port int
	// expectedState is the nonce the callback's state parameter must match.
	expectedState string
	// persist stores the received token before the success page is written.
	persist func(token, login string) error
	// resultChan carries the first outcome; later outcomes are dropped.
	resultChan chan *callbackOutcome
	// mu protects server state.
	mu sync.Mutex
	// running indicates whether the server is currently bound.
	running bool
}

// NewCallbackServer creates a callback server bound to the given port that
// accepts exactly one callback matching expectedState. The persist function
// runs before the success page is written so the browser never reports a
// success that was not stored.
func NewCallbackServer(port int, expectedState string, persist func(token, login string) error) *CallbackServer {
	return &CallbackServer{
		port:          port,
		expectedState: expectedState,
		persist:       persist,
		resultChan:    make(chan *callbackOutcome, 1),
	}
}

// Start binds the listener and begins serving callback requests.
// A bind failure resolves immediately as ErrPortUnavailable.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrFlowInProgress
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", s.port))
	if err != nil {
		return NewAuthenticationError(ErrPortUnavailable, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.ln = ln
	s.running = true

	// Capture the server locally: Stop may nil out s.server before this
	// goroutine gets scheduled.
	srv := s.server
	go func() {
		if errServe := srv.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Debugf("callback server stopped: %v", errServe)
		}
	}()

	return nil
}

// Stop gracefully shuts the listener down. Stopping a stopped server is a no-op.
func (s *CallbackServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	if s.ln != nil {
		// Shutdown may have closed it already; ignore the duplicate close.
		_ = s.ln.Close()
		s.ln = nil
	}
	s.running = false
	s.server = nil

	return err
}

// WaitForCallback blocks until the first callback outcome arrives, the flow
// deadline passes, or ctx is cancelled. The deadline timer is stopped as soon
// as any earlier outcome wins.
func (s *CallbackServer) WaitForCallback(ctx context.Context, timeout time.Duration) (*callbackOutcome, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case result := <-s.resultChan:
		if result.Err != nil {
			return nil, result.Err
		}
		return result, nil
	case <-deadline.C:
		// The outcome and the deadline can become ready in the same
		// instant; an already-delivered outcome wins over the timeout.
		select {
		case result := <-s.resultChan:
			if result.Err != nil {
				return nil, result.Err
			}
			return result, nil
		default:
		}
		return nil, ErrFlowTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleCallback validates the redirect and answers the browser. Paths other
// than /callback never reach here; the mux 404s them without touching flow
// state.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.Debug("received OAuth callback")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	returnedState := query.Get("state")
	token := query.Get("token")
	login := query.Get("login")

	if returnedState != s.expectedState {
		log.Error("OAuth callback state mismatch")
		s.writeFailurePage(w, http.StatusBadRequest, "Invalid state parameter. Please try again.")
		s.sendResult(&callbackOutcome{Err: ErrStateMismatch})
		return
	}

	if token == "" {
		log.Error("OAuth callback carried no token")
		s.writeFailurePage(w, http.StatusInternalServerError, "No token received from authentication server.")
		s.sendResult(&callbackOutcome{Err: ErrNoToken})
		return
	}

	if s.persist != nil {
		if err := s.persist(token, login); err != nil {
			log.Errorf("failed to persist credential: %v", err)
			s.writeFailurePage(w, http.StatusInternalServerError, "Could not store the received token.")
			s.sendResult(&callbackOutcome{Err: fmt.Errorf("failed to persist credential: %w", err)})
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(LoginSuccessHTML)); err != nil {
		log.Errorf("failed to write success page: %v", err)
	}

	s.sendResult(&callbackOutcome{Token: token, Login: login})
}

// writeFailurePage renders the failure page with the given reason.
func (s *CallbackServer) writeFailurePage(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	page := strings.Replace(LoginFailureHTML, "{{REASON}}", reason, 1)
	if _, err := w.Write([]byte(page)); err != nil {
		log.Errorf("failed to write failure page: %v", err)
	}
}

// sendResult delivers the outcome without blocking the handler. Only the
// first outcome per flow instance lands; any later one is dropped.
func (s *CallbackServer) sendResult(result *callbackOutcome) {
	select {
	case s.resultChan <- result:
	default:
		log.Debug("OAuth outcome already delivered, dropping duplicate")
	}
}
