// Package tracker implements the timer-driven activity-session state machine.
// It opens, refreshes, and ends typing sessions on the backend in response to
// editing events, throttling outbound calls and closing sessions after idle
// periods so network noise never interrupts editing.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Timing invariants. The idle window must be strictly greater than the
// throttle window so an actively edited session is always refreshed before it
// can be closed as idle.
const (
	// ThrottleWindow bounds how often refresh calls are sent while editing.
	ThrottleWindow = 30 * time.Second
	// IdleWindow is the inactivity duration after which an open session is closed.
	IdleWindow = 60 * time.Second
)

// Tracker-level errors surfaced from Enable.
var (
	// ErrAuthenticationRequired means the user must log in before enabling tracking.
	ErrAuthenticationRequired = errors.New("authentication required: please login before enabling activity tracking")
	// ErrConsentRequired means no consent is recorded and no prompt is available.
	ErrConsentRequired = errors.New("consent required: tracking cannot be enabled without consent")
	// ErrConsentDeclined means the user declined the one-time consent prompt.
	ErrConsentDeclined = errors.New("consent declined")
)

// Backend is the slice of the authenticated client the tracker needs.
type Backend interface {
	// IsAuthenticated performs a lightweight who-am-I check.
	IsAuthenticated(ctx context.Context) bool
	// StartActivity opens or refreshes a typing session and returns its id.
	StartActivity(ctx context.Context, languageTag, deviceID string) (int64, error)
	// EndActivity closes the given typing session.
	EndActivity(ctx context.Context, sessionID int64, deviceID string) error
}

// StateStore is the slice of the persisted local state the tracker needs.
type StateStore interface {
	DeviceID() string
	SetLoggingEnabled(enabled bool) error
	ConsentGiven() bool
	GrantConsent() error
}

// ConsentPrompt asks the user for one-time tracking consent and reports
// whether it was granted.
type ConsentPrompt func() bool

// Tracker is the activity-session state machine:
// Disabled -> EnabledNoSession <-> EnabledActiveSession -> Disabled.
// At most one session is tracked locally at a time. All state transitions
// happen under the mutex, so event delivery is effectively single-threaded.
type Tracker struct {
	backend Backend
	state   StateStore
	consent ConsentPrompt

	// now is the clock used for throttle and bookkeeping; tests replace it.
	now func() time.Time

	mu               sync.Mutex
	enabled          bool
	hasSession       bool
	sessionID        int64
	lastActivityTime time.Time
	lastSendTime     time.Time
	idleTimer        *time.Timer
}

// New creates a tracker in the Disabled state.
func New(backend Backend, state StateStore, consent ConsentPrompt) *Tracker {
	return &Tracker{
		backend: backend,
		state:   state,
		consent: consent,
		now:     time.Now,
	}
}

// Enable transitions the tracker to EnabledNoSession and persists the enabled
// flag. It fails with ErrAuthenticationRequired when the backend does not
// recognize the stored credential, and gates on the one-time consent flag:
// the prompt runs at most once ever, a grant is persisted permanently, and a
// decline aborts enabling.
func (t *Tracker) Enable(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled {
		return nil
	}

	if !t.backend.IsAuthenticated(ctx) {
		return ErrAuthenticationRequired
	}

	if !t.state.ConsentGiven() {
		if t.consent == nil {
			return ErrConsentRequired
		}
		if !t.consent() {
			return ErrConsentDeclined
		}
		if err := t.state.GrantConsent(); err != nil {
			return err
		}
	}

	t.enabled = true
	if err := t.state.SetLoggingEnabled(true); err != nil {
		log.Warnf("failed to persist enabled flag: %v", err)
	}

	log.Info("activity tracking enabled")
	return nil
}

// Disable ends any active session best-effort, cancels the idle timer, clears
// the enabled flag, and transitions to Disabled. Network failures are logged,
// never surfaced.
func (t *Tracker) Disable(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	t.endSessionLocked(ctx)
	t.cancelIdleTimerLocked()
	t.enabled = false
	if err := t.state.SetLoggingEnabled(false); err != nil {
		log.Warnf("failed to persist enabled flag: %v", err)
	}

	log.Info("activity tracking disabled")
}

// OnEdit handles an edit event carrying a language classification. It always
// updates the activity time and rearms the idle timer. A call goes out
// immediately when no session is tracked yet; otherwise only when the
// throttle window since the last send has elapsed.
func (t *Tracker) OnEdit(ctx context.Context, languageTag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	now := t.now()
	t.lastActivityTime = now
	t.rearmIdleTimerLocked()

	if t.hasSession && now.Sub(t.lastSendTime) < ThrottleWindow {
		return
	}

	t.ensureSessionOpenLocked(ctx, languageTag)
}

// OnFocusChange handles a focus-change event. It only resets the idle timer;
// it never triggers a network call by itself.
func (t *Tracker) OnFocusChange() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	t.lastActivityTime = t.now()
	t.rearmIdleTimerLocked()
}

// IsEnabled reports whether tracking is currently turned on.
func (t *Tracker) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Close cancels all timers and ends any active session best-effort. It is the
// explicit, total teardown used at process shutdown.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelIdleTimerLocked()
	t.endSessionLocked(ctx)
	t.enabled = false
}

// ensureSessionOpenLocked issues the idempotent start/refresh call. Its
// postcondition on success is "a session id is known and fresh": the latest
// returned id becomes canonical and the send clock restarts. Failures are
// logged and swallowed. Callers must hold t.mu.
func (t *Tracker) ensureSessionOpenLocked(ctx context.Context, languageTag string) {
	sessionID, err := t.backend.StartActivity(ctx, languageTag, t.state.DeviceID())
	if err != nil {
		log.Warnf("failed to start activity session: %v", err)
		return
	}

	if !t.hasSession || t.sessionID != sessionID {
		log.Debugf("tracking activity session %d", sessionID)
	}
	t.sessionID = sessionID
	t.hasSession = true
	t.lastSendTime = t.now()
}

// endSessionLocked closes the tracked session best-effort and clears the
// local session id regardless of the call's outcome. Callers must hold t.mu.
func (t *Tracker) endSessionLocked(ctx context.Context) {
	if !t.hasSession {
		return
	}

	if err := t.backend.EndActivity(ctx, t.sessionID, t.state.DeviceID()); err != nil {
		log.Warnf("failed to end activity session %d: %v", t.sessionID, err)
	} else {
		log.Debugf("ended activity session %d", t.sessionID)
	}
	t.hasSession = false
	t.sessionID = 0
}

// onIdleTimeout fires after IdleWindow of inactivity since the last timer
// reset. It ends the tracked session best-effort and returns the tracker to
// EnabledNoSession.
func (t *Tracker) onIdleTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	// A callback that already fired cannot be cancelled by Timer.Stop: an
	// edit may refresh the session and rearm the timer while this callback
	// waits at the mutex. Re-check the activity clock so such a stale fire
	// is a no-op and the freshly armed timer stays in charge.
	if t.now().Sub(t.lastActivityTime) < IdleWindow {
		return
	}

	log.Debugf("idle for more than %s, ending session", IdleWindow)
	t.endSessionLocked(context.Background())
	t.cancelIdleTimerLocked()
}

// rearmIdleTimerLocked cancels any pending idle timer and arms a fresh one.
// Cancel-then-set keeps at most one timer outstanding. Callers must hold t.mu.
func (t *Tracker) rearmIdleTimerLocked() {
	t.cancelIdleTimerLocked()
	t.idleTimer = time.AfterFunc(IdleWindow, t.onIdleTimeout)
}

func (t *Tracker) cancelIdleTimerLocked() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
}
