package tracker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type startCall struct {
	languageTag string
	deviceID    string
}

type fakeBackend struct {
	authed     bool
	nextID     int64
	startErr   error
	endErr     error
	startCalls []startCall
	endCalls   []int64
}

func (f *fakeBackend) IsAuthenticated(ctx context.Context) bool { return f.authed }

func (f *fakeBackend) StartActivity(ctx context.Context, languageTag, deviceID string) (int64, error) {
	f.startCalls = append(f.startCalls, startCall{languageTag, deviceID})
	if f.startErr != nil {
		return 0, f.startErr
	}
	return f.nextID, nil
}

func (f *fakeBackend) EndActivity(ctx context.Context, sessionID int64, deviceID string) error {
	f.endCalls = append(f.endCalls, sessionID)
	return f.endErr
}

type fakeState struct {
	deviceID string
	enabled  bool
	consent  bool
}

func (f *fakeState) DeviceID() string { return f.deviceID }

func (f *fakeState) SetLoggingEnabled(v bool) error { f.enabled = v; return nil }

func (f *fakeState) ConsentGiven() bool { return f.consent }

func (f *fakeState) GrantConsent() error { f.consent = true; return nil }

// newTestTracker returns an enabled tracker driven by a manual clock.
func newTestTracker(t *testing.T, backend *fakeBackend) (*Tracker, *fakeState, *time.Time) {
	t.Helper()

	st := &fakeState{deviceID: "dev-1", consent: true}
	tr := New(backend, st, nil)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }

	if err := tr.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() failed: %v", err)
	}
	t.Cleanup(func() { tr.Close(context.Background()) })
	return tr, st, &current
}

func TestEnableRequiresAuthentication(t *testing.T) {
	t.Parallel()

	st := &fakeState{deviceID: "dev-1", consent: true}
	tr := New(&fakeBackend{authed: false}, st, nil)

	if err := tr.Enable(context.Background()); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("Enable() = %v, want ErrAuthenticationRequired", err)
	}
	if tr.IsEnabled() {
		t.Error("tracker enabled despite failed authentication check")
	}
}

func TestEnableConsentGating(t *testing.T) {
	t.Parallel()

	t.Run("no prompt available", func(t *testing.T) {
		t.Parallel()
		st := &fakeState{deviceID: "dev-1"}
		tr := New(&fakeBackend{authed: true}, st, nil)
		if err := tr.Enable(context.Background()); !errors.Is(err, ErrConsentRequired) {
			t.Fatalf("Enable() = %v, want ErrConsentRequired", err)
		}
	})

	t.Run("declined", func(t *testing.T) {
		t.Parallel()
		st := &fakeState{deviceID: "dev-1"}
		tr := New(&fakeBackend{authed: true}, st, func() bool { return false })
		if err := tr.Enable(context.Background()); !errors.Is(err, ErrConsentDeclined) {
			t.Fatalf("Enable() = %v, want ErrConsentDeclined", err)
		}
		if st.consent {
			t.Error("declined consent was persisted")
		}
		if tr.IsEnabled() {
			t.Error("tracker enabled despite declined consent")
		}
	})

	t.Run("granted once, persisted", func(t *testing.T) {
		t.Parallel()
		prompts := 0
		st := &fakeState{deviceID: "dev-1"}
		tr := New(&fakeBackend{authed: true}, st, func() bool { prompts++; return true })
		if err := tr.Enable(context.Background()); err != nil {
			t.Fatalf("Enable() failed: %v", err)
		}
		if !st.consent {
			t.Error("granted consent was not persisted")
		}
		if !st.enabled {
			t.Error("enabled flag was not persisted")
		}

		// Re-enabling after a disable must not prompt again.
		tr.Disable(context.Background())
		if err := tr.Enable(context.Background()); err != nil {
			t.Fatalf("second Enable() failed: %v", err)
		}
		if prompts != 1 {
			t.Errorf("consent prompted %d times, want 1", prompts)
		}
		tr.Close(context.Background())
	})
}

func TestOnEditThrottling(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{authed: true, nextID: 101}
	tr, _, current := newTestTracker(t, backend)
	ctx := context.Background()

	// First event always triggers a call.
	tr.OnEdit(ctx, "cpp")
	if len(backend.startCalls) != 1 {
		t.Fatalf("start calls after first edit = %d, want 1", len(backend.startCalls))
	}

	// Events inside the throttle window never add calls.
	base := tr.lastSendTime
	for _, offset := range []time.Duration{5 * time.Second, 10 * time.Second, 29 * time.Second} {
		*current = base.Add(offset)
		tr.OnEdit(ctx, "cpp")
	}
	if len(backend.startCalls) != 1 {
		t.Fatalf("start calls inside throttle window = %d, want 1", len(backend.startCalls))
	}

	// An event at exactly the throttle boundary triggers exactly one more.
	*current = tr.lastSendTime.Add(ThrottleWindow)
	tr.OnEdit(ctx, "cpp")
	if len(backend.startCalls) != 2 {
		t.Fatalf("start calls after throttle window = %d, want 2", len(backend.startCalls))
	}
}

func TestOnFocusChangeNeverCalls(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{authed: true, nextID: 101}
	tr, _, _ := newTestTracker(t, backend)

	tr.OnFocusChange()
	tr.OnFocusChange()

	if len(backend.startCalls) != 0 || len(backend.endCalls) != 0 {
		t.Errorf("focus changes produced network calls: %d start, %d end",
			len(backend.startCalls), len(backend.endCalls))
	}
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{authed: true, nextID: 101}
	tr, _, current := newTestTracker(t, backend)
	ctx := context.Background()

	tr.OnEdit(ctx, "go")
	if !tr.hasSession {
		t.Fatal("no session tracked after first edit")
	}

	*current = current.Add(IdleWindow)
	tr.onIdleTimeout()

	if len(backend.endCalls) != 1 || backend.endCalls[0] != 101 {
		t.Fatalf("end calls = %v, want [101]", backend.endCalls)
	}
	if tr.hasSession {
		t.Error("session id not cleared after idle timeout")
	}
	if !tr.IsEnabled() {
		t.Error("idle timeout disabled the tracker")
	}

	// A subsequent edit opens a new session instead of reusing the old id.
	backend.nextID = 202
	*current = current.Add(time.Second)
	tr.OnEdit(ctx, "go")
	if tr.sessionID != 202 {
		t.Errorf("session id after idle restart = %d, want 202", tr.sessionID)
	}
}

func TestScenarioDeviceOneEditsMainCC(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{authed: true, nextID: 101}
	tr, _, current := newTestTracker(t, backend)
	ctx := context.Background()
	base := *current

	// t=0s: first edit triggers a start call with language_tag=cpp.
	tr.OnEdit(ctx, ClassifyLanguage("main.cc", ""))
	if len(backend.startCalls) != 1 {
		t.Fatalf("start calls at t=0 = %d, want 1", len(backend.startCalls))
	}
	if got := backend.startCalls[0]; got.languageTag != "cpp" || got.deviceID != "dev-1" {
		t.Fatalf("start call = %+v, want {cpp dev-1}", got)
	}
	firstID := tr.sessionID

	// t=10s: throttled, no call.
	*current = base.Add(10 * time.Second)
	tr.OnEdit(ctx, "cpp")
	if len(backend.startCalls) != 1 {
		t.Fatalf("start calls at t=10 = %d, want 1", len(backend.startCalls))
	}

	// t=35s: refresh call, session id unchanged.
	*current = base.Add(35 * time.Second)
	tr.OnEdit(ctx, "cpp")
	if len(backend.startCalls) != 2 {
		t.Fatalf("start calls at t=35 = %d, want 2", len(backend.startCalls))
	}
	if tr.sessionID != firstID {
		t.Fatalf("session id changed on refresh: %d -> %d", firstID, tr.sessionID)
	}

	// t=95s: idle timer fires, end call carries the tracked id.
	*current = base.Add(95 * time.Second)
	tr.onIdleTimeout()
	if len(backend.endCalls) != 1 || backend.endCalls[0] != firstID {
		t.Fatalf("end calls = %v, want [%d]", backend.endCalls, firstID)
	}
	if tr.hasSession {
		t.Error("local session id not cleared")
	}
}

func TestIdleTimeoutIgnoredAfterRecentActivity(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{authed: true, nextID: 101}
	tr, _, current := newTestTracker(t, backend)
	ctx := context.Background()

	tr.OnEdit(ctx, "go")

	// An idle callback that already fired cannot be stopped; it may run only
	// after a fresh edit has refreshed the session and rearmed the timer.
	// Such a stale fire must leave the session and the new timer alone.
	*current = current.Add(time.Second)
	tr.OnEdit(ctx, "go")
	armed := tr.idleTimer
	tr.onIdleTimeout()

	if len(backend.endCalls) != 0 {
		t.Fatalf("stale idle fire ended session: end calls = %v", backend.endCalls)
	}
	if !tr.hasSession {
		t.Error("session dropped by a stale idle fire")
	}
	if tr.idleTimer != armed {
		t.Error("stale idle fire replaced or cleared the armed timer")
	}

	// Once the window has genuinely elapsed, the timeout ends the session.
	*current = current.Add(IdleWindow)
	tr.onIdleTimeout()
	if len(backend.endCalls) != 1 || backend.endCalls[0] != 101 {
		t.Fatalf("end calls = %v, want [101]", backend.endCalls)
	}
}

func TestStartFailureIsSwallowedAndRetried(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{authed: true, nextID: 101, startErr: errors.New("backend down")}
	tr, _, current := newTestTracker(t, backend)
	ctx := context.Background()

	tr.OnEdit(ctx, "go")
	if tr.hasSession {
		t.Fatal("session tracked despite failed start call")
	}

	// With no session tracked, the next edit calls immediately regardless of throttle.
	backend.startErr = nil
	*current = current.Add(time.Second)
	tr.OnEdit(ctx, "go")
	if len(backend.startCalls) != 2 {
		t.Fatalf("start calls = %d, want 2", len(backend.startCalls))
	}
	if !tr.hasSession || tr.sessionID != 101 {
		t.Errorf("session not tracked after recovery: hasSession=%v id=%d", tr.hasSession, tr.sessionID)
	}
}

func TestDisableEndsSessionBestEffort(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{authed: true, nextID: 101, endErr: errors.New("backend down")}
	tr, st, _ := newTestTracker(t, backend)
	ctx := context.Background()

	tr.OnEdit(ctx, "go")
	tr.Disable(ctx)

	if len(backend.endCalls) != 1 {
		t.Fatalf("end calls = %d, want 1", len(backend.endCalls))
	}
	if tr.IsEnabled() {
		t.Error("tracker still enabled after Disable")
	}
	if st.enabled {
		t.Error("enabled flag still persisted after Disable")
	}
	if tr.hasSession {
		t.Error("session id not cleared on Disable despite end failure")
	}
	if tr.idleTimer != nil {
		t.Error("idle timer still armed after Disable")
	}
}

func TestEventsIgnoredWhileDisabled(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{authed: true, nextID: 101}
	st := &fakeState{deviceID: "dev-1", consent: true}
	tr := New(backend, st, nil)
	ctx := context.Background()

	tr.OnEdit(ctx, "go")
	tr.OnFocusChange()
	tr.onIdleTimeout()

	if len(backend.startCalls) != 0 || len(backend.endCalls) != 0 {
		t.Errorf("disabled tracker made network calls: %d start, %d end",
			len(backend.startCalls), len(backend.endCalls))
	}
}
