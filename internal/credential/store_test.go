package credential

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestGetBeforeAnyWrite(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	if token, ok := store.Get(); ok {
		t.Errorf("Get() = %q on a fresh store, want absence", token)
	}
}

func TestSetGetClear(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())

	if err := store.Set("tok-1", "alice"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	token, ok := store.Get()
	if !ok || token != "tok-1" {
		t.Errorf("Get() = %q (present=%v), want tok-1", token, ok)
	}
	if login := store.Login(); login != "alice" {
		t.Errorf("Login() = %q, want alice", login)
	}

	// At most one credential is live: a second Set replaces the first.
	if err := store.Set("tok-2", "bob"); err != nil {
		t.Fatalf("second Set() failed: %v", err)
	}
	token, _ = store.Get()
	if token != "tok-2" {
		t.Errorf("Get() after replace = %q, want tok-2", token)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if _, ok = store.Get(); ok {
		t.Error("credential still present after Clear()")
	}

	// Clearing an absent credential is a no-op.
	if err := store.Clear(); err != nil {
		t.Errorf("Clear() on empty store failed: %v", err)
	}
}

func TestSurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := NewStore(dir).Set("tok-1", ""); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	token, ok := NewStore(dir).Get()
	if !ok || token != "tok-1" {
		t.Errorf("Get() after restart = %q (present=%v), want tok-1", token, ok)
	}
}

func TestCorruptFileReadsAsAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, credentialFileName), []byte("not json"), 0o600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	if token, ok := NewStore(dir).Get(); ok {
		t.Errorf("Get() = %q from corrupt file, want absence", token)
	}
}

func TestFilePermissions(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	dir := t.TempDir()
	store := NewStore(dir)
	if err := store.Set("tok-1", ""); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, credentialFileName))
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("credential file mode = %o, want 600", perm)
	}
}
