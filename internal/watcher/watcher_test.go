package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingHandler struct {
	edits   chan string
	focuses chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		edits:   make(chan string, 16),
		focuses: make(chan struct{}, 16),
	}
}

func (h *recordingHandler) OnEdit(languageTag string) { h.edits <- languageTag }

func (h *recordingHandler) OnFocusChange() { h.focuses <- struct{}{} }

func identityClassifier(path string) string {
	return filepath.Ext(path)
}

func awaitEdit(t *testing.T, h *recordingHandler) string {
	t.Helper()
	select {
	case tag := <-h.edits:
		return tag
	case <-time.After(5 * time.Second):
		t.Fatal("no edit event delivered")
		return ""
	}
}

func TestSubscribeDeliversEditEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := New(dir, identityClassifier)
	handler := newRecordingHandler()

	sub, err := w.Subscribe(handler)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Cancel()

	if err = os.WriteFile(filepath.Join(dir, "main.cc"), []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if tag := awaitEdit(t, handler); tag != ".cc" {
		t.Errorf("edit event tag = %q, want .cc", tag)
	}
}

func TestSubscribeIgnoresHiddenFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := New(dir, identityClassifier)
	handler := newRecordingHandler()

	sub, err := w.Subscribe(handler)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Cancel()

	if err = os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err = os.WriteFile(filepath.Join(dir, "visible.go"), []byte("package x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	// Only the visible file may produce an event.
	if tag := awaitEdit(t, handler); tag != ".go" {
		t.Errorf("edit event tag = %q, want .go", tag)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := New(dir, identityClassifier)
	handler := newRecordingHandler()

	sub, err := w.Subscribe(handler)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	sub.Cancel()
	// Cancelling twice is a no-op.
	sub.Cancel()

	if err = os.WriteFile(filepath.Join(dir, "late.go"), []byte("package x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case tag := <-handler.edits:
		t.Errorf("edit event %q delivered after Cancel", tag)
	case <-time.After(200 * time.Millisecond):
	}
}
