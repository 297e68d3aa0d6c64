package watcher

// Handler receives editing activity derived from filesystem events.
type Handler interface {
	// OnEdit is delivered when a watched file's content changes. The language
	// tag is the classification of the edited file.
	OnEdit(languageTag string)
	// OnFocusChange is delivered for activity that touches the workspace
	// without editing content.
	OnFocusChange()
}

// Subscription is the cancellation handle returned by Subscribe. Cancelling
// stops event delivery and releases the underlying filesystem watches.
type Subscription struct {
	cancel func()
}

// Cancel stops the subscription. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
