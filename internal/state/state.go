// Package state manages the companion's persisted local state: the device
// identity, the tracking-enabled flag, and the one-time consent flag. The
// record is loaded once at startup and rewritten transactionally on each
// change.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const stateFileName = "state.json"

// record is the on-disk shape of the persisted state.
type record struct {
	// DeviceID uniquely identifies this installation. Generated once,
	// never regenerated while the record exists.
	DeviceID string `json:"device_id"`
	// LoggingEnabled reports whether activity tracking is currently turned on.
	LoggingEnabled bool `json:"logging_enabled"`
	// ConsentGiven reports whether the user has granted tracking consent.
	// Once granted it is persisted permanently.
	ConsentGiven bool `json:"consent_given"`
}

// Store owns the persisted state record. All mutations go through Store so
// that every change is written back atomically (temp file + rename).
type Store struct {
	mu   sync.Mutex
	path string
	rec  record
}

// Load reads the state record from the given state directory, creating a
// fresh record (with a newly generated device id) when none exists yet.
func Load(stateDir string) (*Store, error) {
	s := &Store{path: filepath.Join(stateDir, stateFileName)}

	data, err := os.ReadFile(s.path)
	if err == nil {
		if errUnmarshal := json.Unmarshal(data, &s.rec); errUnmarshal != nil {
			log.Warnf("state: corrupt state file, starting fresh: %v", errUnmarshal)
			s.rec = record{}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if strings.TrimSpace(s.rec.DeviceID) == "" {
		s.rec.DeviceID = "typepulse-" + uuid.NewString()
		if errSave := s.save(); errSave != nil {
			return nil, errSave
		}
	}
	return s, nil
}

// DeviceID returns the stable installation identifier.
func (s *Store) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.DeviceID
}

// LoggingEnabled reports whether tracking was enabled at last shutdown.
func (s *Store) LoggingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.LoggingEnabled
}

// SetLoggingEnabled persists the tracking-enabled flag.
func (s *Store) SetLoggingEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.LoggingEnabled = enabled
	return s.save()
}

// ConsentGiven reports whether the user has ever granted tracking consent.
func (s *Store) ConsentGiven() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.ConsentGiven
}

// GrantConsent records the one-time consent flag permanently.
func (s *Store) GrantConsent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.ConsentGiven = true
	return s.save()
}

// save writes the record atomically. Callers must hold s.mu.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
