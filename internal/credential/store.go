// Package credential persists the backend bearer token using the filesystem
// as backing storage. At most one credential is live at any time; absence of a
// credential means "unauthenticated".
package credential

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const credentialFileName = "credential.json"

// credentialRecord is the on-disk shape of the stored token.
type credentialRecord struct {
	// Token is the opaque bearer token proving identity on every request.
	Token string `json:"token"`
	// Login is the display name returned by the backend at login time, if any.
	Login string `json:"login,omitempty"`
}

// Store persists a single bearer token under the state directory. Reads are
// safe before any write has occurred and report absence rather than an error;
// store and retrieve failures degrade to "no credential".
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a credential store rooted at the given state directory.
func NewStore(stateDir string) *Store {
	return &Store{path: filepath.Join(stateDir, credentialFileName)}
}

// Get returns the stored token, or ok=false when no credential is present.
func (s *Store) Get() (token string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debugf("credential: read failed, treating as absent: %v", err)
		}
		return "", false
	}
	var rec credentialRecord
	if err = json.Unmarshal(data, &rec); err != nil {
		log.Debugf("credential: parse failed, treating as absent: %v", err)
		return "", false
	}
	if strings.TrimSpace(rec.Token) == "" {
		return "", false
	}
	return rec.Token, true
}

// Login returns the display name recorded alongside the token, if any.
func (s *Store) Login() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	var rec credentialRecord
	if err = json.Unmarshal(data, &rec); err != nil {
		return ""
	}
	return rec.Login
}

// Set replaces the stored credential with the given token and display name.
// The file is written with 0600 permissions under a 0700 directory.
func (s *Store) Set(token, login string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	raw, err := json.Marshal(credentialRecord{Token: token, Login: login})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the stored credential. Clearing an absent credential is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
