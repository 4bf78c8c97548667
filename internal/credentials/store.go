// Package credentials persists and retrieves tunnel credentials
// (ephemeral, token, key) from JSON files under the ASD home (spec §4.4).
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Kind tags which authentication method a credential carries.
type Kind string

const (
	KindEphemeral Kind = "ephemeral"
	KindToken     Kind = "token"
	KindKey       Kind = "key"
)

// Limits describes server-declared usage bounds for an ephemeral
// credential.
type Limits struct {
	MaxConnections int `json:"maxConnections,omitempty"`
	MaxBandwidthKB int `json:"maxBandwidthKb,omitempty"`
}

// Credential is the persisted record for a single tunnel credential set.
type Credential struct {
	Name          string     `json:"name"`
	Kind          Kind       `json:"kind"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	ClientID      string     `json:"clientId"`
	SecretOrKeyRef string    `json:"secretOrKeyRef"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Limits        *Limits    `json:"limits,omitempty"`
	Default       bool       `json:"default,omitempty"`
}

// Expired reports whether the credential's server-declared expiry has
// passed. Credentials without an ExpiresAt never expire.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

type file struct {
	Version     int          `json:"version"`
	Credentials []Credential `json:"credentials"`
}

const currentVersion = 1
const lockTimeout = 5 * time.Second

// Store manages the credential file at path.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (file, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file{Version: currentVersion}, nil
		}
		return file{}, err
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return file{}, fmt.Errorf("corrupt credentials file %s: %w", s.path, err)
	}
	return f, nil
}

func (s *Store) save(f file) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire credentials lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("credentials lock contention after %s", lockTimeout)
	}
	defer lock.Unlock()
	return fn()
}

// List returns all non-expired credentials. Expired ephemeral credentials
// are filtered from listings but remain on disk until the next Rotate
// (spec §4.4).
func (s *Store) List() ([]Credential, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []Credential
	for _, c := range f.Credentials {
		if c.Kind == KindEphemeral && c.Expired(now) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Get returns the named credential, or ok=false if absent.
func (s *Store) Get(name string) (Credential, bool, error) {
	creds, err := s.List()
	if err != nil {
		return Credential{}, false, err
	}
	for _, c := range creds {
		if c.Name == name {
			return c, true, nil
		}
	}
	return Credential{}, false, nil
}

// Default returns the credential marked default, or the first one if none
// is marked, or ok=false if the store is empty.
func (s *Store) Default() (Credential, bool, error) {
	creds, err := s.List()
	if err != nil {
		return Credential{}, false, err
	}
	if len(creds) == 0 {
		return Credential{}, false, nil
	}
	for _, c := range creds {
		if c.Default {
			return c, true, nil
		}
	}
	return creds[0], true, nil
}

// Append adds a new credential.
func (s *Store) Append(c Credential) error {
	return s.withLock(func() error {
		f, err := s.load()
		if err != nil {
			return err
		}
		f.Version = currentVersion
		f.Credentials = append(f.Credentials, c)
		return s.save(f)
	})
}

// SetDefault marks name as the default credential, clearing the flag on
// every other entry.
func (s *Store) SetDefault(name string) error {
	return s.withLock(func() error {
		f, err := s.load()
		if err != nil {
			return err
		}
		found := false
		for i := range f.Credentials {
			f.Credentials[i].Default = f.Credentials[i].Name == name
			if f.Credentials[i].Default {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("credential %q not found", name)
		}
		return s.save(f)
	})
}

// Rotate replaces the credential named old with replacement, purging any
// other expired entries at the same time.
func (s *Store) Rotate(old string, replacement Credential) error {
	return s.withLock(func() error {
		f, err := s.load()
		if err != nil {
			return err
		}
		now := time.Now()
		kept := make([]Credential, 0, len(f.Credentials)+1)
		for _, c := range f.Credentials {
			if c.Name == old {
				continue
			}
			if c.Kind == KindEphemeral && c.Expired(now) {
				continue
			}
			kept = append(kept, c)
		}
		kept = append(kept, replacement)
		f.Credentials = kept
		f.Version = currentVersion
		return s.save(f)
	})
}
