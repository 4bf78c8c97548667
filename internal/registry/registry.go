package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kfsoftware/asd/internal/asderrors"
)

// CurrentVersion is the schema version this build writes. Load accepts
// any version <= CurrentVersion, migrating forward, and refuses newer
// versions outright (spec §4.8, §6).
const CurrentVersion = 2

type document struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Registry is the single JSON file at a known workspace path.
type Registry struct {
	path string
}

func New(path string) *Registry {
	return &Registry{path: path}
}

// Load reads the registry file, migrating older schema versions forward
// and refusing to proceed against a newer one (a Fatal error per spec §7,
// suggesting `net reset`).
func (r *Registry) Load() ([]Entry, error) {
	doc, err := r.readDocument()
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

func (r *Registry) readDocument() (document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Version: CurrentVersion}, nil
		}
		return document{}, asderrors.Wrapf(asderrors.KindFatal, "", err, "read registry")
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, asderrors.New(asderrors.KindFatal, "", fmt.Errorf("corrupt registry %s: %w (run `net reset`)", r.path, err))
	}
	if doc.Version > CurrentVersion {
		return document{}, asderrors.New(asderrors.KindFatal, "", fmt.Errorf("registry schema version %d is newer than this build supports (%d); upgrade asd or run `net reset`", doc.Version, CurrentVersion))
	}
	doc = migrate(doc)
	return doc, nil
}

// migrate upgrades older schema versions forward in place. Version 1
// entries predate the Rev optimistic-lock counter; they're assigned Rev=0,
// which Upsert then bumps on first write.
func migrate(doc document) document {
	if doc.Version == 0 {
		doc.Version = 1
	}
	doc.Version = CurrentVersion
	return doc
}

// Snapshot returns every entry currently in the registry, for callers that
// need a full read without per-entry filtering.
func (r *Registry) Snapshot() ([]Entry, error) {
	return r.Load()
}

// List returns entries matching filter, or all entries if filter is nil.
func (r *Registry) List(filter func(Entry) bool) ([]Entry, error) {
	entries, err := r.Load()
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return entries, nil
	}
	var out []Entry
	for _, e := range entries {
		if filter(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Upsert inserts or replaces the entry with matching ID, bumping Rev.
func (r *Registry) Upsert(entry Entry) error {
	return withFileLock(r.path, func() error {
		doc, err := r.readDocument()
		if err != nil {
			return err
		}
		replaced := false
		for i, e := range doc.Entries {
			if e.ID == entry.ID {
				entry.Rev = e.Rev + 1
				doc.Entries[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			entry.Rev++
			doc.Entries = append(doc.Entries, entry)
		}
		return r.writeDocument(doc)
	})
}

// Remove deletes the entry with the given id, if present.
func (r *Registry) Remove(id string) error {
	return withFileLock(r.path, func() error {
		doc, err := r.readDocument()
		if err != nil {
			return err
		}
		kept := make([]Entry, 0, len(doc.Entries))
		for _, e := range doc.Entries {
			if e.ID != id {
				kept = append(kept, e)
			}
		}
		doc.Entries = kept
		return r.writeDocument(doc)
	})
}

// MarkHealth updates an entry's health fields in place.
func (r *Registry) MarkHealth(id string, result HealthResult, at time.Time) error {
	return withFileLock(r.path, func() error {
		doc, err := r.readDocument()
		if err != nil {
			return err
		}
		found := false
		for i, e := range doc.Entries {
			if e.ID == id {
				doc.Entries[i].LastHealthResult = result
				doc.Entries[i].LastHealthAt = &at
				doc.Entries[i].Rev++
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("registry: no entry %q to mark health on", id)
		}
		return r.writeDocument(doc)
	})
}

// SetTunnel sets (or clears, when url is empty) an entry's tunnel URL.
// Per spec §3's invariant, callers must clear publicUrl before any next
// connect attempt re-populates it — SetTunnel does not enforce that
// ordering itself: it writes whatever the caller passes, and the
// sequencing is left to the caller.
func (r *Registry) SetTunnel(id string, url string) error {
	return withFileLock(r.path, func() error {
		doc, err := r.readDocument()
		if err != nil {
			return err
		}
		found := false
		for i, e := range doc.Entries {
			if e.ID == id {
				doc.Entries[i].TunnelURL = url
				doc.Entries[i].Rev++
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("registry: no entry %q to set tunnel url on", id)
		}
		return r.writeDocument(doc)
	})
}

func (r *Registry) writeDocument(doc document) error {
	doc.Version = CurrentVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
