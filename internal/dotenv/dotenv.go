// Package dotenv reads and writes simple KEY=VALUE dotenv files with
// last-write-wins semantics, preserving unrelated keys and comments on
// write (spec §6).
package dotenv

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"
)

// line is either a blank/comment line (Raw set, Key empty) or a KEY=VALUE
// assignment.
type line struct {
	Raw   string
	Key   string
	Value string
}

// File is a parsed dotenv file that preserves ordering, comments, and
// unrelated keys across a read-modify-write cycle.
type File struct {
	path  string
	lines []line
}

// Load reads path, tolerating a missing file as an empty File.
func Load(path string) (*File, error) {
	f := &File{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, err
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		raw := scanner.Text()
		key, value, ok := parseAssignment(raw)
		if !ok {
			f.lines = append(f.lines, line{Raw: raw})
			continue
		}
		f.lines = append(f.lines, line{Raw: raw, Key: key, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

func parseAssignment(raw string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	idx := strings.Index(trimmed, "=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:idx])
	value = strings.TrimSpace(trimmed[idx+1:])
	value = strings.Trim(value, `"'`)
	return key, value, true
}

// Get returns the value of key with last-write-wins semantics (later
// duplicate assignments win), or ok=false if absent.
func (f *File) Get(key string) (string, bool) {
	value, ok := "", false
	for _, l := range f.lines {
		if l.Key == key {
			value, ok = l.Value, true
		}
	}
	return value, ok
}

// Set assigns key=value, replacing the last existing assignment of key in
// place, or appending a new line if key is not present.
func (f *File) Set(key, value string) {
	for i := len(f.lines) - 1; i >= 0; i-- {
		if f.lines[i].Key == key {
			f.lines[i] = line{Key: key, Value: value, Raw: formatAssignment(key, value)}
			return
		}
	}
	f.lines = append(f.lines, line{Key: key, Value: value, Raw: formatAssignment(key, value)})
}

func formatAssignment(key, value string) string {
	if strings.ContainsAny(value, " #\"'") {
		return fmt.Sprintf("%s=%q", key, value)
	}
	return fmt.Sprintf("%s=%s", key, value)
}

// Render returns the file content, preserving original line order
// (including comments) for unchanged keys.
func (f *File) Render() string {
	var b strings.Builder
	for _, l := range f.lines {
		b.WriteString(l.Raw)
		b.WriteByte('\n')
	}
	return b.String()
}

// Save writes the file back to disk atomically (render-to-temp then
// rename). Save itself takes no lock; WriteKeys holds the advisory lock
// around its whole load-modify-Save cycle so a partial `net apply` never
// writes a half-finished map (spec §5).
func (f *File) Save() error {
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(f.Render()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// WriteKeys performs the idempotent read-modify-write described in spec
// §4.9 step 6: for each (key, value) pair whose expanded value is
// non-empty and differs from what's currently stored, the key is updated
// and Save is called once. Returns the set of keys that were actually
// written.
func WriteKeys(path string, updates map[string]string) ([]string, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire dotenv lock: %w", err)
	}
	defer lock.Unlock()

	f, err := Load(path)
	if err != nil {
		return nil, err
	}

	var written []string
	for key, value := range updates {
		if value == "" {
			// Unresolved macros yield a skipped entry, not an empty
			// write (spec §4.9 step 6, §3 invariants).
			continue
		}
		if current, ok := f.Get(key); ok && current == value {
			continue
		}
		f.Set(key, value)
		written = append(written, key)
	}
	if len(written) == 0 {
		return nil, nil
	}
	if err := f.Save(); err != nil {
		return nil, err
	}
	return written, nil
}
