package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/google/renameio"

	"github.com/kpblcaoo/sboxmgr/internal/logger"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

const (
	activePointerFile = "active_profile"
	lockFile          = "profile.lock"
	journalFile       = "activations.jsonl"
)

// Store manages a directory of profile files plus the active-profile pointer.
// Switches are guarded by a single-writer lock and journaled.
type Store struct {
	dir string
	log *logger.Logger
}

// NewStore opens a profile directory, creating it when absent.
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

// List returns the available profile names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile directory: %w", err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !supportedExtension(ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Resolve finds the file backing a profile name, trying extensions in order.
func (s *Store) Resolve(name string) (string, error) {
	for _, ext := range Extensions {
		path := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", sboxerrors.NewValidationError("profile", fmt.Sprintf("profile %q not found", name), nil)
}

// Load resolves and loads a named profile.
func (s *Store) Load(name string) (*FullProfile, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Active returns the active profile name, or "" when none is set.
func (s *Store) Active() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, activePointerFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active profile pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// activation is one journal record.
type activation struct {
	Timestamp string `json:"timestamp"`
	Profile   string `json:"profile"`
	Hash      string `json:"hash"`
	Previous  string `json:"previous,omitempty"`
}

// Switch activates a named profile: validates it loads, records the applied
// content hash in profile.lock, rewrites the pointer atomically, and appends
// a journal line. Concurrent switchers serialize on the lock file.
func (s *Store) Switch(name string) error {
	path, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if _, err := Load(path); err != nil {
		return err
	}

	guard := flock.New(filepath.Join(s.dir, lockFile+".guard"))
	if err := guard.Lock(); err != nil {
		return fmt.Errorf("lock profile directory: %w", err)
	}
	defer guard.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	previous, err := s.Active()
	if err != nil {
		return err
	}

	if err := renameio.WriteFile(filepath.Join(s.dir, lockFile), []byte(hash+"\n"), 0o644); err != nil {
		return fmt.Errorf("write profile lock: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(s.dir, activePointerFile), []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("write active profile pointer: %w", err)
	}
	if err := s.journal(activation{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Profile:   name,
		Hash:      hash,
		Previous:  previous,
	}); err != nil {
		return err
	}

	s.log.WithFields(map[string]any{"profile": name, "hash": hash}).Info("profile activated")
	return nil
}

// AppliedHash returns the content hash recorded by the last switch.
func (s *Store) AppliedHash() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, lockFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read profile lock: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Journal returns the activation records, oldest first.
func (s *Store) Journal() ([]map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, journalFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read activation journal: %w", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			// A torn append must not hide the rest of the journal.
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *Store) journal(record activation) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode activation record: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, journalFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open activation journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append activation record: %w", err)
	}
	return nil
}

func supportedExtension(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
