// Package exclusions persists the set of servers the user has marked
// ineligible for selection. Entries store only a hashed identifier plus
// human-readable hints; the hash derives from the stable server identity
// (protocol, address, port).
package exclusions

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/google/renameio"

	"github.com/kpblcaoo/sboxmgr/internal/logger"
	"github.com/kpblcaoo/sboxmgr/internal/model"
)

// Entry is one excluded server.
type Entry struct {
	IDSHA256 string `json:"id_sha256"`
	Name     string `json:"name,omitempty"`
	Reason   string `json:"reason,omitempty"`
	AddedAt  string `json:"added_at,omitempty"`
}

// List is the on-disk document shape.
type List struct {
	Entries []Entry `json:"entries"`
}

// Store manages one exclusions file. All mutations are written atomically
// under an OS-level lock on the target path.
type Store struct {
	path string
	log  *logger.Logger
	list List
	ids  map[string]int
}

// Open loads the exclusions file at path, creating an empty store when the
// file does not exist. An unparseable file is renamed aside to
// <name>.corrupt.<timestamp> and the store resets to empty; the reset is
// logged so the user learns their exclusions were discarded.
func Open(path string, log *logger.Logger) (*Store, error) {
	s := &Store{path: path, log: log, ids: make(map[string]int)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read exclusions: %w", err)
	}

	if err := json.Unmarshal(data, &s.list); err != nil {
		aside := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, fmt.Errorf("quarantine corrupt exclusions: %w", renameErr)
		}
		log.WithFields(map[string]any{"path": path, "moved_to": aside}).
			Warn("exclusions file was corrupt, reset to empty")
		s.list = List{}
		return s, nil
	}

	for i, e := range s.list.Entries {
		s.ids[e.IDSHA256] = i
	}
	return s, nil
}

// Len returns the entry count.
func (s *Store) Len() int { return len(s.list.Entries) }

// Entries returns a copy of the stored entries.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.list.Entries))
	copy(out, s.list.Entries)
	return out
}

// Contains reports whether the hash is excluded.
func (s *Store) Contains(idSHA256 string) bool {
	_, ok := s.ids[idSHA256]
	return ok
}

// ContainsServer reports whether the server's identity is excluded.
func (s *Store) ContainsServer(server *model.ParsedServer) bool {
	return s.Contains(server.IdentityHash())
}

// Add excludes a server. Re-adding an already-excluded identity is a no-op
// and reports false; nothing is written in that case.
func (s *Store) Add(server *model.ParsedServer, reason string) (bool, error) {
	hash := server.IdentityHash()
	if s.Contains(hash) {
		return false, nil
	}
	entry := Entry{
		IDSHA256: hash,
		Name:     server.Tag,
		Reason:   reason,
		AddedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	s.ids[hash] = len(s.list.Entries)
	s.list.Entries = append(s.list.Entries, entry)
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

// Remove drops an excluded identity by hash. Removing an absent hash is a
// no-op and reports false.
func (s *Store) Remove(idSHA256 string) (bool, error) {
	idx, ok := s.ids[idSHA256]
	if !ok {
		return false, nil
	}
	s.list.Entries = append(s.list.Entries[:idx], s.list.Entries[idx+1:]...)
	delete(s.ids, idSHA256)
	for i, e := range s.list.Entries {
		s.ids[e.IDSHA256] = i
	}
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

// Clear empties the list and persists the empty document.
func (s *Store) Clear() error {
	s.list = List{}
	s.ids = make(map[string]int)
	return s.save()
}

// Filter returns servers not present in the exclusion list. Virtual outbounds
// are never excluded.
func (s *Store) Filter(servers []model.ParsedServer) []model.ParsedServer {
	if s.Len() == 0 {
		return servers
	}
	out := make([]model.ParsedServer, 0, len(servers))
	for _, server := range servers {
		if !server.IsVirtual() && s.ContainsServer(&server) {
			continue
		}
		out = append(out, server)
	}
	return out
}

// Hashes returns the excluded identity hashes.
func (s *Store) Hashes() []string {
	out := make([]string, 0, len(s.list.Entries))
	for _, e := range s.list.Entries {
		out = append(out, e.IDSHA256)
	}
	return out
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create exclusions directory: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock exclusions: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(&s.list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode exclusions: %w", err)
	}
	if err := renameio.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write exclusions: %w", err)
	}
	return nil
}
