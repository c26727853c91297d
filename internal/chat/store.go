package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ErrSessionIDRequired is returned when a caller passes an empty session id.
var ErrSessionIDRequired = errors.New("session_id is required")

// ErrSessionNotFound is returned by UpdateExisting for a session that does
// not exist or was deleted while the caller held on to it.
var ErrSessionNotFound = errors.New("session not found")

// Archiver moves a session file out of the live directory instead of deleting it.
type Archiver interface {
	Archive(path, sessionID string) (string, error)
}

// ==================== Store ====================

// Store maps session ids to their state. Every session lives in memory once
// touched and is mirrored to <dir>/<id>.json. Mutations of one session are
// serialized by that session's lock.
type Store struct {
	dir      string
	items    *cache.Cache
	log      *zap.Logger
	archiver Archiver

	hookMu   sync.RWMutex
	onDelete []func(id string)
}

type entry struct {
	mu      sync.Mutex
	state   State
	deleted bool
}

// NewStore creates dir if needed and returns an empty store.
func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		dir:   dir,
		items: cache.New(cache.NoExpiration, 0),
		log:   log,
	}, nil
}

// SetArchiver makes Delete archive session files through a.
func (s *Store) SetArchiver(a Archiver) { s.archiver = a }

// OnDelete registers fn to run after a session is deleted.
func (s *Store) OnDelete(fn func(id string)) {
	s.hookMu.Lock()
	s.onDelete = append(s.onDelete, fn)
	s.hookMu.Unlock()
}

// SanitizeID keeps ASCII letters, digits, '-' and '_'. An id with nothing
// left becomes "default".
func SanitizeID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

// Path is the on-disk location of a session.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, SanitizeID(id)+".json")
}

func (s *Store) load(id string) (State, bool) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return NewState(), false
	}
	st, err := decodeState(data)
	if err != nil {
		s.log.Warn("unreadable session file, starting fresh", zap.String("session", id), zap.Error(err))
		return NewState(), false
	}
	return st, true
}

// entry returns the in-memory entry for a sanitized id, loading it from disk
// (or creating defaults) on first use. created reports a new session.
func (s *Store) entry(id string) (e *entry, created bool) {
	for {
		if v, ok := s.items.Get(id); ok {
			return v.(*entry), false
		}
		st, found := s.load(id)
		e = &entry{state: st}
		if err := s.items.Add(id, e, cache.NoExpiration); err == nil {
			return e, !found
		}
		// lost the race with another loader; retry the lookup
	}
}

// acquire returns the locked entry for id. Entries retired by Delete are
// never handed out. Without create, a session found neither in memory nor
// on disk yields ErrSessionNotFound.
func (s *Store) acquire(id string, create bool) (e *entry, created bool, err error) {
	for {
		e, created = s.entry(id)
		e.mu.Lock()
		if e.deleted {
			e.mu.Unlock()
			if !create {
				return nil, false, ErrSessionNotFound
			}
			continue
		}
		if created && !create {
			e.deleted = true
			s.items.Delete(id)
			e.mu.Unlock()
			return nil, false, ErrSessionNotFound
		}
		return e, created, nil
	}
}

func resolveID(raw string) (string, error) {
	if raw == "" {
		return "", ErrSessionIDRequired
	}
	return SanitizeID(raw), nil
}

// Get returns a copy of the session state, creating and persisting a fresh
// session when none exists.
func (s *Store) Get(raw string) (State, error) {
	id, err := resolveID(raw)
	if err != nil {
		return State{}, err
	}
	e, created, _ := s.acquire(id, true)
	defer e.mu.Unlock()
	if created {
		if err := s.persist(id, e.state); err != nil {
			s.log.Error("failed to save session", zap.String("session", id), zap.Error(err))
		}
	}
	return e.state.Clone(), nil
}

// Save replaces the session state and persists it.
func (s *Store) Save(raw string, st State) error {
	id, err := resolveID(raw)
	if err != nil {
		return err
	}
	st.applyDefaults()
	e, _, _ := s.acquire(id, true)
	defer e.mu.Unlock()
	e.state = st.Clone()
	return s.persist(id, e.state)
}

// Update runs fn on a copy of the state under the session lock, then stores
// and persists the copy. If fn fails the session is left untouched. A
// missing session is created first. The returned state is a copy; a
// persistence failure is returned alongside it.
func (s *Store) Update(raw string, fn func(*State) error) (State, error) {
	return s.update(raw, true, fn)
}

// UpdateExisting is Update for a session that must already exist. It returns
// ErrSessionNotFound instead of recreating a deleted session.
func (s *Store) UpdateExisting(raw string, fn func(*State) error) (State, error) {
	return s.update(raw, false, fn)
}

func (s *Store) update(raw string, create bool, fn func(*State) error) (State, error) {
	id, err := resolveID(raw)
	if err != nil {
		return State{}, err
	}
	e, _, err := s.acquire(id, create)
	if err != nil {
		return State{}, fmt.Errorf("update session %s: %w", id, err)
	}
	defer e.mu.Unlock()

	next := e.state.Clone()
	if err := fn(&next); err != nil {
		return e.state.Clone(), err
	}
	next.applyDefaults()
	e.state = next
	if err := s.persist(id, e.state); err != nil {
		return e.state.Clone(), fmt.Errorf("persist session %s: %w", id, err)
	}
	return e.state.Clone(), nil
}

// List returns the sorted union of sessions on disk and in memory.
func (s *Store) List() []string {
	seen := map[string]struct{}{}
	if files, err := os.ReadDir(s.dir); err == nil {
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || filepath.Ext(name) != ".json" {
				continue
			}
			seen[strings.TrimSuffix(name, ".json")] = struct{}{}
		}
	}
	for id := range s.items.Items() {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Create makes a new empty session and persists it. An empty id gets a
// random one.
func (s *Store) Create(raw string) (string, error) {
	if raw == "" {
		raw = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	id := SanitizeID(raw)
	e, _, _ := s.acquire(id, true)
	defer e.mu.Unlock()
	if err := s.persist(id, e.state); err != nil {
		return id, err
	}
	return id, nil
}

// Delete drops the session from memory and removes (or archives) its file.
// It returns the sanitized id.
func (s *Store) Delete(raw string) (string, error) {
	id := SanitizeID(raw)

	if v, ok := s.items.Get(id); ok {
		e := v.(*entry)
		e.mu.Lock()
		e.deleted = true
		s.items.Delete(id)
		e.mu.Unlock()
	}

	path := s.Path(id)
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		if s.archiver != nil {
			var target string
			target, err = s.archiver.Archive(path, id)
			if err == nil {
				s.log.Info("session archived", zap.String("session", id), zap.String("target", target))
			}
		} else {
			err = os.Remove(path)
		}
	}

	s.hookMu.RLock()
	hooks := append([]func(string){}, s.onDelete...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}

	if err != nil {
		return id, fmt.Errorf("delete session %s: %w", id, err)
	}
	return id, nil
}

// persist writes the state with write-temp-then-rename so a crash never
// leaves a truncated session file behind.
func (s *Store) persist(id string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path(id), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
