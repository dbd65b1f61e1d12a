package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/platform/fanout"
)

// FileStore keeps all keys in one JSON object file. Every process opening the same path is an
// endpoint; changes written by other processes are picked up through fsnotify.
type FileStore struct {
	path string
	log  zerolog.Logger

	mu       sync.Mutex
	last     map[string]string
	watcher  *fsnotify.Watcher
	closed   bool
	watchers fanout.Set[Event]
	wg       sync.WaitGroup
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (creating the directory if needed) the store at path.
func NewFileStore(path string, log zerolog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("storage: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	s := &FileStore{path: path, log: log}
	m, err := s.read()
	if err != nil {
		return nil, err
	}
	s.last = m
	return s, nil
}

// DefaultPath returns ~/.mtaji/storage.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mtaji", "storage.json"), nil
}

func (s *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read: %w", err)
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", s.path, err)
	}
	return m, nil
}

func (s *FileStore) write(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".storage-*")
	if err != nil {
		return fmt.Errorf("storage: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Get reads key from disk.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	m, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set writes key to disk.
func (s *FileStore) Set(key, value string) error {
	return s.update(func(m map[string]string) { m[key] = value })
}

// Remove deletes key from disk.
func (s *FileStore) Remove(key string) error {
	return s.update(func(m map[string]string) { delete(m, key) })
}

func (s *FileStore) update(fn func(map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, err := s.read()
	if err != nil {
		return err
	}
	fn(m)
	if err := s.write(m); err != nil {
		return err
	}
	// Remember our own write so the watcher does not report it back to us.
	s.last = m
	return nil
}

// Watch starts watching the store's directory on first use and registers fn.
func (s *FileStore) Watch(fn func(Event)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("storage: watcher: %w", err)
		}
		if err := w.Add(filepath.Dir(s.path)); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("storage: watch %s: %w", filepath.Dir(s.path), err)
		}
		s.watcher = w
		s.wg.Add(1)
		go s.loop(w)
	}
	return s.watchers.Add(fn), nil
}

func (s *FileStore) loop(w *fsnotify.Watcher) {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("storage: watch error")
		}
	}
}

// reload diffs the file against the last known contents and publishes one event per changed key.
func (s *FileStore) reload() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	m, err := s.read()
	if err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("storage: reload failed")
		return
	}
	events := diff(s.last, m)
	s.last = m
	s.mu.Unlock()
	for _, ev := range events {
		s.watchers.Publish(ev)
	}
}

func diff(old, cur map[string]string) []Event {
	var out []Event
	for k, v := range cur {
		if ov, ok := old[k]; !ok || ov != v {
			out = append(out, Event{Key: k, NewValue: v})
		}
	}
	for k := range old {
		if _, ok := cur[k]; !ok {
			out = append(out, Event{Key: k, Removed: true})
		}
	}
	return out
}

// Close stops the watcher and drops every listener.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w := s.watcher
	s.mu.Unlock()
	s.watchers.Close()
	var err error
	if w != nil {
		err = w.Close()
		s.wg.Wait()
	}
	return err
}
