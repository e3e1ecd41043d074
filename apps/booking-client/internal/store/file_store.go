package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/pkg/logger"
)

const fileFormatVersion = 1

type fileRecord struct {
	Version   int            `json:"version"`
	Session   domain.Session `json:"session"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FileStore persists the session as a JSON file. Every process pointing at
// the same file sees the others' writes once Start has been called.
type FileStore struct {
	*hub
	path string
	log  *logger.Logger

	// wmu orders file writes and reloads against each other
	wmu sync.Mutex

	startOnce sync.Once
	closeOnce sync.Once
	watcher   *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewFileStore opens (or creates the directory for) the session file at path
func NewFileStore(path string, log *logger.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session file path is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	fs := &FileStore{
		path: abs,
		log:  log.With(zap.String("component", "file_store"), zap.String("path", abs)),
		done: make(chan struct{}),
	}
	initial, err := fs.load()
	if err != nil {
		fs.log.Warn("ignoring unreadable session file", zap.Error(err))
		initial = domain.GuestSession()
	}
	fs.hub = newHub(initial)
	return fs, nil
}

// Path returns the absolute session file path
func (f *FileStore) Path() string {
	return f.path
}

// Write persists s and notifies listeners. The in-memory snapshot is
// replaced even when persisting fails, so a failed Clear never leaves the
// context authenticated.
func (f *FileStore) Write(s domain.Session) error {
	s = s.Normalize()

	f.wmu.Lock()
	err := f.persist(s)
	prev, seq := f.swap(s)
	f.wmu.Unlock()

	f.notify(Change{Session: s, Previous: prev, Origin: OriginLocal}, seq)
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Update persists the result of fn if it asks for a write. As with Write,
// the snapshot follows fn even when persisting fails.
func (f *FileStore) Update(fn UpdateFunc) (bool, error) {
	f.wmu.Lock()
	prev := f.Read()
	next, ok := fn(prev)
	if !ok {
		f.wmu.Unlock()
		return false, nil
	}
	next = next.Normalize()
	err := f.persist(next)
	_, seq := f.swap(next)
	f.wmu.Unlock()

	f.notify(Change{Session: next, Previous: prev, Origin: OriginLocal}, seq)
	if err != nil {
		return true, fmt.Errorf("failed to persist session: %w", err)
	}
	return true, nil
}

// Clear resets the session to Guest
func (f *FileStore) Clear() error {
	return f.Write(domain.GuestSession())
}

// Start watches the session file for writes made by other processes
func (f *FileStore) Start(ctx context.Context) error {
	err := errors.New("file store already started")
	f.startOnce.Do(func() {
		err = f.start(ctx)
	})
	return err
}

func (f *FileStore) start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// The directory is watched because writes replace the file by rename
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch session directory: %w", err)
	}
	f.watcher = w

	// Catch up on anything written between open and start
	f.reload()

	f.wg.Add(1)
	go f.loop(ctx)
	return nil
}

func (f *FileStore) loop(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path || ev.Op == fsnotify.Chmod {
				continue
			}
			f.reload()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("session file watcher error", zap.Error(err))
		}
	}
}

// Close stops watching
func (f *FileStore) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.watcher != nil {
			err = f.watcher.Close()
		}
		f.wg.Wait()
	})
	return err
}

// reload re-reads the file and notifies listeners if its session differs
// from the snapshot. Echoes of this store's own writes compare equal.
func (f *FileStore) reload() {
	f.wmu.Lock()
	s, err := f.load()
	if err != nil {
		f.wmu.Unlock()
		f.log.Warn("failed to reload session file", zap.Error(err))
		return
	}
	prev, seq, changed := f.swapIfChanged(s)
	f.wmu.Unlock()

	if changed {
		f.log.Debug("session changed by another context",
			zap.String("role", s.Role.String()),
			zap.String("previous_role", prev.Role.String()),
		)
		f.notify(Change{Session: s, Previous: prev, Origin: OriginExternal}, seq)
	}
}

func (f *FileStore) load() (domain.Session, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.GuestSession(), nil
	}
	if err != nil {
		return domain.Session{}, err
	}
	if len(data) == 0 {
		return domain.GuestSession(), nil
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Session{}, fmt.Errorf("failed to decode session file: %w", err)
	}
	if rec.Version != fileFormatVersion {
		return domain.Session{}, fmt.Errorf("unsupported session file version %d", rec.Version)
	}
	return rec.Session.Normalize(), nil
}

// persist writes the record to a temp file and renames it into place
func (f *FileStore) persist(s domain.Session) error {
	data, err := json.MarshalIndent(fileRecord{
		Version:   fileFormatVersion,
		Session:   s,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
