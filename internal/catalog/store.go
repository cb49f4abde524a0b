package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/tomz197/skirmish/internal/experience"
	"github.com/tomz197/skirmish/internal/feature"
	"github.com/tomz197/skirmish/internal/logging"
)

const reloadDebounce = 500 * time.Millisecond

// Store holds the current catalog and swaps it on reload. Loads already in
// flight keep the catalog they started with.
type Store struct {
	mu      sync.RWMutex
	current *Catalog
	path    string
	log     *log.Logger
}

// Compile-time check that Store implements feature.SpecSource.
var _ feature.SpecSource = (*Store)(nil)

// NewStore creates a store. path is the file Reload and Watch read; it may
// be empty for a fixed catalog.
func NewStore(c *Catalog, path string, l *log.Logger) *Store {
	if l == nil {
		l = logging.Discard()
	}
	return &Store{current: c, path: path, log: l}
}

// Current returns the active catalog.
func (s *Store) Current() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace installs a new catalog.
func (s *Store) Replace(c *Catalog) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

// Has reports whether the active catalog defines id.
func (s *Store) Has(id experience.ID) bool {
	return s.Current().Has(id)
}

// ModuleSpec implements feature.SpecSource.
func (s *Store) ModuleSpec(name string) (feature.Spec, bool) {
	return s.Current().ModuleSpec(name)
}

// Reload re-reads the catalog file. The old catalog stays active on error.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	c, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	for _, p := range c.Problems() {
		s.log.Warn("Catalog problem", "problem", p)
	}
	s.Replace(c)
	s.log.Info("Catalog reloaded", "path", s.path, "experiences", len(c.experiences))
	return nil
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// The directory is watched so editors that replace the file are handled.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch catalog dir: %w", err)
	}
	s.log.Info("Watching catalog for changes", "path", s.path)

	target := filepath.Clean(s.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Debounce: reset timer on each event
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := s.Reload(); err != nil {
					s.log.Error("Catalog reload failed", "err", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Catalog watcher error", "err", err)
		}
	}
}

// Poster marshals a completion onto the session loop.
type Poster interface {
	Post(fn func())
}

// Loader resolves experience definitions off the loop and posts the result
// back. It implements experience.DefinitionLoader.
type Loader struct {
	store  *Store
	poster Poster
	log    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Compile-time check that Loader implements experience.DefinitionLoader.
var _ experience.DefinitionLoader = (*Loader)(nil)

// NewLoader creates a loader reading from store.
func NewLoader(store *Store, poster Poster, l *log.Logger) *Loader {
	if l == nil {
		l = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{store: store, poster: poster, log: l, ctx: ctx, cancel: cancel}
}

// Load implements experience.DefinitionLoader.
func (l *Loader) Load(id experience.ID, done func(*experience.Definition, error)) {
	c := l.store.Current()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		def, err := l.resolve(c, id)
		l.poster.Post(func() { done(def, err) })
	}()
}

func (l *Loader) resolve(c *Catalog, id experience.ID) (*experience.Definition, error) {
	if d := c.LoadDelay(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-l.ctx.Done():
			return nil, l.ctx.Err()
		}
	}

	def, ok := c.Definition(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", experience.ErrConfigNotFound, id)
	}
	l.log.Debug("Resolved experience", "id", id, "features", len(def.Features))
	return def, nil
}

// Close aborts pending loads and waits for them to post.
func (l *Loader) Close() {
	l.cancel()
	l.wg.Wait()
}
