package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Provider hands out the configuration in effect right now. Callers read it
// once per request so tuning takes effect without a redeploy.
type Provider interface {
	Current() *Config
}

// Static is a Provider that never changes.
type Static struct {
	Config *Config
}

// Current implements Provider.
func (s Static) Current() *Config { return s.Config }

// Store is a reloadable Provider backed by an optional YAML file and the
// environment.
type Store struct {
	path string
	cur  atomic.Pointer[Config]

	// OnReload is called after every reload attempt; err is nil on success.
	OnReload func(cfg *Config, err error)
}

// NewStore loads the initial configuration. It fails if that first load fails.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.cur.Store(cfg)
	return s, nil
}

// Current implements Provider.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Path returns the watched config file, if any.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the file and environment. On failure the previous
// configuration stays in effect.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err == nil {
		s.cur.Store(cfg)
	}
	if s.OnReload != nil {
		s.OnReload(s.Current(), err)
	}
	return err
}

// Watch reloads whenever the config file is written or replaced. It blocks
// until ctx is done. Without a config file it just waits for ctx.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", s.path, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				_ = s.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if s.OnReload != nil {
				s.OnReload(s.Current(), err)
			}
		}
	}
}
