// ABOUTME: Registry holds the current Catalog and rebuilds it on explicit Reload
// ABOUTME: Watch ties Reload to filesystem changes of the profiles file

package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SourceResolver turns a source name into its remote id, creating it if needed.
type SourceResolver interface {
	ResolveOrCreate(ctx context.Context, name string) (string, error)
}

// Registry owns the active Catalog. Readers call Current; a Reload swaps in a new
// catalog atomically so in-flight provisioning keeps the one it started with.
type Registry struct {
	path     string // empty uses the embedded defaults
	resolver SourceResolver
	logger   *slog.Logger
	fallback string // overrides the file's default profile when set

	current  atomic.Pointer[Catalog]
	reloadMu sync.Mutex
}

// NewRegistry creates a registry for the profiles file at path.
func NewRegistry(path string, resolver SourceResolver, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		path:     path,
		resolver: resolver,
		logger:   logger.With("component", "profiles"),
	}
}

// SetDefault makes name the default profile on subsequent reloads,
// regardless of what the file declares. An empty name restores the file's choice.
func (r *Registry) SetDefault(name string) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	r.fallback = name
}

// Current returns the active catalog, or nil before the first successful Reload.
func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// Path returns the watched profiles file, empty for the embedded defaults.
func (r *Registry) Path() string {
	return r.path
}

// Reload reads the profiles, resolves every referenced source and swaps the catalog.
// If sources were configured and none of them resolved, the previous catalog is kept.
func (r *Registry) Reload(ctx context.Context) (*Catalog, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	f, err := r.load()
	if err != nil {
		return nil, err
	}
	if r.fallback != "" {
		f.Default = r.fallback
	}

	names := sourceNames(f)
	ids := make(map[string]string, len(names))
	var failed []string
	for _, name := range names {
		id, err := r.resolver.ResolveOrCreate(ctx, name)
		if err != nil || id == "" {
			r.logger.Error("failed to resolve source", "source", name, "error", err)
			failed = append(failed, name)
			continue
		}
		ids[name] = id
	}
	if len(names) > 0 && len(ids) == 0 {
		return nil, fmt.Errorf("no source could be resolved (%d configured)", len(names))
	}

	c, err := compile(f, ids)
	if err != nil {
		return nil, err
	}
	r.current.Store(c)

	r.logger.Info("profiles loaded",
		"profiles", c.Names(),
		"default", c.DefaultName(),
		"sources", len(ids),
		"unresolved", failed,
	)
	return c, nil
}

func (r *Registry) load() (*File, error) {
	if r.path == "" {
		return DefaultFile(), nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}
	return Parse(data)
}

// sourceNames returns the distinct source names across all profiles in file order.
func sourceNames(f *File) []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range f.Profiles {
		for _, s := range p.Sources {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			names = append(names, s)
		}
	}
	return names
}

// debounce collapses bursts of editor writes into one reload.
const debounce = 250 * time.Millisecond

// Watch reloads the catalog whenever the profiles file changes, until ctx ends.
// The parent directory is watched so atomic rename-on-save is picked up.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return errors.New("no profiles file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(r.path)
	if err != nil {
		return fmt.Errorf("resolving profiles path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	r.logger.Info("watching profiles", "path", target)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if _, err := r.Reload(ctx); err != nil {
				r.logger.Error("profile reload failed, keeping previous catalog", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("profile watcher error", "error", err)
		}
	}
}
