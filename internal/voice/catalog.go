package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Selector names a timbre class a caller may request for a synthesized line.
type Selector string

const (
	MalePresenting   Selector = "male_presenting"
	FemalePresenting Selector = "female_presenting"
)

// Valid reports whether the selector is one of the supported timbre classes.
func (s Selector) Valid() bool {
	return s == MalePresenting || s == FemalePresenting
}

// ErrNoVoice is returned when a selector cannot be resolved to a vendor voice.
var ErrNoVoice = errors.New("no voice configured for selector")

// catalogFile is the YAML shape of one voice mapping file.
type catalogFile struct {
	Backend string            `yaml:"backend"`
	Voices  map[string]string `yaml:"voices"`
}

// Catalog resolves voice selectors to vendor-specific voice identities.
// Defaults come from the environment; YAML files in the catalog directory
// override them per backend and can be hot-reloaded.
type Catalog struct {
	dir      string
	defaults map[Selector]string
	fallback string

	mu        sync.RWMutex
	overrides map[string]map[Selector]string
}

// NewCatalog creates a catalog with the given env-derived defaults. fallback
// is used when a selector has neither an override nor a default.
func NewCatalog(dir string, defaults map[Selector]string, fallback string) *Catalog {
	return &Catalog{
		dir:       dir,
		defaults:  defaults,
		fallback:  fallback,
		overrides: make(map[string]map[Selector]string),
	}
}

// LoadAll loads all .yaml and .yml files from the catalog directory.
// A missing directory is not an error; the env defaults still apply.
func (c *Catalog) LoadAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read voice catalog dir %q: %w", c.dir, err)
	}

	result := make(map[string]map[Selector]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		backend, voices, err := loadFile(path)
		if err != nil {
			return fmt.Errorf("load %q: %w", path, err)
		}
		if result[backend] == nil {
			result[backend] = make(map[Selector]string)
		}
		for sel, id := range voices {
			result[backend][sel] = id
		}
	}

	c.mu.Lock()
	c.overrides = result
	c.mu.Unlock()

	return nil
}

// Resolve maps a selector to a vendor voice id for the given backend.
func (c *Catalog) Resolve(backend string, sel Selector) (string, error) {
	c.mu.RLock()
	byBackend := c.overrides[backend]
	id := byBackend[sel]
	c.mu.RUnlock()

	if id != "" {
		return id, nil
	}
	if id = c.defaults[sel]; id != "" {
		return id, nil
	}
	if c.fallback != "" {
		return c.fallback, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNoVoice, backend, sel)
}

func loadFile(path string) (string, map[Selector]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("parse YAML: %w", err)
	}
	if f.Backend == "" {
		return "", nil, fmt.Errorf("missing backend name")
	}

	voices := make(map[Selector]string, len(f.Voices))
	for k, v := range f.Voices {
		sel := Selector(k)
		if !sel.Valid() {
			return "", nil, fmt.Errorf("unknown voice selector %q", k)
		}
		voices[sel] = v
	}
	return f.Backend, voices, nil
}

// WatchAndReload watches the catalog directory and reloads mappings on
// change. Blocks until the done channel is closed.
func (c *Catalog) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", c.dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				ext := filepath.Ext(event.Name)
				if ext == ".yaml" || ext == ".yml" {
					if err := c.LoadAll(); err != nil {
						slog.Warn("voice catalog reload failed", slog.String("error", err.Error()))
					}
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
