// Package config loads client definitions from YAML files and reloads them
// when the files change.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ClientDefinition describes one configured client: its transport and the
// ordered filters installed on it.
type ClientDefinition struct {
	Name      string             `yaml:"name"`
	Transport TransportConfig    `yaml:"transport"`
	Filters   []FilterDefinition `yaml:"filters"`
}

// TransportConfig holds the settings of the terminal transport.
type TransportConfig struct {
	Timeout     Duration `yaml:"timeout"`
	MaxBodySize int64    `yaml:"maxBodySize"`
	// Cookies enables the cookie jar for requests sent with credentials.
	Cookies       *bool `yaml:"cookies,omitempty"`
	CharsetDetect *bool `yaml:"charsetDetect,omitempty"`
}

// FilterDefinition declares one filter. When, Methods and URLPrefix gate it;
// all that are set must accept a request for the filter to apply.
type FilterDefinition struct {
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	When      string         `yaml:"when,omitempty"`
	Methods   []string       `yaml:"methods,omitempty"`
	URLPrefix string         `yaml:"urlPrefix,omitempty"`
	Config    map[string]any `yaml:"config,omitempty"`
}

// Decode unmarshals the type specific config into out. Unknown keys are an
// error.
func (d FilterDefinition) Decode(out any) error {
	if len(d.Config) == 0 {
		return nil
	}
	data, err := yaml.Marshal(d.Config)
	if err != nil {
		return fmt.Errorf("filter %q: encode config: %w", d.Name, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("filter %q: decode config: %w", d.Name, err)
	}
	return nil
}

// Duration accepts either a Go duration string ("1.5s") or an integer number
// of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	switch tv := raw.(type) {
	case nil:
		*d = 0
	case int:
		*d = Duration(time.Duration(tv) * time.Millisecond)
	case float64:
		*d = Duration(time.Duration(tv * float64(time.Millisecond)))
	case string:
		parsed, err := time.ParseDuration(tv)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", tv, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Validate checks a definition and returns every problem found.
func (c *ClientDefinition) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("missing 'name' field"))
	}
	if c.Transport.Timeout < 0 {
		errs = append(errs, errors.New("transport.timeout must not be negative"))
	}
	if c.Transport.MaxBodySize < 0 {
		errs = append(errs, errors.New("transport.maxBodySize must not be negative"))
	}
	seen := make(map[string]bool, len(c.Filters))
	for i, f := range c.Filters {
		prefix := fmt.Sprintf("filters[%d] %q", i, f.Name)
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("filters[%d]: missing 'name' field", i))
		} else if seen[f.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", prefix))
		}
		seen[f.Name] = true
		if f.Type == "" {
			errs = append(errs, fmt.Errorf("%s: missing 'type' field", prefix))
		}
	}
	return errors.Join(errs...)
}

// Loader loads and watches client definition files.
type Loader struct {
	mu       sync.RWMutex
	clients  map[string]*ClientDefinition
	dir      string
	logger   *slog.Logger
	onChange func(map[string]*ClientDefinition)
}

// NewLoader creates a new configuration loader for the given directory.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		clients: make(map[string]*ClientDefinition),
		dir:     dir,
		logger:  logger,
	}
}

// OnChange registers a callback that fires when config files change.
func (l *Loader) OnChange(fn func(map[string]*ClientDefinition)) {
	l.onChange = fn
}

// Load reads all YAML files from the configured directory. Files that fail to
// parse or validate are logged and skipped.
func (l *Loader) Load() (map[string]*ClientDefinition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", l.dir, err)
	}

	clients := make(map[string]*ClientDefinition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		def, err := LoadFile(path)
		if err != nil {
			l.logger.Error("failed to load config file", "path", path, "error", err)
			continue
		}
		if _, dup := clients[def.Name]; dup {
			l.logger.Warn("duplicate client name, later file wins", "name", def.Name, "path", path)
		}
		clients[def.Name] = def
	}

	l.mu.Lock()
	l.clients = clients
	l.mu.Unlock()

	return clients, nil
}

// Watch starts watching the config directory for changes. Blocks until done
// is closed.
func (l *Loader) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", l.dir, err)
	}

	l.logger.Info("watching config directory", "dir", l.dir)

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				l.logger.Info("config change detected", "file", event.Name, "op", event.Op)
				clients, err := l.Load()
				if err != nil {
					l.logger.Error("failed to reload config", "error", err)
					continue
				}
				if l.onChange != nil {
					l.onChange(clients)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}

// Clients returns a copy of the currently loaded definitions.
func (l *Loader) Clients() map[string]*ClientDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	clients := make(map[string]*ClientDefinition, len(l.clients))
	for k, v := range l.clients {
		clients[k] = v
	}
	return clients
}

// LoadFile reads and validates a single definition.
func LoadFile(path string) (*ClientDefinition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var def ClientDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &def, nil
}
