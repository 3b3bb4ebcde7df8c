package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// setting describes one configuration value the holder tracks across
// reloads.
type setting struct {
	name       string
	reloadable bool
	value      func(*Config) string
}

var settings = []setting{
	{"validation.strict", true, func(c *Config) string { return strconv.FormatBool(c.Validation.Strict) }},
	{"logging.level", true, func(c *Config) string { return c.Logging.Level }},
	{"metrics.textfile", true, func(c *Config) string { return c.Metrics.Textfile }},
	{"store.driver", false, func(c *Config) string { return c.Store.Driver }},
	{"store.dsn", false, func(c *Config) string { return c.Store.DSN }},
	{"schema.dir", false, func(c *Config) string { return c.Schema.Dir }},
	{"hasher.cost", false, func(c *Config) string { return strconv.Itoa(c.Hasher.Cost) }},
	{"ids.generator", false, func(c *Config) string { return c.IDs.Generator }},
	{"logging.format", false, func(c *Config) string { return c.Logging.Format }},
}

// Change is one setting that differs between two configurations.
type Change struct {
	Field      string
	Old, New   string
	Reloadable bool // false when the new value only applies after a restart
}

// Diff lists the settings that differ between old and new, in a fixed
// order.
func Diff(old, new *Config) []Change {
	var changes []Change
	for _, s := range settings {
		o, n := s.value(old), s.value(new)
		if o != n {
			changes = append(changes, Change{Field: s.name, Old: o, New: n, Reloadable: s.reloadable})
		}
	}
	return changes
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string { return fieldNames(true) }

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string { return fieldNames(false) }

func fieldNames(reloadable bool) []string {
	var names []string
	for _, s := range settings {
		if s.reloadable == reloadable {
			names = append(names, s.name)
		}
	}
	return names
}

// Holder serves the current configuration and swaps it when the file
// changes or the process receives SIGHUP. A reload that fails to load
// or validate keeps the previous configuration.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return &Holder{
		path:   abs,
		logger: logger.With().Str("component", "config").Logger(),
		config: cfg,
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration. Callers must not modify it.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload reads the file again and notifies listeners.
func (h *Holder) Reload() error {
	cfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping previous")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.config
	h.config = cfg
	listeners := append(([]func(*Config))(nil), h.listeners...)
	h.mu.Unlock()

	changes := Diff(old, cfg)
	for _, c := range changes {
		ev := h.logger.Info()
		msg := "setting changed"
		if !c.Reloadable {
			ev = h.logger.Warn()
			msg = "setting changed; restart to apply"
		}
		ev.Str("field", c.Field).Str("old", c.Old).Str("new", c.New).Msg(msg)
	}

	for _, fn := range listeners {
		fn(cfg)
	}
	h.logger.Info().Int("changes", len(changes)).Msg("configuration reloaded")
	return nil
}

// WatchFile reloads whenever the file is written or replaced. The
// parent directory is watched so editors that save by rename are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.watcher = watcher

	h.wg.Add(1)
	go h.watchLoop(watcher)
	h.logger.Debug().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("SIGHUP received")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching and waits for the watchers to
// exit. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
	h.wg.Wait()
}

func (h *Holder) watchLoop(watcher *fsnotify.Watcher) {
	defer h.wg.Done()
	name := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().Str("op", event.Op.String()).Msg("config file changed")
			h.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")
		case <-h.stopCh:
			return
		}
	}
}
