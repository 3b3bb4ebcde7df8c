// Package bootstrap wires configuration, storage, record types and
// observability into an App the CLI drives.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/querykit/adapters/hasher"
	"github.com/artpar/querykit/adapters/idgen"
	"github.com/artpar/querykit/adapters/memory"
	"github.com/artpar/querykit/adapters/metrics"
	"github.com/artpar/querykit/adapters/sqlite"
	"github.com/artpar/querykit/config"
	"github.com/artpar/querykit/core/events"
	"github.com/artpar/querykit/core/manager"
	"github.com/artpar/querykit/core/registry"
	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/core/serializer"
	"github.com/artpar/querykit/ports"
)

// Store is a record store that can also load records by identity.
type Store interface {
	ports.Store
	ports.Getter
}

// App holds the wired components.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    Store
	Registry *registry.Registry
	Events   *events.Bus
	Hasher   *hasher.Bcrypt

	// Metrics is nil unless metrics.enabled is set.
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	db       *sqlite.DB
	migrate  func(context.Context, ...*schema.RecordType) error
	strict   atomic.Bool
	textfile atomic.Pointer[string]
}

// New wires an App from cfg. Record types are read from cfg.Schema.Dir;
// a missing directory yields an empty registry.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Events: events.NewBus(logger.With().Str("component", "events").Logger()),
		Hasher: hasher.NewBcrypt(cfg.Hasher.Cost),
	}
	a.strict.Store(cfg.Validation.Strict)
	textfile := cfg.Metrics.Textfile
	a.textfile.Store(&textfile)

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		a.Metrics = metrics.NewWithRegistry(reg)
		a.Gatherer = reg
		logger.Debug().Msg("prometheus metrics enabled")
	}

	if err := a.initStore(cfg); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	types, err := a.loadSchemas()
	if err != nil {
		a.Close()
		return nil, err
	}
	reg, err := checkTypes(types)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register schemas: %w", err)
	}
	a.Registry = reg

	if err := a.migrate(ctx, types...); err != nil {
		a.Close()
		return nil, err
	}
	if a.Metrics != nil {
		a.Metrics.ObserveSchemaReload(len(types), nil)
	}

	logger.Info().
		Str("driver", cfg.Store.Driver).
		Str("schema_dir", cfg.Schema.Dir).
		Int("types", len(types)).
		Msg("querykit initialized")
	return a, nil
}

func (a *App) initStore(cfg *config.Config) error {
	ids, ok := idgen.ByName(cfg.IDs.Generator)
	if !ok {
		return fmt.Errorf("unknown id generator %q", cfg.IDs.Generator)
	}

	switch cfg.Store.Driver {
	case "memory":
		a.Store = memory.New(memory.WithIDGenerator(ids))
		a.migrate = func(context.Context, ...*schema.RecordType) error { return nil }
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return err
		}
		store := sqlite.NewStore(db,
			sqlite.WithIDGenerator(ids),
			sqlite.WithLogger(a.Logger.With().Str("component", "sqlite").Logger()),
		)
		a.db = db
		a.Store = store
		a.migrate = store.Migrate
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

// loadSchemas parses the schema directory.
func (a *App) loadSchemas() ([]*schema.RecordType, error) {
	types, err := schema.ParseDir(a.Config.Schema.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		a.Logger.Warn().Str("dir", a.Config.Schema.Dir).Msg("schema directory not found, no record types loaded")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	return types, nil
}

// ReloadSchemas re-reads the schema directory and swaps the registry
// contents. On error the current types stay registered.
func (a *App) ReloadSchemas(ctx context.Context) error {
	err := a.reloadSchemas(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("schema reload failed, keeping current types")
	}
	return err
}

// reloadSchemas checks and migrates the new types before they become
// visible, so a failure at any step leaves the registry untouched.
func (a *App) reloadSchemas(ctx context.Context) error {
	types, err := a.loadSchemas()
	if err == nil {
		_, err = checkTypes(types)
	}
	if err == nil {
		err = a.migrate(ctx, types...)
	}
	if err == nil {
		err = a.Registry.Replace(types)
	}
	if a.Metrics != nil {
		a.Metrics.ObserveSchemaReload(len(types), err)
	}
	if err != nil {
		return err
	}

	a.Logger.Info().Int("types", len(types)).Msg("schemas reloaded")
	return nil
}

// checkTypes builds a registry over types and resolves its references.
func checkTypes(types []*schema.RecordType) (*registry.Registry, error) {
	reg, err := registry.New(types...)
	if err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// ApplyConfig applies the reloadable settings of cfg.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.strict.Store(cfg.Validation.Strict)
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(level)
	}
	textfile := cfg.Metrics.Textfile
	a.textfile.Store(&textfile)
}

// Manager returns a manager for the named record type carrying the
// app's logger, metrics, hasher and event bus.
func (a *App) Manager(name string) (manager.Manager, error) {
	opts := []manager.Option{
		manager.WithLogger(a.Logger.With().Str("type", name).Logger()),
		manager.WithHasher(a.Hasher),
		manager.WithEvents(a.Events),
		manager.WithStrict(a.strict.Load()),
	}
	if a.Metrics != nil {
		opts = append(opts, manager.WithObserver(a.Metrics))
	}
	return a.Registry.Manager(name, a.Store, opts...)
}

// Serializer returns a serializer for rt that expands references
// through the app's store.
func (a *App) Serializer(rt *schema.RecordType) serializer.Serializer {
	opts := []serializer.Option{serializer.WithResolver(a.Registry.Resolver(a.Store))}
	if a.strict.Load() {
		opts = append(opts, serializer.WithStrict())
	}
	return serializer.New(rt, opts...)
}

// WriteMetrics writes the collected metrics to path in the Prometheus
// text format. It does nothing when metrics are disabled.
func (a *App) WriteMetrics(path string) error {
	if a.Gatherer == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, a.Gatherer); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Close releases the store.
func (a *App) Close() error {
	if err := a.WriteMetrics(*a.textfile.Load()); err != nil {
		a.Logger.Error().Err(err).Msg("metrics write error")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
			return err
		}
		a.db = nil
	}
	return nil
}

// SetupLogger creates the process logger. Logs go to stderr so command
// output on stdout stays machine readable.
func SetupLogger(level, format string) zerolog.Logger {
	return NewLogger(os.Stderr, level, format)
}

// NewLogger creates a logger writing to w.
func NewLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}
