// Package daemon hosts the long-lived Signet process: the capture manager,
// the refiner scheduler, the distiller, the memory store, and the loopback
// HTTP API that external collaborators talk to.
package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/capture"
	"github.com/signetai/signet/config"
	"github.com/signetai/signet/db"
	"github.com/signetai/signet/distill"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/llm"
	"github.com/signetai/signet/memory"
	"github.com/signetai/signet/refine"
)

const (
	// DefaultPort is the loopback API port.
	DefaultPort = 3850

	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second

	pruneInterval = 24 * time.Hour
)

// Daemon owns every subsystem and tears them down in reverse order.
type Daemon struct {
	cfg       *config.Config
	stateRoot string
	version   string
	logger    *zap.SugaredLogger

	database  *sql.DB
	store     *memory.Store
	manager   *capture.Manager
	scheduler *refine.Scheduler
	distiller *distill.Distiller
	persister *perceptionPersister
	client    *llm.Client
	watcher   *config.Watcher

	server    *http.Server
	startedAt time.Time

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New wires the daemon. Migration failures and unusable state roots are
// returned as errors; the caller exits non-zero.
func New(cfg *config.Config, stateRoot, version string, logger *zap.SugaredLogger) (*Daemon, error) {
	dbPath := cfg.Memory.Database
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(stateRoot, dbPath)
	}
	database, err := db.Open(dbPath, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.Migrate(database, logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "migrate database")
	}

	embedder, err := llm.NewEmbedder(cfg.Embedding)
	if err != nil {
		database.Close()
		return nil, errors.Wrap(err, "configure embedder")
	}
	store, err := memory.NewStore(database, embedder, cfg.Search, logger)
	if err != nil {
		database.Close()
		return nil, errors.Wrap(err, "create memory store")
	}

	client := llm.NewClient(cfg.Perception.OllamaURL, cfg.Perception.RefinerModel, logger)
	manager := capture.NewManager(cfg.Perception, logger)
	scheduler := refine.NewScheduler(manager, store,
		refine.BuildRefiners(client, logger), cfg.Perception.RefinerIntervalMinutes, logger)
	distiller := distill.New(database, store, client, version, logger)

	return &Daemon{
		cfg:       cfg,
		stateRoot: stateRoot,
		version:   version,
		logger:    logger,
		database:  database,
		store:     store,
		manager:   manager,
		scheduler: scheduler,
		distiller: distiller,
		persister: newPerceptionPersister(database, manager, cfg.Perception, logger),
		client:    client,
		stop:      make(chan struct{}),
	}, nil
}

// Store exposes the memory store, for CLI reuse of an open daemon wiring.
func (d *Daemon) Store() *memory.Store { return d.store }

// Run starts every subsystem and blocks until the context is cancelled or
// a termination signal arrives. Bind failure is fatal and returned.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := d.writePidFile(); err != nil {
		return err
	}
	d.startedAt = time.Now()

	// Startup order is dependency order; shutdown reverses it.
	d.manager.Start(ctx)
	d.scheduler.Start(ctx)
	d.distiller.Start(ctx)
	d.persister.Start(ctx)
	d.watchManifest()

	d.wg.Add(1)
	go d.pruneLoop(ctx)

	port := d.cfg.Server.Port
	if port <= 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		d.shutdown()
		return errors.Wrapf(err, "bind %s", addr)
	}

	d.server = &http.Server{
		Handler:      d.routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	d.logger.Infow("Daemon ready", "addr", addr, "pid", os.Getpid(), "version", d.version)

	select {
	case err := <-serveErr:
		d.shutdown()
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	d.logger.Infow("Daemon stopping")
	d.shutdown()
	return nil
}

// shutdown tears subsystems down in reverse dependency order.
func (d *Daemon) shutdown() {
	d.stopOnce.Do(func() {
		if d.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.server.Shutdown(shutdownCtx); err != nil {
				d.logger.Warnw("HTTP shutdown incomplete", "error", err)
			}
		}
		if d.watcher != nil {
			d.watcher.Stop()
		}
		close(d.stop)
		d.persister.Stop()
		d.distiller.Stop()
		d.scheduler.Stop()
		d.manager.Stop()
		d.wg.Wait()
		if err := d.database.Close(); err != nil {
			d.logger.Warnw("Database close failed", "error", err)
		}
		d.removePidFile()
		d.logger.Infow("Daemon stopped")
	})
}

// watchManifest reloads agent.yaml on edit so capture exclusions apply
// without a restart. A missing or unwatchable manifest downgrades to
// restart-only config, never a startup failure.
func (d *Daemon) watchManifest() {
	watcher, err := config.NewWatcher(filepath.Join(d.stateRoot, "agent.yaml"))
	if err != nil {
		d.logger.Warnw("Manifest watch unavailable, config changes need a restart", "error", err)
		return
	}
	watcher.OnReload(func(cfg *config.Config) error {
		d.manager.SetFileExclusions(cfg.Perception.Files.ExcludePatterns)
		d.logger.Infow("Manifest reloaded",
			"exclude_patterns", len(cfg.Perception.Files.ExcludePatterns))
		return nil
	})
	watcher.Start()
	d.watcher = watcher
}

// pruneLoop retires stale auto-extracted memories once a day.
func (d *Daemon) pruneLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			if _, err := d.store.Prune(ctx, memory.PruneAfterDays, memory.PruneMaxImportance); err != nil {
				d.logger.Warnw("Memory prune failed", "error", err)
			}
		}
	}
}

func (d *Daemon) pidPath() string {
	return filepath.Join(d.stateRoot, ".daemon", "pid")
}

func (d *Daemon) writePidFile() error {
	path := d.pidPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create daemon state dir")
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return errors.Wrap(err, "write pid file")
	}
	return nil
}

func (d *Daemon) removePidFile() {
	if err := os.Remove(d.pidPath()); err != nil && !os.IsNotExist(err) {
		d.logger.Warnw("Pid file not removed", "error", err)
	}
}

// ready reports whether every subsystem can serve. The database is the only
// hard dependency; adapters and the model degrade individually.
func (d *Daemon) ready(ctx context.Context) bool {
	return d.database.PingContext(ctx) == nil
}
