// Package agent assembles the inspection sync agent: the record store, the
// attachment database, the connectivity monitor and the synchronization
// driver, and runs them until the process is told to stop.
package agent

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/asemenov-dev/inspectsync/internal/agent/blob"
	"github.com/asemenov-dev/inspectsync/internal/agent/config"
	"github.com/asemenov-dev/inspectsync/internal/agent/connectivity"
	"github.com/asemenov-dev/inspectsync/internal/agent/events"
	"github.com/asemenov-dev/inspectsync/internal/agent/kvstore"
	"github.com/asemenov-dev/inspectsync/internal/agent/records"
	"github.com/asemenov-dev/inspectsync/internal/agent/schema"
	"github.com/asemenov-dev/inspectsync/internal/agent/services"
	"github.com/asemenov-dev/inspectsync/internal/agent/syncer"
	"github.com/asemenov-dev/inspectsync/internal/logging"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	storage *kvstore.FileStorage
	blobDB  *sql.DB
	monitor *connectivity.Monitor
	driver  *syncer.Driver
	service *services.InspectionService
	bus     *events.Bus
}

// NewApp wires all agent components from the given configuration. The blob
// database is opened (and migrated) here so a broken data directory fails
// startup instead of the first upload.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewAgentLogger(cfg.LogFile, cfg.Debug)

	storage, err := kvstore.OpenFileStorage(cfg.StoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening record storage: %w", err)
	}

	db, err := blob.InitDatabase(ctx, cfg.BlobDSN)
	if err != nil {
		return nil, fmt.Errorf("opening blob database: %w", err)
	}

	repo := records.NewRepository(storage, logger)
	blobs := blob.NewSQLiteStore(db)
	bus := events.NewBus()

	monitor := connectivity.NewMonitor(cfg.ConnectivityCheckURL, cfg.ConnectivityCheckInterval, nil, logger)
	driver := syncer.NewDriver(repo, blobs, bus, monitor, http.DefaultClient,
		cfg.UploadInspectionURL, cfg.SyncInterval, logger)
	service := services.NewInspectionService(repo, blobs, schema.BuiltIn(), bus, logger)

	return &App{
		config:  cfg,
		logger:  logger,
		storage: storage,
		blobDB:  db,
		monitor: monitor,
		driver:  driver,
		service: service,
		bus:     bus,
	}, nil
}

// Service exposes the inspection operations backed by this app's stores.
func (app *App) Service() *services.InspectionService {
	return app.service
}

// Bus exposes the status-change bus for subscribers (UIs, log sinks).
func (app *App) Bus() *events.Bus {
	return app.bus
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// watchStorage triggers an extra sync pass when another process rewrites the
// record storage file, so externally queued records do not wait a full
// interval.
func (app *App) watchStorage(ctx context.Context, wg *sync.WaitGroup) {
	watcher, err := kvstore.NewWatcher(app.storage.Path(), app.logger)
	if err != nil {
		app.logger.Warn(ctx, "storage watcher unavailable", "error", err)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Changes():
				if !ok {
					return
				}
				app.driver.Tick(ctx)
			}
		}
	}()
}

// Run starts the connectivity monitor and the synchronization driver and
// blocks until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting agent",
		"upload_url", app.config.UploadInspectionURL,
		"storage", app.config.StoragePath,
		"blob_dsn", app.config.BlobDSN)

	app.initSignalHandler(cancelFunc)

	app.monitor.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.driver.Run(ctx)
	}()

	app.watchStorage(ctx, &wg)

	statusLog := app.bus.Subscribe(func(ev events.StatusChange) {
		app.logger.Info(ctx, "record status changed", "record_id", ev.RecordID, "status", ev.Status)
	})
	defer statusLog()

	<-ctx.Done()
	wg.Wait()

	app.monitor.Stop()
	if err := app.blobDB.Close(); err != nil {
		app.logger.Error(ctx, "closing blob database", "error", err)
	}
	app.logger.Info(ctx, "agent stopped")
}
