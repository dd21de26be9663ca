// Package server wires the EchoVault core together: configuration, logging,
// the metadata and blob stores, the request-path services and the background
// reconciler. Transport and identity are mounted by external collaborators;
// this package only exposes the assembled services.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/echovault/echovault/internal/logging"
	"github.com/echovault/echovault/internal/server/config"
	"github.com/echovault/echovault/internal/server/repositories/repomanager"
	"github.com/echovault/echovault/internal/server/services"
	"github.com/echovault/echovault/internal/server/storage/blob"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	uploads    *services.UploadCoordinator
	echoes     *services.EchoService
	reconciler *services.Reconciler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs, err := blob.NewS3Store(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	uploads := services.NewUploadCoordinator(blobs, cfg, logger)
	echoes := services.NewEchoService(db, rm, blobs, cfg, logger)
	reconciler := services.NewReconciler(db, rm, blobs, cfg, logger)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		uploads:    uploads,
		echoes:     echoes,
		reconciler: reconciler,
	}, nil
}

// Uploads returns the upload coordinator for the transport layer to mount.
func (app *App) Uploads() *services.UploadCoordinator { return app.uploads }

// Echoes returns the echo service for the transport layer to mount.
func (app *App) Echoes() *services.EchoService { return app.echoes }

// Reconciler returns the background orphan sweeper.
func (app *App) Reconciler() *services.Reconciler { return app.reconciler }

// Close releases the database pool.
func (app *App) Close() error {
	return app.db.Close()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run drives the background reconciler until an OS signal or context
// cancellation stops it.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reconciler.Run(ctx)
	}()

	wg.Wait()
}
