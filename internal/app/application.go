package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/server"
)

// Application is the runtime state of the serve command: the engine, the
// API server and the background intel feed.
type Application struct {
	Config *Config
	Logger logging.Logger
	Engine *Engine

	server *server.Server
	http   *http.Server

	// internal context for background work
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication builds the engine and the API server from cfg.
func NewApplication(ctx context.Context, cfg *Config, logger logging.Logger) (*Application, error) {
	eng, err := NewEngine(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	srv := server.NewServer(cfg.Server, eng.ServerDeps(), logger)

	actx, cancel := context.WithCancel(context.Background())
	return &Application{
		Config: cfg,
		Logger: logger,
		Engine: eng,
		server: srv,
		http:   srv.HTTPServer(),
		ctx:    actx,
		cancel: cancel,
	}, nil
}

// Handler returns the API handler, for tests and embedding.
func (a *Application) Handler() http.Handler { return a.server }

// Run serves the API until ctx is cancelled or the listener fails, then
// shuts down.
func (a *Application) Run(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Engine.Intel.Run(a.ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("api listening", logging.Field{Key: "addr", Value: a.http.Addr})
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serving api: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown stops the HTTP server, waits for background work and closes the
// store.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	err := a.http.Shutdown(ctx)
	if err != nil {
		a.Logger.Warn("http shutdown returned error", logging.Field{Key: "error", Value: err.Error()})
	}

	a.cancel()
	a.wg.Wait()

	if cerr := a.Engine.Close(); cerr != nil {
		a.Logger.Warn("closing store", logging.Field{Key: "error", Value: cerr.Error()})
		if err == nil {
			err = cerr
		}
	}
	return err
}
