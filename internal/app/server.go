// Package app wires storage, the ledger, and the REST surface into one
// runnable server process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/louisbranch/gearlocker/internal/api/rest"
	"github.com/louisbranch/gearlocker/internal/custody/storage"
	"github.com/louisbranch/gearlocker/internal/custody/storage/postgres"
	"github.com/louisbranch/gearlocker/internal/custody/storage/sqlite"
	"github.com/louisbranch/gearlocker/internal/ledger"
	"github.com/louisbranch/gearlocker/internal/platform/timeouts"
)

// Storage driver names accepted by Config.StorageDriver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the server process configuration.
type Config struct {
	HTTPAddr      string `env:"GEARLOCKER_HTTP_ADDR" envDefault:"localhost:8080"`
	StorageDriver string `env:"GEARLOCKER_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"GEARLOCKER_SQLITE_PATH" envDefault:"gearlocker.db"`
	PostgresDSN   string `env:"GEARLOCKER_POSTGRES_DSN"`
}

// Store is the full persistence surface the server needs from a driver.
type Store interface {
	storage.AssetStore
	storage.ProvisioningStore
	io.Closer
}

// OpenStore opens the configured storage driver.
func OpenStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case DriverSQLite, "":
		return sqlite.Open(cfg.SQLitePath)
	case DriverPostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("storage driver %q is not supported", cfg.StorageDriver)
	}
}

// Server owns the HTTP listener and the storage handle behind it.
type Server struct {
	httpAddr   string
	httpServer *http.Server
	store      Store
}

// NewServer opens storage and builds the request pipeline.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open custody storage: %w", err)
	}

	broadcaster := ledger.NewBroadcaster()
	custodyLedger := ledger.New(store,
		ledger.WithNotifier(ledger.MultiNotifier(ledger.LogNotifier{}, broadcaster)),
	)
	handler := rest.New(custodyLedger, store, rest.WithBroadcaster(broadcaster))

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		httpAddr:   httpAddr,
		httpServer: httpServer,
		store:      store,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
//
// On cancellation, it performs a bounded shutdown so in-flight requests are
// drained before hard close.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("custody api listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases the storage handle.
func (s *Server) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close custody storage: %v", err)
	}
}
