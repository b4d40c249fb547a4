package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"monerosync/internal/ledger"
	"monerosync/internal/loadbalancer"
	"monerosync/internal/monero"
	"monerosync/internal/storage"
	"monerosync/internal/wallet"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// WalletService is the wallet surface exposed over HTTP
type WalletService interface {
	WalletID() string
	Network() monero.Network
	Ledger() fn.Option[*ledger.Ledger]
	RunStatus() wallet.RunStatus
	Refresh(ctx context.Context) string
	CancelRefresh()
}

// NodeHealthSource reports the live remote nodes
type NodeHealthSource interface {
	Health() []loadbalancer.NodeHealth
}

// SubAddressManager reads and replaces the wallet's sub-address list
type SubAddressManager interface {
	SubAddresses() []string
	SetSubAddresses(subs []string) error
}

// Config wires a Server. Repository, Nodes and SubAddresses are optional.
type Config struct {
	Port         int
	Wallet       WalletService
	Repository   storage.Repository
	Nodes        NodeHealthSource
	SubAddresses SubAddressManager
	Logger       *slog.Logger
}

// Server represents the HTTP API server
// Provides endpoints for Prometheus metrics, health checks, and the wallet
type Server struct {
	httpServer   *http.Server
	mux          *http.ServeMux
	wallet       WalletService
	repository   storage.Repository
	nodes        NodeHealthSource
	subAddresses SubAddressManager
	logger       *slog.Logger
	port         int
}

// NewServer creates a new API server instance
func NewServer(cfg Config) (*Server, error) {
	if cfg.Wallet == nil {
		return nil, errors.New("wallet service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		mux:          mux,
		wallet:       cfg.Wallet,
		repository:   cfg.Repository,
		nodes:        cfg.Nodes,
		subAddresses: cfg.SubAddresses,
		logger:       cfg.Logger.With("component", "api"),
		port:         cfg.Port,
	}

	// Register all HTTP routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	// Core endpoints
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.handleMetrics())

	// Wallet endpoints
	s.mux.HandleFunc("/balance", s.handleBalance)
	s.mux.HandleFunc("/transactions", s.handleTransactions)
	s.mux.HandleFunc("/nodes", s.handleNodes)
	s.mux.HandleFunc("/subaddresses", s.handleSubAddresses)

	// Refresh control
	s.mux.HandleFunc("/refresh", s.handleRefresh)
	s.mux.HandleFunc("/refresh/cancel", s.handleCancelRefresh)
}

// Handler exposes the routes, used by tests and embedding servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections until Shutdown is called
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("API server starting",
		"addr", l.Addr().String(),
		"endpoints", []string{"/", "/health", "/metrics", "/balance", "/transactions", "/nodes", "/refresh"},
	)

	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured port and serves until Shutdown
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(l)
}

// Shutdown gracefully shuts down the HTTP server
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
