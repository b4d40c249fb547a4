package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"monerosync/internal/ledger"
	"monerosync/internal/metrics"
	"monerosync/internal/models"
	"monerosync/internal/monero"
	"monerosync/internal/refresh"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const persistTimeout = 30 * time.Second

// Store is the persistence the service needs.
type Store interface {
	SaveLedger(ctx context.Context, walletID string, l *ledger.Ledger) error
	SaveCheckpoint(ctx context.Context, checkpoint *models.RefreshCheckpoint) error
}

// Config wires a Service.
type Config struct {
	WalletID     string
	Network      monero.Network
	Session      *refresh.Session
	Store        Store
	Ticker       ticker.Ticker
	SkipCoinbase bool
	Clock        clock.Clock
	Logger       *slog.Logger
}

// RunStatus describes the latest refresh run started by the service.
type RunStatus struct {
	RunID   string
	Running bool
	Result  fn.Option[refresh.Result]
}

// Service drives periodic refreshes of one wallet and keeps the latest
// ledger, persisting every new one.
type Service struct {
	walletID     string
	network      monero.Network
	session      *refresh.Session
	store        Store
	ticker       ticker.Ticker
	skipCoinbase bool
	clock        clock.Clock
	logger       *slog.Logger

	builder *LedgerBuilder

	mu      sync.RWMutex
	current *ledger.Ledger
	run     RunStatus

	running atomic.Bool
	waiters sync.WaitGroup
}

func NewService(cfg Config) (*Service, error) {
	if cfg.WalletID == "" {
		return nil, errors.New("wallet id is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("refresh session is required")
	}
	if cfg.Ticker == nil {
		return nil, errors.New("refresh ticker is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Service{
		walletID:     cfg.WalletID,
		network:      cfg.Network,
		session:      cfg.Session,
		store:        cfg.Store,
		ticker:       cfg.Ticker,
		skipCoinbase: cfg.SkipCoinbase,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With("component", "wallet", "wallet_id", cfg.WalletID),
	}
	s.builder = NewLedgerBuilder(s.publish, cfg.Logger)
	return s, nil
}

func (s *Service) WalletID() string {
	return s.walletID
}

func (s *Service) Network() monero.Network {
	return s.network
}

// Ledger returns the latest ledger, if one was built.
func (s *Service) Ledger() fn.Option[*ledger.Ledger] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return fn.None[*ledger.Ledger]()
	}
	return fn.Some(s.current)
}

func (s *Service) RunStatus() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

// Run subscribes to the session and refreshes on every tick until ctx
// ends. The first refresh starts immediately.
func (s *Service) Run(ctx context.Context) error {
	s.session.AddListener(s.builder)
	defer s.session.RemoveListener(s.builder)

	s.ticker.Resume()
	defer s.ticker.Stop()

	s.logger.Info("Wallet service started", "network", s.network)
	s.Refresh(ctx)

	for {
		select {
		case <-s.ticker.Ticks():
			if s.running.Load() {
				s.logger.Debug("Refresh still running, skipping tick")
				continue
			}
			s.Refresh(ctx)

		case <-ctx.Done():
			s.session.CancelRefresh()
			s.waiters.Wait()
			s.logger.Info("Wallet service stopped")
			return nil
		}
	}
}

// Refresh starts a refresh, superseding a running one, and returns its
// run id. The result is recorded asynchronously.
func (s *Service) Refresh(ctx context.Context) string {
	runID := uuid.NewString()

	s.running.Store(true)
	s.mu.Lock()
	s.run = RunStatus{RunID: runID, Running: true, Result: fn.None[refresh.Result]()}
	s.mu.Unlock()

	s.logger.Info("Starting refresh", "run_id", runID, "skip_coinbase", s.skipCoinbase)
	results := s.session.ResumeRefresh(ctx, s.skipCoinbase)

	s.waiters.Add(1)
	go func() {
		defer s.waiters.Done()
		s.finish(runID, <-results)
	}()

	return runID
}

// CancelRefresh interrupts the running refresh, if any.
func (s *Service) CancelRefresh() {
	s.session.CancelRefresh()
}

func (s *Service) finish(runID string, result refresh.Result) {
	s.mu.Lock()
	latest := s.run.RunID == runID
	if latest {
		s.run.Running = false
		s.run.Result = fn.Some(result)
		s.running.Store(false)
	}
	s.mu.Unlock()

	s.logger.Info("Refresh completed",
		"run_id", runID,
		"status", result.Status,
		"time", result.Time)

	if result.Status != refresh.StatusOK || !latest {
		return
	}
	if err := s.saveCheckpoint(result.Time); err != nil {
		s.logger.Error("Failed to save checkpoint", "run_id", runID, "error", err)
	}
}

func (s *Service) saveCheckpoint(t monero.BlockchainTime) error {
	if s.store == nil {
		return nil
	}

	checkpoint := &models.RefreshCheckpoint{
		WalletID:  s.walletID,
		Network:   s.network.String(),
		Height:    t.Height,
		BlockTime: t.Timestamp,
		UpdatedAt: s.clock.Now(),
	}
	s.Ledger().WhenSome(func(l *ledger.Ledger) {
		checkpoint.TxCount = len(l.TransactionByID)
		checkpoint.EnoteCount = len(l.Enotes)
	})

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// publish is called by the builder for every new ledger.
func (s *Service) publish(l *ledger.Ledger) {
	s.mu.Lock()
	s.current = l
	s.mu.Unlock()

	metrics.LedgerTransactions.Set(float64(len(l.TransactionByID)))
	metrics.LedgerEnotes.Set(float64(len(l.Enotes)))
	metrics.ChainHeight.Set(float64(l.CheckedAt.Height))

	balance, err := l.Balance()
	if err != nil {
		s.logger.Error("Failed to compute balance", "error", err)
	} else {
		metrics.Balance.WithLabelValues("confirmed").Set(float64(balance.Confirmed))
		metrics.Balance.WithLabelValues("pending").Set(float64(balance.Pending))
		metrics.Balance.WithLabelValues("unlocked").Set(float64(balance.UnlockedAmountAt(l.CheckedAt)))
	}

	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.SaveLedger(ctx, s.walletID, l); err != nil {
		s.logger.Error("Failed to persist ledger",
			"checked_at", l.CheckedAt,
			"transactions", len(l.TransactionByID),
			"error", err)
		return
	}
	metrics.LedgersPersisted.Inc()
}
