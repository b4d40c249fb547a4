package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"monerosync/internal/api"
	"monerosync/internal/config"
	"monerosync/internal/loadbalancer"
	"monerosync/internal/monero"
	"monerosync/internal/refresh"
	"monerosync/internal/retry"
	"monerosync/internal/rpc"
	"monerosync/internal/storage"
	"monerosync/internal/syncengine"
	"monerosync/internal/wallet"

	"github.com/joho/godotenv"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:     "walletd",
		Usage:    "Monero wallet ledger and remote node gateway",
		Flags:    globalFlags,
		Action:   runAction,
		Commands: []*cli.Command{importRecordsCmd, addNodeCmd},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("walletd failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if c.IsSet(networkFlag.Name) {
		network, err := monero.ParseNetwork(c.String(networkFlag.Name))
		if err != nil {
			return nil, err
		}
		cfg.Network = network
	}
	if c.IsSet(nodeURLFlag.Name) {
		cfg.NodeURLs = c.StringSlice(nodeURLFlag.Name)
	}
	if c.IsSet(databaseURLFlag.Name) {
		cfg.DatabaseURL = c.String(databaseURLFlag.Name)
	}
	if c.IsSet(apiPortFlag.Name) {
		cfg.APIPort = strconv.Itoa(c.Int(apiPortFlag.Name))
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = c.String(logLevelFlag.Name)
	}
	if c.IsSet(walletIDFlag.Name) {
		cfg.WalletID = c.String(walletIDFlag.Name)
	}
	if c.IsSet(ruleFlag.Name) {
		cfg.LoadBalancerRule = c.String(ruleFlag.Name)
	}

	return cfg, nil
}

// setupLogger configures the default slog logger
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openRepository connects to the database, retrying through the configured
// strategy, and creates the tables.
func openRepository(ctx context.Context, cfg *config.Config, clk clock.Clock,
	logger *slog.Logger) (*storage.PostgresRepository, error) {

	strategy, err := retry.NewStrategy(cfg.Retry, clk, logger)
	if err != nil {
		return nil, err
	}

	repo, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL, strategy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, err
	}

	return repo, nil
}

func staticNodes(cfg *config.Config) ([]loadbalancer.RemoteNode, error) {
	nodes := make([]loadbalancer.RemoteNode, 0, len(cfg.NodeURLs))
	for _, u := range cfg.NodeURLs {
		node, err := loadbalancer.NewRemoteNode(u, cfg.Network, cfg.NodeUsername, cfg.NodePassword)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func runAction(c *cli.Context) error {
	// 1. Load configuration
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 2. Configure logger
	logger := setupLogger(cfg.LogLevel)
	logger.Info("Configuration loaded",
		"network", cfg.Network,
		"wallet_id", cfg.WalletID,
		"nodes", len(cfg.NodeURLs),
		"database", cfg.DatabaseURL != "",
		"rule", cfg.LoadBalancerRule,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.NewDefaultClock()

	// 3. Storage and node list
	static, err := staticNodes(cfg)
	if err != nil {
		return err
	}

	lb := loadbalancer.New(cfg.Network, logger)

	var (
		repo    *storage.PostgresRepository
		records syncengine.RecordSource
		store   wallet.Store
		updates <-chan []loadbalancer.RemoteNode
	)
	if cfg.DatabaseURL != "" {
		repo, err = openRepository(ctx, cfg, clk, logger)
		if err != nil {
			return err
		}
		defer repo.Close()
		logger.Info("Database connected successfully")

		if err := registerNodes(ctx, repo, static); err != nil {
			return err
		}
		logCheckpoint(ctx, repo, cfg.WalletID, logger)
		records, store = repo, repo
		updates = storage.WatchRemoteNodes(ctx, repo, cfg.Network, ticker.New(cfg.NodePollInterval), logger)
	} else {
		fileRecords, err := recordsFromFlag(c)
		if err != nil {
			return err
		}
		records = syncengine.NewStaticRecords(fileRecords)
		lb.Update(static)
	}

	// 4. RPC client
	rule, err := loadbalancer.ParseRule(cfg.LoadBalancerRule)
	if err != nil {
		return err
	}
	backoff, err := cfg.Backoff.Policy()
	if err != nil {
		return err
	}
	client := rpc.NewClient(lb, rpc.Config{
		Rule:         rule,
		Backoff:      backoff,
		PipeCapacity: cfg.PipeCapacity,
		Clock:        clk,
		Logger:       logger,
	})
	defer client.Close()

	// 5. Sync engine, session and wallet service
	engine, err := syncengine.New(syncengine.Config{
		WalletID:     cfg.WalletID,
		Network:      cfg.Network,
		Records:      records,
		SubAddresses: cfg.WalletAddresses,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	session, err := refresh.NewSession(refresh.Config{
		Engine:    engine,
		Client:    client,
		Network:   cfg.Network,
		BatchSize: cfg.BatchSize,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	session.Start()
	defer session.Stop()

	service, err := wallet.NewService(wallet.Config{
		WalletID:     cfg.WalletID,
		Network:      cfg.Network,
		Session:      session,
		Store:        store,
		Ticker:       ticker.New(cfg.RefreshInterval),
		SkipCoinbase: cfg.SkipCoinbase,
		Clock:        clk,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	// 6. API server
	port, err := strconv.Atoi(cfg.APIPort)
	if err != nil {
		return fmt.Errorf("invalid API port %q: %w", cfg.APIPort, err)
	}
	apiConfig := api.Config{
		Port:         port,
		Wallet:       service,
		Nodes:        lb,
		SubAddresses: engine,
		Logger:       logger,
	}
	if repo != nil {
		apiConfig.Repository = repo
	}
	server, err := api.NewServer(apiConfig)
	if err != nil {
		return err
	}

	// 7. Run until interrupted
	g, gctx := errgroup.WithContext(ctx)

	if updates != nil {
		g.Go(func() error {
			return ignoreCanceled(lb.Subscribe(gctx, updates))
		})
	}
	g.Go(func() error {
		return service.Run(gctx)
	})
	g.Go(func() error {
		probeNodes(gctx, client, ticker.New(cfg.NodePollInterval))
		return nil
	})
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("walletd stopped")
	return err
}

// probeNodes refreshes the node health reported by the API on every tick.
func probeNodes(ctx context.Context, client *rpc.Client, t ticker.Ticker) {
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			client.ProbeNodes(ctx, rpc.DefaultProbePath, 0)
		case <-ctx.Done():
			return
		}
	}
}

func logCheckpoint(ctx context.Context, repo storage.Repository, walletID string, logger *slog.Logger) {
	checkpoint, err := repo.GetCheckpoint(ctx, walletID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Info("No previous refresh recorded", "wallet_id", walletID)
	case err != nil:
		logger.Warn("Failed to read refresh checkpoint", "wallet_id", walletID, "error", err)
	default:
		logger.Info("Last refresh checkpoint",
			"wallet_id", walletID,
			"height", checkpoint.Height,
			"block_time", checkpoint.BlockTime,
			"updated_at", checkpoint.UpdatedAt,
		)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
