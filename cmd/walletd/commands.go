package main

import (
	"context"
	"errors"
	"fmt"

	"monerosync/internal/loadbalancer"
	"monerosync/internal/models"
	"monerosync/internal/storage"
	"monerosync/internal/syncengine"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/urfave/cli/v2"
)

// flags
var (
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "monero network: mainnet, testnet or stagenet",
	}
	nodeURLFlag = &cli.StringSliceFlag{
		Name:  "node-url",
		Usage: "remote node base URL, can be repeated",
	}
	databaseURLFlag = &cli.StringFlag{
		Name:  "database-url",
		Usage: "PostgreSQL connection string",
	}
	apiPortFlag = &cli.IntFlag{
		Name:  "api-port",
		Usage: "HTTP API port",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error",
	}
	walletIDFlag = &cli.StringFlag{
		Name:  "wallet-id",
		Usage: "identifier of the wallet in storage",
	}
	ruleFlag = &cli.StringFlag{
		Name:  "rule",
		Usage: "node selection rule: first or round_robin",
	}
	recordsFileFlag = &cli.StringFlag{
		Name:  "records-file",
		Usage: "JSON file of tx records, used when no database is configured",
	}

	fileFlag = &cli.StringFlag{
		Name:     "file",
		Usage:    "JSON file holding an array of tx records",
		Required: true,
	}
	urlFlag = &cli.StringFlag{
		Name:     "url",
		Usage:    "remote node base URL",
		Required: true,
	}
	usernameFlag = &cli.StringFlag{
		Name:  "username",
		Usage: "remote node RPC username",
	}
	passwordFlag = &cli.StringFlag{
		Name:  "password",
		Usage: "remote node RPC password",
	}
	disabledFlag = &cli.BoolFlag{
		Name:  "disabled",
		Usage: "store the node without using it",
	}
)

var globalFlags = []cli.Flag{
	networkFlag,
	nodeURLFlag,
	databaseURLFlag,
	apiPortFlag,
	logLevelFlag,
	walletIDFlag,
	ruleFlag,
	recordsFileFlag,
}

// commands
var (
	importRecordsCmd = &cli.Command{
		Name:   "import-records",
		Usage:  "Append tx records from a JSON file to the wallet's history",
		Action: importRecordsAction,
		Flags:  []cli.Flag{fileFlag},
	}
	addNodeCmd = &cli.Command{
		Name:   "add-node",
		Usage:  "Register a remote node in the database",
		Action: addNodeAction,
		Flags:  []cli.Flag{urlFlag, usernameFlag, passwordFlag, disabledFlag},
	}
)

var errDatabaseRequired = errors.New("a database is required, set DATABASE_URL or --database-url")

func recordsFromFlag(c *cli.Context) ([]models.TxRecord, error) {
	path := c.String(recordsFileFlag.Name)
	if path == "" {
		return nil, nil
	}
	return syncengine.LoadRecordsFile(path)
}

// registerNodes stores the statically configured nodes so the watcher
// picks them up along with the ones added through add-node.
func registerNodes(ctx context.Context, repo storage.Repository, nodes []loadbalancer.RemoteNode) error {
	for _, node := range nodes {
		rec := &models.RemoteNodeRecord{
			URL:      node.URL,
			Network:  node.Network.String(),
			Username: node.Username,
			Password: node.Password,
			Enabled:  true,
		}
		if err := repo.SaveRemoteNode(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func importRecordsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errDatabaseRequired
	}
	logger := setupLogger(cfg.LogLevel)

	records, err := syncengine.LoadRecordsFile(c.String(fileFlag.Name))
	if err != nil {
		return err
	}

	repo, err := openRepository(c.Context, cfg, clock.NewDefaultClock(), logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.SaveTxRecords(c.Context, cfg.WalletID, records); err != nil {
		return err
	}

	logger.Info("Records imported", "wallet_id", cfg.WalletID, "count", len(records))
	return nil
}

func addNodeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errDatabaseRequired
	}
	logger := setupLogger(cfg.LogLevel)

	node, err := loadbalancer.NewRemoteNode(c.String(urlFlag.Name), cfg.Network,
		c.String(usernameFlag.Name), c.String(passwordFlag.Name))
	if err != nil {
		return err
	}

	repo, err := openRepository(c.Context, cfg, clock.NewDefaultClock(), logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	rec := &models.RemoteNodeRecord{
		URL:      node.URL,
		Network:  node.Network.String(),
		Username: node.Username,
		Password: node.Password,
		Enabled:  !c.Bool(disabledFlag.Name),
	}
	if err := repo.SaveRemoteNode(c.Context, rec); err != nil {
		return fmt.Errorf("failed to add node: %w", err)
	}

	logger.Info("Remote node saved", "id", rec.ID, "node", node, "enabled", rec.Enabled)
	return nil
}
