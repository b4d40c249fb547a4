package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"monerosync/internal/models"
	"monerosync/internal/monero"
	"monerosync/internal/refresh"
	"monerosync/internal/rpc"
)

// maxHeightResponse bounds the body read from /get_height.
const maxHeightResponse = 64 << 10

var (
	ErrNoNode         = errors.New("no remote node available")
	ErrNodeStatus     = errors.New("remote node returned an error")
	ErrInvalidAddress = errors.New("invalid sub-address list")
)

// RecordSource returns the raw records scanned so far for a wallet.
type RecordSource interface {
	ListTxRecords(ctx context.Context, walletID string) ([]models.TxRecord, error)
}

type Config struct {
	WalletID     string
	Network      monero.Network
	Records      RecordSource
	SubAddresses []string
	Logger       *slog.Logger
}

// Engine is a refresh.SyncEngine that learns the chain tip from the remote
// node and reads the wallet's records from a RecordSource.
type Engine struct {
	walletID string
	network  monero.Network
	records  RecordSource
	logger   *slog.Logger

	mu              sync.Mutex
	history         []models.TxRecord
	subAddresses    []string
	subAddrsChanged bool
	current         monero.BlockchainTime
	refreshed       bool
}

var _ refresh.SyncEngine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	if cfg.WalletID == "" {
		return nil, errors.New("wallet id is required")
	}
	if cfg.Records == nil {
		return nil, errors.New("record source is required")
	}
	if !cfg.Network.Valid() {
		return nil, monero.ErrUnknownNetwork
	}
	if err := validateSubAddresses(cfg.SubAddresses); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		walletID:     cfg.WalletID,
		network:      cfg.Network,
		records:      cfg.Records,
		subAddresses: slices.Clone(cfg.SubAddresses),
		current:      cfg.Network.GenesisTime(),
		logger:       cfg.Logger.With("component", "sync-engine", "wallet_id", cfg.WalletID),
	}, nil
}

func validateSubAddresses(subs []string) error {
	accounts, err := monero.AggregateAccounts(subs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if monero.FindAddressByIndex(accounts, 0, 0).IsNone() {
		return fmt.Errorf("%w: missing primary address 0/0", ErrInvalidAddress)
	}
	return nil
}

// Refresh fetches the tip, reloads the records and reports progress.
func (e *Engine) Refresh(ctx context.Context, skipCoinbase bool, cb refresh.Callbacks) (refresh.Status, error) {
	tip, err := e.fetchHeight(ctx, cb)
	switch {
	case ctx.Err() != nil:
		return refresh.StatusInterrupted, ctx.Err()
	case errors.Is(err, ErrNoNode), errors.Is(err, refresh.ErrRequestsSuspended):
		return refresh.StatusNoNetworkConnectivity, err
	case err != nil:
		return refresh.StatusRefreshError, err
	}

	records, err := e.records.ListTxRecords(ctx, e.walletID)
	if ctx.Err() != nil {
		return refresh.StatusInterrupted, ctx.Err()
	}
	if err != nil {
		return refresh.StatusRefreshError, fmt.Errorf("failed to load tx records: %w", err)
	}

	if skipCoinbase {
		records = slices.DeleteFunc(records, func(r models.TxRecord) bool {
			return r.Coinbase
		})
	}

	current, err := e.network.BlockchainTime(tip, 0)
	if err != nil {
		return refresh.StatusRefreshError, err
	}

	e.mu.Lock()
	changed := e.swap(records, current)
	subsChanged := e.subAddrsChanged
	e.subAddrsChanged = false
	e.mu.Unlock()

	e.logger.Debug("Refresh step",
		"height", tip,
		"records", len(records),
		"changed", changed)

	if subsChanged {
		cb.OnSubAddressesChanged()
	}
	cb.OnRefresh(tip, 0, changed)

	return refresh.StatusOK, nil
}

// swap installs the new history and reports whether any record differs
// from the previous run, state and height included. The caller holds mu.
func (e *Engine) swap(records []models.TxRecord, current monero.BlockchainTime) bool {
	changed := !e.refreshed || !slices.Equal(e.history, records)

	e.history = records
	e.current = current
	e.refreshed = true

	return changed
}

type heightResponse struct {
	Height int64  `json:"height"`
	Status string `json:"status"`
}

// fetchHeight returns the height of the top block.
func (e *Engine) fetchHeight(ctx context.Context, cb refresh.Callbacks) (int64, error) {
	resp, err := cb.CallRemoteNode(ctx, rpc.Request{
		Method: http.MethodGet,
		Path:   "/get_height",
		Header: "Accept: application/json",
	})
	if err != nil {
		return 0, err
	}
	defer resp.Close()

	if resp.StatusCode == rpc.StatusNoNodeAvailable {
		return 0, ErrNoNode
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: %d %s", ErrNodeStatus, resp.StatusCode, resp.Message)
	}

	var hr heightResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxHeightResponse)).Decode(&hr); err != nil {
		return 0, fmt.Errorf("failed to decode height response: %w", err)
	}
	if hr.Status != "" && hr.Status != "OK" {
		return 0, fmt.Errorf("%w: status %q", ErrNodeStatus, hr.Status)
	}
	if hr.Height <= 0 || !monero.IsBlockHeightInRange(hr.Height-1) {
		return 0, fmt.Errorf("%w: invalid height %d", ErrNodeStatus, hr.Height)
	}

	// The daemon reports the block count.
	return hr.Height - 1, nil
}

func (e *Engine) History() []models.TxRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.history)
}

func (e *Engine) SubAddresses() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.subAddresses)
}

func (e *Engine) CurrentTime() monero.BlockchainTime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// SetSubAddresses replaces the sub-address list. Listeners are notified on
// the next refresh.
func (e *Engine) SetSubAddresses(subs []string) error {
	if err := validateSubAddresses(subs); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if slices.Equal(e.subAddresses, subs) {
		return nil
	}
	e.subAddresses = slices.Clone(subs)
	e.subAddrsChanged = true
	return nil
}
