package wallet

import (
	"log/slog"
	"sync"

	"monerosync/internal/ledger"
	"monerosync/internal/metrics"
	"monerosync/internal/models"
	"monerosync/internal/monero"
	"monerosync/internal/refresh"
)

// LedgerBuilder assembles ledgers from session events. Partial chunks are
// buffered until the finalized event completes the history.
type LedgerBuilder struct {
	logger  *slog.Logger
	publish func(*ledger.Ledger)

	mu      sync.Mutex
	pending []models.TxRecord
	last    *ledger.Ledger
}

var _ refresh.Listener = (*LedgerBuilder)(nil)

// NewLedgerBuilder returns a builder handing every new ledger to publish.
// publish runs on the listener goroutine, one ledger at a time.
func NewLedgerBuilder(publish func(*ledger.Ledger), logger *slog.Logger) *LedgerBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if publish == nil {
		publish = func(*ledger.Ledger) {}
	}
	return &LedgerBuilder{
		logger:  logger.With("component", "ledger_builder"),
		publish: publish,
	}
}

// Last returns the most recent ledger, or nil before the first one.
func (b *LedgerBuilder) Last() *ledger.Ledger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *LedgerBuilder) OnPartial(chunk []models.TxRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, chunk...)
}

func (b *LedgerBuilder) OnFinalized(chunk []models.TxRecord, subAddresses []string, t monero.BlockchainTime) {
	b.mu.Lock()
	records := append(b.pending, chunk...)
	b.pending = nil
	b.mu.Unlock()

	accounts, err := monero.AggregateAccounts(subAddresses)
	if err != nil {
		b.logger.Error("Failed to aggregate sub-addresses", "count", len(subAddresses), "error", err)
		return
	}

	next, err := ledger.BuildLedger(records, accounts, t, b.logger)
	if err != nil {
		b.logger.Error("Failed to build ledger",
			"records", len(records),
			"checked_at", t,
			"error", err)
		return
	}

	b.logger.Debug("Ledger built",
		"records", len(records),
		"transactions", len(next.TransactionByID),
		"enotes", len(next.Enotes),
		"checked_at", t)
	b.advance(next)
}

func (b *LedgerBuilder) OnRefreshed(t monero.BlockchainTime) {
	last := b.Last()
	if last == nil {
		return
	}
	b.advance(last.WithCheckedAt(t))
}

func (b *LedgerBuilder) OnSubAddressListUpdated(subAddresses []string) {
	last := b.Last()
	if last == nil {
		return
	}

	accounts, err := monero.AggregateAccounts(subAddresses)
	if err != nil {
		b.logger.Error("Failed to aggregate sub-addresses", "count", len(subAddresses), "error", err)
		return
	}

	next, err := ledger.NewLedger(accounts, last.TransactionByID, last.Enotes, last.CheckedAt)
	if err != nil {
		b.logger.Error("Failed to rebuild ledger with new accounts", "error", err)
		return
	}
	b.advance(next)
}

// advance verifies next against the previous ledger and publishes it.
// A violation is reported but the ledger is still published, since it
// reflects what the engine holds now.
func (b *LedgerBuilder) advance(next *ledger.Ledger) {
	b.mu.Lock()
	prev := b.last
	b.last = next
	b.mu.Unlock()

	if err := ledger.VerifySuccessor(prev, next); err != nil {
		metrics.LedgerChainViolations.Inc()
		b.logger.Warn("Ledger does not extend the previous one", "error", err)
	}

	b.publish(next)
}

