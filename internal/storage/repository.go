package storage

import (
	"context"
	"errors"

	"monerosync/internal/ledger"
	"monerosync/internal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// Repository defines the interface for all storage operations
type Repository interface {
	// Ledger snapshots
	SaveLedger(ctx context.Context, walletID string, l *ledger.Ledger) error
	ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]models.TransactionResponse, int, error)

	// Refresh checkpoints
	SaveCheckpoint(ctx context.Context, checkpoint *models.RefreshCheckpoint) error
	GetCheckpoint(ctx context.Context, walletID string) (*models.RefreshCheckpoint, error)

	// Raw sync engine records
	SaveTxRecords(ctx context.Context, walletID string, records []models.TxRecord) error
	ListTxRecords(ctx context.Context, walletID string) ([]models.TxRecord, error)

	// Remote nodes
	SaveRemoteNode(ctx context.Context, node *models.RemoteNodeRecord) error
	ListRemoteNodes(ctx context.Context, network string) ([]models.RemoteNodeRecord, error)

	// Health & Maintenance
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
