package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"monerosync/internal/ledger"
	"monerosync/internal/models"
	"monerosync/internal/retry"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository. Connecting and
// the first ping are retried through strategy.
func NewPostgresRepository(ctx context.Context, databaseURL string, strategy retry.Strategy,
	logger *slog.Logger) (*PostgresRepository, error) {

	if logger == nil {
		logger = slog.Default()
	}
	if strategy == nil {
		strategy = retry.NewNoRetryStrategy()
	}

	var pool *pgxpool.Pool
	err := strategy.Execute(ctx, func() error {
		p, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}

		// Test the connection
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}

		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "storage"),
	}, nil
}

// Migrate creates the tables if they do not exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SaveLedger replaces the stored snapshot of a wallet in one transaction
func (r *PostgresRepository) SaveLedger(ctx context.Context, walletID string, l *ledger.Ledger) error {
	txRows := make([]transactionRow, 0, len(l.TransactionByID))
	for _, tx := range l.Transactions() {
		row, err := transactionRowOf(tx)
		if err != nil {
			return err
		}
		txRows = append(txRows, row)
	}

	enoteRows := make([]enoteRow, 0, len(l.Enotes))
	for _, locked := range l.Enotes {
		row, err := enoteRowOf(locked)
		if err != nil {
			return err
		}
		enoteRows = append(enoteRows, row)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}

	batch.Queue(`
		INSERT INTO wallet_ledgers (
			wallet_id, network, primary_address, checked_height, checked_at,
			tx_count, enote_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (wallet_id) DO UPDATE SET
			network = EXCLUDED.network,
			primary_address = EXCLUDED.primary_address,
			checked_height = EXCLUDED.checked_height,
			checked_at = EXCLUDED.checked_at,
			tx_count = EXCLUDED.tx_count,
			enote_count = EXCLUDED.enote_count,
			updated_at = NOW()
	`,
		walletID,
		l.CheckedAt.Network.String(),
		l.PublicAddress.String(),
		l.CheckedAt.Height,
		l.CheckedAt.Timestamp,
		len(txRows),
		len(enoteRows),
	)

	// A snapshot is complete, rows it no longer holds are dropped.
	batch.Queue(`DELETE FROM wallet_transactions WHERE wallet_id = $1`, walletID)
	batch.Queue(`DELETE FROM wallet_enotes WHERE wallet_id = $1`, walletID)

	for _, row := range txRows {
		paymentsJSON, err := json.Marshal(row.Payments)
		if err != nil {
			return fmt.Errorf("failed to marshal payments: %w", err)
		}

		batch.Queue(`
			INSERT INTO wallet_transactions (
				wallet_id, tx_hash, state, block_height, block_time, time_lock,
				received, sent, net, fee, change, payments
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			walletID,
			row.TxHash,
			row.State,
			row.BlockHeight,
			row.BlockTime,
			row.TimeLock,
			row.Received,
			row.Sent,
			row.Net,
			row.Fee,
			row.Change,
			paymentsJSON,
		)
	}

	for _, row := range enoteRows {
		batch.Queue(`
			INSERT INTO wallet_enotes (
				wallet_id, tx_hash, output_index, account_index, sub_address_index,
				amount, public_key, key_image, age, spent,
				unlock_kind, unlock_height, unlock_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			walletID,
			row.TxHash,
			row.OutputIndex,
			row.AccountIndex,
			row.SubAddressIndex,
			row.Amount,
			row.PublicKey,
			row.KeyImage,
			row.Age,
			row.Spent,
			row.UnlockKind,
			row.UnlockHeight,
			row.UnlockTime,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debug("Ledger saved",
		"wallet_id", walletID,
		"transactions", len(txRows),
		"enotes", len(enoteRows),
		"checked_height", l.CheckedAt.Height)

	return nil
}

// ListTransactions lists the stored transactions of a wallet, newest first,
// along with the total count
func (r *PostgresRepository) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]models.TransactionResponse, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`, walletID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `
		SELECT
			tx_hash, state, block_height, block_time, time_lock,
			received, sent, net, fee, change, payments
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY block_height DESC NULLS FIRST, tx_hash
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]models.TransactionResponse, 0, limit)

	for rows.Next() {
		var row transactionRow
		var paymentsJSON []byte

		err := rows.Scan(
			&row.TxHash,
			&row.State,
			&row.BlockHeight,
			&row.BlockTime,
			&row.TimeLock,
			&row.Received,
			&row.Sent,
			&row.Net,
			&row.Fee,
			&row.Change,
			&paymentsJSON,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if len(paymentsJSON) > 0 {
			if err := json.Unmarshal(paymentsJSON, &row.Payments); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal payments: %w", err)
			}
		}

		resp, err := row.response()
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, resp)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, total, nil
}

// SaveCheckpoint upserts the refresh checkpoint of a wallet
func (r *PostgresRepository) SaveCheckpoint(ctx context.Context, checkpoint *models.RefreshCheckpoint) error {
	query := `
		INSERT INTO refresh_checkpoints (
			wallet_id, network, height, block_time, tx_count, enote_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (wallet_id) DO UPDATE SET
			network = EXCLUDED.network,
			height = EXCLUDED.height,
			block_time = EXCLUDED.block_time,
			tx_count = EXCLUDED.tx_count,
			enote_count = EXCLUDED.enote_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		checkpoint.WalletID,
		checkpoint.Network,
		checkpoint.Height,
		checkpoint.BlockTime,
		checkpoint.TxCount,
		checkpoint.EnoteCount,
		checkpoint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// GetCheckpoint returns the refresh checkpoint of a wallet, or ErrNotFound
func (r *PostgresRepository) GetCheckpoint(ctx context.Context, walletID string) (*models.RefreshCheckpoint, error) {
	query := `
		SELECT wallet_id, network, height, block_time, tx_count, enote_count, updated_at
		FROM refresh_checkpoints
		WHERE wallet_id = $1
	`

	var checkpoint models.RefreshCheckpoint
	err := r.pool.QueryRow(ctx, query, walletID).Scan(
		&checkpoint.WalletID,
		&checkpoint.Network,
		&checkpoint.Height,
		&checkpoint.BlockTime,
		&checkpoint.TxCount,
		&checkpoint.EnoteCount,
		&checkpoint.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint of wallet %s: %w", walletID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return &checkpoint, nil
}

// SaveTxRecords appends raw engine records of a wallet
func (r *PostgresRepository) SaveTxRecords(ctx context.Context, walletID string, records []models.TxRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO tx_records (
			wallet_id, tx_hash, public_key, key_image, recipient,
			sub_address_major, sub_address_minor, amount, fee, change,
			height, unlock_time, block_timestamp, state, coinbase, incoming
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	batch := &pgx.Batch{}
	for _, record := range records {
		if err := record.Validate(); err != nil {
			return err
		}

		batch.Queue(query,
			walletID,
			record.TxHash,
			record.PublicKey,
			record.KeyImage,
			record.Recipient,
			record.SubAddressMajor,
			record.SubAddressMinor,
			record.Amount,
			record.Fee,
			record.Change,
			record.Height,
			strconv.FormatUint(record.UnlockTime, 10),
			record.Timestamp,
			int16(record.State),
			record.Coinbase,
			record.Incoming,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save tx records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListTxRecords returns every raw record of a wallet in insertion order
func (r *PostgresRepository) ListTxRecords(ctx context.Context, walletID string) ([]models.TxRecord, error) {
	query := `
		SELECT
			tx_hash, public_key, key_image, recipient,
			sub_address_major, sub_address_minor, amount, fee, change,
			height, unlock_time, block_timestamp, state, coinbase, incoming
		FROM tx_records
		WHERE wallet_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tx records: %w", err)
	}
	defer rows.Close()

	var records []models.TxRecord

	for rows.Next() {
		var record models.TxRecord
		var unlockTime string
		var state int16

		err := rows.Scan(
			&record.TxHash,
			&record.PublicKey,
			&record.KeyImage,
			&record.Recipient,
			&record.SubAddressMajor,
			&record.SubAddressMinor,
			&record.Amount,
			&record.Fee,
			&record.Change,
			&record.Height,
			&unlockTime,
			&record.Timestamp,
			&state,
			&record.Coinbase,
			&record.Incoming,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tx record: %w", err)
		}

		record.UnlockTime, err = strconv.ParseUint(unlockTime, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tx %s has invalid unlock time %q: %w", record.TxHash, unlockTime, err)
		}
		record.State = models.TxRecordState(state)

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tx records: %w", err)
	}

	return records, nil
}

// SaveRemoteNode upserts a remote node by URL and network
func (r *PostgresRepository) SaveRemoteNode(ctx context.Context, node *models.RemoteNodeRecord) error {
	if _, err := remoteNodeOf(*node); err != nil {
		return err
	}

	query := `
		INSERT INTO remote_nodes (url, network, username, password, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url, network) DO UPDATE SET
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			enabled = EXCLUDED.enabled
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		node.URL,
		node.Network,
		node.Username,
		node.Password,
		node.Enabled,
	).Scan(&node.ID)
	if err != nil {
		return fmt.Errorf("failed to save remote node: %w", err)
	}

	return nil
}

// ListRemoteNodes returns the enabled nodes of a network
func (r *PostgresRepository) ListRemoteNodes(ctx context.Context, network string) ([]models.RemoteNodeRecord, error) {
	query := `
		SELECT id, url, network, username, password, enabled
		FROM remote_nodes
		WHERE network = $1 AND enabled
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.RemoteNodeRecord

	for rows.Next() {
		var node models.RemoteNodeRecord
		if err := rows.Scan(
			&node.ID,
			&node.URL,
			&node.Network,
			&node.Username,
			&node.Password,
			&node.Enabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan remote node: %w", err)
		}
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote nodes: %w", err)
	}

	return nodes, nil
}

// Ping checks if the database connection is alive
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
