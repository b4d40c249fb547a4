package models

import "time"

// RefreshCheckpoint represents the chain position of the last successful refresh
type RefreshCheckpoint struct {
	WalletID  string    `json:"wallet_id"`
	Network   string    `json:"network"`
	Height    int64     `json:"height"`
	BlockTime time.Time `json:"block_time"`

	// Snapshot metadata
	TxCount    int       `json:"tx_count"`
	EnoteCount int       `json:"enote_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RemoteNodeRecord is a configured remote node as stored in the database
type RemoteNodeRecord struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Network  string `json:"network"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
	Enabled  bool   `json:"enabled"`
}
