package models

import (
	"time"

	"monerosync/internal/monero"
)

// BalanceResponse represents a wallet or account balance for API responses
type BalanceResponse struct {
	Account *int `json:"account,omitempty"` // Nil for the whole wallet

	// Amounts (atomic units and formatted XMR)
	Confirmed     AmountResponse `json:"confirmed"`
	Pending       AmountResponse `json:"pending"`
	Total         AmountResponse `json:"total"`
	Unlocked      AmountResponse `json:"unlocked"`
	LockedBuckets []LockedBucket `json:"locked,omitempty"`

	// Chain position the balance was computed at
	Height    int64     `json:"height"`
	CheckedAt time.Time `json:"checked_at"`
}

// AmountResponse carries an amount in both atomic units and XMR
type AmountResponse struct {
	Atomic uint64 `json:"atomic"`
	XMR    string `json:"xmr"`
}

// AmountOf formats an amount for a response
func AmountOf(a monero.Amount) AmountResponse {
	return AmountResponse{Atomic: a.AtomicUnits(), XMR: a.XMR()}
}

// LockedBucket is an amount that unlocks after the given span
type LockedBucket struct {
	Amount           AmountResponse `json:"amount"`
	BlocksRemaining  int64          `json:"blocks_remaining"`
	SecondsRemaining int64          `json:"seconds_remaining"`
}

// TransactionResponse represents a consolidated transaction
type TransactionResponse struct {
	TxHash      string     `json:"tx_hash"`
	State       string     `json:"state"` // off_chain, in_pool, failed, on_chain
	BlockHeight *int64     `json:"block_height,omitempty"`
	BlockTime   *time.Time `json:"block_time,omitempty"`
	TimeLock    string     `json:"time_lock,omitempty"`

	// Financials
	Received  AmountResponse    `json:"received"`
	Sent      AmountResponse    `json:"sent"`
	NetAtomic int64             `json:"net_atomic"`
	Fee       AmountResponse    `json:"fee"`
	Change    AmountResponse    `json:"change"`
	Payments  []PaymentResponse `json:"payments,omitempty"`
}

// PaymentResponse is one outgoing payment of a transaction
type PaymentResponse struct {
	Recipient string         `json:"recipient"`
	Amount    AmountResponse `json:"amount"`
}

// TransactionListResponse represents a paginated list of transactions
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// NodeResponse represents a remote node with its observed health
type NodeResponse struct {
	URL            string     `json:"url"`
	Network        string     `json:"network"`
	State          string     `json:"state"` // unknown, online, timeout, failed, unauthorized
	ResponseTimeMs int64      `json:"response_time_ms,omitempty"`
	ObservedAt     *time.Time `json:"observed_at,omitempty"`
}

// RefreshResponse reports the state of the refresh session
type RefreshResponse struct {
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status"` // idle, running, ok, interrupted, no_network_connectivity, refresh_error
	Height *int64 `json:"height,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SubAddressesRequest replaces the wallet's "account/subaddress/address" list
type SubAddressesRequest struct {
	Addresses []string `json:"addresses"`
}

// SubAddressesResponse lists the wallet's addresses
type SubAddressesResponse struct {
	Addresses []string `json:"addresses"`
}

// HealthResponse represents the health endpoint payload
type HealthResponse struct {
	Status    string         `json:"status"`
	Database  string         `json:"database"`
	Nodes     map[string]int `json:"nodes"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
