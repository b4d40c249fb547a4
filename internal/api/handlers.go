package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"monerosync/internal/models"
	"monerosync/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBody = 1 << 20

var errNoLedger = errors.New("no ledger available yet")

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]interface{}{
		"service":     "Monero Wallet Sync",
		"version":     "1.0.0",
		"description": "Ledger and remote node gateway for a Monero wallet",
		"wallet_id":   s.wallet.WalletID(),
		"network":     s.wallet.Network().String(),
		"endpoints": map[string]string{
			"GET /":                "This page - Service information",
			"GET /health":          "Health check endpoint",
			"GET /metrics":         "Prometheus metrics for monitoring",
			"GET /balance":         "Wallet balance (supports ?account=)",
			"GET /transactions":    "Transactions newest first (supports ?limit=, ?offset=)",
			"GET /nodes":           "Remote nodes and their observed health",
			"GET /subaddresses":    "Wallet sub-addresses",
			"POST /subaddresses":   "Replace the wallet sub-addresses",
			"GET /refresh":         "State of the latest refresh",
			"POST /refresh":        "Start a refresh",
			"POST /refresh/cancel": "Cancel the running refresh",
		},
	}

	s.sendJSON(w, http.StatusOK, info)
}

// handleHealth returns health status
// GET /health - Health check for monitoring systems
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := models.HealthResponse{
		Status:    "healthy",
		Database:  "disabled",
		Nodes:     map[string]int{},
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK

	if s.repository != nil {
		if err := s.repository.Ping(r.Context()); err != nil {
			s.logger.Warn("Database ping failed", "error", err)
			health.Status = "unhealthy"
			health.Database = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			health.Database = "ok"
		}
	}

	if s.nodes != nil {
		for _, h := range s.nodes.Health() {
			health.Nodes[h.State.Kind.String()]++
		}
	}

	s.sendJSON(w, code, health)
}

// handleMetrics returns Prometheus metrics
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// handleBalance returns the balance of the wallet or of one account
// GET /balance?account=0
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	l, err := s.wallet.Ledger().UnwrapOrErr(errNoLedger)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	var account *int
	if accountStr := r.URL.Query().Get("account"); accountStr != "" {
		idx, err := strconv.Atoi(accountStr)
		if err != nil || idx < 0 {
			s.sendError(w, "Account must be a non-negative integer", http.StatusBadRequest)
			return
		}
		account = &idx
	}

	balance, err := l.Balance()
	if account != nil {
		balance, err = l.AccountBalance(*account)
	}
	if err != nil {
		s.logger.Error("Failed to compute balance", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, BuildBalanceResponse(balance, account, l.CheckedAt))
}

// handleTransactions lists transactions newest first
// GET /transactions?limit=50&offset=0
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, offset := parsePagination(r)

	var (
		txs   []models.TransactionResponse
		total int
		err   error
	)
	if s.repository != nil {
		txs, total, err = s.repository.ListTransactions(r.Context(), s.wallet.WalletID(), limit, offset)
	} else {
		txs, total, err = s.ledgerTransactions(limit, offset)
	}
	if err != nil {
		s.logger.Error("Failed to list transactions", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, models.TransactionListResponse{
		Transactions: txs,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	})
}

// ledgerTransactions pages through the in-memory ledger when nothing is
// persisted.
func (s *Server) ledgerTransactions(limit, offset int) ([]models.TransactionResponse, int, error) {
	txs := []models.TransactionResponse{}

	current := s.wallet.Ledger()
	if current.IsNone() {
		return txs, 0, nil
	}

	all := current.UnsafeFromSome().Transactions()
	if offset >= len(all) {
		return txs, len(all), nil
	}
	for _, tx := range all[offset:min(offset+limit, len(all))] {
		resp, err := storage.TransactionResponseOf(tx)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, resp)
	}

	return txs, len(all), nil
}

// handleNodes lists the live remote nodes
// GET /nodes
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.nodes == nil {
		s.sendJSON(w, http.StatusOK, []models.NodeResponse{})
		return
	}

	s.sendJSON(w, http.StatusOK, BuildNodeResponses(s.nodes.Health()))
}

// handleSubAddresses reads or replaces the sub-address list
// GET /subaddresses, POST /subaddresses {"addresses": [...]}
func (s *Server) handleSubAddresses(w http.ResponseWriter, r *http.Request) {
	if s.subAddresses == nil {
		s.sendError(w, "Sub-address management is not available", http.StatusNotImplemented)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.sendJSON(w, http.StatusOK, models.SubAddressesResponse{
			Addresses: s.subAddresses.SubAddresses(),
		})

	case http.MethodPost:
		var req models.SubAddressesRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			s.sendError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.subAddresses.SetSubAddresses(req.Addresses); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Info("Sub-addresses updated", "count", len(req.Addresses))
		s.sendJSON(w, http.StatusAccepted, models.SubAddressesResponse{Addresses: req.Addresses})

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRefresh reports or starts a refresh
// GET /refresh, POST /refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.sendJSON(w, http.StatusOK, BuildRefreshResponse(s.wallet.RunStatus()))

	case http.MethodPost:
		// The run outlives the request.
		runID := s.wallet.Refresh(context.WithoutCancel(r.Context()))
		s.sendJSON(w, http.StatusAccepted, models.RefreshResponse{
			RunID:  runID,
			Status: "running",
		})

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCancelRefresh interrupts the running refresh
// POST /refresh/cancel
func (s *Server) handleCancelRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.wallet.CancelRefresh()
	run := s.wallet.RunStatus()
	s.sendJSON(w, http.StatusAccepted, models.RefreshResponse{
		RunID:  run.RunID,
		Status: "cancelling",
	})
}
