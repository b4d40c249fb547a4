package api

import (
	"cmp"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"monerosync/internal/ledger"
	"monerosync/internal/loadbalancer"
	"monerosync/internal/models"
	"monerosync/internal/monero"
	"monerosync/internal/refresh"
	"monerosync/internal/wallet"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// parsePagination reads ?limit= and ?offset=, ignoring invalid values
func parsePagination(r *http.Request) (limit, offset int) {
	query := r.URL.Query()

	limit = defaultLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= maxLimit {
			limit = parsed
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// BuildBalanceResponse renders a balance as of the ledger's check time.
// Locked funds are listed soonest first.
func BuildBalanceResponse(b ledger.Balance, account *int, checkedAt monero.BlockchainTime) models.BalanceResponse {
	resp := models.BalanceResponse{
		Account:   account,
		Confirmed: models.AmountOf(b.Confirmed),
		Pending:   models.AmountOf(b.Pending),
		Total:     models.AmountOf(b.Total),
		Unlocked:  models.AmountOf(b.UnlockedAmountAt(checkedAt)),
		Height:    checkedAt.Height,
		CheckedAt: checkedAt.Timestamp,
	}

	for span, amount := range b.LockedAmountsAt(checkedAt) {
		resp.LockedBuckets = append(resp.LockedBuckets, models.LockedBucket{
			Amount:           models.AmountOf(amount),
			BlocksRemaining:  span.Blocks,
			SecondsRemaining: int64(span.TimeRemaining() / time.Second),
		})
	}
	slices.SortFunc(resp.LockedBuckets, func(a, b models.LockedBucket) int {
		if c := cmp.Compare(a.BlocksRemaining, b.BlocksRemaining); c != 0 {
			return c
		}
		return cmp.Compare(a.SecondsRemaining, b.SecondsRemaining)
	})

	return resp
}

// BuildNodeResponses renders the observed health of the live nodes
func BuildNodeResponses(health []loadbalancer.NodeHealth) []models.NodeResponse {
	out := make([]models.NodeResponse, 0, len(health))
	for _, h := range health {
		resp := models.NodeResponse{
			URL:     h.Node.URL,
			Network: h.Node.Network.String(),
			State:   h.State.Kind.String(),
		}
		if h.State.Kind == loadbalancer.StateOnline {
			resp.ResponseTimeMs = h.State.ResponseTime.Milliseconds()
		}
		if !h.ObservedAt.IsZero() {
			observedAt := h.ObservedAt.UTC()
			resp.ObservedAt = &observedAt
		}
		out = append(out, resp)
	}
	return out
}

// BuildRefreshResponse describes the latest refresh run
func BuildRefreshResponse(run wallet.RunStatus) models.RefreshResponse {
	resp := models.RefreshResponse{RunID: run.RunID}

	switch {
	case run.RunID == "":
		resp.Status = "idle"
	case run.Running:
		resp.Status = "running"
	default:
		result := run.Result.UnwrapOr(refresh.Result{Status: refresh.StatusInterrupted})
		resp.Status = result.Status.String()
		if !result.Time.IsZero() {
			height := result.Time.Height
			resp.Height = &height
		}
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
	}

	return resp
}

// sendJSON writes v with the given status code
func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}
