// server.go - REST surface of the settlement daemon.
//
// Exposes tally ingestion, sealing, finalization, claims and redemptions as
// JSON endpoints. Integer values travel as base-10 strings so budgets beyond
// 2^53 survive JSON.
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/rs/zerolog"

	"fundinground/internal/allocation"
	"fundinground/internal/funds"
	"fundinground/internal/registry"
	"fundinground/internal/round"
	"fundinground/internal/tally"
	"fundinground/internal/token"
)

// Server wires the round coordinator to HTTP handlers
type Server struct {
	coord   *round.Coordinator
	logger  zerolog.Logger
	metrics *MetricsCollector
	health  *HealthChecker
	limiter *RateLimiter
}

// NewServer creates the HTTP layer over a round coordinator
func NewServer(coord *round.Coordinator, logger zerolog.Logger, metrics *MetricsCollector, health *HealthChecker, limiter *RateLimiter) *Server {
	return &Server{coord: coord, logger: logger, metrics: metrics, health: health, limiter: limiter}
}

// Handler returns the daemon's route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tally/batches", s.limited(s.handleBatch))
	mux.HandleFunc("POST /seal", s.limited(s.handleSeal))
	mux.HandleFunc("POST /finalize", s.limited(s.handleFinalize))
	mux.HandleFunc("POST /claims", s.limited(s.handleClaim))
	mux.HandleFunc("POST /redemptions", s.limited(s.handleRedeem))
	mux.HandleFunc("GET /allocations/{index}", s.handleAllocation)
	mux.Handle("GET /healthz", s.health)
	mux.HandleFunc("GET /metrics", s.metrics.ServeHTTP)
	return mux
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.metrics.Increment(metricRequestsRateLimited)
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next(w, r)
	}
}

type batchRequest struct {
	Start uint64   `json:"start"`
	Spent []string `json:"spent"`
	Votes []string `json:"votes"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spent, err := parseBigs(req.Spent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	votes, err := parseBigs(req.Votes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.coord.SubmitBatch(req.Start, spent, votes); err != nil {
		s.metrics.Increment(metricBatchesRejected)
		writeDomainError(w, err)
		return
	}
	s.metrics.Increment(metricBatchesAccepted)
	writeJSON(w, http.StatusAccepted, map[string]any{"start": req.Start, "len": len(spent)})
}

type sealRequest struct {
	TotalSpent string `json:"total_spent"`
	Salt       string `json:"salt"`
}

func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	var req sealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totalSpent, err := parseBig(req.TotalSpent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	salt, err := parseBig(req.Salt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.coord.Seal(totalSpent, salt); err != nil {
		writeDomainError(w, err)
		return
	}
	root, _ := s.coord.TallyRoot()
	writeJSON(w, http.StatusOK, map[string]any{"root": hex.EncodeToString(root)})
}

type finalizeRequest struct {
	TotalQuadraticVotes string `json:"total_quadratic_votes,omitempty"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var totalQV *big.Int
	if req.TotalQuadraticVotes != "" {
		v, err := parseBig(req.TotalQuadraticVotes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		totalQV = v
	}
	if err := s.coord.Finalize(totalQV); err != nil {
		writeDomainError(w, err)
		return
	}
	alpha, _ := s.coord.Alpha()
	writeJSON(w, http.StatusOK, map[string]any{"alpha": alpha.String()})
}

type claimRequest struct {
	RecipientIndex uint64 `json:"recipient_index"`
	Claimant       string `json:"claimant"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := s.coord.Claim(req.RecipientIndex, req.Claimant)
	if err != nil {
		s.metrics.Increment(metricClaimsRejected)
		writeDomainError(w, err)
		return
	}
	s.metrics.Increment(metricClaimsPaid)
	writeJSON(w, http.StatusOK, map[string]any{
		"recipient_index": req.RecipientIndex,
		"claimant":        req.Claimant,
		"amount":          amount.String(),
	})
}

type redeemRequest struct {
	RecipientIndex uint64 `json:"recipient_index"`
	Redeemer       string `json:"redeemer"`
	Amount         string `json:"amount"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	underlying, err := s.coord.Redeem(req.RecipientIndex, req.Redeemer, amount)
	if err != nil {
		s.metrics.Increment(metricRedemptionsRejected)
		writeDomainError(w, err)
		return
	}
	s.metrics.Increment(metricRedemptionsSettled)
	writeJSON(w, http.StatusOK, map[string]any{
		"recipient_index": req.RecipientIndex,
		"redeemer":        req.Redeemer,
		"amount":          underlying.String(),
	})
}

func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	var index uint64
	if _, err := fmt.Sscanf(r.PathValue("index"), "%d", &index); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad recipient index: %w", err))
		return
	}
	amount, err := s.coord.Allocation(index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recipient_index": index,
		"amount":          amount.String(),
	})
}

// writeDomainError maps settlement errors onto HTTP status codes: malformed
// input 400, unauthorized 403, unknown recipient 404, conflicts and invalid
// lifecycle states 409, short balances 409, failed asset movement 502.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		stateErr     *round.StateError
		unauthorized *round.UnauthorizedClaimantError
		mismatch     *round.AmountMismatchError
		indexErr     *tally.IndexError
		inconsistent *tally.InconsistentBatchError
		claimed      *funds.AlreadyClaimedError
		redeemed     *funds.AlreadyRedeemedError
		short        *token.InsufficientBalanceError
		xfer         *funds.TransferError
	)
	switch {
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, registry.ErrUnknownRecipient):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &indexErr), errors.As(err, &mismatch),
		errors.Is(err, tally.ErrBatchShape):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &stateErr), errors.As(err, &inconsistent),
		errors.As(err, &claimed), errors.As(err, &redeemed),
		errors.As(err, &short),
		errors.Is(err, tally.ErrAlreadySealed),
		errors.Is(err, tally.ErrNotSealed),
		errors.Is(err, tally.ErrIncompleteTally),
		errors.Is(err, tally.ErrCommitmentMismatch),
		errors.Is(err, funds.ErrNotClaimed):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &xfer):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, allocation.ErrBudgetTooSmall),
		errors.Is(err, allocation.ErrBudgetExceedsDemand),
		errors.Is(err, allocation.ErrNoQuadraticBoost):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a base-10 integer", s)
	}
	return v, nil
}

func parseBigs(ss []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(ss))
	for i, s := range ss {
		v, err := parseBig(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
