package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/internal/resilience"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// BetInspector evaluates bets held by this bot.
type BetInspector interface {
	Outcome(ctx context.Context, betID uint64) (*types.BetRecord, types.Outcome, error)
	Disputes() []uint64
}

// ServiceReporter reports per-dependency health.
type ServiceReporter interface {
	ServiceHealth() map[string]resilience.DependencyHealth
}

// BetHandler handles HTTP requests for bet state.
type BetHandler struct {
	bets   BetInspector
	logger *zap.Logger
}

// NewBetHandler creates a new bet handler.
func NewBetHandler(bets BetInspector, logger *zap.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// BetResponse represents a bet and its locally computed outcome.
type BetResponse struct {
	ID            uint64         `json:"id"`
	TradesRoot    string         `json:"trades_root"`
	Creator       string         `json:"creator"`
	Filler        string         `json:"filler"`
	CreatorAmount string         `json:"creator_amount"`
	FillerAmount  string         `json:"filler_amount"`
	TotalLocked   string         `json:"total_locked"`
	Deadline      time.Time      `json:"deadline"`
	Status        string         `json:"status"`
	Outcome       *types.Outcome `json:"outcome,omitempty"`
	OutcomeError  string         `json:"outcome_error,omitempty"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HandleBet handles GET /api/bets/{id}. The bet is returned even when its
// outcome cannot be computed yet.
func (h *BetHandler) HandleBet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, "invalid bet id", "", http.StatusBadRequest)
		return
	}

	h.logger.Debug("bet-request-received", zap.Uint64("bet-id", id))

	bet, outcome, err := h.bets.Outcome(r.Context(), id)
	if bet == nil {
		if be, ok := types.AsBusinessError(err); ok {
			h.writeError(w, be.Message, be.Code, http.StatusNotFound)
			return
		}
		h.writeError(w, "ledger unavailable", types.ErrCodeUnavailable, http.StatusServiceUnavailable)
		return
	}

	resp := BetResponse{
		ID:            bet.ID,
		TradesRoot:    bet.TradesRoot.Hex(),
		Creator:       bet.Creator.Hex(),
		Filler:        bet.Filler.Hex(),
		CreatorAmount: bet.CreatorAmount.String(),
		FillerAmount:  bet.FillerAmount.String(),
		TotalLocked:   bet.TotalLocked().String(),
		Deadline:      bet.Deadline.UTC(),
		Status:        bet.Status.String(),
	}
	if err != nil {
		resp.OutcomeError = err.Error()
	} else {
		resp.Outcome = &outcome
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleDisputes handles GET /api/disputes.
func (h *BetHandler) HandleDisputes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]uint64{"disputes": h.bets.Disputes()})
}

func (h *BetHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *BetHandler) writeError(w http.ResponseWriter, message string, code string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// ServicesHandler serves per-dependency health.
type ServicesHandler struct {
	services ServiceReporter
	logger   *zap.Logger
}

// NewServicesHandler creates a new services handler.
func NewServicesHandler(services ServiceReporter, logger *zap.Logger) *ServicesHandler {
	return &ServicesHandler{services: services, logger: logger}
}

// ServicesResponse is the body of GET /services.
type ServicesResponse struct {
	Status   string                                 `json:"status"`
	Services map[string]resilience.DependencyHealth `json:"services"`
}

// HandleServices handles GET /services. It always answers 200; a dependency
// on its fallback marks the whole report degraded.
func (h *ServicesHandler) HandleServices(w http.ResponseWriter, r *http.Request) {
	services := h.services.ServiceHealth()

	status := string(resilience.StatusHealthy)
	for _, dep := range services {
		if dep.Status != resilience.StatusHealthy {
			status = string(resilience.StatusDegraded)
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	err := json.NewEncoder(w).Encode(ServicesResponse{Status: status, Services: services})
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}
