// Package api provides the local HTTP bridge to the round controller.
//
// A UI or test driver calls the controller over REST and follows state over
// a WebSocket. Every controller operation is serialized by the handler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alexbotov/rgsclient/internal/auth"
	"github.com/alexbotov/rgsclient/internal/controller"
	"github.com/alexbotov/rgsclient/internal/domain"
	"github.com/alexbotov/rgsclient/internal/limits"
	"github.com/alexbotov/rgsclient/pkg/rgs"
)

// Bridge error codes. Transport and server-declared failures keep the
// code of the *rgs.Error.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidBet     = "INVALID_BET"
	CodePrecondition   = "PRECONDITION_FAILED"
	CodeNotInitialized = "NOT_INITIALIZED"
	CodeNoToken        = "NO_TOKEN"
	CodeInvalidToken   = "INVALID_TOKEN"
	CodeAuthDisabled   = "AUTH_DISABLED"
	CodeInvalidLogin   = "INVALID_CREDENTIALS"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

// Handler contains all HTTP handlers
type Handler struct {
	ctrl   *controller.Controller
	auth   *auth.Service
	logger zerolog.Logger

	// opMu serializes controller operations
	opMu sync.Mutex
}

// New creates a new API handler
func New(ctrl *controller.Controller, authSvc *auth.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		ctrl:   ctrl,
		auth:   authSvc,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// StateView is the display-currency rendering of a ClientState
type StateView struct {
	Phase          domain.Phase `json:"phase"`
	Balance        *float64     `json:"balance"`
	Currency       string       `json:"currency,omitempty"`
	LastWin        float64      `json:"lastWin"`
	Error          *string      `json:"error"`
	CurrentRound   *rgs.Round   `json:"currentRound"`
	UnsettledRound *rgs.Round   `json:"unsettledRound,omitempty"`
	CanPlay        bool         `json:"canPlay"`
	NeedsEndRound  bool         `json:"needsEndRound"`
}

func (h *Handler) view(st domain.ClientState) StateView {
	v := StateView{
		Phase:          st.Phase,
		LastWin:        st.LastWin,
		Error:          st.Error,
		CurrentRound:   st.CurrentRound,
		UnsettledRound: st.UnsettledRound,
		CanPlay:        st.CanPlay(),
		NeedsEndRound:  st.NeedsEndRound(),
	}
	if st.Balance != nil {
		amount := h.ctrl.ToDisplay(st.Balance.Amount)
		v.Balance = &amount
		v.Currency = st.Balance.Currency
	}
	return v
}

// run performs one serialized controller operation and writes the result.
// The request context only carries values: a client hanging up mid-bet
// must not abort the RGS call.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, op func(ctx context.Context) error) {
	ctx := context.WithoutCancel(r.Context())

	h.opMu.Lock()
	err := op(ctx)
	st := h.ctrl.Store().State()
	h.opMu.Unlock()

	if err != nil {
		status, code := classify(err)
		msg := st.ErrorMessage()
		if msg == "" {
			msg = err.Error()
		}
		respondError(w, status, code, msg)
		return
	}
	respondJSON(w, http.StatusOK, h.view(st))
}

func classify(err error) (int, string) {
	if errors.Is(err, controller.ErrPrecondition) {
		return http.StatusConflict, CodePrecondition
	}
	var rgsErr *rgs.Error
	if errors.As(err, &rgsErr) {
		if rgsErr.Code == rgs.ErrCodeTimeout {
			return http.StatusGatewayTimeout, rgsErr.Code
		}
		return http.StatusBadGateway, rgsErr.Code
	}
	return http.StatusInternalServerError, CodeInternal
}

// === Health ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"phase":  h.ctrl.Store().State().Phase,
	})
}

// === Authentication ===

// TokenRequest is the body of POST /auth/token
type TokenRequest struct {
	Password string `json:"password"`
}

// Token handles POST /auth/token
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Enabled() {
		respondError(w, http.StatusBadRequest, CodeAuthDisabled, "Bridge authentication is disabled")
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	token, expiresAt, err := h.auth.Login(req.Password)
	if err != nil {
		h.logger.Warn().Str("remote", r.RemoteAddr).Err(err).Msg("bridge login failed")
		respondError(w, http.StatusUnauthorized, CodeInvalidLogin, "Invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// === Session ===

// GetState handles GET /api/v1/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.view(h.ctrl.Store().State()))
}

// Initialize handles POST /api/v1/initialize
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.ctrl.Initialize)
}

// BetRequest is the body of POST /api/v1/bet
type BetRequest struct {
	Amount float64 `json:"amount"`
	Mode   string  `json:"mode"`
}

// PlaceBet handles POST /api/v1/bet
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	if err := h.checkBet(req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidBet, err.Error())
		return
	}

	h.run(w, r, func(ctx context.Context) error {
		return h.ctrl.PlaceBet(ctx, req.Amount, req.Mode)
	})
}

// checkBet validates against the loaded config; without one the
// controller's own precondition reports the problem
func (h *Handler) checkBet(amount float64) error {
	cfg := h.ctrl.Store().State().Config
	if cfg == nil {
		return nil
	}
	return limits.New(cfg, h.ctrl.Converter()).Validate(amount)
}

// EndRound handles POST /api/v1/end-round
func (h *Handler) EndRound(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.ctrl.EndRound)
}

// RefreshBalance handles POST /api/v1/balance/refresh
func (h *Handler) RefreshBalance(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.ctrl.RefreshBalance)
}

// EventRequest is the body of POST /api/v1/event
type EventRequest struct {
	Event string `json:"event"`
}

// SendEvent handles POST /api/v1/event
func (h *Handler) SendEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "event is required")
		return
	}

	h.run(w, r, func(ctx context.Context) error {
		return h.ctrl.SendEvent(ctx, req.Event)
	})
}

// GetLimits handles GET /api/v1/limits
func (h *Handler) GetLimits(w http.ResponseWriter, r *http.Request) {
	summary, err := limits.New(h.ctrl.Store().State().Config, h.ctrl.Converter()).Summary()
	if err != nil {
		respondError(w, http.StatusConflict, CodeNotInitialized, "Session not initialized")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
