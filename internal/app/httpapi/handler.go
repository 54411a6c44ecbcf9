// Package httpapi exposes the raffle services over a REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	app "github.com/rafflehouse/raffle-engine/internal/app"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	"github.com/rafflehouse/raffle-engine/internal/app/services/engine"
	luckysvc "github.com/rafflehouse/raffle-engine/internal/app/services/luckyrefund"
	"github.com/rafflehouse/raffle-engine/internal/app/storage"
	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

// Options configures the HTTP layer.
type Options struct {
	JWTSecret string
	RateLimit float64
	Burst     int

	// Gatherer backs the /metrics endpoint; nil hides it.
	Gatherer prometheus.Gatherer
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the raffle REST API.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/raffles", h.createRaffle).Methods(http.MethodPost)
	api.HandleFunc("/raffles", h.listRaffles).Methods(http.MethodGet)
	api.HandleFunc("/raffles/{id}", h.getRaffle).Methods(http.MethodGet)
	api.HandleFunc("/raffles/{id}/entries", h.listEntries).Methods(http.MethodGet)
	api.HandleFunc("/raffles/{id}/participants/{address}", h.getParticipant).Methods(http.MethodGet)
	api.HandleFunc("/raffles/{id}/tickets", h.buyTickets).Methods(http.MethodPost)
	api.HandleFunc("/raffles/{id}/claim", h.claimPrize).Methods(http.MethodPost)
	api.HandleFunc("/raffles/{id}/refund", h.claimRefund).Methods(http.MethodPost)
	api.HandleFunc("/raffles/{id}/lucky-refund", h.getLuckyRefund).Methods(http.MethodGet)
	api.HandleFunc("/raffles/{id}/lucky-refund/claim", h.claimLuckyRefund).Methods(http.MethodPost)
	api.HandleFunc("/raffles/{id}/lucky-refund/sweep", h.sweepLuckyRefund).Methods(http.MethodPost)
	api.HandleFunc("/raffles/{id}/pause", h.pauseRaffle).Methods(http.MethodPost)
	api.HandleFunc("/raffles/{id}/resume", h.resumeRaffle).Methods(http.MethodPost)
	api.HandleFunc("/raffles/{id}/cancel", h.cancelRaffle).Methods(http.MethodPost)
	api.HandleFunc("/raffles/{id}/sweep", h.sweepRaffle).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/stats", h.accountStats).Methods(http.MethodGet)
	api.HandleFunc("/randomness/{id}/fulfill", h.fulfillRandomness).Methods(http.MethodPost)
	api.HandleFunc("/scheduler", h.schedulerStatus).Methods(http.MethodGet)
	api.HandleFunc("/trigger", h.runTrigger).Methods(http.MethodPost)

	auth := newAuthMiddleware(opts.JWTSecret, log, []string{"/healthz", "/metrics"})
	limiter := newRateLimiter(opts.RateLimit, opts.Burst, log)

	return auth.Handler(limiter.Handler(r))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createRaffle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AccountID      string                 `json:"account_id"`
		Category       string                 `json:"category"`
		PrizeName      string                 `json:"prize_name"`
		PrizeValue     int64                  `json:"prize_value"`
		TicketPrice    int64                  `json:"ticket_price"`
		StartTime      time.Time              `json:"start_time"`
		DurationSec    int64                  `json:"duration_seconds"`
		Recurrent      bool                   `json:"recurrent"`
		CashAltEnabled bool                   `json:"cash_alt_enabled"`
		Wallets        raffle.WalletOverrides `json:"wallets"`
		TokenKind      string                 `json:"token_kind"`
		TokenAddress   string                 `json:"token_address"`
		TokenAmount    int64                  `json:"token_amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Engine.CreateRaffle(r.Context(), CallerFromContext(r.Context()), engine.CreateParams{
		AccountID:      payload.AccountID,
		Category:       raffle.Category(payload.Category),
		PrizeName:      payload.PrizeName,
		PrizeValue:     payload.PrizeValue,
		TicketPrice:    payload.TicketPrice,
		StartTime:      payload.StartTime,
		Duration:       time.Duration(payload.DurationSec) * time.Second,
		Recurrent:      payload.Recurrent,
		CashAltEnabled: payload.CashAltEnabled,
		Wallets:        payload.Wallets,
		TokenKind:      payload.TokenKind,
		TokenAddress:   payload.TokenAddress,
		TokenAmount:    payload.TokenAmount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listRaffles(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	raffles, err := h.app.Engine.ListRaffles(r.Context(), r.URL.Query().Get("account"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, raffles)
}

func (h *handler) getRaffle(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Engine.GetRaffle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Engine.ListEntries(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) getParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := h.app.Engine.GetParticipant(r.Context(), vars["id"], vars["address"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) buyTickets(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Buyer    string `json:"buyer"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer := CallerFromContext(r.Context())
	if buyer == "" {
		buyer = payload.Buyer
	}
	p, err := h.app.Engine.BuyTickets(r.Context(), mux.Vars(r)["id"], buyer, payload.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) claimPrize(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller          string `json:"caller"`
		Answer          int64  `json:"answer"`
		CashAlternative bool   `json:"cash_alternative"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller := CallerFromContext(r.Context())
	if caller == "" {
		caller = payload.Caller
	}
	out, err := h.app.Engine.Claim(r.Context(), mux.Vars(r)["id"], caller, payload.Answer, payload.CashAlternative)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) claimRefund(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller := CallerFromContext(r.Context())
	if caller == "" {
		caller = payload.Caller
	}
	amount, err := h.app.Engine.ClaimRefund(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

func (h *handler) getLuckyRefund(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.LuckyRefund.GetRecord(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) claimLuckyRefund(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller := CallerFromContext(r.Context())
	if caller == "" {
		caller = payload.Caller
	}
	amount, err := h.app.LuckyRefund.Claim(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

func (h *handler) sweepLuckyRefund(w http.ResponseWriter, r *http.Request) {
	amount, err := h.app.LuckyRefund.Sweep(r.Context(), CallerFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

func (h *handler) pauseRaffle(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Engine.Pause(r.Context(), CallerFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) resumeRaffle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Into string `json:"into"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.app.Engine.Resume(r.Context(), CallerFromContext(r.Context()), mux.Vars(r)["id"], raffle.Status(payload.Into))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) cancelRaffle(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Engine.Cancel(r.Context(), CallerFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) sweepRaffle(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Engine.SweepUnclaimed(r.Context(), CallerFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) accountStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Engine.GetStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) fulfillRandomness(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Value uint64 `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Randomness.Fulfill(r.Context(), mux.Vars(r)["id"], payload.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.app.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler disabled"))
		return
	}
	writeJSON(w, http.StatusOK, h.app.Scheduler.Status())
}

// runTrigger executes one scheduler pass on demand, which external systems
// can call instead of relying on the internal cadence.
func (h *handler) runTrigger(w http.ResponseWriter, r *http.Request) {
	if h.app.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler disabled"))
		return
	}
	h.app.Scheduler.RunOnce(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps service sentinel errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotAdmin), errors.Is(err, engine.ErrNotWinner):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrWrongStatus),
		errors.Is(err, engine.ErrRaffleNotStarted),
		errors.Is(err, engine.ErrSalesEnded),
		errors.Is(err, engine.ErrAlreadyClaimed),
		errors.Is(err, engine.ErrAlreadySwept),
		errors.Is(err, engine.ErrWinnerAlreadySet),
		errors.Is(err, engine.ErrClaimWindowElapsed),
		errors.Is(err, engine.ErrSoldOut),
		errors.Is(err, luckysvc.ErrAlreadyClaimed),
		errors.Is(err, luckysvc.ErrClaimWindowElapsed),
		errors.Is(err, luckysvc.ErrClaimNotOpen):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
