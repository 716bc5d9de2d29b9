// Package handlers implements the admin HTTP API: manual token issue,
// access checks, order review and confirmation, and promo prices.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/personapack/botsuite/internal/access"
	"github.com/personapack/botsuite/internal/fulfillment"
	"github.com/personapack/botsuite/internal/orders"
	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

// Handlers holds the dependencies of the admin API.
type Handlers struct {
	Ledger     *orders.Ledger
	Catalog    *orders.Catalog
	Dispatcher *fulfillment.Dispatcher
	Tokens     *access.Service
	Gate       *access.Gate
	TokenTTL   time.Duration
}

// New creates a new Handlers instance with all dependencies.
func New(ledger *orders.Ledger, cat *orders.Catalog, d *fulfillment.Dispatcher, tokens *access.Service, gate *access.Gate, ttl time.Duration) *Handlers {
	return &Handlers{
		Ledger:     ledger,
		Catalog:    cat,
		Dispatcher: d,
		Tokens:     tokens,
		Gate:       gate,
		TokenTTL:   ttl,
	}
}

// ── Tokens & Access ─────────────────────────────────────────

type issueTokenRequest struct {
	UserID int64  `json:"user_id"`
	Target string `json:"target"`
	TTL    string `json:"ttl,omitempty"` // Go duration; "0" for never
}

type issueTokenResponse struct {
	models.CapabilityToken
	Link string `json:"link"`
}

func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == 0 || req.Target == "" {
		respondError(w, http.StatusBadRequest, "user_id and target are required")
		return
	}
	if _, ok := h.Catalog.Bot(req.Target); !ok {
		respondError(w, http.StatusBadRequest, "unknown target: "+req.Target)
		return
	}
	ttl := h.TokenTTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid ttl: "+err.Error())
			return
		}
		ttl = d
	}

	tok, err := h.Tokens.Issue(r.Context(), req.UserID, req.Target, ttl)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	link, err := h.Catalog.StartLink(tok.Target, tok.Token)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Int64("user_id", req.UserID).Str("target", req.Target).Str("token", tok.Short()).Msg("Token issued via API")
	respondJSON(w, http.StatusCreated, issueTokenResponse{CapabilityToken: *tok, Link: link})
}

func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	target := chi.URLParam(r, "target")
	ok, err := h.Gate.IsAllowed(r.Context(), userID, target)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"target":  target,
		"allowed": ok,
	})
}

// ── Orders ──────────────────────────────────────────────────

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.OrderFilter{Status: models.OrderStatus(q.Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if v := q.Get("buyer"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid buyer")
			return
		}
		filter.Buyer = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	list, err := h.Ledger.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Order{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.Ledger.Get(r.Context(), id)
	if err != nil {
		respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

type confirmResponse struct {
	Order       *models.Order            `json:"order"`
	Tokens      []models.CapabilityToken `json:"tokens,omitempty"`
	AlreadyPaid bool                     `json:"already_paid"`
	Delivered   bool                     `json:"delivered"`
}

// ConfirmOrder marks an order paid and delivers its links. A paid but
// undelivered order answers 502 with error "delivery_failed"; the tokens
// in the body remain valid.
func (h *Handlers) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	res, err := h.Dispatcher.ConfirmPayment(r.Context(), id)
	if errors.Is(err, fulfillment.ErrDeliveryFailed) {
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "delivery_failed",
			"message": err.Error(),
			"order":   res.Order,
			"tokens":  res.Tokens,
		})
		return
	}
	if err != nil {
		respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, confirmResponse{
		Order:       res.Order,
		Tokens:      res.Tokens,
		AlreadyPaid: res.AlreadyPaid,
		Delivered:   res.Delivered,
	})
}

func (h *Handlers) RejectOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.Dispatcher.Reject(r.Context(), id)
	if err != nil {
		respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handlers) RedeliverOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	toks, err := h.Dispatcher.Redeliver(r.Context(), id)
	if errors.Is(err, fulfillment.ErrDeliveryFailed) {
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "delivery_failed",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		respondOrderError(w, err)
		return
	}
	if toks == nil {
		toks = []models.CapabilityToken{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tokens": toks})
}

// ── Promos ──────────────────────────────────────────────────

type promoRequest struct {
	Price    models.Money `json:"price"`
	StartsAt *time.Time   `json:"starts_at,omitempty"`
	EndsAt   *time.Time   `json:"ends_at,omitempty"`
}

func (h *Handlers) ListPromos(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Catalog.Promos())
}

func (h *Handlers) SetPromo(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, ok := h.Catalog.Product(code); !ok {
		respondError(w, http.StatusNotFound, "unknown product: "+code)
		return
	}
	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Price <= 0 {
		respondError(w, http.StatusBadRequest, "price must be positive")
		return
	}
	if req.StartsAt != nil && req.EndsAt != nil && !req.EndsAt.After(*req.StartsAt) {
		respondError(w, http.StatusBadRequest, "ends_at must be after starts_at")
		return
	}
	promo := models.Promo{Code: code, Price: req.Price, StartsAt: req.StartsAt, EndsAt: req.EndsAt}
	h.Catalog.SetPromo(promo)
	respondJSON(w, http.StatusOK, promo)
}

func (h *Handlers) ClearPromo(w http.ResponseWriter, r *http.Request) {
	h.Catalog.ClearPromo(chi.URLParam(r, "code"))
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ─────────────────────────────────────────────────

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func respondOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
