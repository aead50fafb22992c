// Package api exposes the auction engine over HTTP
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Service *auction.Service
	Tokens  *auth.TokenService
	Limiter *BidLimiter
	Log     logrus.FieldLogger

	validate *validator.Validate
}

// NewHandler creates a new handler
func NewHandler(svc *auction.Service, tokens *auth.TokenService, limiter *BidLimiter, log logrus.FieldLogger) *Handler {
	return &Handler{
		Service:  svc,
		Tokens:   tokens,
		Limiter:  limiter,
		Log:      log,
		validate: validator.New(),
	}
}

type createAuctionRequest struct {
	Title        string     `json:"title" validate:"required,max=200"`
	Category     string     `json:"category" validate:"max=64"`
	StartPrice   string     `json:"start_price" validate:"required,numeric"`
	ReservePrice *string    `json:"reserve_price" validate:"omitempty,numeric"`
	MinIncrement string     `json:"min_increment" validate:"required,numeric"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time" validate:"required"`
}

type updateTermsRequest struct {
	StartPrice   *string `json:"start_price" validate:"omitempty,numeric"`
	MinIncrement *string `json:"min_increment" validate:"omitempty,numeric"`
	ReservePrice *string `json:"reserve_price" validate:"omitempty,numeric"`
	Category     *string `json:"category" validate:"omitempty,max=64"`
}

type bidRequest struct {
	Amount          string `json:"amount" validate:"required,numeric"`
	ExpectedVersion *int64 `json:"expected_version" validate:"omitempty,min=0"`
}

type errorResponse struct {
	Error           string           `json:"error"`
	Kind            auction.Kind     `json:"kind,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	MinimumRequired *decimal.Decimal `json:"minimum_required,omitempty"`
	Retryable       bool             `json:"retryable,omitempty"`
}

// Health reports whether the store is reachable
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Ping(r.Context()); err != nil {
		h.Log.WithError(err).Warn("health check failed")
		writeMessage(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateAuction creates an auction owned by the caller
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req createAuctionRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := auction.CreateAuctionInput{
		SellerID:     userID,
		Title:        req.Title,
		Category:     req.Category,
		StartPrice:   decimal.RequireFromString(req.StartPrice),
		MinIncrement: decimal.RequireFromString(req.MinIncrement),
		EndTime:      *req.EndTime,
	}
	if req.ReservePrice != nil {
		rp := decimal.RequireFromString(*req.ReservePrice)
		in.ReservePrice = &rp
	}
	if req.StartTime != nil {
		in.StartTime = *req.StartTime
	}

	a, err := h.Service.CreateAuction(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Service.View(a, userID))
}

// ListAuctions lists auctions with optional status, category and seller filters
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	q := r.URL.Query()

	f := store.Filter{
		Status:   models.Status(q.Get("status")),
		Category: q.Get("category"),
		SellerID: q.Get("seller_id"),
		Limit:    defaultPageSize,
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit <= 0 {
			writeMessage(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if f.Limit > maxPageSize {
			f.Limit = maxPageSize
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			writeMessage(w, http.StatusBadRequest, "Invalid offset")
			return
		}
	}

	list, err := h.Service.ListAuctions(r.Context(), f, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetAuction returns one auction
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	view, err := h.Service.GetAuction(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateTerms edits pricing terms before the first bid
func (h *Handler) UpdateTerms(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	var req updateTermsRequest
	if !h.decode(w, r, &req) {
		return
	}

	upd := auction.TermsUpdate{
		StartPrice:   optionalDecimal(req.StartPrice),
		MinIncrement: optionalDecimal(req.MinIncrement),
		ReservePrice: optionalDecimal(req.ReservePrice),
		Category:     req.Category,
	}
	view, err := h.Service.UpdateTerms(r.Context(), id, userID, upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelAuction cancels an auction without bids
func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	view, err := h.Service.CancelAuction(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SubmitBid places a bid as the caller
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if !h.decode(w, r, &req) {
		return
	}

	acc, err := h.Service.SubmitBid(r.Context(), auction.BidRequest{
		AuctionID:       id,
		BidderID:        userID,
		Amount:          decimal.RequireFromString(req.Amount),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// BidHistory returns the bid history as seen by the caller
func (h *Handler) BidHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	hist, err := h.Service.ProjectHistory(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// decode reads and validates a JSON body, writing 400 on failure
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeMessage(w, http.StatusBadRequest, "Invalid field: "+verrs[0].Field())
			return false
		}
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// statusClientClosedRequest is reported when the caller went away mid-request
const statusClientClosedRequest = 499

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		h.Log.WithField("path", r.URL.Path).Debug("client went away")
		w.WriteHeader(statusClientClosedRequest)
		return
	}
	rej, ok := auction.AsRejection(err)
	if !ok {
		h.Log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch rej.Kind {
	case auction.KindValidation:
		status = http.StatusUnprocessableEntity
	case auction.KindState, auction.KindConflict:
		status = http.StatusConflict
	case auction.KindAuthorization:
		status = http.StatusForbidden
	case auction.KindNotFound:
		status = http.StatusNotFound
	case auction.KindBusy:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{
		Error:           rej.Error(),
		Kind:            rej.Kind,
		Reason:          rej.Reason,
		MinimumRequired: rej.MinimumRequired,
		Retryable:       rej.Retryable(),
	})
}

func auctionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid auction ID")
		return uuid.Nil, false
	}
	return id, true
}

// optionalDecimal parses a value already checked by the numeric validator
func optionalDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d := decimal.RequireFromString(*s)
	return &d
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
