package api

import (
	"errors"
	"net/http"
	"time"

	"reservas/internal/metrics"
	"reservas/internal/models"
	"reservas/internal/service"
)

// AcquireRequest is the body of POST /api/locks.
type AcquireRequest struct {
	CourtID    int64  `json:"court_id"`
	Date       string `json:"date"`  // YYYY-MM-DD
	Start      string `json:"start"` // HH:MM
	End        string `json:"end"`   // HH:MM
	SessionID  string `json:"session_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// LockResponse describes a held slot.
type LockResponse struct {
	ID        string    `json:"id"`
	CourtID   int64     `json:"court_id"`
	Date      string    `json:"date"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ConfirmBody struct {
	DiscountCode string         `json:"discount_code,omitempty"`
	Channel      models.Channel `json:"channel"`
	PaymentToken string         `json:"payment_token,omitempty"`
}

type CodeRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

type RedeemResponse struct {
	DiscountAmount int64 `json:"discount_amount"`
}

// WebhookRequest is a payment provider callback.
type WebhookRequest struct {
	Reference         string `json:"reference"`
	Status            string `json:"status"` // succeeded | failed
	AuthorizationCode string `json:"authorization_code,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

type WebhookResponse struct {
	Reference   string              `json:"reference"`
	Status      string              `json:"status"`
	Reservation *models.Reservation `json:"reservation,omitempty"`
}

// POST /api/locks
func (s *HTTPServer) handleAcquire(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("locks_acquire")

	var req AcquireRequest
	if !decode(w, r, &req) {
		return
	}
	slot, err := models.NewSlot(req.CourtID, req.Date, req.Start, req.End)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	lock, err := s.locks.Acquire(r.Context(), slot, req.SessionID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, LockResponse{
		ID:        lock.ID,
		CourtID:   lock.Slot.CourtID,
		Date:      lock.Slot.DateKey(),
		Start:     models.FormatClock(lock.Slot.Start),
		End:       models.FormatClock(lock.Slot.End),
		ExpiresAt: lock.ExpiresAt,
	})
}

// PUT /api/locks/{id}/customer
func (s *HTTPServer) handleAttach(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("locks_attach")

	var customer models.Customer
	if !decode(w, r, &customer) {
		return
	}
	if err := s.locks.Attach(r.Context(), r.PathValue("id"), customer); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/locks/{id}
func (s *HTTPServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("locks_release")

	err := s.locks.Release(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, models.ErrPaymentInProgress):
		// The hold stays until its charge settles.
		writeError(w, http.StatusConflict, "payment_in_progress", err.Error())
		return
	case err != nil:
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/locks/{id}/confirm
func (s *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("locks_confirm")

	var body ConfirmBody
	if !decode(w, r, &body) {
		return
	}
	if body.Channel == "" {
		body.Channel = models.ChannelWeb
	}

	res, err := s.bookings.Confirm(r.Context(), service.ConfirmRequest{
		LockID:       r.PathValue("id"),
		DiscountCode: body.DiscountCode,
		Channel:      body.Channel,
		PaymentToken: body.PaymentToken,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// POST /api/codes/verify
func (s *HTTPServer) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("codes_verify")

	var req CodeRequest
	if !decode(w, r, &req) {
		return
	}
	check, err := s.codes.Verify(r.Context(), req.Code, req.Email)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// POST /api/codes/redeem
func (s *HTTPServer) handleRedeemCode(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("codes_redeem")

	var req CodeRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := s.codes.Redeem(r.Context(), req.Code, req.Email)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RedeemResponse{DiscountAmount: amount})
}

// POST /api/payments/webhook
func (s *HTTPServer) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("payments_webhook")

	var req WebhookRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Reference == "" || (req.Status != "succeeded" && req.Status != "failed") {
		writeError(w, http.StatusBadRequest, "invalid_webhook", "reference and status succeeded|failed are required")
		return
	}

	res, err := s.bookings.HandlePaymentNotification(r.Context(), req.Reference, req.Status == "succeeded", req.AuthorizationCode, req.FailureReason)
	// settled outcomes are acknowledged so the provider stops redelivering
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, WebhookResponse{Reference: req.Reference, Status: models.AttemptSucceeded, Reservation: res})
	case errors.Is(err, models.ErrPaymentAfterExpiry):
		writeJSON(w, http.StatusOK, WebhookResponse{Reference: req.Reference, Status: models.AttemptOrphaned})
	case errors.Is(err, models.ErrPaymentFailed):
		writeJSON(w, http.StatusOK, WebhookResponse{Reference: req.Reference, Status: models.AttemptDeclined})
	default:
		s.writeDomainError(w, r, err)
	}
}
