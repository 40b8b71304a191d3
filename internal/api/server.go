// Package api exposes the reservation engine over JSON HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"reservas/internal/models"
	"reservas/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Locks interface {
	Acquire(ctx context.Context, slot models.Slot, sessionID string, ttl time.Duration) (*models.SlotLock, error)
	Attach(ctx context.Context, lockID string, customer models.Customer) error
	Release(ctx context.Context, lockID string) error
}

type Codes interface {
	Verify(ctx context.Context, code, email string) (models.CodeCheck, error)
	Redeem(ctx context.Context, code, email string) (int64, error)
}

type Bookings interface {
	Confirm(ctx context.Context, req service.ConfirmRequest) (*models.Reservation, error)
	HandlePaymentNotification(ctx context.Context, reference string, succeeded bool, authCode, reason string) (*models.Reservation, error)
}

// ReadyFunc reports whether the process can serve traffic.
type ReadyFunc func(ctx context.Context) error

type Config struct {
	Address        string
	APIKey         string
	MetricsEnabled bool
}

// HTTPServer serves the reservation API, health probes and metrics.
type HTTPServer struct {
	cfg      Config
	locks    Locks
	codes    Codes
	bookings Bookings
	ready    ReadyFunc
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg Config, locks Locks, codes Codes, bookings Bookings, ready ReadyFunc, logger *zerolog.Logger) *HTTPServer {
	l := logger.With().Str("component", "api").Logger()
	s := &HTTPServer{cfg: cfg, locks: locks, codes: codes, bookings: bookings, ready: ready, logger: &l}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/locks", s.auth(s.handleAcquire))
	mux.HandleFunc("PUT /api/locks/{id}/customer", s.auth(s.handleAttach))
	mux.HandleFunc("DELETE /api/locks/{id}", s.auth(s.handleRelease))
	mux.HandleFunc("POST /api/locks/{id}/confirm", s.auth(s.handleConfirm))
	mux.HandleFunc("POST /api/codes/verify", s.auth(s.handleVerifyCode))
	mux.HandleFunc("POST /api/codes/redeem", s.auth(s.handleRedeemCode))
	mux.HandleFunc("POST /api/payments/webhook", s.auth(s.handlePaymentWebhook))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// confirmations wait on the payment gateway
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("address", s.cfg.Address).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-api-key")
		if s.cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid x-api-key")
			return
		}
		next(w, r)
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{models.ErrConflict, http.StatusConflict, "slot_conflict"},
	{models.ErrLockExpired, http.StatusGone, "lock_expired"},
	{models.ErrLockNotFound, http.StatusNotFound, "lock_not_found"},
	{models.ErrCodeInvalid, http.StatusUnprocessableEntity, "code_invalid"},
	{models.ErrCodeAlreadyUsed, http.StatusConflict, "code_already_used"},
	{models.ErrCodeEmailMismatch, http.StatusUnprocessableEntity, "code_email_mismatch"},
	{models.ErrCodeExpired, http.StatusUnprocessableEntity, "code_expired"},
	{models.ErrPaymentAfterExpiry, http.StatusConflict, "payment_after_expiry"},
	{models.ErrPaymentInProgress, http.StatusAccepted, "payment_in_progress"},
	{models.ErrPaymentTimeout, http.StatusGatewayTimeout, "payment_timeout"},
	{models.ErrPaymentFailed, http.StatusPaymentRequired, "payment_failed"},
	{models.ErrAttemptNotFound, http.StatusNotFound, "payment_not_found"},
	{models.ErrReservationNotFound, http.StatusNotFound, "reservation_not_found"},
	{models.ErrCourtNotFound, http.StatusNotFound, "court_not_found"},
	{models.ErrInvalidSlot, http.StatusBadRequest, "invalid_slot"},
	{models.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{models.ErrInvalidChannel, http.StatusBadRequest, "invalid_channel"},
	{models.ErrCustomerRequired, http.StatusBadRequest, "customer_required"},
	{models.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
}

// writeDomainError maps a service error to its status. Unexpected errors
// are logged and reported without detail.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, err.Error())
			return
		}
	}
	s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return false
	}
	return true
}
