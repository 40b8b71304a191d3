package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reservas/internal/clock"
	"reservas/internal/database"
	"reservas/internal/events"
	"reservas/internal/metrics"
	"reservas/internal/models"
	"reservas/internal/repository"

	"github.com/rs/zerolog"
)

// LockConfig bounds hold lifetimes and per-session acquire rates.
type LockConfig struct {
	DefaultTTL    time.Duration
	MaxTTL        time.Duration
	AcquireLimit  int
	AcquireWindow time.Duration
}

// LockService places and releases slot holds.
type LockService struct {
	db      *database.DB
	limiter repository.RateLimiter
	clock   clock.Clock
	bus     *events.EventBus
	cfg     LockConfig
	logger  *zerolog.Logger
}

func NewLockService(db *database.DB, limiter repository.RateLimiter, clk clock.Clock, bus *events.EventBus, cfg LockConfig, logger *zerolog.Logger) *LockService {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.MaxTTL < cfg.DefaultTTL {
		cfg.MaxTTL = cfg.DefaultTTL
	}
	l := logger.With().Str("component", "locks").Logger()
	return &LockService{db: db, limiter: limiter, clock: clk, bus: bus, cfg: cfg, logger: &l}
}

// Acquire holds slot for sessionID. A zero ttl uses the default; longer
// requests are capped at the maximum.
func (s *LockService) Acquire(ctx context.Context, slot models.Slot, sessionID string, ttl time.Duration) (*models.SlotLock, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", models.ErrInvalidSlot)
	}
	if err := slot.Validate(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}

	if s.limiter != nil && s.cfg.AcquireLimit > 0 {
		ok, err := s.limiter.CheckRateLimit(ctx, sessionID, s.cfg.AcquireLimit, s.cfg.AcquireWindow)
		if err != nil {
			s.logger.Warn().Err(err).Str("session", sessionID).Msg("Acquire throttle unavailable, allowing request")
		} else if !ok {
			metrics.IncLockAcquire("throttled")
			return nil, models.ErrRateLimited
		}
	}

	lock, err := s.db.AcquireLock(ctx, slot, sessionID, ttl, s.clock.Now())
	switch {
	case err == nil:
		metrics.IncLockAcquire("acquired")
		s.logger.Info().Str("lock_id", lock.ID).Str("slot", slot.String()).Time("expires_at", lock.ExpiresAt).Msg("Slot held")
		return lock, nil
	case errors.Is(err, models.ErrConflict):
		metrics.IncLockAcquire("conflict")
		s.logger.Debug().Str("slot", slot.String()).Msg("Slot already held or booked")
	default:
		metrics.IncLockAcquire("error")
	}
	return nil, err
}

// Attach stores the customer on an active hold.
func (s *LockService) Attach(ctx context.Context, lockID string, customer models.Customer) error {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.TrimSpace(customer.Email)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.Name == "" || customer.Email == "" {
		return models.ErrCustomerRequired
	}
	return s.db.AttachCustomer(ctx, lockID, customer, s.clock.Now())
}

// Get returns an active hold.
func (s *LockService) Get(ctx context.Context, lockID string) (*models.SlotLock, error) {
	lock, err := s.db.GetLock(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if lock.ExpiredAt(s.clock.Now()) {
		return nil, models.ErrLockExpired
	}
	return lock, nil
}

// Release drops a hold. Releasing a missing hold is a no-op. A hold whose
// charge is still unsettled is kept and ErrPaymentInProgress is returned.
func (s *LockService) Release(ctx context.Context, lockID string) error {
	released, err := s.db.ReleaseLock(ctx, lockID)
	if err != nil {
		return err
	}
	if released {
		publish(s.bus, s.logger, events.LockReleased, lockID, lockReleased{LockID: lockID, Reason: "released by client"})
	}
	return nil
}

// Sweep reclaims expired holds and refreshes the active-lock gauge.
func (s *LockService) Sweep(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	n, err := s.db.SweepExpiredLocks(ctx, now)
	if err != nil {
		return 0, err
	}
	if active, err := s.db.CountActiveLocks(ctx, now); err == nil {
		metrics.SetActiveLocks(active)
	}
	if n > 0 {
		s.logger.Debug().Int64("count", n).Msg("Expired holds reclaimed")
	}
	return n, nil
}

type lockReleased struct {
	LockID string `json:"lock_id"`
	Reason string `json:"reason"`
}

func publish(bus *events.EventBus, logger *zerolog.Logger, eventType, key string, payload any) {
	ev, err := events.NewEvent(eventType, key, payload)
	if err != nil {
		logger.Error().Err(err).Str("event", eventType).Msg("Failed to encode event")
		return
	}
	bus.Publish(ev)
}
