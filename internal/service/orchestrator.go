package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reservas/internal/clock"
	"reservas/internal/commission"
	"reservas/internal/config"
	"reservas/internal/database"
	"reservas/internal/events"
	"reservas/internal/metrics"
	"reservas/internal/models"
	"reservas/internal/payment"

	"github.com/rs/zerolog"
)

// errNoCharge is a definitive "the gateway never charged" answer.
var errNoCharge = fmt.Errorf("%w: gateway has no record of the charge", models.ErrPaymentFailed)

// OrchestratorConfig tunes the gateway interaction.
type OrchestratorConfig struct {
	Currency string
	// PaymentTimeout caps a single gateway call.
	PaymentTimeout time.Duration
	// SafetyMargin is kept between the gateway deadline and the hold's expiry.
	SafetyMargin time.Duration
	// CodePolicy is config.CodePolicyRestore or config.CodePolicyKeep.
	CodePolicy        string
	ReconcileAttempts int
	ReconcileBackoff  time.Duration
	// PendingGrace is how long a pending attempt is assumed to be in flight.
	PendingGrace time.Duration
}

// ConfirmRequest carries everything Confirm needs besides the hold itself.
type ConfirmRequest struct {
	LockID       string
	DiscountCode string
	Channel      models.Channel
	PaymentToken string
}

// ReconcileSummary counts the outcomes of one ReconcilePending pass.
type ReconcileSummary struct {
	Confirmed int
	Released  int
	Orphaned  int
	Unknown   int
	Pending   int
}

// Orchestrator turns held slots into paid reservations.
type Orchestrator struct {
	db      *database.DB
	gateway payment.Gateway
	clock   clock.Clock
	bus     *events.EventBus
	cfg     OrchestratorConfig
	logger  *zerolog.Logger
}

func NewOrchestrator(db *database.DB, gateway payment.Gateway, clk clock.Clock, bus *events.EventBus, cfg OrchestratorConfig, logger *zerolog.Logger) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "clp"
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 20 * time.Second
	}
	if cfg.CodePolicy == "" {
		cfg.CodePolicy = config.CodePolicyRestore
	}
	if cfg.ReconcileAttempts <= 0 {
		cfg.ReconcileAttempts = 3
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = 2 * cfg.PaymentTimeout
	}
	l := logger.With().Str("component", "orchestrator").Logger()
	return &Orchestrator{db: db, gateway: gateway, clock: clk, bus: bus, cfg: cfg, logger: &l}
}

// Confirm charges for the hold and promotes it to a reservation. It is
// idempotent per lock: a retry after success returns the same reservation,
// and a retry while the outcome is unknown reconciles with the gateway
// before anything is charged again.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) (*models.Reservation, error) {
	if !req.Channel.Valid() {
		return nil, models.ErrInvalidChannel
	}
	if req.LockID == "" {
		return nil, models.ErrLockNotFound
	}

	res, attempt, fresh, err := o.begin(ctx, req)
	if err != nil {
		o.countConfirm(err)
		return nil, err
	}
	if res != nil {
		if fresh {
			o.confirmed(res)
		}
		metrics.IncConfirm("confirmed")
		return res, nil
	}

	if fresh {
		res, err = o.charge(ctx, attempt)
	} else {
		res, err = o.resume(ctx, attempt)
	}
	o.countConfirm(err)
	return res, err
}

// begin runs the pre-gateway transaction: hold check, code redemption,
// pricing and the attempt claim. It returns an existing reservation, the
// existing attempt of an earlier call, or a fresh attempt (fresh=true). A
// fully discounted booking is promoted right away without an attempt to charge.
func (o *Orchestrator) begin(ctx context.Context, req ConfirmRequest) (res *models.Reservation, attempt *models.PaymentAttempt, fresh bool, err error) {
	now := o.clock.Now()
	err = o.db.InTx(ctx, "begin confirmation", func(tx *database.Tx) error {
		existing, err := tx.ReservationByLock(ctx, req.LockID)
		if err == nil {
			res = existing
			return nil
		}
		if !errors.Is(err, models.ErrReservationNotFound) {
			return err
		}

		prior, err := tx.AttemptByLock(ctx, req.LockID)
		if err == nil {
			attempt = prior
			return nil
		}
		if !errors.Is(err, models.ErrAttemptNotFound) {
			return err
		}

		lock, err := tx.ActiveLock(ctx, req.LockID, now)
		if err != nil {
			return err
		}
		if lock.Remaining(now) <= o.cfg.SafetyMargin {
			return fmt.Errorf("%w: hold expires before a payment can complete", models.ErrLockExpired)
		}
		if lock.Customer == nil || lock.Customer.Email == "" {
			return models.ErrCustomerRequired
		}

		court, err := tx.Court(ctx, lock.Slot.CourtID)
		if err != nil {
			return err
		}
		gross := commission.ProratePrice(court.HourlyPrice, lock.Slot.Minutes())

		var discount int64
		code := strings.ToUpper(strings.TrimSpace(req.DiscountCode))
		if code != "" {
			discount, err = tx.Redeem(ctx, code, lock.Customer.Email, lock.ID, now)
			metrics.IncCodeRedeem(redeemResult(err))
			if err != nil {
				return err
			}
		}

		net := gross - discount
		if net < 0 {
			net = 0
		}
		a := &models.PaymentAttempt{
			Reference:      models.ReferenceForLock(lock.ID),
			LockID:         lock.ID,
			Slot:           lock.Slot,
			Customer:       *lock.Customer,
			Channel:        req.Channel,
			GrossPrice:     gross,
			DiscountCode:   code,
			DiscountAmount: gross - net,
			NetPrice:       net,
			PaymentToken:   req.PaymentToken,
			Status:         models.AttemptPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if net > 0 {
			if a.Commission, err = commission.Calculate(net, req.Channel); err != nil {
				return err
			}
		} else {
			a.Reference = "free:" + lock.ID
		}
		if err := tx.InsertAttempt(ctx, a); err != nil {
			return err
		}
		fresh = true

		if net == 0 {
			// the hold was checked above in this transaction, so this cannot orphan
			res, _, err = tx.Promote(ctx, a, "", now)
			return err
		}
		attempt = a
		return nil
	})
	return res, attempt, fresh, err
}

// charge performs the one gateway call of a fresh attempt.
func (o *Orchestrator) charge(ctx context.Context, a *models.PaymentAttempt) (*models.Reservation, error) {
	lock, err := o.db.GetLock(ctx, a.LockID)
	if err != nil {
		return nil, err
	}
	timeout := o.cfg.PaymentTimeout
	if left := lock.Remaining(o.clock.Now()) - o.cfg.SafetyMargin; left < timeout {
		timeout = left
	}

	chargeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	result, err := o.gateway.Charge(chargeCtx, payment.ChargeRequest{
		Reference:   a.Reference,
		Amount:      a.NetPrice,
		Currency:    o.cfg.Currency,
		Token:       a.PaymentToken,
		Description: fmt.Sprintf("Reserva %s", a.Slot),
	})
	if err != nil {
		metrics.ObserveGateway("charge", "error", time.Since(started).Seconds())
		o.logger.Warn().Err(err).Str("reference", a.Reference).Dur("timeout", timeout).Msg("Gateway charge did not answer, reconciling")
		res, err := o.reconcile(ctx, a)
		if errors.Is(err, errNoCharge) {
			return nil, fmt.Errorf("%w: no charge was made and the hold was released", models.ErrPaymentTimeout)
		}
		return res, err
	}
	metrics.ObserveGateway("charge", string(result.Status), time.Since(started).Seconds())
	return o.settle(ctx, a, result)
}

// resume continues an attempt left behind by an earlier call.
func (o *Orchestrator) resume(ctx context.Context, a *models.PaymentAttempt) (*models.Reservation, error) {
	switch a.Status {
	case models.AttemptSucceeded:
		return o.promote(ctx, a, a.AuthorizationCode)
	case models.AttemptOrphaned:
		return nil, models.ErrPaymentAfterExpiry
	case models.AttemptDeclined:
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentFailed, a.FailureReason)
	case models.AttemptPending:
		if o.clock.Now().Sub(a.UpdatedAt) < o.cfg.PendingGrace {
			return nil, models.ErrPaymentInProgress
		}
	}
	return o.reconcile(ctx, a)
}

// reconcile asks the gateway what happened to a and acts on the answer.
// When the gateway cannot be reached the attempt is marked unknown and the
// hold is left to expire; nothing is released on a guess.
func (o *Orchestrator) reconcile(ctx context.Context, a *models.PaymentAttempt) (*models.Reservation, error) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PaymentTimeout)
	defer cancel()

	var (
		result payment.Result
		err    error
	)
	for i := 0; i < o.cfg.ReconcileAttempts; i++ {
		if o.cfg.ReconcileBackoff > 0 {
			select {
			case <-lookupCtx.Done():
			case <-time.After(o.cfg.ReconcileBackoff * time.Duration(i+1)):
			}
		}
		started := time.Now()
		result, err = o.gateway.Lookup(lookupCtx, a.Reference, a.CreatedAt)
		if err == nil {
			metrics.ObserveGateway("lookup", string(result.Status), time.Since(started).Seconds())
			break
		}
		metrics.ObserveGateway("lookup", "error", time.Since(started).Seconds())
		if lookupCtx.Err() != nil {
			break
		}
	}
	if err != nil {
		metrics.IncReconcile("unknown")
		o.logger.Error().Err(err).Str("reference", a.Reference).Msg("Payment outcome unknown")
		if markErr := o.db.MarkAttempt(context.WithoutCancel(ctx), a.Reference, models.AttemptUnknown, "gateway unreachable", o.clock.Now()); markErr != nil {
			o.logger.Error().Err(markErr).Str("reference", a.Reference).Msg("Failed to mark attempt unknown")
		}
		return nil, fmt.Errorf("%w: outcome of %s is unknown", models.ErrPaymentTimeout, a.Reference)
	}
	return o.settle(ctx, a, result)
}

// settle applies a definitive or pending gateway answer to a.
func (o *Orchestrator) settle(ctx context.Context, a *models.PaymentAttempt, result payment.Result) (*models.Reservation, error) {
	ctx = context.WithoutCancel(ctx)
	switch result.Status {
	case payment.StatusSucceeded:
		return o.promote(ctx, a, result.AuthorizationCode)
	case payment.StatusDeclined:
		if err := o.abandon(ctx, a, nonEmpty(result.FailureReason, "declined")); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentFailed, nonEmpty(result.FailureReason, "declined"))
	case payment.StatusNotFound:
		if err := o.abandon(ctx, a, "no charge found"); err != nil {
			return nil, err
		}
		return nil, errNoCharge
	default:
		metrics.IncReconcile("pending")
		if err := o.db.MarkAttempt(ctx, a.Reference, models.AttemptPending, "", o.clock.Now()); err != nil {
			return nil, err
		}
		return nil, models.ErrPaymentInProgress
	}
}

func (o *Orchestrator) promote(ctx context.Context, a *models.PaymentAttempt, authCode string) (*models.Reservation, error) {
	res, outcome, err := o.db.PromoteAttempt(ctx, a.Reference, authCode, o.clock.Now())
	if errors.Is(err, models.ErrPaymentAfterExpiry) {
		metrics.IncReconcile("orphaned")
		o.logger.Warn().Str("reference", a.Reference).Str("authorization_code", authCode).
			Int64("amount", a.NetPrice).Msg("Payment captured after hold expired, needs manual reconciliation")
		orphan := *a
		orphan.Status = models.AttemptOrphaned
		orphan.AuthorizationCode = authCode
		publish(o.bus, o.logger, events.PaymentOrphaned, a.Reference, orphan)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if outcome == database.Promoted {
		o.confirmed(res)
	}
	return res, nil
}

func (o *Orchestrator) abandon(ctx context.Context, a *models.PaymentAttempt, reason string) error {
	restore := o.cfg.CodePolicy == config.CodePolicyRestore
	abandoned, restored, err := o.db.AbandonAttempt(ctx, a.Reference, reason, restore, o.clock.Now())
	if err != nil || !abandoned {
		return err
	}
	metrics.IncReconcile("released")
	o.logger.Info().Str("reference", a.Reference).Str("reason", reason).Bool("code_restored", restored).Msg("Payment failed, hold released")
	publish(o.bus, o.logger, events.LockReleased, a.LockID, lockReleased{LockID: a.LockID, Reason: reason})
	return nil
}

func (o *Orchestrator) confirmed(res *models.Reservation) {
	o.logger.Info().Str("code", res.Code).Str("lock_id", res.LockID).Int64("net_price", res.NetPrice).
		Int64("commission", res.Commission.TotalAmount).Msg("Reservation confirmed")
	publish(o.bus, o.logger, events.ReservationConfirmed, res.LockID, res)
}

// HandlePaymentNotification applies an asynchronous gateway callback. It is
// idempotent per reference: repeated deliveries return the current outcome.
func (o *Orchestrator) HandlePaymentNotification(ctx context.Context, reference string, succeeded bool, authCode, reason string) (*models.Reservation, error) {
	a, err := o.db.GetAttempt(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch a.Status {
	case models.AttemptSucceeded:
		return o.db.GetReservationByLock(ctx, a.LockID)
	case models.AttemptOrphaned:
		return nil, models.ErrPaymentAfterExpiry
	case models.AttemptDeclined:
		if !succeeded {
			return nil, fmt.Errorf("%w: %s", models.ErrPaymentFailed, a.FailureReason)
		}
		// money moved after the hold was given up: this surfaces as an orphan
		return o.promote(ctx, a, authCode)
	}

	result := payment.Result{Status: payment.StatusDeclined, AuthorizationCode: authCode, FailureReason: reason}
	if succeeded {
		result.Status = payment.StatusSucceeded
	}
	return o.settle(ctx, a, result)
}

// ReconcilePending resolves attempts whose outcome was never settled: all
// unknown ones and pending ones older than the grace period.
func (o *Orchestrator) ReconcilePending(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary
	now := o.clock.Now()

	attempts, err := o.db.ListAttempts(ctx, []string{models.AttemptUnknown}, time.Time{})
	if err != nil {
		return summary, err
	}
	stale, err := o.db.ListAttempts(ctx, []string{models.AttemptPending}, now.Add(-o.cfg.PendingGrace))
	if err != nil {
		return summary, err
	}
	attempts = append(attempts, stale...)

	for i := range attempts {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		a := &attempts[i]
		_, err := o.reconcile(ctx, a)
		switch {
		case err == nil:
			summary.Confirmed++
		case errors.Is(err, models.ErrPaymentAfterExpiry):
			summary.Orphaned++
		case errors.Is(err, models.ErrPaymentFailed):
			summary.Released++
		case errors.Is(err, models.ErrPaymentTimeout):
			summary.Unknown++
		case errors.Is(err, models.ErrPaymentInProgress):
			summary.Pending++
		default:
			o.logger.Error().Err(err).Str("reference", a.Reference).Msg("Reconciliation failed")
		}
	}
	if len(attempts) > 0 {
		o.logger.Info().Int("checked", len(attempts)).Int("confirmed", summary.Confirmed).
			Int("released", summary.Released).Int("orphaned", summary.Orphaned).
			Int("unknown", summary.Unknown).Msg("Reconciliation pass finished")
	}
	return summary, nil
}

func (o *Orchestrator) countConfirm(err error) {
	switch {
	case err == nil:
		metrics.IncConfirm("confirmed")
	case errors.Is(err, models.ErrLockExpired), errors.Is(err, models.ErrLockNotFound):
		metrics.IncConfirm("lock_expired")
	case errors.Is(err, models.ErrPaymentFailed):
		metrics.IncConfirm("payment_failed")
	case errors.Is(err, models.ErrPaymentTimeout):
		metrics.IncConfirm("payment_timeout")
	case errors.Is(err, models.ErrPaymentAfterExpiry):
		metrics.IncConfirm("orphaned")
	case errors.Is(err, models.ErrPaymentInProgress):
		metrics.IncConfirm("in_progress")
	case models.IsExpected(err):
		metrics.IncConfirm("rejected")
	default:
		metrics.IncConfirm("error")
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
