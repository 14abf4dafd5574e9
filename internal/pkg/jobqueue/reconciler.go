package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/miketere/businesscard-sub001/app/models"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	metrics "github.com/miketere/businesscard-sub001/internal/pkg/metrics/counter"
)

// Outcome describes what happened to a single webhook or event.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeNoop       Outcome = "noop"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnknown    Outcome = "unknown_subscription"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeConflict   Outcome = "conflict"
	OutcomeFailed     Outcome = "failed"
	OutcomeUnverified Outcome = "unverified"
)

var ErrSweepRunning = errors.New("expiry sweep already running")

// Options tunes the reconciler. Zero values fall back to the defaults.
type Options struct {
	// PastDueGrace is how long a past_due subscription keeps its plan after
	// the first failed payment.
	PastDueGrace time.Duration
	SweepBatch   int
	// RetryDelay is the minimum age of a failed webhook before it is replayed.
	RetryDelay       time.Duration
	RetryBatch       int
	MaxEventAttempts int
}

var DefaultOptions = Options{
	PastDueGrace:     7 * 24 * time.Hour,
	SweepBatch:       500,
	RetryDelay:       time.Minute,
	RetryBatch:       100,
	MaxEventAttempts: 10,
}

func (o Options) withDefaults() Options {
	if o.PastDueGrace <= 0 {
		o.PastDueGrace = DefaultOptions.PastDueGrace
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = DefaultOptions.SweepBatch
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultOptions.RetryDelay
	}
	if o.RetryBatch <= 0 {
		o.RetryBatch = DefaultOptions.RetryBatch
	}
	if o.MaxEventAttempts <= 0 {
		o.MaxEventAttempts = DefaultOptions.MaxEventAttempts
	}
	return o
}

// Reconciler applies processor webhooks and the time-driven expiry sweep to
// the subscription store.
type Reconciler struct {
	repo     billing.Repository
	store    *billing.Store
	service  *billing.Service
	verifier billing.WebhookVerifier
	opts     Options
	sweepMu  sync.Mutex
}

func NewReconciler(repo billing.Repository, service *billing.Service, verifier billing.WebhookVerifier, opts Options) *Reconciler {
	return &Reconciler{
		repo:     repo,
		store:    service.Store(),
		service:  service,
		verifier: verifier,
		opts:     opts.withDefaults(),
	}
}

// HandleWebhook verifies, records and applies one delivery. Unverified
// payloads are rejected without being stored. A delivery whose event was
// already processed is acknowledged without touching any subscription.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	evt, err := r.verifier.ParseWebhook(payload, signature)
	if err != nil {
		metrics.AddWebhookEvent(string(OutcomeUnverified))
		log.Warnf("[Reconcile] Rejected webhook: %v", err)
		return OutcomeUnverified, err
	}

	record := &models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		PayloadJSON:     string(payload),
	}
	created, stored, err := r.repo.CreateWebhookEventIfNotExists(ctx, record)
	if err != nil {
		metrics.AddWebhookEvent(string(OutcomeFailed))
		return OutcomeFailed, fmt.Errorf("record webhook %s: %w", evt.ID, err)
	}
	if !created && stored.ProcessedAt != nil {
		metrics.AddWebhookEvent(string(OutcomeDuplicate))
		log.Infof("[Reconcile] Duplicate webhook %s (%s) skipped", evt.ID, evt.Type)
		return OutcomeDuplicate, nil
	}

	outcome, err := r.process(ctx, stored, evt)
	metrics.AddWebhookEvent(string(outcome))
	return outcome, err
}

// process applies evt and records the result on its log row. Transient
// failures leave the row unprocessed for RetryPending.
func (r *Reconciler) process(ctx context.Context, row *models.BillingWebhookEvent, evt *billing.Event) (Outcome, error) {
	outcome, err := r.Apply(ctx, evt)
	switch {
	case err == nil:
		note := ""
		if outcome == OutcomeUnknown {
			note = "no matching subscription"
		}
		if merr := r.repo.MarkWebhookProcessed(ctx, row.ID, note); merr != nil {
			log.Errorf("[Reconcile] Could not mark webhook %s processed: %v", evt.ID, merr)
		}
		return outcome, nil
	case errors.Is(err, billing.ErrStateConflict):
		if merr := r.repo.MarkWebhookProcessed(ctx, row.ID, err.Error()); merr != nil {
			log.Errorf("[Reconcile] Could not mark webhook %s processed: %v", evt.ID, merr)
		}
		return OutcomeConflict, nil
	default:
		log.Errorf("[Reconcile] Applying webhook %s (%s) failed: %v", evt.ID, evt.Type, err)
		if merr := r.repo.MarkWebhookFailed(ctx, row.ID, err.Error()); merr != nil {
			log.Errorf("[Reconcile] Could not record failure of webhook %s: %v", evt.ID, merr)
		}
		return OutcomeFailed, err
	}
}

// Apply moves the matching subscription according to evt. Events for
// subscriptions this system does not know are discarded; no row is ever
// created from an external id. Applying the same event twice leaves the
// state unchanged.
func (r *Reconciler) Apply(ctx context.Context, evt *billing.Event) (Outcome, error) {
	if evt.Kind == billing.EventIgnored {
		return OutcomeIgnored, nil
	}
	sub, err := r.lookup(ctx, evt)
	if errors.Is(err, billing.ErrNotFound) {
		log.Warnf("[Reconcile] Event %s (%s) matches no subscription (sub=%q pi=%q), discarded",
			evt.ID, evt.Type, evt.ExternalSubscriptionID, evt.ExternalPaymentIntentID)
		return OutcomeUnknown, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	var changed bool
	updated, err := r.store.Update(ctx, sub.UserID, func(s *models.Subscription) (string, error) {
		if !sameSubscription(s, evt) {
			// Superseded or reset while the event was in flight.
			return "", nil
		}
		action := r.mutate(s, evt)
		changed = action != ""
		return action, nil
	})
	if err != nil {
		return OutcomeFailed, err
	}

	if carriesPayment(evt) {
		if err := r.recordInvoice(ctx, updated, evt); err != nil {
			return OutcomeFailed, err
		}
	}
	if !changed {
		return OutcomeNoop, nil
	}
	log.Infof("[Reconcile] Event %s (%s) applied to subscription of user %d, status %s",
		evt.ID, evt.Kind, updated.UserID, updated.Status)
	return OutcomeApplied, nil
}

func (r *Reconciler) lookup(ctx context.Context, evt *billing.Event) (*models.Subscription, error) {
	if evt.ExternalSubscriptionID != "" {
		sub, err := r.store.FindByExternalSubscriptionID(ctx, evt.ExternalSubscriptionID)
		if err == nil || !errors.Is(err, billing.ErrNotFound) {
			return sub, err
		}
	}
	if evt.ExternalPaymentIntentID != "" {
		return r.store.FindByPaymentIntentID(ctx, evt.ExternalPaymentIntentID)
	}
	return nil, fmt.Errorf("event %s: %w", evt.ID, billing.ErrNotFound)
}

// carriesPayment reports whether evt describes an actual charge. Status-only
// subscription updates do not produce invoice rows.
func carriesPayment(evt *billing.Event) bool {
	if evt.Kind != billing.EventPaymentSucceeded && evt.Kind != billing.EventPaymentFailed {
		return false
	}
	return evt.ExternalInvoiceID != "" || evt.ExternalPaymentIntentID != ""
}

func sameSubscription(s *models.Subscription, evt *billing.Event) bool {
	if evt.ExternalSubscriptionID != "" && s.ExternalSubscriptionID != nil && *s.ExternalSubscriptionID == evt.ExternalSubscriptionID {
		return true
	}
	return evt.ExternalPaymentIntentID != "" && s.ExternalPaymentIntentID != nil && *s.ExternalPaymentIntentID == evt.ExternalPaymentIntentID
}

// mutate applies evt to s in place and returns the audit action, or "" when
// the event changes nothing in the current state.
func (r *Reconciler) mutate(s *models.Subscription, evt *billing.Event) string {
	now := r.store.Now()
	switch evt.Kind {
	case billing.EventPaymentSucceeded, billing.EventSubscriptionRenewed:
		switch s.Status {
		case models.SubscriptionStatusFree:
			if s.PendingPlanID == nil {
				return ""
			}
			s.Status = models.SubscriptionStatusActive
			s.PlanID = *s.PendingPlanID
			s.PendingPlanID = nil
			s.ExpiresAt = nil
			applyPeriod(s, evt)
			return models.AuditActionTransition
		case models.SubscriptionStatusPastDue:
			s.Status = models.SubscriptionStatusActive
			s.ExpiresAt = nil
			applyPeriod(s, evt)
			return models.AuditActionTransition
		case models.SubscriptionStatusActive:
			if s.PendingPlanID != nil {
				// Checkout started from the free plan after an admin reset.
				s.PlanID = *s.PendingPlanID
				s.PendingPlanID = nil
				s.ExpiresAt = nil
				applyPeriod(s, evt)
				return models.AuditActionPlanChange
			}
			changed := applyPeriod(s, evt)
			if evt.Kind == billing.EventSubscriptionRenewed && s.CancelAtPeriodEnd != evt.CancelAtPeriodEnd {
				s.CancelAtPeriodEnd = evt.CancelAtPeriodEnd
				changed = true
			}
			if changed {
				return models.AuditActionPeriodUpdated
			}
		}
		// Local cancellation wins over a late renewal.
		return ""

	case billing.EventPaymentFailed:
		if s.Status != models.SubscriptionStatusActive || s.PendingPlanID != nil {
			return ""
		}
		s.Status = models.SubscriptionStatusPastDue
		grace := now.Add(r.opts.PastDueGrace)
		if s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(now) {
			grace = s.CurrentPeriodEnd.Add(r.opts.PastDueGrace)
		}
		s.ExpiresAt = &grace
		return models.AuditActionTransition

	case billing.EventSubscriptionCancelled:
		if s.PendingPlanID != nil {
			// The first payment never arrived and the processor gave up.
			voidCheckout(s)
			return models.AuditActionCheckoutVoid
		}
		switch s.Status {
		case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
			s.Status = models.SubscriptionStatusCancelled
			s.CancelledAt = &now
			s.ExpiresAt = &now
			s.CancelAtPeriodEnd = false
			s.RemoteCancelPending = false
			return models.AuditActionTransition
		case models.SubscriptionStatusFree:
			if s.ExternalSubscriptionID == nil {
				return ""
			}
			voidCheckout(s)
			return models.AuditActionCheckoutVoid
		case models.SubscriptionStatusCancelled:
			if s.RemoteCancelPending {
				s.RemoteCancelPending = false
				return models.AuditActionPeriodUpdated
			}
		}
	}
	return ""
}

func voidCheckout(s *models.Subscription) {
	s.PendingPlanID = nil
	s.ExternalSubscriptionID = nil
	s.ExternalPaymentIntentID = nil
	s.CurrentPeriodStart = nil
	s.CurrentPeriodEnd = nil
}

// applyPeriod moves the billing period forward; older periods from
// out-of-order deliveries are ignored.
func applyPeriod(s *models.Subscription, evt *billing.Event) bool {
	if evt.PeriodEnd == nil {
		return false
	}
	if s.CurrentPeriodEnd != nil && !evt.PeriodEnd.After(*s.CurrentPeriodEnd) {
		return false
	}
	end := evt.PeriodEnd.UTC()
	s.CurrentPeriodEnd = &end
	if evt.PeriodStart != nil {
		start := evt.PeriodStart.UTC()
		s.CurrentPeriodStart = &start
	}
	return true
}

func (r *Reconciler) recordInvoice(ctx context.Context, sub *models.Subscription, evt *billing.Event) error {
	status := models.InvoiceStatusPaid
	if evt.Kind == billing.EventPaymentFailed {
		status = models.InvoiceStatusFailed
	}
	// A charge for an unfinished checkout bills the plan being bought.
	planID := sub.PlanID
	if sub.PendingPlanID != nil {
		planID = *sub.PendingPlanID
	}
	inv := &models.Invoice{
		PublicID:       uuid.NewString(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         planID,
		Amount:         evt.Amount,
		Currency:       strings.ToUpper(evt.Currency),
		Status:         status,
		ExternalRef:    evt.InvoiceRef(),
		PeriodStart:    evt.PeriodStart,
		PeriodEnd:      evt.PeriodEnd,
	}
	inserted, err := r.store.AppendInvoice(ctx, inv)
	if err != nil {
		return fmt.Errorf("append invoice %s: %w", inv.ExternalRef, err)
	}
	if inserted {
		log.Infof("[Reconcile] Invoice %s (%s) recorded for user %d", inv.ExternalRef, status, sub.UserID)
	}
	return nil
}

// Sweep expires subscriptions whose entitlement window has closed. Expired
// rows stay expired; only the admin reset returns a user to the free plan.
// At most one sweep runs at a time per process.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	if !r.sweepMu.TryLock() {
		return 0, ErrSweepRunning
	}
	defer r.sweepMu.Unlock()

	candidates, err := r.store.ListExpirable(ctx, r.opts.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list expirable subscriptions: %w", err)
	}

	expired := 0
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		userID := candidates[i].UserID
		var did bool
		_, err := r.store.Update(ctx, userID, func(s *models.Subscription) (string, error) {
			now := r.store.Now()
			// Re-check under the lock; a payment may have landed meanwhile.
			if billing.IsEntitling(s, now) {
				return "", nil
			}
			switch s.Status {
			case models.SubscriptionStatusCancelled, models.SubscriptionStatusPastDue:
			case models.SubscriptionStatusActive:
				if !s.CancelAtPeriodEnd {
					return "", nil
				}
			default:
				return "", nil
			}
			if s.Status == models.SubscriptionStatusPastDue && s.ExternalSubscriptionID != nil {
				// Stop the processor from retrying the card of a lapsed subscription.
				s.RemoteCancelPending = true
			}
			s.Status = models.SubscriptionStatusExpired
			if s.ExpiresAt == nil {
				s.ExpiresAt = &now
			}
			did = true
			return models.AuditActionTransition, nil
		})
		if err != nil {
			log.Errorf("[Reconcile] Expiring subscription of user %d failed: %v", userID, err)
			continue
		}
		if did {
			expired++
		}
	}

	metrics.AddSweepExpired(expired)
	if expired > 0 {
		log.Infof("[Reconcile] Sweep expired %d of %d candidate subscriptions", expired, len(candidates))
	}
	return expired, nil
}

// RetryStats summarizes one RetryPending pass.
type RetryStats struct {
	EventsReplayed int `json:"events_replayed"`
	EventsFailed   int `json:"events_failed"`
	RemoteCancels  int `json:"remote_cancels"`
}

// RetryPending replays webhook events that failed transiently and re-sends
// remote cancellations the processor has not confirmed yet.
func (r *Reconciler) RetryPending(ctx context.Context) (RetryStats, error) {
	var stats RetryStats
	olderThan := r.store.Now().Add(-r.opts.RetryDelay)
	rows, err := r.repo.ListRetryableWebhookEvents(ctx, olderThan, r.opts.MaxEventAttempts, r.opts.RetryBatch)
	if err != nil {
		return stats, fmt.Errorf("list retryable webhooks: %w", err)
	}
	for i := range rows {
		row := &rows[i]
		evt, err := r.verifier.DecodeEvent([]byte(row.PayloadJSON))
		if err != nil {
			// The payload will never decode; stop retrying it.
			_ = r.repo.MarkWebhookProcessed(ctx, row.ID, err.Error())
			stats.EventsFailed++
			continue
		}
		outcome, err := r.process(ctx, row, evt)
		metrics.AddWebhookEvent(string(outcome))
		if err != nil {
			stats.EventsFailed++
			continue
		}
		stats.EventsReplayed++
	}

	n, err := r.service.RetryRemoteCancels(ctx, r.opts.RetryBatch)
	stats.RemoteCancels = n
	if err != nil {
		return stats, fmt.Errorf("retry remote cancels: %w", err)
	}
	if stats.EventsReplayed+stats.EventsFailed+stats.RemoteCancels > 0 {
		log.Infof("[Reconcile] Retry pass: %d events replayed, %d failed, %d remote cancels confirmed",
			stats.EventsReplayed, stats.EventsFailed, stats.RemoteCancels)
	}
	return stats, nil
}
