package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/miketere/businesscard-sub001/app/models"
	metrics "github.com/miketere/businesscard-sub001/internal/pkg/metrics/counter"
	"github.com/miketere/businesscard-sub001/internal/pkg/userlock"
)

const defaultLockTimeout = 15 * time.Second

// Mutation changes sub in place and returns the audit action describing the
// change. An empty action means nothing changed and nothing is written.
type Mutation func(sub *models.Subscription) (action string, err error)

// Store owns the subscription records. Every write runs under the user's
// lock, in one transaction, and only if the row version is unchanged.
type Store struct {
	repo        Repository
	locker      userlock.Locker
	lockTimeout time.Duration
	now         func() time.Time
}

func NewStore(repo Repository, locker userlock.Locker) *Store {
	return &Store{
		repo:        repo,
		locker:      locker,
		lockTimeout: defaultLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Now returns the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// SetClock replaces the clock, for tests and replays.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Current returns the user's subscription or nil if the user never had one.
func (s *Store) Current(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUser(ctx, userID, false)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

func (s *Store) FindByExternalSubscriptionID(ctx context.Context, id string) (*models.Subscription, error) {
	return s.repo.FindSubscriptionByExternalID(ctx, id)
}

func (s *Store) FindByPaymentIntentID(ctx context.Context, id string) (*models.Subscription, error) {
	return s.repo.FindSubscriptionByPaymentIntentID(ctx, id)
}

// EnsureDefault creates the free-tier row for a new user. Existing rows are returned as is.
func (s *Store) EnsureDefault(ctx context.Context, userID uint) (*models.Subscription, error) {
	return s.update(ctx, userID, true, false, func(sub *models.Subscription) (string, error) {
		return "", nil
	})
}

// Update applies fn to an existing subscription. Status changes must follow
// the state machine; a forbidden edge fails with a *StateConflictError and
// nothing is written.
func (s *Store) Update(ctx context.Context, userID uint, fn Mutation) (*models.Subscription, error) {
	return s.update(ctx, userID, false, false, fn)
}

// UpdateOrCreate is Update for flows that may start from the implicit free tier.
func (s *Store) UpdateOrCreate(ctx context.Context, userID uint, fn Mutation) (*models.Subscription, error) {
	return s.update(ctx, userID, true, false, fn)
}

// ResetToFree is the privileged escape hatch: whatever the current state, the
// user ends up active on the free plan with every external reference cleared.
// It returns the previous external subscription id so the caller can cancel it.
func (s *Store) ResetToFree(ctx context.Context, userID uint, actor, reason string) (*models.Subscription, string, error) {
	free, err := s.repo.GetPlanByName(ctx, models.PlanNameFree)
	if err != nil {
		return nil, "", fmt.Errorf("resolve free plan: %w", err)
	}

	var previousExternalID string
	sub, err := s.update(ctx, userID, true, true, func(sub *models.Subscription) (string, error) {
		if sub.ExternalSubscriptionID != nil {
			previousExternalID = *sub.ExternalSubscriptionID
		}
		resetFields(sub, free.ID)
		return models.AuditActionAdminReset, nil
	}, withAudit(actor, reason))
	if err != nil {
		return nil, "", err
	}
	return sub, previousExternalID, nil
}

func resetFields(sub *models.Subscription, freePlanID uint) {
	sub.Status = models.SubscriptionStatusActive
	sub.PlanID = freePlanID
	sub.ExternalCustomerID = nil
	sub.ExternalSubscriptionID = nil
	sub.ExternalPaymentIntentID = nil
	sub.PendingPlanID = nil
	sub.CurrentPeriodStart = nil
	sub.CurrentPeriodEnd = nil
	sub.ExpiresAt = nil
	sub.CancelAtPeriodEnd = false
	sub.CancelledAt = nil
	sub.RemoteCancelPending = false
}

type auditMeta struct {
	actor  string
	reason string
}

func withAudit(actor, reason string) auditMeta {
	return auditMeta{actor: actor, reason: reason}
}

func (s *Store) update(ctx context.Context, userID uint, create, privileged bool, fn Mutation, meta ...auditMeta) (*models.Subscription, error) {
	if userID == 0 {
		return nil, &ValidationError{Field: "user_id", Message: "is required"}
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, lockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock subscription of user %d: %w", userID, err)
	}
	defer unlock()

	var result *models.Subscription
	var from, to string
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := tx.GetSubscriptionByUser(ctx, userID, true)
		if errors.Is(err, ErrNotFound) && create {
			free, ferr := tx.GetPlanByName(ctx, models.PlanNameFree)
			if ferr != nil {
				return fmt.Errorf("resolve free plan: %w", ferr)
			}
			sub = &models.Subscription{
				UserID: userID,
				PlanID: free.ID,
				Status: models.SubscriptionStatusFree,
			}
			if err := tx.CreateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("create default subscription: %w", err)
			}
		} else if err != nil {
			return err
		}
		before := *sub
		action, err := fn(sub)
		if err != nil {
			return err
		}
		if action == "" {
			result = sub
			return nil
		}
		if !privileged && sub.Status != before.Status && !canTransitionSub(&before, sub.Status) {
			return &StateConflictError{UserID: userID, From: before.Status, To: sub.Status}
		}

		sub.Version = before.Version + 1
		if err := tx.UpdateSubscription(ctx, sub, before.Version); err != nil {
			return err
		}

		entry := &models.SubscriptionAudit{
			UserID:     userID,
			Action:     action,
			FromStatus: before.Status,
			ToStatus:   sub.Status,
			FromPlanID: before.PlanID,
			ToPlanID:   sub.PlanID,
			Actor:      "system",
		}
		if len(meta) > 0 {
			entry.Actor = meta[0].actor
			entry.Reason = meta[0].reason
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		from, to = before.Status, sub.Status
		result = sub
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			log.Warnf("[Billing] %v", err)
		}
		return nil, err
	}
	if from != to {
		metrics.AddTransition(from, to)
		log.Infof("[Billing] Subscription of user %d: %s -> %s", userID, from, to)
	}
	return result, nil
}

// ClearRemoteCancelPending marks a remote cancellation as confirmed.
func (s *Store) ClearRemoteCancelPending(ctx context.Context, subscriptionID uint) error {
	return s.repo.ClearRemoteCancelPending(ctx, subscriptionID)
}

func (s *Store) ListExpirable(ctx context.Context, limit int) ([]models.Subscription, error) {
	return s.repo.ListExpirable(ctx, s.now(), limit)
}

func (s *Store) ListRemoteCancelPending(ctx context.Context, limit int) ([]models.Subscription, error) {
	return s.repo.ListRemoteCancelPending(ctx, limit)
}

func (s *Store) AppendInvoice(ctx context.Context, inv *models.Invoice) (bool, error) {
	return s.repo.AppendInvoice(ctx, inv)
}

func (s *Store) ListInvoices(ctx context.Context, userID uint, limit int) ([]models.Invoice, error) {
	return s.repo.ListInvoices(ctx, userID, limit)
}

func lockKey(userID uint) string {
	return "subscription:" + strconv.FormatUint(uint64(userID), 10)
}
