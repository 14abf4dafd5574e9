// Package billingtest provides an SQLite-backed database and a scripted
// payment gateway for tests of packages built on billing.
package billingtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/database"
)

// NewDB opens a migrated and seeded SQLite database in t's temp dir.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "billing.db") + "?_pragma=busy_timeout(5000)",
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := database.SeedPlans(db); err != nil {
		t.Fatalf("seed plans: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CancelCall records one Gateway.Cancel invocation.
type CancelCall struct {
	ExternalSubscriptionID string
	AtPeriodEnd            bool
}

// Gateway is an in-memory billing.Gateway. Fields ending in Err make the
// matching call fail.
type Gateway struct {
	mu sync.Mutex

	CreatePlanErr   error
	CreateIntentErr error
	CancelErr       error

	PlanCalls    []billing.PlanSpec
	IntentCalls  []billing.IntentRequest
	CancelCalls  []CancelCall
	PeriodLength time.Duration

	seq int
}

func NewGateway() *Gateway {
	return &Gateway{PeriodLength: 30 * 24 * time.Hour}
}

func (g *Gateway) CreatePlan(_ context.Context, spec billing.PlanSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.PlanCalls = append(g.PlanCalls, spec)
	if g.CreatePlanErr != nil {
		return "", g.CreatePlanErr
	}
	g.seq++
	return fmt.Sprintf("price_%d", g.seq), nil
}

func (g *Gateway) CreateSubscriptionIntent(_ context.Context, req billing.IntentRequest) (*billing.SubscriptionIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.IntentCalls = append(g.IntentCalls, req)
	if g.CreateIntentErr != nil {
		return nil, g.CreateIntentErr
	}
	g.seq++
	customer := req.ExternalCustomerID
	if customer == "" {
		customer = fmt.Sprintf("cus_%d", req.UserID)
	}
	start := time.Now().UTC().Truncate(time.Second)
	end := start.Add(g.PeriodLength)
	return &billing.SubscriptionIntent{
		ExternalCustomerID:      customer,
		ExternalSubscriptionID:  fmt.Sprintf("sub_%d", g.seq),
		ExternalPaymentIntentID: fmt.Sprintf("pi_%d", g.seq),
		ClientSecret:            fmt.Sprintf("pi_%d_secret", g.seq),
		PeriodStart:             &start,
		PeriodEnd:               &end,
	}, nil
}

func (g *Gateway) Cancel(_ context.Context, externalSubscriptionID string, atPeriodEnd bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CancelCalls = append(g.CancelCalls, CancelCall{ExternalSubscriptionID: externalSubscriptionID, AtPeriodEnd: atPeriodEnd})
	return g.CancelErr
}

// Calls returns how many times each operation was invoked.
func (g *Gateway) Calls() (plans, intents, cancels int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.PlanCalls), len(g.IntentCalls), len(g.CancelCalls)
}

// SetCancelErr changes the Cancel failure under the lock.
func (g *Gateway) SetCancelErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CancelErr = err
}
