package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

// Schedule controls how often the background passes run.
type Schedule struct {
	SweepInterval time.Duration
	RetryInterval time.Duration
	// PassTimeout bounds a single sweep or retry pass.
	PassTimeout time.Duration
}

var DefaultSchedule = Schedule{
	SweepInterval: 5 * time.Minute,
	RetryInterval: 2 * time.Minute,
	PassTimeout:   2 * time.Minute,
}

// Manager runs the reconciler's periodic work on a cron scheduler.
type Manager struct {
	reconciler *Reconciler
	schedule   Schedule
	cron       *cron.Cron
	cancel     context.CancelFunc
	ctx        context.Context
	mu         sync.Mutex
	running    bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// InitManager creates the global manager. Later calls return the first one.
func InitManager(r *Reconciler, schedule Schedule) *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(r, schedule)
	})
	return globalManager
}

func NewManager(r *Reconciler, schedule Schedule) *Manager {
	if schedule.SweepInterval <= 0 {
		schedule.SweepInterval = DefaultSchedule.SweepInterval
	}
	if schedule.RetryInterval <= 0 {
		schedule.RetryInterval = DefaultSchedule.RetryInterval
	}
	if schedule.PassTimeout <= 0 {
		schedule.PassTimeout = DefaultSchedule.PassTimeout
	}
	return &Manager{reconciler: r, schedule: schedule}
}

// Reconciler returns the managed reconciler.
func (m *Manager) Reconciler() *Reconciler {
	return m.reconciler
}

// Start schedules the expiry sweep and the retry pass. Overlapping runs of
// the same job are skipped.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if _, err := c.AddFunc(every(m.schedule.SweepInterval), m.sweepJob); err != nil {
		m.cancel()
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}
	if _, err := c.AddFunc(every(m.schedule.RetryInterval), m.retryJob); err != nil {
		m.cancel()
		return fmt.Errorf("schedule retry pass: %w", err)
	}

	c.Start()
	m.cron = c
	m.running = true
	log.Infof("[JobQueue Manager] Started (sweep every %s, retry every %s)", m.schedule.SweepInterval, m.schedule.RetryInterval)
	return nil
}

// Stop cancels running passes and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")
	m.cancel()
	<-m.cron.Stop().Done()
	m.cron = nil
	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunSweepOnce exposes a manual trigger for a single expiry sweep (admin use).
func (m *Manager) RunSweepOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.schedule.PassTimeout)
	defer cancel()
	return m.reconciler.Sweep(ctx)
}

func (m *Manager) sweepJob() {
	ctx, cancel := context.WithTimeout(m.ctx, m.schedule.PassTimeout)
	defer cancel()
	if _, err := m.reconciler.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
		log.Errorf("[JobQueue Manager] Expiry sweep error: %v", err)
	}
}

func (m *Manager) retryJob() {
	ctx, cancel := context.WithTimeout(m.ctx, m.schedule.PassTimeout)
	defer cancel()
	if _, err := m.reconciler.RetryPending(ctx); err != nil {
		log.Errorf("[JobQueue Manager] Retry pass error: %v", err)
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's own messages to the fiber logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugw("[JobQueue Manager] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorw(fmt.Sprintf("[JobQueue Manager] %s: %v", msg, err), keysAndValues...)
}
