package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSessionFatal is returned when the batch browser could not be created or recovered.
	ErrSessionFatal = errors.New("batch browser session unrecoverable")
	// ErrSessionNotActive is returned by operations that need an active batch session.
	ErrSessionNotActive = errors.New("batch browser session is not active")
)

// SessionState is the lifecycle state of a batch session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateActive
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// BatchSession is a read-only snapshot of the session lifecycle.
type BatchSession struct {
	State           SessionState
	StartedAt       time.Time
	ExecutedCount   int
	CurrentTestCase string
	Recoveries      int
}

// DriverFactory creates a fresh browser.
type DriverFactory func(ctx context.Context) (Driver, error)

// SessionManager owns the single browser reused by every test case of a batch.
type SessionManager struct {
	factory     DriverFactory
	settleDelay time.Duration
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	driver  Driver
	session BatchSession
}

// NewSessionManager creates an idle manager. settleDelay is the pause after clearing state.
func NewSessionManager(factory DriverFactory, settleDelay time.Duration, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		factory:     factory,
		settleDelay: settleDelay,
		logger:      logger.Named("session"),
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartBatchSession creates the batch browser. Calling it on an active session only logs a warning.
func (m *SessionManager) StartBatchSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.State == StateActive {
		m.logger.Warn("Batch session already active; ignoring start request",
			zap.Int("executed", m.session.ExecutedCount))
		return nil
	}

	d, err := m.factory(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to create browser: %v", ErrSessionFatal, err)
	}

	m.driver = d
	m.session = BatchSession{State: StateActive, StartedAt: time.Now()}
	m.logger.Info("Batch session started")
	return nil
}

// PrepareForNextTestCase isolates the next test case from the previous one by clearing
// cookies and storage. A failed clear triggers a single recovery that replaces the browser;
// if that fails too the error wraps ErrSessionFatal.
func (m *SessionManager) PrepareForNextTestCase(ctx context.Context, testCaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.State != StateActive || m.driver == nil {
		return fmt.Errorf("%w: cannot prepare test case %s", ErrSessionNotActive, testCaseID)
	}

	m.session.ExecutedCount++
	m.session.CurrentTestCase = testCaseID
	log := m.logger.With(zap.String("test_case_id", testCaseID), zap.Int("sequence", m.session.ExecutedCount))

	if err := m.driver.ClearState(ctx); err != nil {
		log.Warn("Failed to clear browser state; recreating browser", zap.Error(err))
		if rerr := m.recover(ctx); rerr != nil {
			log.Error("Browser recovery failed", zap.Error(rerr))
			return fmt.Errorf("%w: recovery for test case %s failed: %v", ErrSessionFatal, testCaseID, rerr)
		}
		log.Info("Browser recreated after failed state clear")
		return nil
	}

	if err := m.sleep(ctx, m.settleDelay); err != nil {
		return fmt.Errorf("interrupted while settling browser state: %w", err)
	}
	log.Debug("Browser state cleared for next test case")
	return nil
}

// recover must be called with mu held.
func (m *SessionManager) recover(ctx context.Context) error {
	if err := m.driver.Quit(ctx); err != nil {
		m.logger.Debug("Quit of failed browser returned an error", zap.Error(err))
	}
	m.driver = nil

	d, err := m.factory(ctx)
	if err != nil {
		m.session.State = StateTerminated
		return err
	}
	m.driver = d
	m.session.Recoveries++
	return nil
}

// EndBatchSession quits the browser and resets counters. Quit errors are logged only.
func (m *SessionManager) EndBatchSession(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver != nil {
		if err := m.driver.Quit(ctx); err != nil {
			m.logger.Warn("Error while quitting batch browser", zap.Error(err))
		}
	}
	executed := m.session.ExecutedCount
	m.driver = nil
	m.session = BatchSession{State: StateTerminated}
	m.logger.Info("Batch session ended", zap.Int("executed", executed))
}

// Driver returns the active browser.
func (m *SessionManager) Driver() (Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != StateActive || m.driver == nil {
		return nil, ErrSessionNotActive
	}
	return m.driver, nil
}

// Screenshot captures the active browser viewport.
func (m *SessionManager) Screenshot(ctx context.Context) ([]byte, error) {
	d, err := m.Driver()
	if err != nil {
		return nil, err
	}
	return d.Screenshot(ctx)
}

// Snapshot returns the current session lifecycle values.
func (m *SessionManager) Snapshot() BatchSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}
