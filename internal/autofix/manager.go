package autofix

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oversee-dev/oversee/internal/hookevent"
	"github.com/oversee-dev/oversee/internal/session"
)

const (
	resolveRetries  = 5
	resolveInterval = 300 * time.Millisecond
)

// Manager owns the active runs, one per change id, and routes hook events to
// them. It implements hookevent.Sink.
type Manager struct {
	resolver hookevent.Resolver
	act      Actuator
	sink     StatusSink
	logger   *slog.Logger

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool

	retryAfter func(d time.Duration, f func()) *time.Timer // test seam
}

// NewManager creates an empty manager.
func NewManager(resolver hookevent.Resolver, act Actuator, sink StatusSink, logger *slog.Logger) *Manager {
	return &Manager{
		resolver:   resolver,
		act:        act,
		sink:       sink,
		logger:     logger,
		runs:       make(map[string]*Run),
		retryAfter: time.AfterFunc,
	}
}

// StartRun begins a run for the change. At most one run per change id may be
// active; runs for different changes proceed concurrently.
func (m *Manager) StartRun(cfg RunConfig) (*Run, error) {
	if cfg.ChangeID == "" {
		return nil, fmt.Errorf("autofix run needs a change id")
	}

	run := NewRun(cfg, m.act, m.sink, m.logger)
	run.onFinished = m.remove

	m.mu.Lock()

	if _, exists := m.runs[cfg.ChangeID]; exists {
		m.mu.Unlock()

		return nil, fmt.Errorf("autofix run for change %s is already active", cfg.ChangeID)
	}

	m.runs[cfg.ChangeID] = run
	m.mu.Unlock()

	if err := run.Start(); err != nil {
		m.remove(cfg.ChangeID)

		return nil, err
	}

	return run, nil
}

// StopRun manually stops the run for a change, if one is active.
func (m *Manager) StopRun(changeID string) {
	m.mu.Lock()
	run, ok := m.runs[changeID]
	m.mu.Unlock()

	if ok {
		run.Stop()
	}
}

// Get returns the active run for a change.
func (m *Manager) Get(changeID string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[changeID]

	return run, ok
}

func (m *Manager) remove(changeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.runs, changeID)
}

// ReportSendFailure forwards a consumer-reported send failure to every run
// watching the tab.
func (m *Manager) ReportSendFailure(tabID string) {
	for _, run := range m.snapshot() {
		run.ReportSendFailure(tabID)
	}
}

// HandleAgentEvent routes a bound hook event to the run owning the tab.
func (m *Manager) HandleAgentEvent(b session.Binding, ev *hookevent.Event) {
	for _, run := range m.snapshot() {
		if run.cfg.ReviewerTab == b.TabID || run.cfg.FixerTab == b.TabID {
			run.HandleAgentEvent(b, ev)
		}
	}
}

// HandleUnboundEvent retries session-id resolution for a hook event that
// arrived before the consumer registered the session. Registration races the
// agent's first hooks during init, so a bounded retry bridges the gap; once
// resolved, the run discards anything its current stage has no use for.
func (m *Manager) HandleUnboundEvent(ev *hookevent.Event) {
	m.scheduleResolve(ev, 1)
}

func (m *Manager) scheduleResolve(ev *hookevent.Event, attempt int) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}

	m.retryAfter(resolveInterval, func() {
		if b, ok := m.resolver.Resolve(ev.SessionID()); ok {
			m.HandleAgentEvent(b, ev)

			return
		}

		if attempt >= resolveRetries {
			m.logger.Warn("dropping unresolvable hook event",
				"session_id", ev.SessionID(), "event", ev.Name(), "attempts", attempt)

			return
		}

		m.scheduleResolve(ev, attempt+1)
	})
}

// Close stops every active run and suppresses pending retries.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, run := range m.snapshot() {
		run.Stop()
	}
}

func (m *Manager) snapshot() []*Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}

	return out
}
