package autofix

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oversee-dev/oversee/internal/hookevent"
	"github.com/oversee-dev/oversee/internal/session"
)

// Stage is the orchestrator's current state.
type Stage int

// Run stages.
const (
	StageIdle Stage = iota
	StageInit
	StageReviewing
	StageSelecting
	StageFixing
	StageChecking
	StageCompleted
	StageStopped
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageInit:
		return "init"
	case StageReviewing:
		return "reviewing"
	case StageSelecting:
		return "selecting"
	case StageFixing:
		return "fixing"
	case StageChecking:
		return "checking"
	case StageCompleted:
		return "completed"
	case StageStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Defaults for run configuration.
const (
	DefaultMaxCycles   = 10
	DefaultInitTimeout = 60 * time.Second
	defaultCheckDelay  = time.Second
)

// Actuator performs the run's outward actions. Implementations must not call
// back into the run synchronously; the bridge satisfies this by enqueueing
// notifications.
type Actuator interface {
	// PrepareSessions asks the consumer to open and register reviewer and
	// fixer sessions for the change.
	PrepareSessions(changeID, reviewerTab, fixerTab string) error
	// TriggerReview asks the reviewer to produce its checklist.
	TriggerReview(changeID, reviewerTab string) error
	// TriggerFix hands the selected items to the fixer.
	TriggerFix(changeID, fixerTab string, items []string, scenarioKey string) error
}

// StatusSink receives run progress. Same re-entrancy rule as Actuator.
type StatusSink interface {
	RunStatus(changeID string, stage Stage, cycle int, detail string)
	RunComplete(changeID string, success bool, message string, cycleCount int)
}

// RunConfig parameterizes one run.
type RunConfig struct {
	ChangeID    string
	ReviewerTab string
	FixerTab    string
	MaxCycles   int
	// StageTimeout bounds each reviewing/fixing stage. Zero disables it.
	StageTimeout time.Duration
	InitTimeout  time.Duration
	Scenarios    []Scenario
}

func (c *RunConfig) applyDefaults() {
	if c.MaxCycles <= 0 {
		c.MaxCycles = DefaultMaxCycles
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if len(c.Scenarios) == 0 {
		c.Scenarios = DefaultScenarios
	}
}

// Run is one review/fix loop for a single change. All state is guarded by
// mu; timer callbacks are generation-checked so a timer armed for a stage
// can never fire into a later one.
type Run struct {
	cfg    RunConfig
	act    Actuator
	sink   StatusSink
	logger *slog.Logger

	// onFinished is invoked once when the run reaches a terminal stage or
	// is manually stopped.
	onFinished func(changeID string)

	mu            sync.Mutex
	stage         Stage
	cycle         int
	gen           int // bumped on every transition; stale timers check it
	reviewerReady bool
	fixerReady    bool
	initTimer     *time.Timer
	stageTimer    *time.Timer
	checkTimer    *time.Timer

	checkDelay time.Duration // test seam
}

// NewRun builds a run in the idle stage.
func NewRun(cfg RunConfig, act Actuator, sink StatusSink, logger *slog.Logger) *Run {
	cfg.applyDefaults()

	return &Run{
		cfg:        cfg,
		act:        act,
		sink:       sink,
		logger:     logger.With("change", cfg.ChangeID),
		stage:      StageIdle,
		cycle:      1,
		checkDelay: defaultCheckDelay,
	}
}

// ChangeID returns the change this run belongs to.
func (r *Run) ChangeID() string { return r.cfg.ChangeID }

// Stage returns the current stage.
func (r *Run) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stage
}

// Cycle returns the current cycle count.
func (r *Run) Cycle() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cycle
}

// Start moves idle to init: requests session preparation and arms the init
// fallback timer.
func (r *Run) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stage != StageIdle {
		return fmt.Errorf("run for change %s already started", r.cfg.ChangeID)
	}

	r.enterLocked(StageInit, "preparing sessions")

	if err := r.act.PrepareSessions(r.cfg.ChangeID, r.cfg.ReviewerTab, r.cfg.FixerTab); err != nil {
		r.stopLocked(ReasonSendFailed, fmt.Sprintf("session preparation failed: %v", err))

		return nil
	}

	gen := r.gen
	r.initTimer = time.AfterFunc(r.cfg.InitTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.gen != gen || r.stage != StageInit {
			return
		}

		r.stopLocked(ReasonInitTimeout, "sessions never reported ready")
	})

	return nil
}

// HandleAgentEvent processes a hook event bound to one of the run's tabs.
func (r *Run) HandleAgentEvent(b session.Binding, ev *hookevent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.stage {
	case StageInit:
		r.handleInitEventLocked(b)
	case StageReviewing:
		if b.Kind == session.AgentReviewer && b.TabID == r.cfg.ReviewerTab && ev.TurnComplete() {
			r.handleReviewDoneLocked(ev)
		}
	case StageFixing:
		if b.Kind == session.AgentFixer && b.TabID == r.cfg.FixerTab && ev.TurnComplete() {
			r.handleFixDoneLocked()
		}
	default:
	}
}

// handleInitEventLocked treats any event from a bound tab as proof the agent
// is up; once both roles have reported, reviewing begins.
func (r *Run) handleInitEventLocked(b session.Binding) {
	switch {
	case b.Kind == session.AgentReviewer && b.TabID == r.cfg.ReviewerTab:
		r.reviewerReady = true
	case b.Kind == session.AgentFixer && b.TabID == r.cfg.FixerTab:
		r.fixerReady = true
	default:
		return
	}

	r.logger.Debug("agent ready", "kind", b.Kind.String(), "tab", b.TabID)

	if r.reviewerReady && r.fixerReady {
		r.beginReviewLocked()
	}
}

func (r *Run) beginReviewLocked() {
	r.enterLocked(StageReviewing, fmt.Sprintf("cycle %d: reviewing", r.cycle))

	if err := r.act.TriggerReview(r.cfg.ChangeID, r.cfg.ReviewerTab); err != nil {
		r.stopLocked(ReasonSendFailed, fmt.Sprintf("review trigger failed: %v", err))

		return
	}

	r.armStageTimerLocked()
}

func (r *Run) handleReviewDoneLocked(ev *hookevent.Event) {
	r.enterLocked(StageSelecting, "evaluating review")

	text, _ := ev.FinalMessage()

	switch d := DecideNext(text, r.cycle, r.cfg.MaxCycles, r.cfg.Scenarios).(type) {
	case StopDecision:
		detail := string(d.Reason)
		if d.Reason == ReasonMaxCycles {
			detail = fmt.Sprintf("%s: %d items remaining", d.Reason, d.Remaining)
		}

		r.stopLocked(d.Reason, detail)
	case CompleteDecision:
		r.completeLocked()
	case ContinueDecision:
		r.enterLocked(StageFixing, fmt.Sprintf("cycle %d: fixing %d items", r.cycle, len(d.Items)))

		if err := r.act.TriggerFix(r.cfg.ChangeID, r.cfg.FixerTab, d.Items, d.ScenarioKey); err != nil {
			r.stopLocked(ReasonSendFailed, fmt.Sprintf("fix trigger failed: %v", err))

			return
		}

		r.armStageTimerLocked()
	}
}

// handleFixDoneLocked enters checking and schedules the next review after a
// short settle delay so the fixer's terminal state lands before the trigger.
func (r *Run) handleFixDoneLocked() {
	r.enterLocked(StageChecking, fmt.Sprintf("cycle %d: verifying fixes", r.cycle))

	gen := r.gen
	r.checkTimer = time.AfterFunc(r.checkDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.gen != gen || r.stage != StageChecking {
			return
		}

		r.cycle++
		r.beginReviewLocked()
	})
}

// ReportSendFailure aborts the run when the consumer failed to deliver input
// to the tab targeted by the active stage.
func (r *Run) ReportSendFailure(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var match bool

	switch r.stage {
	case StageInit:
		// Preparation targets both tabs.
		match = tabID == r.cfg.ReviewerTab || tabID == r.cfg.FixerTab
	case StageReviewing, StageSelecting:
		match = tabID == r.cfg.ReviewerTab
	case StageFixing, StageChecking:
		match = tabID == r.cfg.FixerTab
	}

	if !match || tabID == "" {
		return
	}

	r.stopLocked(ReasonSendFailed, fmt.Sprintf("send to tab %s failed", tabID))
}

// Stop cancels the run manually. Timers are cancelled, the stage returns to
// idle, and no completion notification is emitted.
func (r *Run) Stop() {
	r.mu.Lock()

	if r.stage == StageCompleted || r.stage == StageStopped {
		r.mu.Unlock()

		return
	}

	r.enterLocked(StageIdle, "stopped manually")
	r.logger.Info("run stopped manually")

	onFinished := r.onFinished
	r.onFinished = nil
	r.mu.Unlock()

	if onFinished != nil {
		onFinished(r.cfg.ChangeID)
	}
}

// enterLocked performs a transition: bumps the generation and cancels every
// timer armed by the state being left, then reports the new stage.
func (r *Run) enterLocked(next Stage, detail string) {
	r.gen++

	for _, t := range []*time.Timer{r.initTimer, r.stageTimer, r.checkTimer} {
		if t != nil {
			t.Stop()
		}
	}

	r.initTimer, r.stageTimer, r.checkTimer = nil, nil, nil

	r.stage = next
	r.logger.Info("stage", "stage", next.String(), "cycle", r.cycle, "detail", detail)

	if r.sink != nil {
		r.sink.RunStatus(r.cfg.ChangeID, next, r.cycle, detail)
	}
}

func (r *Run) armStageTimerLocked() {
	if r.cfg.StageTimeout <= 0 {
		return
	}

	gen := r.gen
	stage := r.stage

	r.stageTimer = time.AfterFunc(r.cfg.StageTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.gen != gen || r.stage != stage {
			return
		}

		r.stopLocked(ReasonStageTimeout, fmt.Sprintf("stage %s timed out", stage))
	})
}

func (r *Run) completeLocked() {
	cycles := r.cycle

	r.enterLocked(StageCompleted, "all checklist items resolved")

	if r.sink != nil {
		r.sink.RunComplete(r.cfg.ChangeID, true, "all checklist items resolved", cycles)
	}

	r.finishLocked()
}

func (r *Run) stopLocked(reason StopReason, detail string) {
	cycles := r.cycle

	r.enterLocked(StageStopped, detail)
	r.logger.Warn("run stopped", "reason", string(reason), "detail", detail)

	if r.sink != nil {
		r.sink.RunComplete(r.cfg.ChangeID, false, detail, cycles)
	}

	r.finishLocked()
}

func (r *Run) finishLocked() {
	if r.onFinished != nil {
		onFinished := r.onFinished
		r.onFinished = nil

		onFinished(r.cfg.ChangeID)
	}
}
