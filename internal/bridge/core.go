package bridge

import (
	"fmt"
	"log/slog"

	"github.com/oversee-dev/oversee/internal/autofix"
	"github.com/oversee-dev/oversee/internal/completion"
	"github.com/oversee-dev/oversee/internal/session"
)

// Core dispatches consumer commands against the session registry, the
// completion watcher, the coalescer and the autofix manager. Commands
// naming unknown sessions are no-ops, not errors.
type Core struct {
	registry  *session.Registry
	watcher   *completion.Watcher
	coalescer *session.Coalescer
	runs      *autofix.Manager
	notifier  *Notifier
	logger    *slog.Logger

	runDefaults autofix.RunConfig
}

// CoreOptions carries the run defaults Dispatch applies to autofix commands.
type CoreOptions struct {
	RunDefaults autofix.RunConfig
}

// NewCore wires the dispatch surface.
func NewCore(
	registry *session.Registry,
	watcher *completion.Watcher,
	coalescer *session.Coalescer,
	runs *autofix.Manager,
	notifier *Notifier,
	opts CoreOptions,
	logger *slog.Logger,
) *Core {
	return &Core{
		registry:    registry,
		watcher:     watcher,
		coalescer:   coalescer,
		runs:        runs,
		notifier:    notifier,
		logger:      logger,
		runDefaults: opts.RunDefaults,
	}
}

// Dispatch executes one command. Errors are protocol-level (bad command
// shape); domain outcomes like dead sessions are absorbed silently.
func (c *Core) Dispatch(cmd Command) error {
	switch cmd := cmd.(type) {
	case StartCommand:
		return c.startSession(cmd)
	case WriteCommand:
		if sess, ok := c.registry.Get(cmd.Session); ok {
			sess.Write(cmd.Data)
		}

		return nil
	case RunWithCallbackCommand:
		return c.runWithCallback(cmd)
	case ResizeCommand:
		if sess, ok := c.registry.Get(cmd.Session); ok {
			return sess.Resize(cmd.Cols, cmd.Rows)
		}

		return nil
	case StopCommand:
		c.stopSession(cmd.Session)

		return nil
	case TrackCommand:
		kind, err := parseAgentKind(cmd.Kind)
		if err != nil {
			return err
		}

		c.registry.Track(kind, cmd.TabID, cmd.SessionID, cmd.ChangeID)

		return nil
	case UntrackCommand:
		kind, err := parseAgentKind(cmd.Kind)
		if err != nil {
			return err
		}

		c.registry.Untrack(kind, cmd.TabID)

		return nil
	case SendFailedCommand:
		c.runs.ReportSendFailure(cmd.TabID)

		return nil
	case AutofixStartCommand:
		return c.startRun(cmd)
	case AutofixStopCommand:
		c.runs.StopRun(cmd.ChangeID)

		return nil
	default:
		return fmt.Errorf("unhandled command type %T", cmd)
	}
}

func (c *Core) startSession(cmd StartCommand) error {
	if !cmd.Session.Valid() {
		return fmt.Errorf("invalid session id %q", cmd.Session)
	}

	sess, created := c.registry.Ensure(cmd.Session)

	if created {
		id := cmd.Session

		sess.OnOutput = func(data []byte) {
			c.coalescer.Add(id, data)
			c.watcher.Observe(id, data)
		}
		sess.OnExit = func(code int) {
			c.coalescer.Flush(id)
			c.notifier.Output(id, []byte(fmt.Sprintf("\r\n[Process exited with code %d]\r\n", code)))
			c.notifier.SessionExit(id, code)
			c.watcher.DropSession(id)
		}
	}

	wasStarted := sess.Started()

	if err := sess.Start(cmd.Cols, cmd.Rows); err != nil {
		return err
	}

	// Non-main sessions announce shell readiness through the regular
	// completion channel so the consumer can queue its first command.
	if cmd.Session.Kind() != session.KindMain {
		callbackID := string(cmd.Session) + "-shell-ready"
		c.watcher.Add(cmd.Session, callbackID, completion.PatternShell)

		if wasStarted {
			// The shell is already up and its prompt will not reprint.
			c.watcher.Fire(cmd.Session, callbackID)
		}
	}

	return nil
}

func (c *Core) runWithCallback(cmd RunWithCallbackCommand) error {
	if cmd.CallbackID == "" {
		return fmt.Errorf("run_with_callback requires a callback id")
	}

	pattern := cmd.Pattern
	if pattern != completion.PatternShell && pattern != completion.PatternAgent {
		return fmt.Errorf("unknown prompt pattern %q", cmd.Pattern)
	}

	sess, ok := c.registry.Get(cmd.Session)
	if !ok {
		return nil
	}

	// Register before writing so output racing the registration still
	// lands in the entry's buffer.
	c.watcher.Add(cmd.Session, cmd.CallbackID, pattern)
	sess.Write([]byte(cmd.Command + "\n"))

	return nil
}

func (c *Core) stopSession(id session.ID) {
	sess, ok := c.registry.Get(id)
	if !ok {
		return
	}

	sess.Kill()
	c.registry.Remove(id)
	c.watcher.DropSession(id)
	c.coalescer.DropSession(id)
}

func (c *Core) startRun(cmd AutofixStartCommand) error {
	if cmd.ChangeID == "" || cmd.ReviewerTab == "" || cmd.FixerTab == "" {
		return fmt.Errorf("autofix_start requires change_id, reviewer_tab and fixer_tab")
	}

	cfg := c.runDefaults
	cfg.ChangeID = cmd.ChangeID
	cfg.ReviewerTab = cmd.ReviewerTab
	cfg.FixerTab = cmd.FixerTab

	if cmd.MaxCycles > 0 {
		cfg.MaxCycles = cmd.MaxCycles
	}

	_, err := c.runs.StartRun(cfg)

	return err
}
