package bridge

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/oversee-dev/oversee/internal/autofix"
	"github.com/oversee-dev/oversee/internal/session"
)

// Sender delivers one encoded notification to the attached consumer.
type Sender interface {
	Send(data []byte) error
}

// Notifier serializes all consumer-bound traffic through one delivery
// goroutine, so the consumer sees output, callbacks and status updates in a
// single-threaded order. Publishing never blocks the producer.
type Notifier struct {
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	sender Sender
	closed bool
}

// NewNotifier creates a notifier and starts its delivery goroutine.
func NewNotifier(logger *slog.Logger) *Notifier {
	n := &Notifier{logger: logger}
	n.cond = sync.NewCond(&n.mu)

	go n.deliverLoop()

	return n
}

// Attach points delivery at a consumer connection. Messages queued while no
// consumer was attached are delivered now, oldest first.
func (n *Notifier) Attach(s Sender) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sender = s
	n.cond.Signal()
}

// Detach stops delivery until the next Attach. Queued messages are retained.
func (n *Notifier) Detach() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sender = nil
}

// Close shuts the delivery goroutine down. Undelivered messages are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	n.cond.Signal()
}

func (n *Notifier) deliverLoop() {
	for {
		n.mu.Lock()
		for !n.closed && (len(n.queue) == 0 || n.sender == nil) {
			n.cond.Wait()
		}

		if n.closed {
			n.mu.Unlock()

			return
		}

		msg := n.queue[0]
		n.queue = n.queue[1:]
		sender := n.sender
		n.mu.Unlock()

		if err := sender.Send(msg); err != nil {
			n.logger.Warn("notification delivery failed", "error", err)
			n.Detach()
		}
	}
}

func (n *Notifier) publish(typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("encoding notification failed", "type", typ, "error", err)

		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	n.queue = append(n.queue, data)
	n.cond.Signal()
}

type outputNotification struct {
	Type    string     `json:"type"`
	Session session.ID `json:"session"`
	Data    []byte     `json:"data"`
}

// Output delivers a batch of session output.
func (n *Notifier) Output(id session.ID, data []byte) {
	n.publish("output", outputNotification{Type: "output", Session: id, Data: data})
}

type callbackNotification struct {
	Type       string `json:"type"`
	CallbackID string `json:"callback_id"`
	Output     string `json:"output"`
}

// CommandCallback reports a fired completion entry.
func (n *Notifier) CommandCallback(callbackID, captured string) {
	n.publish("command_callback", callbackNotification{
		Type: "command_callback", CallbackID: callbackID, Output: captured,
	})
}

type exitNotification struct {
	Type    string     `json:"type"`
	Session session.ID `json:"session"`
	Code    int        `json:"code"`
}

// SessionExit reports a session's shell exiting.
func (n *Notifier) SessionExit(id session.ID, code int) {
	n.publish("session_exit", exitNotification{Type: "session_exit", Session: id, Code: code})
}

type hookNotification struct {
	Type  string         `json:"type"`
	Event map[string]any `json:"event"`
}

// HookNotify forwards a raw hook payload to the consumer.
func (n *Notifier) HookNotify(raw map[string]any) {
	n.publish("hook_notify", hookNotification{Type: "hook_notify", Event: raw})
}

type autofixActionNotification struct {
	Type        string   `json:"type"`
	ChangeID    string   `json:"change_id"`
	Action      string   `json:"action"`
	ReviewerTab string   `json:"reviewer_tab,omitempty"`
	FixerTab    string   `json:"fixer_tab,omitempty"`
	Tab         string   `json:"tab,omitempty"`
	Items       []string `json:"items,omitempty"`
	ScenarioKey string   `json:"scenario_key,omitempty"`
}

type autofixStatusNotification struct {
	Type     string `json:"type"`
	ChangeID string `json:"change_id"`
	Stage    string `json:"stage"`
	Cycle    int    `json:"cycle"`
	Detail   string `json:"detail"`
}

type autofixCompleteNotification struct {
	Type       string `json:"type"`
	ChangeID   string `json:"change_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	CycleCount int    `json:"cycle_count"`
}

// RunStatus implements autofix.StatusSink.
func (n *Notifier) RunStatus(changeID string, stage autofix.Stage, cycle int, detail string) {
	n.publish("autofix_status", autofixStatusNotification{
		Type: "autofix_status", ChangeID: changeID,
		Stage: stage.String(), Cycle: cycle, Detail: detail,
	})
}

// RunComplete implements autofix.StatusSink.
func (n *Notifier) RunComplete(changeID string, success bool, message string, cycleCount int) {
	n.publish("autofix_complete", autofixCompleteNotification{
		Type: "autofix_complete", ChangeID: changeID,
		Success: success, Message: message, CycleCount: cycleCount,
	})
}

// PrepareSessions implements autofix.Actuator by asking the consumer to open
// and register the agent sessions.
func (n *Notifier) PrepareSessions(changeID, reviewerTab, fixerTab string) error {
	n.publish("autofix_action", autofixActionNotification{
		Type: "autofix_action", ChangeID: changeID, Action: "prepare_sessions",
		ReviewerTab: reviewerTab, FixerTab: fixerTab,
	})

	return nil
}

// TriggerReview implements autofix.Actuator.
func (n *Notifier) TriggerReview(changeID, reviewerTab string) error {
	n.publish("autofix_action", autofixActionNotification{
		Type: "autofix_action", ChangeID: changeID, Action: "trigger_review", Tab: reviewerTab,
	})

	return nil
}

// TriggerFix implements autofix.Actuator.
func (n *Notifier) TriggerFix(changeID, fixerTab string, items []string, scenarioKey string) error {
	n.publish("autofix_action", autofixActionNotification{
		Type: "autofix_action", ChangeID: changeID, Action: "trigger_fix",
		Tab: fixerTab, Items: items, ScenarioKey: scenarioKey,
	})

	return nil
}
