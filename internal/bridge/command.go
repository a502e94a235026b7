// Package bridge is the consumer-facing surface of the core: a websocket
// endpoint accepting session and autofix commands and streaming
// notifications back. Commands form a closed set dispatched by type switch.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/oversee-dev/oversee/internal/completion"
	"github.com/oversee-dev/oversee/internal/session"
)

// Command is one inbound consumer request. Implementations are the only
// accepted command shapes; unknown types are rejected at decode time.
type Command interface {
	isCommand()
}

// StartCommand starts a session at the given size, creating it if needed.
type StartCommand struct {
	Session session.ID `json:"session"`
	Cols    int        `json:"cols"`
	Rows    int        `json:"rows"`
}

// WriteCommand feeds bytes to a session's stdin.
type WriteCommand struct {
	Session session.ID `json:"session"`
	Data    []byte     `json:"data"`
}

// RunWithCallbackCommand runs a command line and registers a completion
// entry that fires when the prompt reappears.
type RunWithCallbackCommand struct {
	Session    session.ID         `json:"session"`
	Command    string             `json:"command"`
	CallbackID string             `json:"callback_id"`
	Pattern    completion.Pattern `json:"pattern"`
}

// ResizeCommand resizes a session's PTY.
type ResizeCommand struct {
	Session session.ID `json:"session"`
	Cols    int        `json:"cols"`
	Rows    int        `json:"rows"`
}

// StopCommand kills a session and releases its resources.
type StopCommand struct {
	Session session.ID `json:"session"`
}

// TrackCommand registers an agent session id reported by the consumer.
type TrackCommand struct {
	Kind      string `json:"kind"`
	TabID     string `json:"tab_id"`
	SessionID string `json:"session_id"`
	ChangeID  string `json:"change_id"`
}

// UntrackCommand removes an agent session binding.
type UntrackCommand struct {
	Kind  string `json:"kind"`
	TabID string `json:"tab_id"`
}

// SendFailedCommand reports that the consumer could not deliver input to a
// tab. Active autofix runs targeting the tab abort.
type SendFailedCommand struct {
	TabID string `json:"tab_id"`
}

// AutofixStartCommand begins a review/fix run for a change.
type AutofixStartCommand struct {
	ChangeID    string `json:"change_id"`
	ReviewerTab string `json:"reviewer_tab"`
	FixerTab    string `json:"fixer_tab"`
	MaxCycles   int    `json:"max_cycles"`
}

// AutofixStopCommand stops the run for a change manually.
type AutofixStopCommand struct {
	ChangeID string `json:"change_id"`
}

func (StartCommand) isCommand()           {}
func (WriteCommand) isCommand()           {}
func (RunWithCallbackCommand) isCommand() {}
func (ResizeCommand) isCommand()          {}
func (StopCommand) isCommand()            {}
func (TrackCommand) isCommand()           {}
func (UntrackCommand) isCommand()         {}
func (SendFailedCommand) isCommand()      {}
func (AutofixStartCommand) isCommand()    {}
func (AutofixStopCommand) isCommand()     {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeCommand parses one wire message into a typed command.
func DecodeCommand(data []byte) (Command, error) {
	var env envelope

	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding command envelope: %w", err)
	}

	var (
		cmd Command
		err error
	)

	switch env.Type {
	case "start":
		cmd, err = decodeAs[StartCommand](data)
	case "write":
		cmd, err = decodeAs[WriteCommand](data)
	case "run_with_callback":
		cmd, err = decodeAs[RunWithCallbackCommand](data)
	case "resize":
		cmd, err = decodeAs[ResizeCommand](data)
	case "stop":
		cmd, err = decodeAs[StopCommand](data)
	case "track_session":
		cmd, err = decodeAs[TrackCommand](data)
	case "untrack_session":
		cmd, err = decodeAs[UntrackCommand](data)
	case "send_failed":
		cmd, err = decodeAs[SendFailedCommand](data)
	case "autofix_start":
		cmd, err = decodeAs[AutofixStartCommand](data)
	case "autofix_stop":
		cmd, err = decodeAs[AutofixStopCommand](data)
	case "":
		return nil, fmt.Errorf("command is missing a type")
	default:
		return nil, fmt.Errorf("unknown command type %q", env.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("decoding %s command: %w", env.Type, err)
	}

	return cmd, nil
}

func decodeAs[T Command](data []byte) (Command, error) {
	var cmd T

	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}

	return cmd, nil
}

// parseAgentKind maps the wire role name to the registry's kind.
func parseAgentKind(kind string) (session.AgentKind, error) {
	switch kind {
	case "reviewer":
		return session.AgentReviewer, nil
	case "fixer":
		return session.AgentFixer, nil
	default:
		return 0, fmt.Errorf("unknown agent kind %q", kind)
	}
}
