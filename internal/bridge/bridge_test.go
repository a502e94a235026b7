package bridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oversee-dev/oversee/internal/autofix"
	"github.com/oversee-dev/oversee/internal/completion"
	"github.com/oversee-dev/oversee/internal/session"
	"github.com/oversee-dev/oversee/internal/testutil"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Command
		wantErr bool
	}{
		{
			name: "start",
			in:   `{"type":"start","session":"main","cols":120,"rows":40}`,
			want: StartCommand{Session: session.Main, Cols: 120, Rows: 40},
		},
		{
			name: "write with base64 data",
			in:   `{"type":"write","session":"review","data":"bHMgLWwK"}`,
			want: WriteCommand{Session: session.Review, Data: []byte("ls -l\n")},
		},
		{
			name: "run with callback",
			in:   `{"type":"run_with_callback","session":"change:t1","command":"git status","callback_id":"cb-1","pattern":"shell"}`,
			want: RunWithCallbackCommand{
				Session: session.Change("t1"), Command: "git status",
				CallbackID: "cb-1", Pattern: completion.PatternShell,
			},
		},
		{
			name: "track",
			in:   `{"type":"track_session","kind":"reviewer","tab_id":"t1","session_id":"s1","change_id":"c1"}`,
			want: TrackCommand{Kind: "reviewer", TabID: "t1", SessionID: "s1", ChangeID: "c1"},
		},
		{
			name: "autofix start",
			in:   `{"type":"autofix_start","change_id":"c1","reviewer_tab":"t1","fixer_tab":"t2","max_cycles":5}`,
			want: AutofixStartCommand{ChangeID: "c1", ReviewerTab: "t1", FixerTab: "t2", MaxCycles: 5},
		},
		{
			name:    "unknown type",
			in:      `{"type":"reboot"}`,
			wantErr: true,
		},
		{
			name:    "missing type",
			in:      `{"session":"main"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			in:      `write main ls`,
			wantErr: true,
		},
		{
			name:    "wrong field type",
			in:      `{"type":"start","session":"main","cols":"wide"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeCommand(%q) accepted invalid input: %#v", tt.in, got)
				}

				return
			}

			if err != nil {
				t.Fatalf("DecodeCommand(%q) = %v", tt.in, err)
			}

			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Fatalf("DecodeCommand() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

type memorySender struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (m *memorySender) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}

	m.sent = append(m.sent, string(data))

	return nil
}

func (m *memorySender) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.sent))
	copy(out, m.sent)

	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(2 * time.Millisecond)
	}

	t.Fatal("condition never satisfied")
}

func TestNotifierBuffersUntilAttach(t *testing.T) {
	n := NewNotifier(discard())
	defer n.Close()

	n.Output(session.Main, []byte("first"))
	n.SessionExit(session.Main, 0)

	sender := &memorySender{}
	n.Attach(sender)

	waitFor(t, func() bool { return len(sender.messages()) == 2 })

	msgs := sender.messages()

	var first outputNotification
	if err := json.Unmarshal([]byte(msgs[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "output" || string(first.Data) != "first" {
		t.Fatalf("first message = %+v, want buffered output first", first)
	}

	var second exitNotification
	if err := json.Unmarshal([]byte(msgs[1]), &second); err != nil {
		t.Fatal(err)
	}
	if second.Type != "session_exit" || second.Code != 0 {
		t.Fatalf("second message = %+v, want session_exit", second)
	}
}

func TestNotifierWireFormat(t *testing.T) {
	n := NewNotifier(discard())
	defer n.Close()

	sender := &memorySender{}
	n.Attach(sender)

	n.Output(session.Main, []byte("hello\r\n"))
	n.CommandCallback("cb-1", "done $ ")
	n.SessionExit(session.Review, 1)
	n.HookNotify(map[string]any{"hook_event_name": "Stop", "session_id": "s1"})
	n.RunStatus("c1", autofix.StageReviewing, 2, "cycle 2: reviewing")
	n.RunComplete("c1", true, "all checklist items resolved", 3)

	if err := n.PrepareSessions("c1", "t1", "t2"); err != nil {
		t.Fatal(err)
	}
	if err := n.TriggerFix("c1", "t2", []string{"P0 crash"}, "review_confirm"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(sender.messages()) == 8 })

	got := strings.Join(sender.messages(), "\n") + "\n"
	testutil.AssertGolden(t, got, "notifications.golden")
}

func TestNotifierDetachesOnSendFailure(t *testing.T) {
	n := NewNotifier(discard())
	defer n.Close()

	broken := &memorySender{fail: errors.New("gone")}
	n.Attach(broken)

	n.CommandCallback("cb-1", "output")

	// Delivery fails, the sender detaches; a healthy sender picks the
	// stream back up with the next message.
	time.Sleep(20 * time.Millisecond)

	healthy := &memorySender{}
	n.Attach(healthy)
	n.CommandCallback("cb-2", "output")

	waitFor(t, func() bool { return len(healthy.messages()) >= 1 })
}

func newTestCore(t *testing.T) (*Core, *session.Registry, *Notifier) {
	t.Helper()

	logger := discard()
	notifier := NewNotifier(logger)
	t.Cleanup(notifier.Close)

	registry := session.NewRegistry("/bin/sh", logger)
	watcher := completion.NewWatcher(notifier.CommandCallback, logger)
	coalescer := session.NewCoalescer(time.Millisecond, notifier.Output)
	t.Cleanup(coalescer.Close)

	runs := autofix.NewManager(registry, notifier, notifier, logger)
	t.Cleanup(runs.Close)

	core := NewCore(registry, watcher, coalescer, runs, notifier, CoreOptions{
		RunDefaults: autofix.RunConfig{MaxCycles: 10, Scenarios: autofix.DefaultScenarios},
	}, logger)

	return core, registry, notifier
}

func TestDispatchUnknownSessionIsNoOp(t *testing.T) {
	core, _, _ := newTestCore(t)

	cmds := []Command{
		WriteCommand{Session: session.Main, Data: []byte("ls\n")},
		ResizeCommand{Session: session.Review, Cols: 80, Rows: 24},
		StopCommand{Session: session.Change("gone")},
	}

	for _, cmd := range cmds {
		if err := core.Dispatch(cmd); err != nil {
			t.Fatalf("Dispatch(%#v) = %v, want silent no-op", cmd, err)
		}
	}
}

func TestDispatchTrackAndUntrack(t *testing.T) {
	core, registry, _ := newTestCore(t)

	if err := core.Dispatch(TrackCommand{Kind: "reviewer", TabID: "t1", SessionID: "s1", ChangeID: "c1"}); err != nil {
		t.Fatalf("track = %v", err)
	}

	if _, ok := registry.Resolve("s1"); !ok {
		t.Fatal("tracked session did not resolve")
	}

	if err := core.Dispatch(UntrackCommand{Kind: "reviewer", TabID: "t1"}); err != nil {
		t.Fatalf("untrack = %v", err)
	}

	if _, ok := registry.Resolve("s1"); ok {
		t.Fatal("binding survived untrack")
	}

	if err := core.Dispatch(TrackCommand{Kind: "manager", TabID: "t1"}); err == nil {
		t.Fatal("unknown agent kind accepted")
	}
}

func TestDispatchValidation(t *testing.T) {
	core, _, _ := newTestCore(t)

	tests := []struct {
		name string
		cmd  Command
	}{
		{name: "invalid session id", cmd: StartCommand{Session: session.ID("bogus"), Cols: 80, Rows: 24}},
		{name: "callback without id", cmd: RunWithCallbackCommand{Session: session.Main, Command: "ls"}},
		{
			name: "unknown pattern",
			cmd:  RunWithCallbackCommand{Session: session.Main, Command: "ls", CallbackID: "cb", Pattern: "regex"},
		},
		{name: "autofix start without tabs", cmd: AutofixStartCommand{ChangeID: "c1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := core.Dispatch(tt.cmd); err == nil {
				t.Fatalf("Dispatch(%#v) accepted invalid command", tt.cmd)
			}
		})
	}
}

func TestDispatchAutofixLifecycle(t *testing.T) {
	core, _, _ := newTestCore(t)

	start := AutofixStartCommand{ChangeID: "c1", ReviewerTab: "t1", FixerTab: "t2"}

	if err := core.Dispatch(start); err != nil {
		t.Fatalf("autofix_start = %v", err)
	}
	if err := core.Dispatch(start); err == nil {
		t.Fatal("duplicate run for the same change accepted")
	}

	if err := core.Dispatch(AutofixStopCommand{ChangeID: "c1"}); err != nil {
		t.Fatalf("autofix_stop = %v", err)
	}

	// Stopped manually, so the slot frees up.
	if err := core.Dispatch(start); err != nil {
		t.Fatalf("restart after stop = %v", err)
	}

	// Send failures for untargeted tabs are absorbed.
	if err := core.Dispatch(SendFailedCommand{TabID: "elsewhere"}); err != nil {
		t.Fatalf("send_failed = %v", err)
	}
}
