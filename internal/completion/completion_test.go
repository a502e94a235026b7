package completion

import (
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oversee-dev/oversee/internal/session"
)

type recorder struct {
	mu    sync.Mutex
	fired []fireEvent
}

type fireEvent struct {
	callbackID string
	captured   string
}

func (r *recorder) callback(callbackID, captured string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fired = append(r.fired, fireEvent{callbackID, captured})
}

func (r *recorder) events() []fireEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]fireEvent, len(r.fired))
	copy(out, r.fired)

	return out
}

func newTestWatcher(t *testing.T) (*Watcher, *recorder) {
	t.Helper()

	rec := &recorder{}
	w := NewWatcher(rec.callback, slog.New(slog.DiscardHandler))

	return w, rec
}

func TestPromptReappeared(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		pattern Pattern
		want    bool
	}{
		{
			name:    "zsh percent prompt",
			output:  "total 8\ndrwxr-xr-x  2 u  staff\nhost ~ % ",
			pattern: PatternShell,
			want:    true,
		},
		{
			name:    "dollar prompt",
			output:  "done\nuser@box:~$ ",
			pattern: PatternShell,
			want:    true,
		},
		{
			name:    "arrow prompt with ansi color",
			output:  "ok\n\x1b[32m❯\x1b[0m ",
			pattern: PatternShell,
			want:    true,
		},
		{
			name:    "mid-command output",
			output:  "compiling module alpha...",
			pattern: PatternShell,
			want:    false,
		},
		{
			name:    "agent chevron prompt",
			output:  "finished the change.\n> ",
			pattern: PatternAgent,
			want:    true,
		},
		{
			name:    "agent idle banner",
			output:  "╭──╮\n How can I help you today?\n╰──╯",
			pattern: PatternAgent,
			want:    true,
		},
		{
			name:    "agent still streaming",
			output:  "Applying edit to file",
			pattern: PatternAgent,
			want:    false,
		},
		{
			name:    "prompt buried outside tail window",
			output:  "$ " + strings.Repeat("x", tailWindow+50),
			pattern: PatternShell,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := promptReappeared([]byte(tt.output), tt.pattern); got != tt.want {
				t.Fatalf("promptReappeared(%q, %q) = %v, want %v", tt.output, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestObserveFiresExactlyOnce(t *testing.T) {
	w, rec := newTestWatcher(t)

	w.Add(session.Main, "cb-1", PatternShell)

	w.Observe(session.Main, []byte("running...\n"))
	if len(rec.events()) != 0 {
		t.Fatal("fired before the prompt reappeared")
	}

	w.Observe(session.Main, []byte("done\nhost % "))
	w.Observe(session.Main, []byte("host % "))

	events := rec.events()
	if len(events) != 1 {
		t.Fatalf("fired %d times, want exactly once", len(events))
	}
	if events[0].callbackID != "cb-1" {
		t.Fatalf("fired callback %q, want cb-1", events[0].callbackID)
	}
	if !strings.Contains(events[0].captured, "running...") {
		t.Fatalf("captured output missing command output: %q", events[0].captured)
	}
}

func TestObserveIndependentEntries(t *testing.T) {
	w, rec := newTestWatcher(t)

	w.Add(session.Main, "shell-cb", PatternShell)
	w.Add(session.Main, "agent-cb", PatternAgent)

	// '%' terminates shell prompts only.
	w.Observe(session.Main, []byte("out\nhost % "))

	events := rec.events()
	if len(events) != 1 || events[0].callbackID != "shell-cb" {
		t.Fatalf("events = %+v, want only shell-cb", events)
	}

	w.Observe(session.Main, []byte("\nHow can I help you?\n"))

	events = rec.events()
	if len(events) != 2 || events[1].callbackID != "agent-cb" {
		t.Fatalf("events = %+v, want agent-cb second", events)
	}
}

func TestCapturedOutputTruncated(t *testing.T) {
	w, rec := newTestWatcher(t)

	w.Add(session.Review, "cb-big", PatternShell)

	w.Observe(session.Review, []byte(strings.Repeat("y", captureTail*2)))
	w.Observe(session.Review, []byte("\n$ "))

	events := rec.events()
	if len(events) != 1 {
		t.Fatalf("fired %d times, want 1", len(events))
	}
	if got := len([]rune(events[0].captured)); got != captureTail {
		t.Fatalf("captured %d chars, want %d", got, captureTail)
	}
}

func TestCapturedOutputReplacesInvalidUTF8(t *testing.T) {
	got := capturedOutput([]byte("ok\xffok"))

	want := "ok�ok"
	if got != want {
		t.Fatalf("capturedOutput = %q, want invalid byte replaced: %q", got, want)
	}
	if len([]rune(got)) != 5 {
		t.Fatalf("captured %d chars, want 5", len([]rune(got)))
	}
}

func TestBufferCapRetainsTail(t *testing.T) {
	buf := appendCapped(nil, []byte(strings.Repeat("a", bufferCap)))
	buf = appendCapped(buf, []byte("$ "))

	if len(buf) != bufferCap {
		t.Fatalf("buffer grew to %d, cap is %d", len(buf), bufferCap)
	}
	if !strings.HasSuffix(string(buf), "$ ") {
		t.Fatal("cap dropped the newest bytes instead of the oldest")
	}
	if !promptReappeared(buf, PatternShell) {
		t.Fatal("prompt in retained tail not detected")
	}
}

func TestSweepPurgesOnlyStaleEntries(t *testing.T) {
	w, rec := newTestWatcher(t)

	base := time.Now()
	w.now = func() time.Time { return base }

	w.Add(session.Main, "old-cb", PatternShell)

	w.now = func() time.Time { return base.Add(200 * time.Second) }
	w.Add(session.Main, "young-cb", PatternShell)

	// old-cb is 301s old, young-cb only 101s.
	w.sweep(base.Add(301 * time.Second))

	w.Observe(session.Main, []byte("$ "))

	events := rec.events()
	if len(events) != 1 || events[0].callbackID != "young-cb" {
		t.Fatalf("events = %+v, want only young-cb to survive the sweep", events)
	}
}

func TestDropSessionDiscardsPending(t *testing.T) {
	w, rec := newTestWatcher(t)

	w.Add(session.Main, "cb-drop", PatternShell)
	w.DropSession(session.Main)

	w.Observe(session.Main, []byte("$ "))

	if len(rec.events()) != 0 {
		t.Fatal("dropped entry still fired")
	}
}

func TestFireDeliversPendingEntry(t *testing.T) {
	w, rec := newTestWatcher(t)

	w.Add(session.Review, "ready-cb", PatternShell)
	w.Observe(session.Review, []byte("banner text"))
	w.Fire(session.Review, "ready-cb")

	events := rec.events()
	if len(events) != 1 || events[0].callbackID != "ready-cb" {
		t.Fatalf("events = %+v, want ready-cb", events)
	}
	if events[0].captured != "banner text" {
		t.Fatalf("captured = %q, want accumulated output", events[0].captured)
	}

	// Firing again is a no-op.
	w.Fire(session.Review, "ready-cb")

	if len(rec.events()) != 1 {
		t.Fatal("Fire delivered twice")
	}
}
