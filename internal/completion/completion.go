// Package completion detects command completion inside a PTY stream by
// watching for the prompt to reappear. Detection is heuristic: it inspects a
// short ANSI-stripped tail of the accumulated output, so a prompt-like string
// printed by a program can fire early.
package completion

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/oversee-dev/oversee/internal/session"
)

// Pattern selects which prompt heuristic a pending entry waits for.
type Pattern string

// Supported patterns.
const (
	// PatternShell matches common interactive shell prompts.
	PatternShell Pattern = "shell"
	// PatternAgent matches coding-agent input prompts.
	PatternAgent Pattern = "agent"
)

const (
	// Per-entry output is capped; on overflow the newest bytes win.
	bufferCap = 512 * 1024

	// Only this many trailing characters of the stripped output are
	// matched against the prompt patterns.
	tailWindow = 200

	// Captured output handed to the callback is truncated to this many
	// trailing characters of the raw (unstripped) buffer.
	captureTail = 10000

	entryTTL      = 5 * time.Minute
	sweepInterval = time.Minute
)

var (
	shellPromptRe = regexp.MustCompile(`[$%❯>]\s*$`)
	agentPromptRe = regexp.MustCompile(`[>❯]\s*$`)
)

const agentIdleBanner = "How can I help"

// Callback receives the callback id and the captured trailing output once a
// pending entry matches.
type Callback func(callbackID string, captured string)

type entry struct {
	callbackID string
	pattern    Pattern
	buf        []byte
	createdAt  time.Time
}

// Watcher holds pending completion entries per session and matches incoming
// output against them. Entries fire at most once and are removed when they
// do. Stale entries are purged periodically.
type Watcher struct {
	fire   Callback
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[session.ID]map[string]*entry

	stop chan struct{}
	once sync.Once
}

// NewWatcher creates a watcher delivering matches to fire.
func NewWatcher(fire Callback, logger *slog.Logger) *Watcher {
	return &Watcher{
		fire:    fire,
		logger:  logger,
		now:     time.Now,
		pending: make(map[session.ID]map[string]*entry),
		stop:    make(chan struct{}),
	}
}

// Start launches the periodic stale-entry sweep.
func (w *Watcher) Start() {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.sweep(w.now())
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop. Pending entries are left in place.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
}

// Add registers a pending completion for the session. Multiple entries may
// wait on the same session concurrently; callback ids distinguish them.
func (w *Watcher) Add(sid session.ID, callbackID string, pattern Pattern) {
	w.mu.Lock()
	defer w.mu.Unlock()

	byID, ok := w.pending[sid]
	if !ok {
		byID = make(map[string]*entry)
		w.pending[sid] = byID
	}

	byID[callbackID] = &entry{
		callbackID: callbackID,
		pattern:    pattern,
		createdAt:  w.now(),
	}

	w.logger.Debug("completion pending",
		"session", string(sid), "callback", callbackID, "pattern", string(pattern))
}

// Fire synthesizes an immediate match for a pending entry, delivering
// whatever output it accumulated so far. Used when completion is known out
// of band, like a freshly started shell being ready.
func (w *Watcher) Fire(sid session.ID, callbackID string) {
	w.mu.Lock()

	var fired *entry

	if byID, ok := w.pending[sid]; ok {
		if e, ok := byID[callbackID]; ok {
			fired = e

			delete(byID, callbackID)
			if len(byID) == 0 {
				delete(w.pending, sid)
			}
		}
	}
	w.mu.Unlock()

	if fired != nil {
		w.fire(fired.callbackID, capturedOutput(fired.buf))
	}
}

// Observe feeds a chunk of session output to every pending entry for the
// session and fires the ones whose prompt reappeared.
func (w *Watcher) Observe(sid session.ID, chunk []byte) {
	w.mu.Lock()

	byID, ok := w.pending[sid]
	if !ok {
		w.mu.Unlock()

		return
	}

	var fired []*entry

	for id, e := range byID {
		e.buf = appendCapped(e.buf, chunk)

		if promptReappeared(e.buf, e.pattern) {
			fired = append(fired, e)

			delete(byID, id)
		}
	}

	if len(byID) == 0 {
		delete(w.pending, sid)
	}
	w.mu.Unlock()

	for _, e := range fired {
		w.logger.Debug("completion fired", "session", string(sid), "callback", e.callbackID)
		w.fire(e.callbackID, capturedOutput(e.buf))
	}
}

// DropSession discards every pending entry for the session without firing.
func (w *Watcher) DropSession(sid session.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.pending, sid)
}

// sweep drops entries older than the TTL at the given instant.
func (w *Watcher) sweep(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for sid, byID := range w.pending {
		for id, e := range byID {
			if now.Sub(e.createdAt) > entryTTL {
				w.logger.Warn("completion entry expired",
					"session", string(sid), "callback", id)

				delete(byID, id)
			}
		}

		if len(byID) == 0 {
			delete(w.pending, sid)
		}
	}
}

// appendCapped appends chunk to buf, keeping only the trailing bufferCap
// bytes on overflow.
func appendCapped(buf, chunk []byte) []byte {
	buf = append(buf, chunk...)

	if len(buf) > bufferCap {
		trimmed := make([]byte, bufferCap)
		copy(trimmed, buf[len(buf)-bufferCap:])

		return trimmed
	}

	return buf
}

// promptReappeared strips escape sequences and matches the trailing window
// of the output against the entry's prompt pattern.
func promptReappeared(buf []byte, pattern Pattern) bool {
	text := ansi.Strip(strings.ToValidUTF8(string(buf), "�"))

	runes := []rune(text)
	if len(runes) > tailWindow {
		runes = runes[len(runes)-tailWindow:]
	}

	tail := string(runes)

	switch pattern {
	case PatternAgent:
		return agentPromptRe.MatchString(tail) || strings.Contains(tail, agentIdleBanner)
	default:
		return shellPromptRe.MatchString(tail)
	}
}

// capturedOutput returns the trailing captureTail characters of the raw
// accumulated output.
func capturedOutput(buf []byte) string {
	runes := []rune(strings.ToValidUTF8(string(buf), "�"))
	if len(runes) > captureTail {
		runes = runes[len(runes)-captureTail:]
	}

	return string(runes)
}
