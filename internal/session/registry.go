package session

import (
	"log/slog"
	"sync"
)

// AgentKind distinguishes the two tracked agent roles.
type AgentKind int

// Agent roles tracked by the registry.
const (
	AgentReviewer AgentKind = iota
	AgentFixer
)

func (k AgentKind) String() string {
	switch k {
	case AgentReviewer:
		return "reviewer"
	case AgentFixer:
		return "fixer"
	default:
		return "unknown"
	}
}

// Binding associates an agent-reported session id with the tab hosting it.
type Binding struct {
	Kind      AgentKind
	TabID     string
	SessionID string
	ChangeID  string
}

// Registry owns every live Session plus the reviewer/fixer tracking tables
// that map agent session ids back to tabs. All access is serialized.
type Registry struct {
	shell  string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[ID]*Session
	tracked  map[AgentKind]map[string]Binding // tabID -> binding

	// newSession is a seam for tests.
	newSession func(id ID) *Session
}

// NewRegistry creates an empty registry spawning sessions with the given
// shell binary.
func NewRegistry(shell string, logger *slog.Logger) *Registry {
	r := &Registry{
		shell:  shell,
		logger: logger,
		sessions: make(map[ID]*Session),
		tracked: map[AgentKind]map[string]Binding{
			AgentReviewer: {},
			AgentFixer:    {},
		},
	}
	r.newSession = func(id ID) *Session { return New(id, shell, logger) }

	return r
}

// Get returns the session for id, if one exists.
func (r *Registry) Get(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]

	return s, ok
}

// Ensure returns the session for id, creating it if absent. The boolean
// reports whether the session was newly created.
func (r *Registry) Ensure(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, false
	}

	s := r.newSession(id)
	r.sessions[id] = s

	return s, true
}

// Remove forgets the session for id without killing it.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}

	return out
}

// Track records that the agent hosted in tabID reported sessionID. A tab can
// hold at most one binding per role; re-tracking replaces it.
func (r *Registry) Track(kind AgentKind, tabID, sessionID, changeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracked[kind][tabID] = Binding{
		Kind:      kind,
		TabID:     tabID,
		SessionID: sessionID,
		ChangeID:  changeID,
	}

	r.logger.Debug("tracking agent session",
		"kind", kind.String(), "tab", tabID, "agent_session", sessionID)
}

// Untrack drops the binding for a tab and role, if any.
func (r *Registry) Untrack(kind AgentKind, tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tracked[kind], tabID)
}

// Lookup returns the binding held by a tab for the given role.
func (r *Registry) Lookup(kind AgentKind, tabID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.tracked[kind][tabID]

	return b, ok
}

// Resolve maps an agent-reported session id to its binding. Reviewer
// bindings are scanned before fixer bindings, so a session id appearing in
// both resolves to the reviewer.
func (r *Registry) Resolve(sessionID string) (Binding, bool) {
	if sessionID == "" {
		return Binding{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kind := range []AgentKind{AgentReviewer, AgentFixer} {
		for _, b := range r.tracked[kind] {
			if b.SessionID == sessionID {
				return b, true
			}
		}
	}

	return Binding{}, false
}
