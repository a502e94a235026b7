package hookevent

import (
	"log/slog"

	"github.com/oversee-dev/oversee/internal/session"
)

// Resolver maps agent session ids to tracked bindings.
type Resolver interface {
	Resolve(sessionID string) (session.Binding, bool)
}

// Sink receives routed events. Bound events carry the binding of the tab
// that owns the reporting agent; unbound events are handed over for deferred
// resolution, since registration races the agent's first hooks.
type Sink interface {
	HandleAgentEvent(b session.Binding, ev *Event)
	HandleUnboundEvent(ev *Event)
}

// Notifier forwards every hook payload to the attached consumer.
type Notifier interface {
	HookNotify(raw map[string]any)
}

// Router fans incoming hook events out to the consumer and, when the
// reporting session is tracked, to the orchestration sink.
type Router struct {
	resolver Resolver
	sink     Sink
	notify   Notifier
	logger   *slog.Logger
}

// NewRouter wires a router.
func NewRouter(resolver Resolver, sink Sink, notify Notifier, logger *slog.Logger) *Router {
	return &Router{resolver: resolver, sink: sink, notify: notify, logger: logger}
}

// Ingest processes one decoded hook event. Every event reaches the consumer
// regardless of routing; tracked events additionally reach the sink.
func (r *Router) Ingest(ev *Event) {
	attrs := make([]any, 0, 8)
	for _, a := range ev.LogAttrs() {
		attrs = append(attrs, a)
	}
	r.logger.Debug("hook event received", attrs...)

	if r.notify != nil {
		r.notify.HookNotify(ev.Raw())
	}

	if r.sink == nil {
		return
	}

	if b, ok := r.resolver.Resolve(ev.SessionID()); ok {
		r.sink.HandleAgentEvent(b, ev)

		return
	}

	if ev.SessionID() != "" {
		r.sink.HandleUnboundEvent(ev)
	}
}
