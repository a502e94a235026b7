// Package hookserver runs the loopback HTTP listener that coding agents
// POST hook events to.
package hookserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	overseeerrors "github.com/oversee-dev/oversee/internal/errors"
	"github.com/oversee-dev/oversee/internal/hookevent"
)

const maxPayloadBytes = 1 << 20

// Server accepts hook payloads on 127.0.0.1:<port> and feeds valid ones to
// the router. Malformed payloads are rejected before the router sees them.
type Server struct {
	router  *hookevent.Router
	logger  *slog.Logger
	httpSrv *http.Server
	port    int
}

// New builds the hook listener for the given port.
func New(port int, router *hookevent.Router, logger *slog.Logger) *Server {
	s := &Server{
		router: router,
		logger: logger,
		port:   port,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/hook-notify", s.handleNotify)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           otelhttp.NewHandler(mux, "hookserver"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	return s
}

// ListenAndServe blocks until Shutdown or a listener error. A busy port is
// reported with a hint since a stale instance is the usual cause.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return overseeerrors.HookPortBusy(s.port, err)
	}

	s.logger.Info("hook listener started", "addr", s.httpSrv.Addr)

	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)

		return
	}

	ev, err := hookevent.Parse(body)
	if err != nil {
		s.logger.Warn("rejecting malformed hook payload", "error", err)
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)

		return
	}

	s.router.Ingest(ev)

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}
