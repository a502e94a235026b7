package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	overseeerrors "github.com/oversee-dev/oversee/internal/errors"
)

const writeTimeout = 10 * time.Second

// Server exposes the bridge over a websocket endpoint at /bridge. One
// consumer connection is active at a time; a new connection replaces the
// previous one.
type Server struct {
	core     *Core
	notifier *Notifier
	logger   *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewServer builds the bridge server for the given listen address.
func NewServer(addr string, core *Core, notifier *Notifier, logger *slog.Logger) *Server {
	s := &Server{
		core:     core,
		notifier: notifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge binds to loopback; the local consumer is the
			// only expected origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", s.handleBridge)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// ListenAndServe blocks serving the bridge until Shutdown or a listener
// error.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return overseeerrors.BridgeBindFailed(s.httpSrv.Addr, err)
	}

	s.logger.Info("bridge listening", "addr", s.httpSrv.Addr)

	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown closes the active connection and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	return s.httpSrv.Shutdown(ctx)
}

type wsSender struct {
	conn *websocket.Conn
}

func (w *wsSender) Send(data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("bridge upgrade failed", "error", err)

		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("consumer connected", "remote", conn.RemoteAddr().String())
	s.notifier.Attach(&wsSender{conn: conn})

	defer func() {
		s.notifier.Detach()

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()

		conn.Close()
		s.logger.Info("consumer disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("bridge read failed", "error", err)
			}

			return
		}

		cmd, err := DecodeCommand(data)
		if err != nil {
			s.logger.Warn("rejecting malformed command", "error", err)

			continue
		}

		if err := s.core.Dispatch(cmd); err != nil {
			s.logger.Warn("command failed", "error", err)
		}
	}
}
