package session

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const (
	// The kernel TTY input queue holds roughly 511 bytes before further
	// writes block or get truncated, and bracketed-paste shells misparse
	// oversized bursts. Writes are split well under that and paced.
	writeChunkSize = 400
	writeChunkGap  = 5 * time.Millisecond

	readPollMillis = 10
	readBufSize    = 64 * 1024
)

// Session owns one shell process attached to a pseudo-terminal. Output is
// pushed to the OnOutput callback from a dedicated reader goroutine; exit is
// reported exactly once through OnExit.
type Session struct {
	id     ID
	shell  string
	logger *slog.Logger

	// OnOutput receives raw PTY output. OnExit receives the shell's exit
	// code, or -1 when it is unavailable. Both must be set before Start.
	OnOutput func(data []byte)
	OnExit   func(code int)

	mu      chan struct{} // 1-token semaphore, held across chunked writes
	ptmx    *os.File
	cmd     *exec.Cmd
	started bool
	alive   bool
	cols    int
	rows    int

	// test seams
	startPTY func(cmd *exec.Cmd, size *pty.Winsize) (*os.File, error)
	killTree func(pid int, logger *slog.Logger)
	sleep    func(d time.Duration)
}

// New creates a session for the given shell binary. The session does not
// spawn anything until Start is called.
func New(id ID, shell string, logger *slog.Logger) *Session {
	s := &Session{
		id:       id,
		shell:    shell,
		logger:   logger.With("session", string(id)),
		mu:       make(chan struct{}, 1),
		startPTY: pty.StartWithSize,
		killTree: terminateTree,
		sleep:    time.Sleep,
	}
	s.mu <- struct{}{}

	return s
}

func (s *Session) lock() { <-s.mu }

func (s *Session) unlock() { s.mu <- struct{}{} }

// ID returns the session's identifier.
func (s *Session) ID() ID { return s.id }

// Alive reports whether the shell process is still running.
func (s *Session) Alive() bool {
	s.lock()
	defer s.unlock()

	return s.alive
}

// Started reports whether Start has ever succeeded.
func (s *Session) Started() bool {
	s.lock()
	defer s.unlock()

	return s.started
}

// Start spawns the shell as a login shell inside a new PTY sized cols x rows.
// Calling Start on an already started session is a no-op.
func (s *Session) Start(cols, rows int) error {
	s.lock()
	defer s.unlock()

	if s.started {
		return nil
	}

	cmd := exec.Command(s.shell, "-l")
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
		"DISABLE_AUTO_TITLE=true",
		// Hook delivery goes over loopback; keep it off any proxy.
		"no_proxy=localhost,127.0.0.1",
		"NO_PROXY=localhost,127.0.0.1",
	)

	ptmx, err := s.startPTY(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return fmt.Errorf("starting shell %q: %w", s.shell, err)
	}

	s.cmd = cmd
	s.ptmx = ptmx
	s.started = true
	s.alive = true
	s.cols = cols
	s.rows = rows

	go s.readLoop(ptmx, cmd)

	s.logger.Info("session started", "shell", s.shell, "pid", cmd.Process.Pid, "cols", cols, "rows", rows)

	return nil
}

// readLoop drains the PTY until the session dies, delivering each chunk to
// OnOutput. It never holds the session lock while invoking callbacks.
func (s *Session) readLoop(ptmx *os.File, cmd *exec.Cmd) {
	buf := make([]byte, readBufSize)
	fd := int32(ptmx.Fd())

	for {
		s.lock()
		alive := s.alive
		s.unlock()

		if !alive {
			break
		}

		fds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}

		n, err := unix.Poll(fds, readPollMillis)
		if err != nil && !isTransientPollErr(err) {
			break
		}

		if n <= 0 {
			continue
		}

		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			break
		}

		read, err := ptmx.Read(buf)
		if read > 0 && s.OnOutput != nil {
			chunk := make([]byte, read)
			copy(chunk, buf[:read])
			s.OnOutput(chunk)
		}

		if err != nil {
			break
		}
	}

	s.finish(cmd)
}

// finish reaps the shell, marks the session dead and reports the exit code.
func (s *Session) finish(cmd *exec.Cmd) {
	code := -1

	if err := cmd.Wait(); err == nil {
		code = 0
	} else if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	s.lock()
	wasAlive := s.alive
	s.alive = false

	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
	s.unlock()

	if !wasAlive {
		return
	}

	s.logger.Info("session exited", "code", code)

	if s.OnExit != nil {
		s.OnExit(code)
	}
}

func isTransientPollErr(err error) bool {
	return err == unix.EINTR || err == unix.EAGAIN
}

// Write feeds data to the shell's stdin, split into paced chunks so large
// pastes survive the TTY input queue. Writes to a dead or never-started
// session are dropped silently.
func (s *Session) Write(data []byte) {
	s.lock()
	defer s.unlock()

	if !s.alive || s.ptmx == nil {
		return
	}

	s.writeChunked(s.ptmx, data)
}

func (s *Session) writeChunked(w interface{ Write([]byte) (int, error) }, data []byte) {
	for off := 0; off < len(data); off += writeChunkSize {
		end := off + writeChunkSize
		if end > len(data) {
			end = len(data)
		}

		if _, err := w.Write(data[off:end]); err != nil {
			s.logger.Warn("pty write failed", "error", err)

			return
		}

		if end < len(data) {
			s.sleep(writeChunkGap)
		}
	}
}

// Resize changes the PTY window size and notifies the foreground process
// group. Resizing a session that was never started starts it at that size;
// resizing to the current size is a no-op.
func (s *Session) Resize(cols, rows int) error {
	s.lock()

	if !s.started {
		s.unlock()

		return s.Start(cols, rows)
	}

	if !s.alive || s.ptmx == nil || (cols == s.cols && rows == s.rows) {
		s.unlock()

		return nil
	}

	s.cols = cols
	s.rows = rows
	ptmx := s.ptmx
	s.unlock()

	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("resizing pty: %w", err)
	}

	if pgid, err := unix.IoctlGetInt(int(ptmx.Fd()), unix.TIOCGPGRP); err == nil && pgid > 0 {
		_ = unix.Kill(-pgid, unix.SIGWINCH)
	}

	return nil
}

// Kill terminates the shell and its whole descendant tree. The session is
// marked dead before any signal is sent, so concurrent writes turn into
// no-ops immediately. Kill is idempotent.
func (s *Session) Kill() {
	s.lock()

	if !s.started || !s.alive {
		s.unlock()

		return
	}

	s.alive = false

	pid := 0
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	s.unlock()

	s.logger.Info("killing session", "pid", pid)
	s.killTree(pid, s.logger)
}
