package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/oversee-dev/oversee/internal/bridge"
	"github.com/oversee-dev/oversee/internal/config"
	clierrors "github.com/oversee-dev/oversee/internal/errors"
	"github.com/oversee-dev/oversee/internal/session"
)

func newAttachCmd() *cobra.Command {
	var (
		bridgeAddr string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Connect a debug terminal to a session",
		Long: `Attach the current terminal to a session on a running oversee
instance. Keystrokes are forwarded raw; session output is rendered
locally. Detach with Ctrl-] .`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			if bridgeAddr == "" {
				bridgeAddr = cfg.BridgeAddr()
			}

			return runAttach(bridgeAddr, session.ID(sessionID))
		},
	}

	cmd.Flags().StringVar(&bridgeAddr, "bridge-addr", "", "Bridge address of the running instance")
	cmd.Flags().StringVar(&sessionID, "session", string(session.Main), "Session id to attach to (main, review, change:<tab>)")

	return cmd
}

const detachKey = 0x1d // Ctrl-]

func runAttach(addr string, id session.ID) error {
	if !id.Valid() {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("Invalid session id %q", id),
			Hint:    "Use main, review, or change:<tab-id>",
			Code:    clierrors.ExitUsage,
		}
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return clierrors.New(clierrors.ExitUsage, "attach requires an interactive terminal")
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: "/bridge"}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("Cannot reach oversee at %s", addr),
			Hint:    "Start it with 'oversee serve' or pass --bridge-addr",
			Code:    clierrors.ExitNetwork,
			Cause:   err,
		}
	}
	defer conn.Close()

	cols, rows, err := term.GetSize(stdinFd)
	if err != nil {
		cols, rows = 80, 24
	}

	if err := sendCommand(conn, "start", bridge.StartCommand{Session: id, Cols: cols, Rows: rows}); err != nil {
		return err
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, err, "cannot enter raw mode")
	}
	defer term.Restore(stdinFd, oldState)

	done := make(chan error, 2)

	go attachReadLoop(conn, id, done)
	go attachWriteLoop(conn, id, done)
	go attachResizeLoop(conn, id, stdinFd)

	err = <-done

	fmt.Fprint(os.Stdout, "\r\n")

	return err
}

// attachReadLoop renders output notifications for the attached session.
func attachReadLoop(conn *websocket.Conn, id session.ID, done chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			done <- nil

			return
		}

		var msg struct {
			Type    string     `json:"type"`
			Session session.ID `json:"session"`
			Data    []byte     `json:"data"`
			Code    int        `json:"code"`
		}

		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch {
		case msg.Type == "output" && msg.Session == id:
			os.Stdout.Write(msg.Data)
		case msg.Type == "session_exit" && msg.Session == id:
			done <- nil

			return
		}
	}
}

// attachWriteLoop forwards raw keystrokes until the detach key.
func attachWriteLoop(conn *websocket.Conn, id session.ID, done chan<- error) {
	buf := make([]byte, 1024)

	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			done <- nil

			return
		}

		for i := 0; i < n; i++ {
			if buf[i] == detachKey {
				done <- nil

				return
			}
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		if err := sendCommand(conn, "write", bridge.WriteCommand{Session: id, Data: chunk}); err != nil {
			done <- err

			return
		}
	}
}

// attachResizeLoop mirrors local window size changes to the session.
func attachResizeLoop(conn *websocket.Conn, id session.ID, fd int) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	for range winch {
		cols, rows, err := term.GetSize(fd)
		if err != nil {
			continue
		}

		if err := sendCommand(conn, "resize", bridge.ResizeCommand{Session: id, Cols: cols, Rows: rows}); err != nil {
			return
		}
	}
}

// sendCommand marshals a typed command with its wire discriminator.
func sendCommand(conn *websocket.Conn, typ string, cmd bridge.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return err
	}

	obj["type"] = typ

	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	return conn.WriteMessage(websocket.TextMessage, data)
}
