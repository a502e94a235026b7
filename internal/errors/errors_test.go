package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCLIErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *CLIError
		want string
	}{
		{
			name: "message only",
			err:  New(ExitGeneral, "something broke"),
			want: "something broke",
		},
		{
			name: "message with cause",
			err:  Wrap(ExitSession, errors.New("EIO"), "session read failed"),
			want: "session read failed: EIO",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(ExitGeneral, cause, "wrapped")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}

	var cliErr *CLIError
	if !As(fmt.Errorf("outer: %w", err), &cliErr) {
		t.Fatal("As should find the CLIError through wrapping")
	}

	if cliErr.Code != ExitGeneral {
		t.Errorf("code = %d, want %d", cliErr.Code, ExitGeneral)
	}
}

func TestHookPortBusy(t *testing.T) {
	err := HookPortBusy(18888, errors.New("address already in use"))

	if err.Code != ExitNetwork {
		t.Errorf("code = %d, want %d", err.Code, ExitNetwork)
	}

	if !strings.Contains(err.Message, "18888") {
		t.Errorf("message should name the port, got %q", err.Message)
	}

	if !strings.Contains(err.Hint, "lsof") {
		t.Errorf("hint should suggest lsof, got %q", err.Hint)
	}
}

func TestShellNotFound(t *testing.T) {
	err := ShellNotFound("/bin/zsh", errors.New("no such file"))

	if err.Code != ExitConfig {
		t.Errorf("code = %d, want %d", err.Code, ExitConfig)
	}

	if !strings.Contains(err.Message, "/bin/zsh") {
		t.Errorf("message should name the shell, got %q", err.Message)
	}
}
