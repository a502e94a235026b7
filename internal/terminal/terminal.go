// Package terminal detects what the terminal hosting the CLI can do, so the
// output layer knows whether color, spinners, and prompts are usable.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information for stdout.
type Info struct {
	IsTTY   bool
	NoColor bool
	Width   int
	Height  int
	// ForceNoColor is set when the user passes --no-color.
	ForceNoColor bool
}

// Detect inspects stdout and the environment.
func Detect() *Info {
	stdoutFD := int(os.Stdout.Fd())
	isTTY := term.IsTerminal(stdoutFD)

	width, height := 80, 24
	if isTTY {
		if w, h, err := term.GetSize(stdoutFD); err == nil {
			width, height = w, h
		}
	}

	return &Info{
		IsTTY:   isTTY,
		NoColor: colorDisabledByEnv(),
		Width:   width,
		Height:  height,
	}
}

// colorDisabledByEnv honors the NO_COLOR convention (https://no-color.org/)
// and treats TERM=dumb as colorless.
func colorDisabledByEnv() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return true
	}

	return os.Getenv("TERM") == "dumb"
}

// ColorEnabled reports whether colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceNoColor {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// SpinnersEnabled reports whether animated progress indicators should be used.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}
