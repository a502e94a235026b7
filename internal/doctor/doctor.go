// Package doctor provides diagnostic checks for Oversee health.
//
// This package implements a check framework that validates:
//   - Shell binary availability
//   - Hook listener port availability
//   - Bridge listen address availability
//   - Scenario table validity
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/oversee-dev/oversee/internal/config"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// Symbol returns the display marker for a status.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "!"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// Result holds the outcome of a single check.
type Result struct {
	Name    string
	Status  Status
	Message string
	Detail  string
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a runner with the default checks against the given
// configuration.
func New(cfg *config.Config) *Runner {
	r := &Runner{}

	r.AddCheck("Shell", checkShell(cfg))
	r.AddCheck("Hook Port", checkPort("hook listener", fmt.Sprintf("127.0.0.1:%d", cfg.HookPort())))
	r.AddCheck("Bridge Address", checkPort("bridge", cfg.BridgeAddr()))
	r.AddCheck("Scenario Table", checkScenarios(cfg))

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

func checkShell(cfg *config.Config) Check {
	return func(ctx context.Context) Result {
		shell := cfg.Shell()

		path, err := exec.LookPath(shell)
		if err != nil {
			return Result{
				Status:  StatusFail,
				Message: fmt.Sprintf("%s not found", shell),
				Detail:  "Set OVERSEE_SHELL or the shell key in config.yaml to an installed shell",
			}
		}

		info, err := os.Stat(path)
		if err != nil || info.Mode()&0o111 == 0 {
			return Result{
				Status:  StatusFail,
				Message: fmt.Sprintf("%s is not executable", path),
			}
		}

		return Result{Status: StatusPass, Message: path}
	}
}

// checkPort verifies the address can be bound. A busy port usually means a
// stale instance is still running.
func checkPort(what, addr string) Check {
	return func(ctx context.Context) Result {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return Result{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s is busy", addr),
				Detail:  fmt.Sprintf("Another process holds the %s address; is an instance already running?", what),
			}
		}

		ln.Close()

		return Result{Status: StatusPass, Message: fmt.Sprintf("%s available", addr)}
	}
}

func checkScenarios(cfg *config.Config) Check {
	return func(ctx context.Context) Result {
		start := time.Now()

		scenarios, err := cfg.Scenarios()
		if err != nil {
			return Result{
				Status:  StatusFail,
				Message: "scenario table invalid",
				Detail:  err.Error(),
			}
		}

		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("%d scenario(s) loaded in %s", len(scenarios), time.Since(start).Round(time.Millisecond)),
		}
	}
}
