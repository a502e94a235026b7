package session

import (
	"errors"
	"log/slog"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

func liveChildren(pid int32) ([]int32, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}

	children, err := proc.Children()
	if err != nil && !errors.Is(err, process.ErrorNoChildren) {
		return nil, err
	}

	pids := make([]int32, 0, len(children))
	for _, child := range children {
		pids = append(pids, child.Pid)
	}

	return pids, nil
}

// descendants returns every live descendant of pid, deepest first, so a
// caller signalling in order terminates children before their parents.
func descendants(pid int32, childrenOf func(int32) ([]int32, error)) []int32 {
	children, err := childrenOf(pid)
	if err != nil {
		return nil
	}

	var pids []int32

	for _, child := range children {
		pids = append(pids, descendants(child, childrenOf)...)
		pids = append(pids, child)
	}

	return pids
}

// terminateTree sends SIGTERM to every descendant of pid and then to pid
// itself. Processes that exit between discovery and signalling are skipped.
func terminateTree(pid int, logger *slog.Logger) {
	if pid <= 0 {
		return
	}

	for _, p := range descendants(int32(pid), liveChildren) {
		if err := unix.Kill(int(p), unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			logger.Debug("terminate descendant failed", "pid", p, "error", err)
		}
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Debug("terminate process failed", "pid", pid, "error", err)
	}
}
