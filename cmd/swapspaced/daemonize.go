//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// daemonizeEnv is the sentinel set on the re-exec'd child so it runs the
// daemon directly instead of forking again.
const daemonizeEnv = "SWAPSPACED_DAEMONIZED"

// isDaemonChild reports whether this process is the re-exec'd child of a
// daemonize call, i.e. whether it should skip forking again and, if a
// pidfile is in play, skip exclusively creating it (the original process
// already did, and rewrites it with this process's pid once it starts).
func isDaemonChild() bool {
	return os.Getenv(daemonizeEnv) != ""
}

// daemonize implements `-d`: re-execute the current binary with the same
// arguments, detached into a new session via Setsid, with stdio redirected
// to /dev/null. Go has no raw fork() it is safe to call after the runtime
// has started goroutines, so this re-exec is the idiomatic substitute.
//
// It returns isParent=true and the child's pid in the original process,
// which should rewrite any pidfile with that pid and then exit without
// doing any further work; the re-exec'd child sees the sentinel
// environment variable and runs the daemon directly, so daemonize returns
// isParent=false exactly once down that path.
func daemonize() (isParent bool, childPID int, err error) {
	if isDaemonChild() {
		return false, 0, nil
	}

	self, err := os.Executable()
	if err != nil {
		return false, 0, fmt.Errorf("daemonize: locate self: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return false, 0, fmt.Errorf("daemonize: open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizeEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull

	if err := cmd.Start(); err != nil {
		return false, 0, fmt.Errorf("daemonize: start child: %w", err)
	}
	return true, cmd.Process.Pid, nil
}
