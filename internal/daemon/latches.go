package daemon

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// latches are the only three booleans the signal layer is allowed to
// touch: stop, status-dump requested, force-adjust requested. atomic.Bool
// is the minimum-overhead mechanism Go offers for cross-context
// visibility of a handler's store; no locks, no channels carrying data,
// just a flag the tick loop observes and clears.
type latches struct {
	stop   atomic.Bool
	status atomic.Bool
	adjust atomic.Bool
}

// installSignals wires TERM/HUP/PWR to the stop latch, USR1 to the
// status latch, and USR2 to the adjust latch. XFSZ is explicitly ignored
// (a swap file hitting a filesystem size limit must not kill the
// process). The returned stop func removes the signal handlers.
func (l *latches) installSignals() (stopNotifying func()) {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh,
		syscall.SIGTERM, syscall.SIGHUP, syscall.SIGPWR,
		syscall.SIGUSR1, syscall.SIGUSR2,
	)
	signal.Ignore(syscall.SIGXFSZ)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGTERM, syscall.SIGHUP, syscall.SIGPWR:
					l.stop.Store(true)
				case syscall.SIGUSR1:
					l.status.Store(true)
				case syscall.SIGUSR2:
					l.adjust.Store(true)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
