//go:build linux

// Package daemon implements the tick loop: the single cooperative
// executor that ties the meminfo reader, pressure model, policy machine,
// and swap-file engine together into one running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/swapspaced/swapspaced/pkg/meminfo"
	"github.com/swapspaced/swapspaced/pkg/policy"
	"github.com/swapspaced/swapspaced/pkg/pressure"
	"github.com/swapspaced/swapspaced/pkg/swapfs"
)

// Daemon owns every long-lived component and drives them once per tick.
// It is built once in cmd/swapspaced/main.go and run for the process
// lifetime; nothing about it is safe to share across goroutines beyond
// the signal-driven latches, which is the point.
type Daemon struct {
	Reader        *meminfo.Reader
	Model         pressure.Model
	Machine       *policy.Machine
	Roster        *swapfs.Roster
	Engine        *swapfs.Engine
	Log           swapfs.Logger
	ProcSwapsPath string
	Paranoid      bool
	// Scratch is the shared page-sized buffer reused by reconciliation's
	// line scanner; the reader and engine clobber the same buffer, which is
	// safe because a tick's phases never interleave.
	Scratch []byte

	tick    int64
	latches latches
}

// Now returns the daemon's tick counter, suitable as the clock injected
// into components that stamp CreatedTick.
func (d *Daemon) Now() int64 { return d.tick }

// Run installs signal handlers and drives the one-second tick loop until
// ctx is cancelled or a stop latch fires.
func (d *Daemon) Run(ctx context.Context) error {
	stopSignals := d.latches.installSignals()
	defer stopSignals()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case <-ticker.C:
			d.tick++
			if d.latches.stop.Swap(false) {
				return d.shutdown()
			}
			d.serviceOneRequest()
		}
	}
}

// serviceOneRequest services the latched requests in strict priority
// order: a pending status-dump request is serviced alone; otherwise a
// pending force-adjust request is serviced (as a policy step with the
// cooldown timer forced to expire); otherwise an ordinary policy step
// runs. Exactly one of the three happens per tick.
func (d *Daemon) serviceOneRequest() {
	if d.latches.status.Swap(false) {
		d.dumpStatus()
		return
	}
	forced := d.latches.adjust.Swap(false)
	if err := d.step(forced); err != nil {
		d.Log.Warn("tick failed", "err", err, "tick", d.tick)
	}
}

// step runs one normal policy step: reconcile, then read pressure, then
// evaluate state, then (inside Machine.Step) any filesystem action.
// Nothing may reorder these phases: the policy decision must be made
// against a roster that matches the kernel's current view.
func (d *Daemon) step(forceExpire bool) error {
	if err := d.Roster.Reconcile(d.ProcSwapsPath, d.Scratch, d.tick, d.Log); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	snap, err := d.Reader.ReadSnapshot()
	if err != nil {
		return fmt.Errorf("read meminfo: %w", err)
	}

	if forceExpire {
		d.Machine.ForceExpire()
	}

	rec := d.Model.Recommend(snap)
	if err := d.Machine.Step(rec); err != nil {
		if errors.Is(err, swapfs.ErrNoRetirable) {
			d.Log.Debug("no retirable swapfile for requested shrink", "recommendation", rec)
		} else {
			d.Log.Warn("policy step action failed", "err", err, "recommendation", rec)
		}
	}
	return nil
}

// dumpStatus logs a snapshot of roster and policy state, servicing a
// SIGUSR1 status-dump request.
func (d *Daemon) dumpStatus() {
	d.Log.Info("status",
		"active_swapfiles", d.Roster.ActiveCount(),
		"policy_state", d.Machine.State().String(),
		"policy_timer", d.Machine.Timer(),
		"proc_swaps_validated", d.Roster.ProcSwapsValidated(),
	)
}

// shutdown runs on a clean exit latch or context cancellation: if
// paranoid mode is configured, every swap file is retired before the
// process returns.
func (d *Daemon) shutdown() error {
	d.Log.Notice("stopping", "tick", d.tick)
	if d.Paranoid {
		if err := d.Engine.RetireAll(); err != nil {
			d.Log.Error("retire-all during shutdown failed", "err", err)
			return err
		}
	}
	return nil
}
