package engine

import (
	"context"
	"errors"
	"time"
)

var errNonPositiveInterval = errors.New("sync interval must be positive")

// SetAutoSyncEnabled turns the background scheduler on or off. The
// scheduler runs a bidirectional sweep of every enabled provider each
// interval, skipping ticks while the engine is paused.
func (o *Orchestrator) SetAutoSyncEnabled(enabled bool) {
	o.schedMu.Lock()
	defer o.schedMu.Unlock()

	if enabled == o.autoSync {
		return
	}
	o.autoSync = enabled

	if enabled {
		o.schedStop = make(chan struct{})
		go o.runScheduler(o.interval, o.schedStop)
		o.logger.Info("auto-sync enabled", "interval", o.interval)
	} else {
		close(o.schedStop)
		o.schedStop = nil
		o.logger.Info("auto-sync disabled")
	}
}

// IsAutoSyncEnabled reports whether the background scheduler is running.
func (o *Orchestrator) IsAutoSyncEnabled() bool {
	o.schedMu.Lock()
	defer o.schedMu.Unlock()
	return o.autoSync
}

// SetSyncInterval changes the scheduler cadence. A running scheduler is
// restarted so the new interval takes effect immediately.
func (o *Orchestrator) SetSyncInterval(interval time.Duration) error {
	if interval <= 0 {
		return errNonPositiveInterval
	}

	o.schedMu.Lock()
	o.interval = interval
	restart := o.autoSync
	if restart {
		close(o.schedStop)
		o.schedStop = make(chan struct{})
		go o.runScheduler(interval, o.schedStop)
	}
	o.schedMu.Unlock()

	o.logger.Info("sync interval updated", "interval", interval, "scheduler_restarted", restart)
	return nil
}

// GetSyncInterval returns the current scheduler cadence.
func (o *Orchestrator) GetSyncInterval() time.Duration {
	o.schedMu.Lock()
	defer o.schedMu.Unlock()
	return o.interval
}

// runScheduler fires a full bidirectional sweep each tick until stop closes.
func (o *Orchestrator) runScheduler(interval time.Duration, stop <-chan struct{}) {
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if o.IsSyncPaused() {
				o.logger.Debug("skipping scheduled sync while paused")
				continue
			}
			if _, err := o.SyncAll(context.Background(), "", DirectionBidirectional); err != nil {
				o.logger.Warn("scheduled sync finished with errors", "error", err)
			}
		}
	}
}

// watchdogPeriod is how often stalled operations are checked for.
const watchdogPeriod = 30 * time.Second

// runWatchdog fails operations that have been running longer than the
// configured transfer timeout and aborts their in-flight provider calls.
func (o *Orchestrator) runWatchdog(stop <-chan struct{}) {
	ceiling := o.cfg.TransferTimeout()
	if ceiling <= 0 {
		return
	}

	ticker := o.clock.NewTicker(watchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			for _, id := range o.tracker.FailStalled(ceiling) {
				if cancel := o.getCancel(id); cancel != nil {
					cancel()
				}
				o.persistOp(id)
				o.logger.Warn("operation timed out", "id", id, "ceiling", ceiling)
			}
		}
	}
}
