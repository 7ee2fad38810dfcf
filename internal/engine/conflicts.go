package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/skysync/skysync/internal/conflict"
	"github.com/skysync/skysync/internal/resolve"
)

// queueConflict adds a newly detected conflict to the queue and the audit
// trail. Conflicts stay visible until explicitly resolved.
func (o *Orchestrator) queueConflict(c *conflict.Conflict) {
	o.mu.Lock()
	o.conflicts[c.ID] = c
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.SaveConflict(c); err != nil {
			o.logger.Warn("failed to persist conflict", "id", c.ID, "error", err)
		}
	}
}

// GetPendingConflicts returns unresolved conflicts, optionally filtered by
// provider, newest first. The returned values are snapshots.
func (o *Orchestrator) GetPendingConflicts(providerID string) []*conflict.Conflict {
	o.mu.RLock()
	var out []*conflict.Conflict
	for _, c := range o.conflicts {
		if c.Resolved {
			continue
		}
		if providerID != "" && c.Provider != providerID {
			continue
		}
		out = append(out, c.Clone())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

// CheckForConflicts runs a detection-only sweep against one provider (or
// all connected providers when providerID is empty) and returns the pending
// queue afterwards. No transfers are issued.
func (o *Orchestrator) CheckForConflicts(ctx context.Context, providerID string) ([]*conflict.Conflict, error) {
	var targets []string
	if providerID != "" {
		targets = []string{providerID}
	} else {
		targets = o.registry.Names()
	}

	for _, name := range targets {
		p, ok := o.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
		if !p.IsAuthenticated() {
			continue
		}

		states, err := o.enumerate(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("enumerating %s: %w", name, err)
		}

		for _, st := range states {
			key := gateKey(name, st.path)
			if !o.tryAcquire(key) {
				continue // a transfer owns this path; skip the check
			}
			if o.alreadyPending(name, st.path) {
				o.release(key)
				continue
			}
			if c := o.detector.Detect(name, st.path, st.local, st.remote, o.baselineFor(name, st.path)); c != nil {
				o.queueConflict(c)
			}
			o.release(key)
		}
	}

	return o.GetPendingConflicts(providerID), nil
}

func (o *Orchestrator) alreadyPending(providerID, path string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, c := range o.conflicts {
		if !c.Resolved && c.Provider == providerID && c.FilePath == path {
			return true
		}
	}
	return false
}

// ResolveConflict applies a resolution to one queued conflict. The
// (provider, path) gate is held so the resolution never races a transfer
// for the same file.
func (o *Orchestrator) ResolveConflict(ctx context.Context, conflictID string, resolution conflict.Resolution, userInput string) (resolve.Result, error) {
	o.mu.RLock()
	shared, ok := o.conflicts[conflictID]
	o.mu.RUnlock()
	if !ok {
		return resolve.Result{}, fmt.Errorf("unknown conflict: %s", conflictID)
	}

	// Provider and FilePath never change after detection.
	key := gateKey(shared.Provider, shared.FilePath)
	if !o.tryAcquire(key) {
		return resolve.Result{}, fmt.Errorf("a transfer for %s on %s is in flight", shared.FilePath, shared.Provider)
	}
	defer o.release(key)

	// The resolver works on a clone so queue readers never observe a
	// half-written resolution; the clone replaces the original under the
	// lock once the resolution succeeds. Cloned under the gate so a
	// just-finished resolution of the same conflict is visible.
	o.mu.RLock()
	c := o.conflicts[conflictID].Clone()
	o.mu.RUnlock()

	p, _ := o.registry.Get(c.Provider) // resolver tolerates nil for manual/deferred paths

	res, err := o.resolver.Resolve(ctx, c, resolution, p, userInput)
	if err != nil {
		return res, err
	}

	if res.Success {
		o.afterResolution(c, res)
	}
	return res, nil
}

// AutoResolveConflicts applies a strategy across the whole pending queue.
// Conflicts whose path currently has a transfer in flight are reported as
// deferrals rather than waited on.
func (o *Orchestrator) AutoResolveConflicts(ctx context.Context, strategy resolve.Strategy) ([]resolve.Result, error) {
	if !strategy.IsValid() {
		return nil, fmt.Errorf("invalid auto-resolve strategy: %q", strategy)
	}

	o.mu.RLock()
	var pending []*conflict.Conflict
	for _, c := range o.conflicts {
		if !c.Resolved {
			pending = append(pending, c.Clone())
		}
	}
	o.mu.RUnlock()
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].DetectedAt.Before(pending[j].DetectedAt)
	})

	results := make([]resolve.Result, 0, len(pending))
	providers := o.registry.All()

	for _, c := range pending {
		key := gateKey(c.Provider, c.FilePath)
		if !o.tryAcquire(key) {
			results = append(results, resolve.Result{
				ConflictID:        c.ID,
				Provider:          c.Provider,
				RequiresUserInput: true,
				Action:            resolve.ActionDeferred,
				Message:           fmt.Sprintf("a transfer for %s is in flight", c.FilePath),
			})
			continue
		}

		batch := o.resolver.AutoResolve(ctx, []*conflict.Conflict{c}, providers, strategy)
		o.release(key)

		res := batch[0]
		if res.Success {
			o.afterResolution(c, res)
		}
		results = append(results, res)
	}

	return results, nil
}

// afterResolution swaps the resolved clone into the queue, persists it, and
// refreshes the sync baseline to the post-resolution local state.
func (o *Orchestrator) afterResolution(c *conflict.Conflict, res resolve.Result) {
	o.mu.Lock()
	o.conflicts[c.ID] = c
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.SaveConflict(c); err != nil {
			o.logger.Warn("failed to persist resolved conflict", "id", c.ID, "error", err)
		}
	}

	switch res.Action {
	case resolve.ActionDeletedRemote, resolve.ActionDeletedLocal:
		o.dropBaseline(c.Provider, c.FilePath)
	default:
		if o.store == nil {
			return
		}
		v, err := o.scanner.Snapshot(c.Local.Path)
		if err != nil || !v.Exists {
			return
		}
		if err := o.store.RecordBaseline(c.Provider, c.FilePath, v, o.clock.Now()); err != nil {
			o.logger.Warn("failed to refresh baseline", "provider", c.Provider, "path", c.FilePath, "error", err)
		}
	}
}
