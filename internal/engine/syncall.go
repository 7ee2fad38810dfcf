package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skysync/skysync/internal/conflict"
	"github.com/skysync/skysync/internal/operation"
	"github.com/skysync/skysync/internal/provider"
	"github.com/skysync/skysync/internal/version"
)

// SyncAll sweeps one provider (or every enabled provider when providerID is
// empty) in the given direction. Pending local and remote changes become
// transfers; detected divergence is queued as a conflict instead of being
// overwritten. One provider's failure never aborts the others.
func (o *Orchestrator) SyncAll(ctx context.Context, providerID string, direction Direction) (map[string]*SyncReport, error) {
	if !direction.IsValid() {
		return nil, fmt.Errorf("invalid sync direction: %q", direction)
	}

	var targets []string
	if providerID != "" {
		if _, ok := o.registry.Get(providerID); !ok {
			return nil, fmt.Errorf("unknown provider: %s", providerID)
		}
		targets = []string{providerID}
	} else {
		for _, name := range o.registry.Names() {
			if len(o.cfg.Providers) == 0 || o.cfg.ProviderEnabled(name) {
				targets = append(targets, name)
			}
		}
	}

	reports := make(map[string]*SyncReport)
	var hasErrors bool

	for _, name := range targets {
		report, err := o.syncProvider(ctx, name, direction)
		if err != nil {
			o.logger.Error("failed to sync provider", "provider", name, "error", err)
			o.setProviderState(name, StateError, err.Error())
			hasErrors = true
			continue
		}
		reports[name] = report

		select {
		case <-ctx.Done():
			o.logger.Info("sync all cancelled")
			return reports, ctx.Err()
		default:
		}
	}

	if hasErrors {
		return reports, fmt.Errorf("one or more providers failed")
	}
	return reports, nil
}

// pathState pairs the two sides of one logical path for planning.
type pathState struct {
	path   string
	local  version.FileVersion
	remote version.FileVersion
}

func (o *Orchestrator) syncProvider(ctx context.Context, providerID string, direction Direction) (*SyncReport, error) {
	p, ok := o.registry.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerID)
	}
	if !p.IsAuthenticated() {
		return nil, fmt.Errorf("provider %s: %w", providerID, provider.ErrNotConnected)
	}

	o.logger.Info("starting sync", "provider", providerID, "direction", direction)
	o.setProviderState(providerID, StatePreparing, "")

	report := &SyncReport{Provider: providerID, StartTime: o.clock.Now()}

	states, err := o.enumerate(ctx, p)
	if err != nil {
		return nil, err
	}

	o.setProviderState(providerID, StateSyncing, "")

	var jobs []transferJob
	var gates []string
	deleted := 0

	for _, st := range states {
		key := gateKey(providerID, st.path)
		if !o.tryAcquire(key) {
			report.Skipped++ // another transfer owns this path right now
			continue
		}

		plan, c := o.planPath(providerID, st, direction)
		if c != nil {
			// A still-pending conflict for this path is not queued twice.
			if !o.alreadyPending(providerID, st.path) {
				o.queueConflict(c)
			}
			report.Conflicts++
			o.release(key)
			continue
		}

		switch plan.kind {
		case planSkip:
			report.Skipped++
			o.release(key)
		case planDeleteRemote:
			if err := p.Delete(ctx, st.path); err != nil {
				o.logger.Warn("failed to propagate deletion", "provider", providerID, "path", st.path, "error", err)
				report.Failed++
			} else {
				deleted++
				o.dropBaseline(providerID, st.path)
			}
			o.release(key)
		case planDeleteLocal:
			if err := removeLocal(st.local.Path); err != nil {
				o.logger.Warn("failed to remove local file", "provider", providerID, "path", st.path, "error", err)
				report.Failed++
			} else {
				deleted++
				o.dropBaseline(providerID, st.path)
			}
			o.release(key)
		case planUpload, planDownload:
			typ := operation.TypeUpload
			total := st.local.Size
			if plan.kind == planDownload {
				typ = operation.TypeDownload
				total = st.remote.Size
			}
			op := o.tracker.Create(typ, providerID, o.localPathFor(st.path), st.path, total)
			opID := op.ID
			jobs = append(jobs, transferJob{
				opID: opID,
				run: func(jobCtx context.Context) error {
					return o.runTransfer(jobCtx, opID)
				},
			})
			gates = append(gates, key)
		}
	}

	pool := newTransferPool(o.cfg.Sync.MaxTransfers, o.logger)
	results := pool.execute(ctx, jobs)

	for _, g := range gates {
		o.release(g)
	}

	for _, r := range results {
		if r.err != nil {
			// Jobs the pool skipped on a cancelled sweep never entered
			// runTransfer; settle them so no operation stays queued.
			o.failOrDiscard(r.opID, r.err)
		}
		op, err := o.tracker.Get(r.opID)
		if err != nil {
			continue
		}
		switch {
		case op.Status == operation.StatusCompleted && op.Type == operation.TypeUpload:
			report.Uploaded++
			report.BytesTransferred += op.BytesTransferred
		case op.Status == operation.StatusCompleted:
			report.Downloaded++
			report.BytesTransferred += op.BytesTransferred
		case op.Status == operation.StatusCancelled:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	report.Deleted = deleted
	report.EndTime = o.clock.Now()

	if report.Failed > 0 {
		o.setProviderState(providerID, StateError, fmt.Sprintf("%d transfers failed", report.Failed))
	} else {
		o.setProviderState(providerID, StateCompleted, "")
	}

	o.logger.Info("sync completed",
		"provider", providerID,
		"uploaded", report.Uploaded,
		"downloaded", report.Downloaded,
		"deleted", report.Deleted,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"conflicts", report.Conflicts,
		"bytes_transferred", report.BytesTransferred,
		"duration", report.EndTime.Sub(report.StartTime),
	)

	return report, nil
}

// enumerate builds the union of local and remote path states for a sweep.
func (o *Orchestrator) enumerate(ctx context.Context, p provider.Provider) ([]pathState, error) {
	local, err := o.scanner.Walk(o.cfg.Sync.DataDir)
	if err != nil {
		return nil, fmt.Errorf("scanning local files: %w", err)
	}

	remoteFiles, err := p.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing remote files: %w", err)
	}
	remote := make(map[string]version.FileVersion, len(remoteFiles))
	for _, rf := range remoteFiles {
		remote[rf.Path] = version.FileVersion{
			Path:       rf.Path,
			Size:       rf.Size,
			ModifiedAt: time.Unix(rf.ModifiedAt, 0),
			Checksum:   rf.Checksum,
			Exists:     true,
		}
	}

	seen := make(map[string]bool, len(local)+len(remote))
	var states []pathState
	for path, lv := range local {
		seen[path] = true
		rv, ok := remote[path]
		if !ok {
			rv = version.Missing(path)
		}
		lv.Path = o.localPathFor(path)
		states = append(states, pathState{path: path, local: lv, remote: rv})
	}
	for path, rv := range remote {
		if seen[path] {
			continue
		}
		states = append(states, pathState{path: path, local: version.Missing(o.localPathFor(path)), remote: rv})
	}
	return states, nil
}

type planKind int

const (
	planSkip planKind = iota
	planUpload
	planDownload
	planDeleteRemote
	planDeleteLocal
)

type pathPlan struct {
	kind planKind
}

// planPath decides what a sweep does for one path: nothing, a transfer, a
// deletion propagation, or a conflict. Divergence is never overwritten.
func (o *Orchestrator) planPath(providerID string, st pathState, direction Direction) (pathPlan, *conflict.Conflict) {
	baseline := o.baselineFor(providerID, st.path)

	if c := o.detector.Detect(providerID, st.path, st.local, st.remote, baseline); c != nil {
		return pathPlan{planSkip}, c
	}

	if st.local.Equal(st.remote) {
		return pathPlan{planSkip}, nil
	}

	localChanged := baseline == nil || !o.matchesBaseline(st.local, baseline)
	switch {
	case st.local.Exists && !st.remote.Exists:
		if baseline != nil && !localChanged {
			// Remote deletion of an unchanged local file propagates locally.
			if direction == DirectionDownload || direction == DirectionBidirectional {
				return pathPlan{planDeleteLocal}, nil
			}
			return pathPlan{planSkip}, nil
		}
		if direction == DirectionUpload || direction == DirectionBidirectional {
			return pathPlan{planUpload}, nil
		}
	case !st.local.Exists && st.remote.Exists:
		if baseline != nil && o.remoteMatchesBaseline(st.remote, baseline) {
			// Local deletion of an unchanged remote file propagates remotely.
			if direction == DirectionUpload || direction == DirectionBidirectional {
				return pathPlan{planDeleteRemote}, nil
			}
			return pathPlan{planSkip}, nil
		}
		if direction == DirectionDownload || direction == DirectionBidirectional {
			return pathPlan{planDownload}, nil
		}
	case st.local.Exists && st.remote.Exists:
		// The detector ruled out a two-sided divergence, so at most one side
		// changed since the baseline.
		remoteChanged := baseline == nil || !o.remoteMatchesBaseline(st.remote, baseline)
		switch {
		case localChanged:
			if direction == DirectionUpload || direction == DirectionBidirectional {
				return pathPlan{planUpload}, nil
			}
		case remoteChanged:
			if direction == DirectionDownload || direction == DirectionBidirectional {
				return pathPlan{planDownload}, nil
			}
		}
	}
	return pathPlan{planSkip}, nil
}

func (o *Orchestrator) matchesBaseline(v version.FileVersion, b *conflict.Baseline) bool {
	if !v.Exists {
		return false
	}
	return v.Checksum == b.Checksum
}

func (o *Orchestrator) remoteMatchesBaseline(v version.FileVersion, b *conflict.Baseline) bool {
	if !v.Exists {
		return false
	}
	if v.Checksum != "" && b.Checksum != "" {
		return v.Checksum == b.Checksum
	}
	return v.Size == b.Size && !v.ModifiedAt.After(b.SyncedAt)
}

func (o *Orchestrator) baselineFor(providerID, path string) *conflict.Baseline {
	if o.store == nil {
		return nil
	}
	b, err := o.store.GetBaseline(providerID, path)
	if err != nil {
		o.logger.Warn("failed to load baseline", "provider", providerID, "path", path, "error", err)
		return nil
	}
	return b
}

func (o *Orchestrator) dropBaseline(providerID, path string) {
	if o.store == nil {
		return
	}
	if err := o.store.DeleteBaseline(providerID, path); err != nil {
		o.logger.Warn("failed to drop baseline", "provider", providerID, "path", path, "error", err)
	}
}

func (o *Orchestrator) localPathFor(remotePath string) string {
	return filepath.Join(o.cfg.Sync.DataDir, filepath.FromSlash(remotePath))
}

func removeLocal(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
