package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/skysync/skysync/internal/config"
	"github.com/skysync/skysync/internal/conflict"
	"github.com/skysync/skysync/internal/operation"
	"github.com/skysync/skysync/internal/provider"
	"github.com/skysync/skysync/internal/resolve"
	"github.com/skysync/skysync/internal/store"
	"github.com/skysync/skysync/internal/version"
)

// Orchestrator coordinates sync operations across all enabled providers. It
// owns the operation history, the conflict queue, and the per-provider
// status map. Construct one per engine instance; there is no ambient
// singleton.
type Orchestrator struct {
	cfg      *config.Config
	registry *provider.Registry
	store    *store.Store // nil disables persistence
	tracker  *operation.Tracker
	detector *conflict.Detector
	resolver *resolve.Engine
	scanner  *version.Scanner
	logger   *slog.Logger
	clock    Clock

	mu        sync.RWMutex
	statuses  map[string]*SyncStatus
	conflicts map[string]*conflict.Conflict
	inflight  map[string]struct{} // provider|path pairs with a transfer or check in flight
	cancels   map[string]context.CancelFunc
	paused    bool
	resumeCh  chan struct{}

	schedMu   sync.Mutex
	autoSync  bool
	interval  time.Duration
	schedStop chan struct{}

	watchdogStop chan struct{}
	closeOnce    sync.Once
}

// New creates an Orchestrator. st may be nil to run without persistence;
// clock may be nil for the wall clock.
func New(cfg *config.Config, registry *provider.Registry, st *store.Store, logger *slog.Logger, clock Clock) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = RealClock()
	}

	scanner, err := version.NewScanner(logger)
	if err != nil {
		return nil, fmt.Errorf("creating scanner: %w", err)
	}

	detectorCfg := conflict.DetectorConfig{
		SizeDeltaThreshold: cfg.Conflicts.SizeDeltaThreshold,
		TextExtensions:     cfg.Conflicts.TextExtensions,
	}

	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		store:     st,
		tracker:   operation.NewTracker(logger),
		detector:  conflict.NewDetector(detectorCfg, logger),
		resolver:  resolve.NewEngine(logger, cfg.Conflicts.TextExtensions),
		scanner:   scanner,
		logger:    logger,
		clock:     clock,
		statuses:  make(map[string]*SyncStatus),
		conflicts: make(map[string]*conflict.Conflict),
		inflight:  make(map[string]struct{}),
		cancels:   make(map[string]context.CancelFunc),
		interval:  cfg.SyncInterval(),
	}

	for _, name := range registry.Names() {
		o.statuses[name] = &SyncStatus{Provider: name, State: StateIdle}
	}

	if st != nil {
		pending, err := st.ListConflicts("", true)
		if err != nil {
			return nil, fmt.Errorf("loading pending conflicts: %w", err)
		}
		for _, c := range pending {
			o.conflicts[c.ID] = c
		}
	}

	o.watchdogStop = make(chan struct{})
	go o.runWatchdog(o.watchdogStop)

	if cfg.Sync.AutoSync {
		o.SetAutoSyncEnabled(true)
	}

	return o, nil
}

// Tracker exposes the operation tracker, mainly for tests and the CLI.
func (o *Orchestrator) Tracker() *operation.Tracker { return o.tracker }

// Detector exposes the conflict detector.
func (o *Orchestrator) Detector() *conflict.Detector { return o.detector }

// Close stops the scheduler and watchdog. Safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.SetAutoSyncEnabled(false)
		close(o.watchdogStop)
	})
}

// ============================================================================
// Provider connection management
// ============================================================================

// ConnectProvider authenticates the named provider.
func (o *Orchestrator) ConnectProvider(ctx context.Context, providerID string, creds provider.Credentials) error {
	p, ok := o.registry.Get(providerID)
	if !ok {
		return fmt.Errorf("unknown provider: %s", providerID)
	}
	if err := p.Connect(ctx, creds); err != nil {
		o.setProviderState(providerID, StateError, err.Error())
		return fmt.Errorf("connecting provider %s: %w", providerID, err)
	}

	o.setProviderState(providerID, StateIdle, "")
	o.logger.Info("provider connected", "provider", providerID)
	return nil
}

// DisconnectProvider drops the named provider's session.
func (o *Orchestrator) DisconnectProvider(providerID string) error {
	p, ok := o.registry.Get(providerID)
	if !ok {
		return fmt.Errorf("unknown provider: %s", providerID)
	}
	p.Disconnect()
	o.setProviderState(providerID, StateIdle, "")
	o.logger.Info("provider disconnected", "provider", providerID)
	return nil
}

// IsProviderConnected reports whether the named provider holds a session.
func (o *Orchestrator) IsProviderConnected(providerID string) bool {
	p, ok := o.registry.Get(providerID)
	return ok && p.IsAuthenticated()
}

// GetStorageQuota reports the named provider's storage usage.
func (o *Orchestrator) GetStorageQuota(ctx context.Context, providerID string) (provider.Quota, error) {
	p, ok := o.registry.Get(providerID)
	if !ok {
		return provider.Quota{}, fmt.Errorf("unknown provider: %s", providerID)
	}
	if !p.IsAuthenticated() {
		return provider.Quota{}, provider.ErrNotConnected
	}
	return p.Quota(ctx)
}

// ============================================================================
// Single-shot transfers
// ============================================================================

// UploadFile transfers one local file to the provider and blocks until the
// operation reaches a terminal state. The returned snapshot reflects that
// state; provider failures are also returned as an error so direct callers
// can retry.
func (o *Orchestrator) UploadFile(ctx context.Context, providerID, localPath, remotePath string) (*operation.Operation, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	return o.transferFile(ctx, operation.TypeUpload, providerID, localPath, remotePath, info.Size())
}

// DownloadFile transfers one remote file from the provider and blocks until
// the operation reaches a terminal state.
func (o *Orchestrator) DownloadFile(ctx context.Context, providerID, remotePath, localPath string) (*operation.Operation, error) {
	return o.transferFile(ctx, operation.TypeDownload, providerID, localPath, remotePath, 0)
}

func (o *Orchestrator) transferFile(ctx context.Context, typ operation.Type, providerID, localPath, remotePath string, totalBytes int64) (*operation.Operation, error) {
	if _, ok := o.registry.Get(providerID); !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerID)
	}

	key := gateKey(providerID, remotePath)
	if !o.tryAcquire(key) {
		return nil, fmt.Errorf("a transfer for %s on %s is already in flight", remotePath, providerID)
	}
	defer o.release(key)

	op := o.tracker.Create(typ, providerID, localPath, remotePath, totalBytes)
	runErr := o.runTransfer(ctx, op.ID)

	final, err := o.tracker.Get(op.ID)
	if err != nil {
		return nil, err
	}
	return final, runErr
}

// runTransfer drives one operation from queued to a terminal state. The
// caller must hold the (provider, path) gate. A cancel observed before the
// provider call is issued means the provider is never touched.
func (o *Orchestrator) runTransfer(ctx context.Context, opID string) error {
	if err := o.waitResume(ctx); err != nil {
		o.failOrDiscard(opID, err)
		return err
	}

	op, err := o.tracker.Get(opID)
	if err != nil {
		return err
	}
	if op.Status == operation.StatusCancelled {
		return nil // cancelled while queued: no provider call
	}
	if op.Status != operation.StatusQueued {
		return fmt.Errorf("operation %s is %s, expected queued", opID, op.Status)
	}

	if err := o.tracker.Transition(opID, operation.StatusRunning); err != nil {
		// A cancel can race the start; discard quietly.
		return nil
	}

	p, ok := o.registry.Get(op.Provider)
	if !ok {
		o.failOp(opID, fmt.Sprintf("unknown provider: %s", op.Provider))
		return fmt.Errorf("unknown provider: %s", op.Provider)
	}
	if !p.IsAuthenticated() {
		o.failOp(opID, provider.ErrNotConnected.Error())
		return provider.ErrNotConnected
	}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.setCancel(opID, cancel)
	defer o.clearCancel(opID)

	totalBytes := op.TotalBytes
	onProgress := func(fraction float64) {
		o.tracker.UpdateProgress(opID, fraction, int64(fraction*float64(totalBytes)))
	}

	var callErr error
	switch op.Type {
	case operation.TypeUpload:
		callErr = p.Upload(tctx, op.LocalPath, op.RemotePath, onProgress)
	case operation.TypeDownload:
		callErr = p.Download(tctx, op.RemotePath, op.LocalPath, onProgress)
	default:
		callErr = fmt.Errorf("unknown operation type: %s", op.Type)
	}

	latest, err := o.tracker.Get(opID)
	if err != nil {
		return err
	}
	switch latest.Status {
	case operation.StatusCancelled:
		// Cooperatively cancelled mid-flight: the result is discarded and no
		// further side effects are recorded.
		o.persistOp(opID)
		return nil
	case operation.StatusPaused:
		// The pause landed while the provider call was already in flight;
		// the call ran to completion, so fold back to running and finish.
		if err := o.tracker.Transition(opID, operation.StatusRunning); err != nil {
			return err
		}
	case operation.StatusFailed:
		// The watchdog timed the operation out while the call was stuck.
		o.persistOp(opID)
		return fmt.Errorf("operation %s: %s", opID, latest.ErrorMessage)
	}

	if callErr != nil {
		o.failOp(opID, callErr.Error())
		return callErr
	}

	// A single-shot download has no size until the file lands on disk.
	if op.Type == operation.TypeDownload && totalBytes == 0 {
		if info, err := os.Stat(op.LocalPath); err == nil {
			o.tracker.UpdateProgress(opID, 1, info.Size())
		}
	}

	if err := o.tracker.Transition(opID, operation.StatusCompleted); err != nil {
		return err
	}
	o.recordBaseline(op)
	o.persistOp(opID)
	return nil
}

// recordBaseline snapshots the local side after a successful transfer so
// the next sweep can tell fresh edits from already-synced state.
func (o *Orchestrator) recordBaseline(op *operation.Operation) {
	if o.store == nil {
		return
	}
	v, err := o.scanner.Snapshot(op.LocalPath)
	if err != nil || !v.Exists {
		return
	}
	if err := o.store.RecordBaseline(op.Provider, op.RemotePath, v, o.clock.Now()); err != nil {
		o.logger.Warn("failed to record baseline", "provider", op.Provider, "path", op.RemotePath, "error", err)
	}
}

func (o *Orchestrator) failOp(opID, msg string) {
	if err := o.tracker.Fail(opID, msg); err != nil {
		o.logger.Debug("could not fail operation", "id", opID, "error", err)
	}
	o.persistOp(opID)
}

// failOrDiscard handles a context error observed before the provider call.
func (o *Orchestrator) failOrDiscard(opID string, cause error) {
	op, err := o.tracker.Get(opID)
	if err != nil || op.Status.IsTerminal() {
		return
	}
	if op.Status == operation.StatusQueued {
		_ = o.tracker.Transition(opID, operation.StatusCancelled)
	} else {
		_ = o.tracker.Fail(opID, cause.Error())
	}
	o.persistOp(opID)
}

func (o *Orchestrator) persistOp(opID string) {
	if o.store == nil {
		return
	}
	op, err := o.tracker.Get(opID)
	if err != nil {
		return
	}
	if err := o.store.SaveOperation(op); err != nil {
		o.logger.Warn("failed to persist operation", "id", opID, "error", err)
	}
}

// ============================================================================
// Cancellation, pause and resume
// ============================================================================

// CancelOperation cooperatively cancels one operation. A queued operation
// never reaches the provider; a running one has its in-flight call
// signalled to abort, and its result is discarded either way. Cancelling
// one operation never affects others.
func (o *Orchestrator) CancelOperation(id string) error {
	op, err := o.tracker.Get(id)
	if err != nil {
		return err
	}
	if op.Status.IsTerminal() {
		return fmt.Errorf("operation %s is already %s", id, op.Status)
	}

	if err := o.tracker.Transition(id, operation.StatusCancelled); err != nil {
		return err
	}
	if cancel := o.getCancel(id); cancel != nil {
		cancel()
	}
	o.persistOp(id)

	o.logger.Info("operation cancelled", "id", id)
	return nil
}

// PauseSync pauses syncing globally: every running operation moves to
// paused and every provider's status shows paused. In-flight provider calls
// are not interrupted; the pause takes effect at the next checkpoint.
func (o *Orchestrator) PauseSync() {
	o.mu.Lock()
	if o.paused {
		o.mu.Unlock()
		return
	}
	o.paused = true
	o.resumeCh = make(chan struct{})
	for _, st := range o.statuses {
		st.State = StatePaused
	}
	o.mu.Unlock()

	for _, op := range o.tracker.Running() {
		if err := o.tracker.Transition(op.ID, operation.StatusPaused); err != nil {
			o.logger.Debug("could not pause operation", "id", op.ID, "error", err)
		}
	}
	o.logger.Info("sync paused")
}

// ResumeSync resumes after PauseSync: operations that were paused return to
// running; terminal operations are untouched.
func (o *Orchestrator) ResumeSync() {
	o.mu.Lock()
	if !o.paused {
		o.mu.Unlock()
		return
	}
	o.paused = false
	ch := o.resumeCh
	o.resumeCh = nil
	for _, st := range o.statuses {
		if st.State == StatePaused {
			st.State = StateIdle
		}
	}
	o.mu.Unlock()
	if ch != nil {
		close(ch)
	}

	for _, op := range o.tracker.Paused() {
		if err := o.tracker.Transition(op.ID, operation.StatusRunning); err != nil {
			o.logger.Debug("could not resume operation", "id", op.ID, "error", err)
		} else {
			o.setProviderState(op.Provider, StateSyncing, "")
		}
	}
	o.logger.Info("sync resumed")
}

// IsSyncPaused reports whether the engine is globally paused.
func (o *Orchestrator) IsSyncPaused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.paused
}

// waitResume blocks while the engine is paused, honoring ctx.
func (o *Orchestrator) waitResume(ctx context.Context) error {
	for {
		o.mu.RLock()
		paused := o.paused
		ch := o.resumeCh
		o.mu.RUnlock()
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// ============================================================================
// Status and history
// ============================================================================

// GetSyncStatus returns a snapshot of every provider's status.
func (o *Orchestrator) GetSyncStatus() map[string]SyncStatus {
	pendingByProvider := make(map[string]int)
	o.mu.RLock()
	for _, c := range o.conflicts {
		if !c.Resolved {
			pendingByProvider[c.Provider]++
		}
	}
	out := make(map[string]SyncStatus, len(o.statuses))
	for name, st := range o.statuses {
		snapshot := *st
		snapshot.PendingConflicts = pendingByProvider[name]
		out[name] = snapshot
	}
	o.mu.RUnlock()

	for name := range out {
		st := out[name]
		st.Connected = o.IsProviderConnected(name)
		out[name] = st
	}
	return out
}

// GetSyncHistory returns terminalized and in-flight operations matching the
// filter, newest first. The store only holds operations that reached a
// terminal state, so the tracker's live entries are overlaid on top.
func (o *Orchestrator) GetSyncHistory(f operation.HistoryFilter) ([]*operation.Operation, error) {
	if o.store == nil {
		return o.tracker.History(f), nil
	}

	ops, err := o.store.ListOperations(operation.HistoryFilter{Provider: f.Provider, Since: f.Since})
	if err != nil {
		return nil, err
	}
	for _, op := range o.tracker.History(operation.HistoryFilter{Provider: f.Provider, Since: f.Since}) {
		if !op.Status.IsTerminal() {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].CreatedAt.After(ops[j].CreatedAt)
	})
	if f.Limit > 0 && len(ops) > f.Limit {
		ops = ops[:f.Limit]
	}
	return ops, nil
}

// CleanupCache purges the checksum cache and prunes terminal operations
// past the retention policy. Returns the number of evicted cache entries.
func (o *Orchestrator) CleanupCache() int {
	evicted := o.scanner.Purge()
	pruned := o.tracker.Prune(o.cfg.HistoryRetention(), o.cfg.Sync.HistoryKeep)
	o.logger.Info("cache cleaned", "checksums_evicted", evicted, "operations_pruned", pruned)
	return evicted
}

func (o *Orchestrator) setProviderState(providerID string, state SyncState, lastError string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.statuses[providerID]
	if !ok {
		st = &SyncStatus{Provider: providerID}
		o.statuses[providerID] = st
	}
	// A global pause outranks per-provider updates.
	if o.paused && state != StatePaused {
		return
	}
	st.State = state
	if lastError != "" {
		st.LastError = lastError
	}
	if state == StateCompleted {
		st.LastSync = o.clock.Now()
		st.LastError = ""
	}
}

// ============================================================================
// In-flight gating and cancel bookkeeping
// ============================================================================

func gateKey(providerID, remotePath string) string {
	return providerID + "|" + remotePath
}

// tryAcquire claims the (provider, path) gate. At most one transfer or
// conflict check may hold it at a time.
func (o *Orchestrator) tryAcquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
}

func (o *Orchestrator) setCancel(opID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[opID] = cancel
}

func (o *Orchestrator) clearCancel(opID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, opID)
}

func (o *Orchestrator) getCancel(opID string) context.CancelFunc {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cancels[opID]
}
