package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skysync/skysync/internal/config"
	"github.com/skysync/skysync/internal/operation"
	"github.com/skysync/skysync/internal/provider"
	"github.com/skysync/skysync/internal/store"
)

// fakeProvider implements provider.Provider in memory with call counters and
// an optional block channel so tests can hold a transfer in flight.
type fakeProvider struct {
	id string

	mu            sync.Mutex
	authenticated bool
	objects       map[string]string

	uploads   int
	downloads int
	deletes   int
	lists     int

	uploadErr error
	blockCh   chan struct{} // when set, Upload waits for it to close
}

func newFakeProvider(id string) *fakeProvider {
	return &fakeProvider{id: id, authenticated: true, objects: make(map[string]string)}
}

func (f *fakeProvider) Info() provider.Info {
	return provider.Info{ID: f.id, DisplayName: f.id}
}

func (f *fakeProvider) Connect(ctx context.Context, creds provider.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = true
	return nil
}

func (f *fakeProvider) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = false
}

func (f *fakeProvider) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *fakeProvider) Upload(ctx context.Context, localPath, remotePath string, onProgress provider.ProgressFunc) error {
	f.mu.Lock()
	f.uploads++
	block := f.blockCh
	uploadErr := f.uploadErr
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if uploadErr != nil {
		return uploadErr
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(1.0)
	}

	f.mu.Lock()
	f.objects[remotePath] = string(data)
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) Download(ctx context.Context, remotePath, localPath string, onProgress provider.ProgressFunc) error {
	f.mu.Lock()
	f.downloads++
	content, ok := f.objects[remotePath]
	f.mu.Unlock()

	if !ok {
		return errors.New("object not found: " + remotePath)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(1.0)
	}
	return os.WriteFile(localPath, []byte(content), 0o644)
}

func (f *fakeProvider) Delete(ctx context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.objects, remotePath)
	return nil
}

func (f *fakeProvider) List(ctx context.Context, prefix string) ([]provider.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	var files []provider.RemoteFile
	for path, content := range f.objects {
		files = append(files, provider.RemoteFile{Path: path, Size: int64(len(content))})
	}
	return files, nil
}

func (f *fakeProvider) Quota(ctx context.Context) (provider.Quota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var used int64
	for _, content := range f.objects {
		used += int64(len(content))
	}
	return provider.Quota{TotalBytes: 1 << 30, UsedBytes: used, AvailableBytes: 1<<30 - used}, nil
}

func (f *fakeProvider) transferCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads + f.downloads + f.deletes
}

func (f *fakeProvider) object(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.objects[path]
	return content, ok
}

func (f *fakeProvider) setObject(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = content
}

func newTestOrchestrator(t *testing.T, p *fakeProvider) *Orchestrator {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("failed to close store: %v", err)
		}
	})

	cfg := config.DefaultConfig()
	cfg.Sync.DataDir = t.TempDir()
	cfg.Sync.MaxTransfers = 2

	registry := provider.NewRegistry()
	if p != nil {
		registry.Register(p)
	}

	o, err := New(cfg, registry, st, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(o.Close)
	return o
}

func writeLocal(t *testing.T, o *Orchestrator, rel, content string) string {
	t.Helper()
	path := filepath.Join(o.cfg.Sync.DataDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadFile(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "hello\n")

	op, err := o.UploadFile(context.Background(), "fake", local, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if op.Status != operation.StatusCompleted {
		t.Fatalf("status = %s, want %s", op.Status, operation.StatusCompleted)
	}
	if op.Progress != 1.0 {
		t.Fatalf("progress = %f, want 1.0", op.Progress)
	}

	content, ok := p.object("a.txt")
	if !ok || content != "hello\n" {
		t.Fatalf("remote content = %q, want %q", content, "hello\n")
	}

	// A successful transfer records a baseline for the next sweep.
	b, err := o.store.GetBaseline("fake", "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if b == nil {
		t.Fatal("no baseline recorded after upload")
	}
	if b.Checksum == "" {
		t.Fatal("baseline has no checksum")
	}

	// And the operation is persisted.
	hist, err := o.GetSyncHistory(operation.HistoryFilter{Provider: "fake"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].ID != op.ID {
		t.Fatalf("history = %v, want the single upload", hist)
	}
}

func TestDownloadFile(t *testing.T) {
	p := newFakeProvider("fake")
	p.setObject("docs/b.txt", "remote body\n")
	o := newTestOrchestrator(t, p)

	local := filepath.Join(o.cfg.Sync.DataDir, "docs", "b.txt")
	op, err := o.DownloadFile(context.Background(), "fake", "docs/b.txt", local)
	if err != nil {
		t.Fatal(err)
	}
	if op.Status != operation.StatusCompleted {
		t.Fatalf("status = %s, want %s", op.Status, operation.StatusCompleted)
	}

	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "remote body\n" {
		t.Fatalf("local content = %q", data)
	}

	// The remote size is unknown up front, so the byte count comes from the
	// file that landed on disk.
	if want := int64(len("remote body\n")); op.BytesTransferred != want {
		t.Fatalf("bytes transferred = %d, want %d", op.BytesTransferred, want)
	}
}

func TestUploadUnknownProvider(t *testing.T) {
	o := newTestOrchestrator(t, newFakeProvider("fake"))
	local := writeLocal(t, o, "a.txt", "x")

	if _, err := o.UploadFile(context.Background(), "nope", local, "a.txt"); err == nil {
		t.Fatal("unknown provider should error")
	}
}

func TestUploadDisconnectedProviderFailsOperation(t *testing.T) {
	p := newFakeProvider("fake")
	p.Disconnect()
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "x")

	op, err := o.UploadFile(context.Background(), "fake", local, "a.txt")
	if err == nil {
		t.Fatal("disconnected provider should error")
	}
	if op == nil || op.Status != operation.StatusFailed {
		t.Fatalf("operation = %+v, want failed snapshot", op)
	}
	if p.transferCalls() != 0 {
		t.Fatalf("disconnected provider received %d transfer calls, want 0", p.transferCalls())
	}
}

func TestTransferGateRejectsDuplicate(t *testing.T) {
	p := newFakeProvider("fake")
	p.blockCh = make(chan struct{})
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "x")

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.UploadFile(context.Background(), "fake", local, "a.txt")
	}()

	// Wait until the first transfer holds the gate.
	waitFor(t, func() bool { return !o.tryAcquireProbe("fake|a.txt") })

	if _, err := o.UploadFile(context.Background(), "fake", local, "a.txt"); err == nil {
		t.Fatal("second transfer for the same (provider, path) should be rejected")
	}

	close(p.blockCh)
	<-done
}

// tryAcquireProbe checks gate occupancy without claiming it.
func (o *Orchestrator) tryAcquireProbe(key string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, busy := o.inflight[key]
	return !busy
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCancelQueuedOperationNeverTouchesProvider(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "x")

	// Pause so the operation stays queued inside runTransfer.
	o.PauseSync()

	done := make(chan error, 1)
	go func() {
		_, err := o.UploadFile(context.Background(), "fake", local, "a.txt")
		done <- err
	}()

	var opID string
	waitFor(t, func() bool {
		ops := o.tracker.History(operation.HistoryFilter{})
		if len(ops) == 1 {
			opID = ops[0].ID
			return true
		}
		return false
	})

	if err := o.CancelOperation(opID); err != nil {
		t.Fatal(err)
	}
	o.ResumeSync()

	if err := <-done; err != nil {
		t.Fatalf("cancelled-while-queued transfer returned error: %v", err)
	}

	op, err := o.tracker.Get(opID)
	if err != nil {
		t.Fatal(err)
	}
	if op.Status != operation.StatusCancelled {
		t.Fatalf("status = %s, want %s", op.Status, operation.StatusCancelled)
	}
	if p.transferCalls() != 0 {
		t.Fatalf("cancelled queued operation reached the provider: %d calls", p.transferCalls())
	}
}

func TestCancelTerminalOperationErrors(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "x")

	op, err := o.UploadFile(context.Background(), "fake", local, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.CancelOperation(op.ID); err == nil {
		t.Fatal("cancelling a completed operation should error")
	}
}

func TestPauseResume(t *testing.T) {
	p := newFakeProvider("fake")
	p.blockCh = make(chan struct{})
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "x")

	done := make(chan error, 1)
	go func() {
		_, err := o.UploadFile(context.Background(), "fake", local, "a.txt")
		done <- err
	}()

	waitFor(t, func() bool { return len(o.tracker.Running()) == 1 })

	o.PauseSync()
	if !o.IsSyncPaused() {
		t.Fatal("engine should report paused")
	}
	if n := len(o.tracker.Paused()); n != 1 {
		t.Fatalf("%d paused operations, want 1", n)
	}
	for _, st := range o.GetSyncStatus() {
		if st.State != StatePaused {
			t.Fatalf("provider state = %s, want %s", st.State, StatePaused)
		}
	}

	// Pausing twice is a no-op.
	o.PauseSync()

	o.ResumeSync()
	if o.IsSyncPaused() {
		t.Fatal("engine should not report paused after resume")
	}
	waitFor(t, func() bool { return len(o.tracker.Running()) == 1 })

	// Let the in-flight call finish; the operation completes normally.
	close(p.blockCh)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	ops := o.tracker.History(operation.HistoryFilter{})
	if len(ops) != 1 || ops[0].Status != operation.StatusCompleted {
		t.Fatalf("operation after pause/resume = %+v", ops)
	}
}

func TestPauseFoldsBackInFlightCall(t *testing.T) {
	p := newFakeProvider("fake")
	p.blockCh = make(chan struct{})
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "x")

	done := make(chan error, 1)
	go func() {
		_, err := o.UploadFile(context.Background(), "fake", local, "a.txt")
		done <- err
	}()
	waitFor(t, func() bool { return len(o.tracker.Running()) == 1 })

	// Pause lands while the provider call is in flight. The call is not
	// interrupted; when it completes, the operation still finishes.
	o.PauseSync()
	close(p.blockCh)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	ops := o.tracker.History(operation.HistoryFilter{})
	if len(ops) != 1 || ops[0].Status != operation.StatusCompleted {
		t.Fatalf("operation after mid-flight pause = %+v", ops)
	}
	o.ResumeSync()
}

func TestSyncAllTransfersBothWays(t *testing.T) {
	p := newFakeProvider("fake")
	p.setObject("remote-only.txt", "from the cloud\n")
	o := newTestOrchestrator(t, p)
	writeLocal(t, o, "local-only.txt", "from disk\n")

	reports, err := o.SyncAll(context.Background(), "fake", DirectionBidirectional)
	if err != nil {
		t.Fatal(err)
	}
	report := reports["fake"]
	if report == nil {
		t.Fatal("no report for provider")
	}
	if report.Uploaded != 1 || report.Downloaded != 1 {
		t.Fatalf("uploaded %d downloaded %d, want 1 and 1", report.Uploaded, report.Downloaded)
	}
	if report.Failed != 0 || report.Conflicts != 0 {
		t.Fatalf("unexpected failures or conflicts: %+v", report)
	}

	if _, ok := p.object("local-only.txt"); !ok {
		t.Fatal("local file not uploaded")
	}
	data, err := os.ReadFile(filepath.Join(o.cfg.Sync.DataDir, "remote-only.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "from the cloud\n" {
		t.Fatalf("downloaded content = %q", data)
	}

	// A second sweep with nothing changed skips everything.
	reports, err = o.SyncAll(context.Background(), "fake", DirectionBidirectional)
	if err != nil {
		t.Fatal(err)
	}
	report = reports["fake"]
	if report.Uploaded != 0 || report.Downloaded != 0 {
		t.Fatalf("idempotent sweep transferred again: %+v", report)
	}
}

func TestSyncAllRespectsDirection(t *testing.T) {
	p := newFakeProvider("fake")
	p.setObject("remote-only.txt", "cloud\n")
	o := newTestOrchestrator(t, p)
	writeLocal(t, o, "local-only.txt", "disk\n")

	reports, err := o.SyncAll(context.Background(), "fake", DirectionUpload)
	if err != nil {
		t.Fatal(err)
	}
	report := reports["fake"]
	if report.Uploaded != 1 || report.Downloaded != 0 {
		t.Fatalf("upload-only sweep: %+v", report)
	}
	if _, err := os.Stat(filepath.Join(o.cfg.Sync.DataDir, "remote-only.txt")); !os.IsNotExist(err) {
		t.Fatal("upload-only sweep downloaded a file")
	}
}

func TestSyncAllInvalidDirection(t *testing.T) {
	o := newTestOrchestrator(t, newFakeProvider("fake"))
	if _, err := o.SyncAll(context.Background(), "fake", Direction("sideways")); err == nil {
		t.Fatal("invalid direction should error")
	}
}

func TestSyncAllQueuesConflict(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)

	// Both sides changed since the recorded baseline.
	local := writeLocal(t, o, "notes.txt", "local edit\n")
	p.setObject("notes.txt", "a different remote edit\n")

	v, err := o.scanner.Snapshot(local)
	if err != nil {
		t.Fatal(err)
	}
	v.Checksum = "stale-checksum"
	v.Size = 3 // neither side matches the baseline size
	if err := o.store.RecordBaseline("fake", "notes.txt", v, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	reports, err := o.SyncAll(context.Background(), "fake", DirectionBidirectional)
	if err != nil {
		t.Fatal(err)
	}
	if reports["fake"].Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", reports["fake"].Conflicts)
	}

	// Neither side was overwritten.
	content, _ := p.object("notes.txt")
	if content != "a different remote edit\n" {
		t.Fatal("conflicting remote file was overwritten")
	}
	data, _ := os.ReadFile(local)
	if string(data) != "local edit\n" {
		t.Fatal("conflicting local file was overwritten")
	}

	pending := o.GetPendingConflicts("fake")
	if len(pending) != 1 {
		t.Fatalf("%d pending conflicts, want 1", len(pending))
	}
	if pending[0].FilePath != "notes.txt" {
		t.Fatalf("conflict path = %s", pending[0].FilePath)
	}

	// A second sweep does not duplicate the queued conflict.
	if _, err := o.SyncAll(context.Background(), "fake", DirectionBidirectional); err != nil {
		t.Fatal(err)
	}
	if n := len(o.GetPendingConflicts("fake")); n != 1 {
		t.Fatalf("conflict queue after repeat sweep = %d, want 1", n)
	}
}

func TestSyncAllPropagatesCleanDeletion(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)

	// Sync once so a baseline exists, then delete locally.
	local := writeLocal(t, o, "old.txt", "shared content\n")
	if _, err := o.UploadFile(context.Background(), "fake", local, "old.txt"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(local); err != nil {
		t.Fatal(err)
	}

	reports, err := o.SyncAll(context.Background(), "fake", DirectionBidirectional)
	if err != nil {
		t.Fatal(err)
	}
	if reports["fake"].Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", reports["fake"].Deleted)
	}
	if _, ok := p.object("old.txt"); ok {
		t.Fatal("remote copy still present after deletion propagation")
	}
	if b, _ := o.store.GetBaseline("fake", "old.txt"); b != nil {
		t.Fatal("baseline still present after deletion")
	}
	if reports["fake"].Conflicts != 0 {
		t.Fatal("clean deletion should not conflict")
	}
}

func TestResolveConflictThroughEngine(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)

	local := writeLocal(t, o, "notes.txt", "local edit\n")
	p.setObject("notes.txt", "remote edit\n")

	v, err := o.scanner.Snapshot(local)
	if err != nil {
		t.Fatal(err)
	}
	v.Checksum = "stale"
	v.Size = 1
	if err := o.store.RecordBaseline("fake", "notes.txt", v, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := o.SyncAll(context.Background(), "fake", DirectionBidirectional); err != nil {
		t.Fatal(err)
	}

	pending := o.GetPendingConflicts("fake")
	if len(pending) != 1 {
		t.Fatalf("%d pending conflicts, want 1", len(pending))
	}

	res, err := o.ResolveConflict(context.Background(), pending[0].ID, "keep_local", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("resolution failed: %+v", res)
	}

	content, _ := p.object("notes.txt")
	if content != "local edit\n" {
		t.Fatalf("remote content after keep_local = %q", content)
	}
	if n := len(o.GetPendingConflicts("fake")); n != 0 {
		t.Fatalf("%d conflicts still pending after resolution", n)
	}

	// The resolved conflict survives in the audit trail.
	stored, err := o.store.GetConflict(pending[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Resolved {
		t.Fatal("resolved conflict not persisted")
	}

	// The next sweep sees both sides agreeing again.
	reports, err := o.SyncAll(context.Background(), "fake", DirectionBidirectional)
	if err != nil {
		t.Fatal(err)
	}
	if reports["fake"].Conflicts != 0 || reports["fake"].Uploaded != 0 {
		t.Fatalf("post-resolution sweep not clean: %+v", reports["fake"])
	}
}

func TestResolveConflictConcurrentWithQueueReads(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)

	local := writeLocal(t, o, "notes.txt", "local edit\n")
	p.setObject("notes.txt", "remote edit\n")

	v, err := o.scanner.Snapshot(local)
	if err != nil {
		t.Fatal(err)
	}
	v.Checksum = "stale"
	v.Size = 1
	if err := o.store.RecordBaseline("fake", "notes.txt", v, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := o.SyncAll(context.Background(), "fake", DirectionBidirectional); err != nil {
		t.Fatal(err)
	}

	before := o.GetPendingConflicts("fake")
	if len(before) != 1 {
		t.Fatalf("%d pending conflicts, want 1", len(before))
	}

	// Hammer the queue's read side while the resolution is applied. The
	// race detector flags any unsynchronized write to the shared conflict.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			o.GetPendingConflicts("fake")
			o.GetSyncStatus()
		}
	}()

	res, err := o.ResolveConflict(context.Background(), before[0].ID, "keep_local", "")
	close(stop)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("resolution failed: %+v", res)
	}
	if n := len(o.GetPendingConflicts("fake")); n != 0 {
		t.Fatalf("%d conflicts still pending after resolution", n)
	}

	// Snapshots handed out earlier stay untouched by the resolution.
	if before[0].Resolved {
		t.Fatal("pre-resolution snapshot was mutated")
	}
}

func TestResolveUnknownConflict(t *testing.T) {
	o := newTestOrchestrator(t, newFakeProvider("fake"))
	if _, err := o.ResolveConflict(context.Background(), "nope", "keep_local", ""); err == nil {
		t.Fatal("unknown conflict should error")
	}
}

func TestCancelledSweepLeavesNoQueuedOperations(t *testing.T) {
	p := newFakeProvider("fake")
	p.blockCh = make(chan struct{})
	o := newTestOrchestrator(t, p)
	o.cfg.Sync.MaxTransfers = 1
	writeLocal(t, o, "a.txt", "x")
	writeLocal(t, o, "b.txt", "y")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.SyncAll(ctx, "fake", DirectionUpload)
	}()

	// The single worker holds the first upload; the second job is still
	// waiting when the sweep is cancelled.
	waitFor(t, func() bool { return len(o.tracker.Running()) == 1 })
	cancel()
	<-done
	close(p.blockCh)

	ops := o.tracker.History(operation.HistoryFilter{})
	if len(ops) != 2 {
		t.Fatalf("%d operations, want 2", len(ops))
	}
	for _, op := range ops {
		if !op.Status.IsTerminal() {
			t.Fatalf("operation %s left in %s after cancelled sweep", op.ID, op.Status)
		}
	}
}

func TestGetSyncHistoryIncludesInFlight(t *testing.T) {
	p := newFakeProvider("fake")
	p.blockCh = make(chan struct{})
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "x")

	done := make(chan error, 1)
	go func() {
		_, err := o.UploadFile(context.Background(), "fake", local, "a.txt")
		done <- err
	}()
	waitFor(t, func() bool { return len(o.tracker.Running()) == 1 })

	hist, err := o.GetSyncHistory(operation.HistoryFilter{Provider: "fake"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != operation.StatusRunning {
		t.Fatalf("history during transfer = %+v, want one running entry", hist)
	}

	close(p.blockCh)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	hist, err = o.GetSyncHistory(operation.HistoryFilter{Provider: "fake"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != operation.StatusCompleted {
		t.Fatalf("history after transfer = %+v, want one completed entry", hist)
	}
}

func TestGetSyncStatusSeedsRegisteredProviders(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)

	statuses := o.GetSyncStatus()
	st, ok := statuses["fake"]
	if !ok {
		t.Fatal("registered provider missing from status map")
	}
	if st.State != StateIdle {
		t.Fatalf("initial state = %s, want %s", st.State, StateIdle)
	}
	if !st.Connected {
		t.Fatal("authenticated provider should report connected")
	}
}

func TestAutoSyncToggle(t *testing.T) {
	o := newTestOrchestrator(t, newFakeProvider("fake"))

	if o.IsAutoSyncEnabled() {
		t.Fatal("auto-sync should default off")
	}
	o.SetAutoSyncEnabled(true)
	if !o.IsAutoSyncEnabled() {
		t.Fatal("auto-sync did not enable")
	}
	o.SetAutoSyncEnabled(true) // idempotent
	o.SetAutoSyncEnabled(false)
	if o.IsAutoSyncEnabled() {
		t.Fatal("auto-sync did not disable")
	}

	if err := o.SetSyncInterval(0); err == nil {
		t.Fatal("non-positive interval should be rejected")
	}
	if err := o.SetSyncInterval(time.Minute); err != nil {
		t.Fatal(err)
	}
	if o.GetSyncInterval() != time.Minute {
		t.Fatalf("interval = %s, want 1m", o.GetSyncInterval())
	}
}

func TestScheduledSweepFires(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)
	writeLocal(t, o, "a.txt", "x")

	if err := o.SetSyncInterval(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	o.SetAutoSyncEnabled(true)
	defer o.SetAutoSyncEnabled(false)

	waitFor(t, func() bool {
		_, ok := p.object("a.txt")
		return ok
	})
}

func TestCleanupCache(t *testing.T) {
	p := newFakeProvider("fake")
	o := newTestOrchestrator(t, p)
	local := writeLocal(t, o, "a.txt", "content")

	if _, err := o.UploadFile(context.Background(), "fake", local, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if evicted := o.CleanupCache(); evicted == 0 {
		t.Fatal("cleanup should evict at least the upload's checksum")
	}
}

func TestQuotaThroughEngine(t *testing.T) {
	p := newFakeProvider("fake")
	p.setObject("a.txt", "12345")
	o := newTestOrchestrator(t, p)

	q, err := o.GetStorageQuota(context.Background(), "fake")
	if err != nil {
		t.Fatal(err)
	}
	if q.UsedBytes != 5 {
		t.Fatalf("used = %d, want 5", q.UsedBytes)
	}

	p.Disconnect()
	if _, err := o.GetStorageQuota(context.Background(), "fake"); err == nil {
		t.Fatal("disconnected provider quota should error")
	}
}
