package operation

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// validTransitions is the single source of truth for the lifecycle.
// No component may set an operation's status except through Transition,
// which consults this table.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusCancelled, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func transitionAllowed(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tracker owns every Operation and is the only component allowed to mutate
// one. All methods are safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	ops    map[string]*Operation
	logger *slog.Logger
	now    func() time.Time

	// lastProgress records when each running operation last reported
	// progress, for the stall watchdog.
	lastProgress map[string]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		ops:          make(map[string]*Operation),
		logger:       logger,
		now:          time.Now,
		lastProgress: make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Create registers a new queued operation and returns its snapshot.
func (t *Tracker) Create(typ Type, providerID, localPath, remotePath string, totalBytes int64) *Operation {
	t.mu.Lock()
	defer t.mu.Unlock()

	op := &Operation{
		ID:         uuid.NewString(),
		Type:       typ,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Provider:   providerID,
		Status:     StatusQueued,
		CreatedAt:  t.now(),
		TotalBytes: totalBytes,
	}
	t.ops[op.ID] = op

	t.logger.Debug("operation created",
		"id", op.ID, "type", typ, "provider", providerID,
		"local", localPath, "remote", remotePath)

	return op.Clone()
}

// Get returns a snapshot of an operation by ID.
func (t *Tracker) Get(id string) (*Operation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	op, ok := t.ops[id]
	if !ok {
		return nil, fmt.Errorf("unknown operation: %s", id)
	}
	return op.Clone(), nil
}

// Transition moves an operation to a new status, enforcing the lifecycle
// table. Invalid transitions are rejected with an error and leave the
// status unchanged.
func (t *Tracker) Transition(id string, to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(id, to, "")
}

// Fail moves an operation to failed with the required error message.
func (t *Tracker) Fail(id, errMsg string) error {
	if errMsg == "" {
		return fmt.Errorf("failed status requires an error message")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(id, StatusFailed, errMsg)
}

func (t *Tracker) transitionLocked(id string, to Status, errMsg string) error {
	op, ok := t.ops[id]
	if !ok {
		return fmt.Errorf("unknown operation: %s", id)
	}

	if !transitionAllowed(op.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s for operation %s", op.Status, to, id)
	}

	now := t.now()
	from := op.Status
	op.Status = to

	switch to {
	case StatusRunning:
		if op.StartedAt == nil {
			started := now
			op.StartedAt = &started
		}
		t.lastProgress[id] = now
	case StatusCompleted:
		op.Progress = 1.0
		if op.TotalBytes > 0 {
			op.BytesTransferred = op.TotalBytes
		}
		completed := now
		op.CompletedAt = &completed
		delete(t.lastProgress, id)
	case StatusFailed:
		op.ErrorMessage = errMsg
		completed := now
		op.CompletedAt = &completed
		delete(t.lastProgress, id)
	case StatusCancelled:
		completed := now
		op.CompletedAt = &completed
		delete(t.lastProgress, id)
	case StatusPaused:
		delete(t.lastProgress, id)
	}

	t.logger.Debug("operation transition", "id", id, "from", from, "to", to)
	return nil
}

// UpdateProgress records transfer progress for a running operation.
// Fractions are clamped to [0,1] and regressions are ignored so progress
// stays monotonic. Updates against non-running operations are dropped
// (a provider callback may still fire after a cooperative cancel).
func (t *Tracker) UpdateProgress(id string, fraction float64, bytesTransferred int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok || op.Status != StatusRunning {
		return
	}

	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > op.Progress {
		op.Progress = fraction
	}
	if bytesTransferred > op.BytesTransferred {
		op.BytesTransferred = bytesTransferred
	}
	t.lastProgress[id] = t.now()
}

// SetMetadata attaches an opaque key/value to an operation.
func (t *Tracker) SetMetadata(id, key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok {
		return fmt.Errorf("unknown operation: %s", id)
	}
	if op.Metadata == nil {
		op.Metadata = make(map[string]string)
	}
	op.Metadata[key] = value
	return nil
}

// FailStalled forces every running operation that has not reported progress
// within ceiling to failed with a timeout error. Returns the IDs it failed.
func (t *Tracker) FailStalled(ceiling time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var stalled []string
	for id, op := range t.ops {
		if op.Status != StatusRunning {
			continue
		}
		last, ok := t.lastProgress[id]
		if !ok {
			last = op.CreatedAt
		}
		if now.Sub(last) >= ceiling {
			stalled = append(stalled, id)
		}
	}

	for _, id := range stalled {
		msg := fmt.Sprintf("transfer timed out after %s without progress", ceiling)
		if err := t.transitionLocked(id, StatusFailed, msg); err == nil {
			t.logger.Warn("operation timed out", "id", id, "ceiling", ceiling)
		}
	}
	return stalled
}

// Running returns snapshots of all operations currently in StatusRunning.
func (t *Tracker) Running() []*Operation {
	return t.withStatus(StatusRunning)
}

// Paused returns snapshots of all operations currently in StatusPaused.
func (t *Tracker) Paused() []*Operation {
	return t.withStatus(StatusPaused)
}

func (t *Tracker) withStatus(s Status) []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Operation
	for _, op := range t.ops {
		if op.Status == s {
			out = append(out, op.Clone())
		}
	}
	return out
}

// HistoryFilter narrows History results. Zero values mean "no filter".
type HistoryFilter struct {
	Provider string
	Since    time.Time
	Limit    int
}

// History returns snapshots of all operations matching the filter, sorted
// newest-first by creation time.
func (t *Tracker) History(f HistoryFilter) []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Operation
	for _, op := range t.ops {
		if f.Provider != "" && op.Provider != f.Provider {
			continue
		}
		if !f.Since.IsZero() && op.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, op.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Prune drops terminal operations older than the retention window, keeping
// at most keep terminal entries. Non-terminal operations are never pruned.
func (t *Tracker) Prune(retention time.Duration, keep int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var terminal []*Operation
	for _, op := range t.ops {
		if op.Status.IsTerminal() {
			terminal = append(terminal, op)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].CreatedAt.After(terminal[j].CreatedAt)
	})

	cutoff := t.now().Add(-retention)
	pruned := 0
	for i, op := range terminal {
		if i < keep && op.CreatedAt.After(cutoff) {
			continue
		}
		delete(t.ops, op.ID)
		pruned++
	}
	return pruned
}
