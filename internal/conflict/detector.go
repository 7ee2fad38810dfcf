package conflict

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skysync/skysync/internal/version"
)

// Baseline is the last state both sides agreed on for one (provider, path)
// pair, recorded after a successful transfer. A nil baseline means the file
// was never synced.
type Baseline struct {
	Provider   string    `json:"provider"`
	Path       string    `json:"path"`
	Checksum   string    `json:"checksum"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	SyncedAt   time.Time `json:"synced_at"`
}

// DetectorConfig holds the classification heuristics. Both knobs are
// deliberate defaults, not fixed constants.
type DetectorConfig struct {
	// SizeDeltaThreshold marks a modified-both conflict high severity when
	// the two sides' sizes differ by more than this many bytes.
	SizeDeltaThreshold int64

	// TextExtensions lists the lowercase extensions considered mergeable.
	TextExtensions []string
}

// DefaultDetectorConfig returns the stock heuristics.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SizeDeltaThreshold: 10 << 20, // 10 MiB
		TextExtensions:     []string{".txt", ".md", ".json", ".xml", ".csv", ".log"},
	}
}

// Detector classifies divergence between two FileVersions of the same
// logical path. It performs no I/O beyond reading the two snapshots it is
// handed; it only classifies.
type Detector struct {
	cfg    DetectorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewDetector creates a detector with the given heuristics.
func NewDetector(cfg DetectorConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SizeDeltaThreshold <= 0 {
		cfg.SizeDeltaThreshold = DefaultDetectorConfig().SizeDeltaThreshold
	}
	if len(cfg.TextExtensions) == 0 {
		cfg.TextExtensions = DefaultDetectorConfig().TextExtensions
	}
	return &Detector{cfg: cfg, logger: logger, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// IsTextPath reports whether the path's extension is in the mergeable set.
func (d *Detector) IsTextPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, t := range d.cfg.TextExtensions {
		if ext == t {
			return true
		}
	}
	return false
}

// Detect compares the local and remote snapshot of one logical path against
// the last sync baseline. It returns nil when the two sides agree, or when
// the divergence is trivially orderable (exactly one side changed since the
// baseline and both sides still exist) and can be fixed by a plain transfer.
// A missing side is never treated as trivially orderable: a deletion and a
// never-uploaded file look identical, so those cases always surface as
// conflicts.
func (d *Detector) Detect(providerID, path string, local, remote version.FileVersion, baseline *Baseline) *Conflict {
	if local.Equal(remote) {
		return nil
	}
	if !local.Exists && !remote.Exists {
		return nil
	}
	if baseline == nil && (!local.Exists || !remote.Exists) {
		// Never synced and only one side present: a plain first transfer,
		// not a divergence.
		return nil
	}

	localChanged := changedSince(local, baseline)
	remoteChanged := changedSince(remote, baseline)

	var (
		typ  Type
		desc string
	)
	switch {
	case !local.Exists:
		if !remoteChanged {
			// Remote is untouched since the last sync; the local deletion
			// orders cleanly and the sweep propagates it.
			return nil
		}
		typ = TypeDeletedLocal
		desc = fmt.Sprintf("%s is missing locally but exists remotely (%d bytes)", path, remote.Size)
	case !remote.Exists:
		if !localChanged {
			return nil
		}
		typ = TypeDeletedRemote
		desc = fmt.Sprintf("%s is missing remotely but exists locally (%d bytes)", path, local.Size)
	case localChanged && remoteChanged:
		typ = TypeModifiedBoth
		desc = fmt.Sprintf("%s was modified both locally and remotely since the last sync", path)
	default:
		// Exactly one existing side changed: the orchestrator transfers the
		// changed side, no conflict.
		return nil
	}

	c := &Conflict{
		ID:          uuid.NewString(),
		FilePath:    path,
		Provider:    providerID,
		Type:        typ,
		Local:       local,
		Remote:      remote,
		DetectedAt:  d.now(),
		Description: desc,
	}
	c.Severity = d.severity(c)

	d.logger.Info("conflict detected",
		"provider", providerID, "path", path,
		"type", typ, "severity", c.Severity)

	return c
}

// severity grades the conflict. Deletion conflicts are low: the suggested
// resolution keeps the surviving copy, which cannot lose content the
// deleted side no longer has. Modified-both is medium when the file is
// mergeable text, high when it is binary or the size delta suggests
// unrelated content.
func (d *Detector) severity(c *Conflict) Severity {
	if c.Type == TypeDeletedLocal || c.Type == TypeDeletedRemote {
		return SeverityLow
	}

	delta := c.Local.Size - c.Remote.Size
	if delta < 0 {
		delta = -delta
	}
	if delta > d.cfg.SizeDeltaThreshold {
		return SeverityHigh
	}
	if d.IsTextPath(c.FilePath) {
		return SeverityMedium
	}
	return SeverityHigh
}

// SuggestResolution derives the default resolution deterministically from
// type and severity, so the same conflict proposes the same default across
// runs. Deletion conflicts default to keeping the surviving copy; data is
// never deleted by default.
func SuggestResolution(c *Conflict) Resolution {
	switch c.Type {
	case TypeDeletedLocal:
		return ResolutionKeepRemote
	case TypeDeletedRemote:
		return ResolutionKeepLocal
	case TypeModifiedBoth:
		switch c.Severity {
		case SeverityMedium:
			return ResolutionMerge
		case SeverityHigh:
			return ResolutionKeepBoth
		default:
			return ResolutionKeepBoth
		}
	}
	return ResolutionManual
}

// changedSince reports whether a snapshot differs from the last agreed
// state. With no baseline every present file counts as changed, and a
// missing file counts as unchanged (it was never there). Checksums decide
// when both sides carry one; remote snapshots often lack a content hash, in
// which case size and modification time against the sync timestamp decide.
func changedSince(v version.FileVersion, baseline *Baseline) bool {
	if baseline == nil {
		return v.Exists
	}
	if !v.Exists {
		return true // present at baseline, gone now
	}
	if v.Checksum != "" && baseline.Checksum != "" {
		return v.Checksum != baseline.Checksum
	}
	if v.Size != baseline.Size {
		return true
	}
	return v.ModifiedAt.After(baseline.SyncedAt)
}
