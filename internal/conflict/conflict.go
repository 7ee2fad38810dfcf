package conflict

import (
	"fmt"
	"time"

	"github.com/skysync/skysync/internal/version"
)

// Type classifies how the two sides of a logical file diverged.
type Type string

const (
	// TypeDeletedLocal means the local copy is missing while a remote copy exists.
	TypeDeletedLocal Type = "deleted_local"

	// TypeDeletedRemote means the remote copy is missing while a local copy exists.
	TypeDeletedRemote Type = "deleted_remote"

	// TypeModifiedBoth means both copies exist with differing content and both
	// were modified after the last sync baseline.
	TypeModifiedBoth Type = "modified_both"
)

// Severity grades the risk of resolving a conflict without user input.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Resolution is a named policy for eliminating a conflict.
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keep_local"
	ResolutionKeepRemote Resolution = "keep_remote"
	ResolutionKeepBoth   Resolution = "keep_both"
	ResolutionMerge      Resolution = "merge"
	ResolutionManual     Resolution = "manual"
)

// IsValid reports whether the resolution is recognized.
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionKeepLocal, ResolutionKeepRemote, ResolutionKeepBoth, ResolutionMerge, ResolutionManual:
		return true
	default:
		return false
	}
}

// Conflict is a detected divergence between the local and remote copy of one
// logical file path. Conflicts are never deleted, only marked resolved, so
// the queue doubles as an audit trail.
type Conflict struct {
	ID          string              `json:"id"`
	FilePath    string              `json:"file_path"`
	Provider    string              `json:"provider"`
	Type        Type                `json:"type"`
	Local       version.FileVersion `json:"local_version"`
	Remote      version.FileVersion `json:"remote_version"`
	DetectedAt  time.Time           `json:"detected_at"`
	Severity    Severity            `json:"severity"`
	Description string              `json:"description"`
	Resolved    bool                `json:"is_resolved"`
	Resolution  Resolution          `json:"resolution,omitempty"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty"`
}

// Clone returns a copy safe to hand across goroutines.
func (c *Conflict) Clone() *Conflict {
	cp := *c
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// CanAutoResolve reports whether the conflict is low-risk enough to resolve
// without user input under the conservative strategy.
func (c *Conflict) CanAutoResolve() bool {
	return c.Severity == SeverityLow
}

// MarkResolved flips the conflict to resolved. The resolved timestamp never
// precedes detection.
func (c *Conflict) MarkResolved(r Resolution, at time.Time) error {
	if c.Resolved {
		return fmt.Errorf("conflict %s already resolved as %s", c.ID, c.Resolution)
	}
	if !r.IsValid() {
		return fmt.Errorf("invalid resolution: %q", r)
	}
	if at.Before(c.DetectedAt) {
		at = c.DetectedAt
	}
	c.Resolved = true
	c.Resolution = r
	c.ResolvedAt = &at
	return nil
}

// Summary returns a one-line human description.
func (c *Conflict) Summary() string {
	var desc string
	switch c.Type {
	case TypeDeletedLocal:
		desc = "deleted locally, still present remotely"
	case TypeDeletedRemote:
		desc = "deleted remotely, still present locally"
	case TypeModifiedBoth:
		desc = "modified on both sides"
	}
	return fmt.Sprintf("%s [%s]: %s", c.FilePath, c.Severity, desc)
}
