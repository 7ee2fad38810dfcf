package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skysync/skysync/internal/conflict"
	"github.com/skysync/skysync/internal/provider"
)

// Action enumerates what a resolution actually did.
type Action string

const (
	ActionNone             Action = "none"
	ActionUploadedLocal    Action = "uploaded_local"
	ActionDownloadedRemote Action = "downloaded_remote"
	ActionDeletedRemote    Action = "deleted_remote"
	ActionDeletedLocal     Action = "deleted_local"
	ActionKeptBoth         Action = "kept_both"
	ActionMerged           Action = "merged"
	ActionDeferred         Action = "deferred"
)

// Result is the outcome of applying one resolution.
type Result struct {
	ConflictID        string   `json:"conflict_id"`
	Success           bool     `json:"success"`
	Message           string   `json:"message"`
	RequiresUserInput bool     `json:"requires_user_input"`
	Action            Action   `json:"action"`
	AdditionalFiles   []string `json:"additional_files,omitempty"`
	Provider          string   `json:"provider"`
	ProviderConnected bool     `json:"provider_connected"`
}

// Engine executes resolution strategies against detected conflicts. It never
// creates conflicts, only consumes and mutates them, and it never retries
// internally: a failed provider call is reported and the conflict stays
// unresolved for the caller to retry.
type Engine struct {
	logger   *slog.Logger
	now      func() time.Time
	textExts []string
}

// NewEngine creates a resolution engine. textExtensions lists the lowercase
// file extensions eligible for merge; nil selects the stock set.
func NewEngine(logger *slog.Logger, textExtensions []string) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(textExtensions) == 0 {
		textExtensions = conflict.DefaultDetectorConfig().TextExtensions
	}
	return &Engine{logger: logger, now: time.Now, textExts: textExtensions}
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Resolve applies the chosen resolution to a conflict using the given
// provider. State errors (already-resolved conflict, unknown resolution,
// nil provider) are returned as errors; provider failures are reported in
// the Result with Success=false and leave the conflict unresolved.
func (e *Engine) Resolve(ctx context.Context, c *conflict.Conflict, r conflict.Resolution, p provider.Provider, userInput string) (Result, error) {
	if c == nil {
		return Result{}, fmt.Errorf("nil conflict")
	}
	if c.Resolved {
		return Result{}, fmt.Errorf("conflict %s already resolved as %s", c.ID, c.Resolution)
	}
	if !r.IsValid() {
		return Result{}, fmt.Errorf("invalid resolution: %q", r)
	}

	res := Result{ConflictID: c.ID, Provider: c.Provider, Action: ActionNone}

	// Manual performs no I/O and needs no provider.
	if r == conflict.ResolutionManual {
		res.RequiresUserInput = true
		res.Action = ActionDeferred
		res.Message = fmt.Sprintf("%s requires a manual decision", c.FilePath)
		return res, nil
	}

	// Merge pre-checks the extension before touching the provider, so a
	// non-mergeable file defers without any I/O.
	if r == conflict.ResolutionMerge && !e.isTextPath(c.FilePath) {
		res.RequiresUserInput = true
		res.Action = ActionDeferred
		res.Message = fmt.Sprintf("%s is not a mergeable text file", c.FilePath)
		return res, nil
	}

	if p == nil {
		return Result{}, fmt.Errorf("no provider for conflict %s", c.ID)
	}
	res.ProviderConnected = p.IsAuthenticated()
	if !res.ProviderConnected {
		res.Message = fmt.Sprintf("provider %s is not connected", c.Provider)
		return res, nil
	}

	switch r {
	case conflict.ResolutionKeepLocal:
		e.keepLocal(ctx, c, p, &res)
	case conflict.ResolutionKeepRemote:
		e.keepRemote(ctx, c, p, &res)
	case conflict.ResolutionKeepBoth:
		e.keepBoth(ctx, c, p, &res)
	case conflict.ResolutionMerge:
		e.merge(ctx, c, p, userInput, &res)
	}

	if res.Success {
		if err := c.MarkResolved(r, e.now()); err != nil {
			return res, err
		}
		e.logger.Info("conflict resolved",
			"conflict", c.ID, "path", c.FilePath,
			"resolution", r, "action", res.Action)
	} else {
		e.logger.Warn("conflict resolution failed",
			"conflict", c.ID, "path", c.FilePath,
			"resolution", r, "message", res.Message)
	}

	return res, nil
}

// keepLocal makes the local side authoritative: a missing local copy
// propagates as a remote delete, otherwise local overwrites remote.
func (e *Engine) keepLocal(ctx context.Context, c *conflict.Conflict, p provider.Provider, res *Result) {
	if !c.Local.Exists {
		if err := p.Delete(ctx, c.FilePath); err != nil {
			res.Message = fmt.Sprintf("deleting remote %s: %v", c.FilePath, err)
			return
		}
		res.Success = true
		res.Action = ActionDeletedRemote
		res.Message = fmt.Sprintf("deleted remote copy of %s", c.FilePath)
		return
	}

	if err := p.Upload(ctx, c.Local.Path, c.FilePath, nil); err != nil {
		res.Message = fmt.Sprintf("uploading %s: %v", c.FilePath, err)
		return
	}
	res.Success = true
	res.Action = ActionUploadedLocal
	res.Message = fmt.Sprintf("uploaded local copy of %s", c.FilePath)
}

// keepRemote mirrors keepLocal toward the remote side.
func (e *Engine) keepRemote(ctx context.Context, c *conflict.Conflict, p provider.Provider, res *Result) {
	if !c.Remote.Exists {
		if err := os.Remove(c.Local.Path); err != nil && !os.IsNotExist(err) {
			res.Message = fmt.Sprintf("deleting local %s: %v", c.Local.Path, err)
			return
		}
		res.Success = true
		res.Action = ActionDeletedLocal
		res.Message = fmt.Sprintf("deleted local copy of %s", c.FilePath)
		return
	}

	if err := p.Download(ctx, c.FilePath, c.Local.Path, nil); err != nil {
		res.Message = fmt.Sprintf("downloading %s: %v", c.FilePath, err)
		return
	}
	res.Success = true
	res.Action = ActionDownloadedRemote
	res.Message = fmt.Sprintf("downloaded remote copy of %s", c.FilePath)
}

// keepBoth preserves both copies under timestamp-suffixed names. The
// original conflicting path is left untouched on both sides. A partial
// failure reports both attempts and counts as an overall failure.
func (e *Engine) keepBoth(ctx context.Context, c *conflict.Conflict, p provider.Provider, res *Result) {
	ts := e.now().Unix()
	localName := suffixPath(c.FilePath, fmt.Sprintf("_local_%d", ts))
	remoteName := suffixPath(c.FilePath, fmt.Sprintf("_remote_%d", ts))

	var attempts []string
	failed := false

	if c.Local.Exists {
		if err := p.Upload(ctx, c.Local.Path, localName, nil); err != nil {
			attempts = append(attempts, fmt.Sprintf("upload %s: %v", localName, err))
			failed = true
		} else {
			attempts = append(attempts, fmt.Sprintf("uploaded %s", localName))
			res.AdditionalFiles = append(res.AdditionalFiles, localName)
		}
	}

	if c.Remote.Exists {
		localDest := siblingPath(c.Local.Path, c.FilePath, remoteName)
		if err := p.Download(ctx, c.FilePath, localDest, nil); err != nil {
			attempts = append(attempts, fmt.Sprintf("download %s: %v", remoteName, err))
			failed = true
		} else {
			attempts = append(attempts, fmt.Sprintf("downloaded %s", remoteName))
			res.AdditionalFiles = append(res.AdditionalFiles, remoteName)
		}
	}

	res.Message = strings.Join(attempts, "; ")
	if failed {
		return
	}
	res.Success = true
	res.Action = ActionKeptBoth
}

// merge combines both sides of a text file. When userInput is non-empty it
// is the authoritative merged text; otherwise the merge is a line-set union
// that keeps local order and appends remote-only lines. The merged text is
// written locally, then uploaded over the remote copy.
func (e *Engine) merge(ctx context.Context, c *conflict.Conflict, p provider.Provider, userInput string, res *Result) {
	merged := userInput
	if merged == "" {
		localText, err := os.ReadFile(c.Local.Path)
		if err != nil && !os.IsNotExist(err) {
			res.Message = fmt.Sprintf("reading local %s: %v", c.Local.Path, err)
			return
		}

		tmp, err := os.CreateTemp("", "skysync-merge-*")
		if err != nil {
			res.Message = fmt.Sprintf("creating merge scratch file: %v", err)
			return
		}
		tmpPath := tmp.Name()
		tmp.Close()
		defer os.Remove(tmpPath)

		var remoteText []byte
		if c.Remote.Exists {
			if err := p.Download(ctx, c.FilePath, tmpPath, nil); err != nil {
				res.Message = fmt.Sprintf("downloading remote %s for merge: %v", c.FilePath, err)
				return
			}
			remoteText, err = os.ReadFile(tmpPath)
			if err != nil {
				res.Message = fmt.Sprintf("reading downloaded %s: %v", c.FilePath, err)
				return
			}
		}

		merged = mergeLineUnion(string(localText), string(remoteText))
	}

	if err := os.WriteFile(c.Local.Path, []byte(merged), 0o644); err != nil {
		res.Message = fmt.Sprintf("writing merged %s: %v", c.Local.Path, err)
		return
	}
	if err := p.Upload(ctx, c.Local.Path, c.FilePath, nil); err != nil {
		res.Message = fmt.Sprintf("uploading merged %s: %v", c.FilePath, err)
		return
	}

	res.Success = true
	res.Action = ActionMerged
	res.Message = fmt.Sprintf("merged both versions of %s", c.FilePath)
}

func (e *Engine) isTextPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, t := range e.textExts {
		if ext == t {
			return true
		}
	}
	return false
}

// mergeLineUnion returns the union of both sides' lines: local lines in
// order, followed by remote lines not already present.
func mergeLineUnion(local, remote string) string {
	seen := make(map[string]bool)
	var out []string

	for _, line := range splitLines(local) {
		if !seen[line] {
			seen[line] = true
			out = append(out, line)
		}
	}
	for _, line := range splitLines(remote) {
		if !seen[line] {
			seen[line] = true
			out = append(out, line)
		}
	}

	return strings.Join(out, "\n") + "\n"
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// suffixPath inserts a suffix between the file stem and its extension:
// notes.txt + _local_1 -> notes_local_1.txt.
func suffixPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// siblingPath maps a renamed remote path onto the local directory that
// holds the conflicting file.
func siblingPath(localPath, remotePath, renamedRemote string) string {
	dir := filepath.Dir(localPath)
	rel := strings.TrimPrefix(renamedRemote, filepath.ToSlash(filepath.Dir(remotePath))+"/")
	return filepath.Join(dir, filepath.Base(rel))
}
