package resolve

import (
	"context"
	"fmt"

	"github.com/skysync/skysync/internal/conflict"
	"github.com/skysync/skysync/internal/provider"
)

// Strategy selects how AutoResolve picks a resolution per conflict.
type Strategy string

const (
	// StrategyConservative only acts on auto-resolvable conflicts and defers
	// the rest to the user.
	StrategyConservative Strategy = "conservative"

	// StrategyFavorLocal keeps the local side unless it is missing.
	StrategyFavorLocal Strategy = "favor_local"

	// StrategyFavorRemote keeps the remote side unless it is missing.
	StrategyFavorRemote Strategy = "favor_remote"

	// StrategyFavorNewer keeps whichever side was modified most recently.
	// Ties break toward local; this is a deliberate, documented tie-break,
	// not an accident of comparison order.
	StrategyFavorNewer Strategy = "favor_newer"

	// StrategyKeepBothWhenUnsure uses the conflict's own suggestion when it
	// is auto-resolvable and otherwise forces keep-both. It never defers.
	StrategyKeepBothWhenUnsure Strategy = "keep_both_when_unsure"
)

// IsValid reports whether the strategy is recognized.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyConservative, StrategyFavorLocal, StrategyFavorRemote,
		StrategyFavorNewer, StrategyKeepBothWhenUnsure:
		return true
	default:
		return false
	}
}

// AutoResolve applies the strategy to each conflict independently. One
// conflict's failure never aborts the batch; every conflict yields exactly
// one Result. A missing or disconnected provider produces a failure result
// without attempting any I/O.
func (e *Engine) AutoResolve(ctx context.Context, conflicts []*conflict.Conflict, providers map[string]provider.Provider, strategy Strategy) []Result {
	results := make([]Result, 0, len(conflicts))

	for _, c := range conflicts {
		results = append(results, e.autoResolveOne(ctx, c, providers, strategy))
	}
	return results
}

func (e *Engine) autoResolveOne(ctx context.Context, c *conflict.Conflict, providers map[string]provider.Provider, strategy Strategy) Result {
	p, ok := providers[c.Provider]
	if !ok {
		return Result{
			ConflictID: c.ID,
			Provider:   c.Provider,
			Action:     ActionNone,
			Message:    fmt.Sprintf("provider %s not available", c.Provider),
		}
	}
	if !p.IsAuthenticated() {
		return Result{
			ConflictID: c.ID,
			Provider:   c.Provider,
			Action:     ActionNone,
			Message:    fmt.Sprintf("provider %s is not connected", c.Provider),
		}
	}

	resolution, deferred := e.pick(c, strategy)
	if deferred {
		return Result{
			ConflictID:        c.ID,
			Provider:          c.Provider,
			ProviderConnected: true,
			RequiresUserInput: true,
			Action:            ActionDeferred,
			Message:           fmt.Sprintf("%s needs a manual decision under the %s strategy", c.FilePath, strategy),
		}
	}

	res, err := e.Resolve(ctx, c, resolution, p, "")
	if err != nil {
		// State errors inside a batch are captured per-item, not propagated.
		return Result{
			ConflictID:        c.ID,
			Provider:          c.Provider,
			ProviderConnected: true,
			Action:            ActionNone,
			Message:           err.Error(),
		}
	}
	return res
}

// pick maps (conflict, strategy) to a resolution, or defers.
func (e *Engine) pick(c *conflict.Conflict, strategy Strategy) (conflict.Resolution, bool) {
	switch strategy {
	case StrategyConservative:
		if !c.CanAutoResolve() {
			return "", true
		}
		return conflict.SuggestResolution(c), false

	case StrategyFavorLocal:
		if !c.Local.Exists {
			return conflict.ResolutionKeepRemote, false
		}
		return conflict.ResolutionKeepLocal, false

	case StrategyFavorRemote:
		if !c.Remote.Exists {
			return conflict.ResolutionKeepLocal, false
		}
		return conflict.ResolutionKeepRemote, false

	case StrategyFavorNewer:
		// A missing side carries a zero ModifiedAt, so the surviving side
		// wins automatically. Equal timestamps resolve toward local.
		if c.Remote.ModifiedAt.After(c.Local.ModifiedAt) {
			return conflict.ResolutionKeepRemote, false
		}
		return conflict.ResolutionKeepLocal, false

	case StrategyKeepBothWhenUnsure:
		if c.CanAutoResolve() {
			return conflict.SuggestResolution(c), false
		}
		return conflict.ResolutionKeepBoth, false
	}

	return "", true
}
