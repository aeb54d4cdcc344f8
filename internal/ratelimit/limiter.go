// Package ratelimit enforces per-team ceilings over a trailing 60-second
// window. Implementations must be safe for concurrent use.
package ratelimit

import (
	"context"
	"time"
)

// Window is the trailing span a limit applies to.
const Window = time.Minute

// Limiter decides whether a team's request is admitted under its configured
// per-minute ceiling. A rejected attempt must not consume window capacity.
type Limiter interface {
	// Allow reports whether the team identified by teamID may proceed given
	// its requests-per-minute limit.
	Allow(ctx context.Context, teamID uint64, limit int) (bool, error)

	// Close releases background resources.
	Close() error
}
