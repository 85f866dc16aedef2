package credential

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// RefreshCoordinator coalesces concurrent refresh operations per credential.
type RefreshCoordinator interface {
	Do(ctx context.Context, credID string, fn func(ctx context.Context) error) error
}

// SingleflightCoordinator dedups concurrent refreshes for the same
// credential using golang.org/x/sync/singleflight, so N simultaneous
// near-expiry requests for one credential trigger exactly one upstream
// refresh call; all callers observe its result.
type SingleflightCoordinator struct {
	g singleflight.Group
}

func NewSingleflightCoordinator() *SingleflightCoordinator {
	return &SingleflightCoordinator{}
}

func (c *SingleflightCoordinator) Do(ctx context.Context, credID string, fn func(ctx context.Context) error) error {
	if credID == "" {
		return fn(ctx)
	}
	resultCh := c.g.DoChan(credID, func() (interface{}, error) {
		return nil, fn(ctx)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultCh:
		return res.Err
	}
}
