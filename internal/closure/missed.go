package closure

import (
	"context"
	"fmt"

	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/shared"
)

// PendingDays lists the days within the lookback window that have no closure
// record, oldest first. Today is never included.
func (c *Coordinator) PendingDays(ctx context.Context) ([]ledger.DayKey, error) {
	yesterday := ledger.Yesterday(c.now().In(c.loc))
	first := yesterday
	for i := 1; i < c.lookback; i++ {
		first = first.Previous()
	}
	var pending []ledger.DayKey
	for _, day := range ledger.DaysBetween(first, yesterday) {
		_, found, err := c.store.GetClosureRecord(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("%w: pending days: %v", ErrTransientIO, err)
		}
		if !found {
			pending = append(pending, day)
		}
	}
	return pending, nil
}

// CloseMissed closes every pending day oldest first, each through its own
// Close call. It stops at the first attempt that neither succeeds nor finds
// the day already closed.
func (c *Coordinator) CloseMissed(ctx context.Context, actor shared.Actor, clientID string) ([]Result, error) {
	if !actor.IsAdmin() {
		return []Result{{Outcome: OutcomePermissionDenied, Err: ErrPermissionDenied}}, nil
	}
	days, err := c.PendingDays(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(days))
	for _, day := range days {
		res := c.Close(ctx, actor, clientID, day)
		results = append(results, res)
		if res.Outcome != OutcomeSuccess && res.Outcome != OutcomeAlreadyClosed {
			break
		}
	}
	return results, nil
}
