package reconcile

import (
	"context"
	"fmt"
	"time"
)

// Launch runs one reconciliation in the background. It never blocks the caller and
// never propagates failure: errors and panics are logged as warnings. The returned
// channel yields the result once and is then closed.
func (r *Reconciler) Launch(ctx context.Context, in Input, timeout time.Duration) <-chan Result {
	done := make(chan Result, 1)

	go func() {
		defer close(done)

		var res Result

		defer func() {
			if p := recover(); p != nil {
				r.log.WarnContext(ctx, "admin reconcile failed (non-critical)", "err", fmt.Sprint(p))
			}
			done <- res
		}()

		runCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var err error
		res, err = r.Run(runCtx, in)
		if err != nil {
			r.log.WarnContext(ctx, "admin reconcile failed (non-critical)", "email", in.Email, "outcome", string(res.Outcome), "err", err)
			return
		}

		if res.Outcome != OutcomeSkipped {
			r.log.InfoContext(ctx, "admin reconcile finished", "email", in.Email, "outcome", string(res.Outcome), "account_id", res.Account.ID)
		}
	}()

	return done
}
