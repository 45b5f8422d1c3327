package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Mindburn-Labs/weave/pkg/fcp"
	"github.com/Mindburn-Labs/weave/pkg/replay"
	"github.com/Mindburn-Labs/weave/pkg/runtime/budget"
	"github.com/Mindburn-Labs/weave/pkg/runtime/sandbox"
)

// scriptRuntime drives one sandbox through the message protocol, answering
// its foreign call requests until it produces a Result.
type scriptRuntime struct {
	sb         *sandbox.Sandbox
	contractID string
	fcp        *fcp.Coordinator
	limits     budget.Limits
	reads      *atomic.Int64
}

func (r *scriptRuntime) Apply(ctx context.Context, state json.RawMessage, action replay.Action) (replay.Outcome, error) {
	callCtx, cancel := r.limits.WithDeadline(ctx)
	defer cancel()
	start := time.Now()

	reply, err := r.sb.Submit(callCtx, sandbox.Execute{
		State:       state,
		Input:       action.Input,
		Caller:      action.Caller,
		Interaction: action.Interaction,
	})
	for {
		if err != nil {
			return replay.Outcome{}, r.fatal(ctx, callCtx, err, time.Since(start))
		}
		switch m := reply.(type) {
		case sandbox.ForeignCallRequest:
			r.reads.Add(1)
			resp := r.fcp.Resolve(callCtx, r.contractID, m)
			reply, err = r.sb.Submit(callCtx, resp)
		case sandbox.Result:
			if m.Fatal != nil {
				return replay.Outcome{}, replay.Fatal(m.Fatal)
			}
			if m.Err != nil {
				return replay.Outcome{}, m.Err
			}
			return replay.Outcome{State: m.State, HasState: m.HasState, Result: m.Result}, nil
		default:
			return replay.Outcome{}, replay.Fatal(fmt.Errorf("%w: unexpected %T from sandbox", sandbox.ErrProtocol, reply))
		}
	}
}

// fatal classifies a Submit failure. A cancelled evaluation returns the
// context error; anything else leaves the sandbox unusable.
func (r *scriptRuntime) fatal(ctx, callCtx context.Context, err error, elapsed time.Duration) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) && callCtx.Err() != nil {
		if limitErr := budget.CheckTime(r.limits, elapsed); limitErr != nil {
			return replay.Fatal(limitErr)
		}
	}
	return replay.Fatal(err)
}
