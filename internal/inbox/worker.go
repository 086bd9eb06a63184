package inbox

import (
	"context"
	"log/slog"

	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/observability"
)

// Listen starts the dispatch loop: it pulls tasks of Kind from queue and
// runs each through dispatch, applying the configured retry policy on
// failure. Listen blocks until ctx is canceled.
func (p *Pipeline) Listen(ctx context.Context) error {
	return p.queue.Listen(ctx, Kind, p.dispatch)
}

// Process runs a single already-dequeued task through the same dispatch
// logic Listen uses, for hosts that run their own worker pool instead of
// Listen.
func (p *Pipeline) Process(ctx context.Context, task mqueue.Task) error {
	return p.dispatch(ctx, task)
}

// dispatch resolves act's listener and invokes it, firing the inbound
// observer on the task's first attempt only (spec.md §4.F step 7). On
// failure it either requeues the task with the next backoff delay or, once
// the retry policy is exhausted, hands the activity to the permanent
// failure handler and reports success so the queue does not redeliver it
// again.
func (p *Pipeline) dispatch(ctx context.Context, task mqueue.Task) error {
	act, err := activity.ParseActivity(task.Payload)
	if err != nil {
		p.logger.Error("dropping inbound task with unparseable payload", slog.String("task_id", task.ID), slog.Any("error", err))
		return nil
	}

	fn, ok := p.listenerFor(act.Type)
	if !ok {
		p.logger.Warn("no listener for inbound activity type at dispatch time", slog.String("type", act.Type))
		return nil
	}

	if task.Attempt == 0 {
		p.observers.FireInbound(ctx, act)
	}

	span := observability.StartSpan(ctx, observability.SpanDispatchInbound, p.logger)
	err = fn(ctx, act)
	span.End(err)
	if err == nil {
		return nil
	}

	if p.opts.RetryPolicy.Exhausted(task.Attempt + 1) {
		p.logger.Error("inbound activity permanently failed", slog.String("activity_id", act.ID), slog.Int("attempt", task.Attempt), slog.Any("error", err))
		if p.permanentFailure != nil {
			p.permanentFailure(ctx, act, err)
		}
		return nil
	}

	delay := p.opts.RetryPolicy.DelayForAttempt(task.Attempt)
	next := task
	next.Attempt++
	if enqueueErr := p.queue.EnqueueDelayed(ctx, next, delay); enqueueErr != nil {
		return enqueueErr
	}
	return nil
}
