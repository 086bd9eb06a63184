package observability

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/fedcore/fedcore/internal/activity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFireInboundCallsAllObservers(t *testing.T) {
	o := New(discardLogger())
	var calls int32
	o.OnInboundActivity(func(_ context.Context, _ *activity.Activity) { atomic.AddInt32(&calls, 1) })
	o.OnInboundActivity(func(_ context.Context, _ *activity.Activity) { atomic.AddInt32(&calls, 1) })

	o.FireInbound(context.Background(), &activity.Activity{ID: "https://ex.example/1"})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestFireOutboundPassesRecipientInbox(t *testing.T) {
	o := New(discardLogger())
	var got string
	o.OnOutboundActivity(func(_ context.Context, _ *activity.Activity, inbox string) { got = inbox })

	o.FireOutbound(context.Background(), &activity.Activity{ID: "https://ex.example/1"}, "https://peer.example/inbox")

	if got != "https://peer.example/inbox" {
		t.Errorf("inbox = %q", got)
	}
}

func TestFireInboundRecoversPanickingObserver(t *testing.T) {
	o := New(discardLogger())
	var calls int32
	o.OnInboundActivity(func(_ context.Context, _ *activity.Activity) { panic("boom") })
	o.OnInboundActivity(func(_ context.Context, _ *activity.Activity) { atomic.AddInt32(&calls, 1) })

	o.FireInbound(context.Background(), &activity.Activity{ID: "https://ex.example/1"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (panic in one observer must not block the next)", calls)
	}
}
