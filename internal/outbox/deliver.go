package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fedcore/fedcore/internal/activity"
	"github.com/fedcore/fedcore/internal/httpsig"
	"github.com/fedcore/fedcore/internal/middleware"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/observability"
)

// deliveryRecordTTL bounds how long a delivery record may outlive its
// last write — comfortably past the retry policy's cap, so a record
// never expires out from under a delivery that is still retrying.
const deliveryRecordTTL = 4 * 24 * time.Hour

// algoHintTTL bounds how long a per-inbox accepted-algorithm hint is
// trusted before it must be rediscovered.
const algoHintTTL = 30 * 24 * time.Hour

// deliveryRecord is persisted in the KV store under
// delivery/{keyId}/{activityId}/{inbox}, per spec.md §3's Delivery
// record and §6's KV schema: created on first attempt, updated on each
// retry, deleted on success or permanent failure.
type deliveryRecord struct {
	Attempts  int       `json:"attempts"`
	NextRetry time.Time `json:"nextRetry,omitempty"`
	Status    string    `json:"status"`
}

func deliveryRecordKey(keyID, activityID, inbox string) string {
	return "delivery/" + keyID + "/" + activityID + "/" + inbox
}

func algoHintKey(inbox string) string {
	return "delivery-algo/" + inbox
}

// Process runs a single already-dequeued task through the same delivery
// logic Listen uses, for hosts that run their own worker pool instead of
// Listen.
func (p *Pipeline) Process(ctx context.Context, task mqueue.Task) error {
	return p.deliver(ctx, task)
}

// deliver implements spec.md §4.G steps 4-7: select a signing key,
// sign and POST the activity to the task's inbox, and on failure either
// requeue with the next backoff delay or, once the retry policy is
// exhausted, hand off to the permanent failure handler. deliver reports
// success to the queue in every case except a failed EnqueueDelayed —
// redelivery is scheduled explicitly via EnqueueDelayed so the pipeline
// controls the backoff schedule rather than the queue's own redelivery
// behavior.
func (p *Pipeline) deliver(ctx context.Context, task mqueue.Task) error {
	var payload deliveryPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("dropping outbox task with unparseable payload", slog.String("task_id", task.ID), slog.Any("error", err))
		return nil
	}

	act, err := activity.ParseActivity(payload.Activity)
	if err != nil {
		p.logger.Error("dropping outbox task with unparseable activity", slog.String("task_id", task.ID), slog.Any("error", err))
		return nil
	}

	ctx = middleware.WithCorrelationID(ctx, payload.TraceContext)

	key, ok := p.selectKey(ctx, payload.Inbox)
	if !ok {
		p.logger.Error("no signing key configured for delivery", slog.String("activity_id", act.ID), slog.String("inbox", payload.Inbox))
		return nil
	}
	recordKey := deliveryRecordKey(key.KeyID, act.ID, payload.Inbox)
	p.writeDeliveryRecord(ctx, recordKey, task.Attempt+1, time.Time{})

	span := observability.StartSpan(ctx, observability.SpanDeliverOutbound, p.logger)
	err = p.post(ctx, payload.Inbox, payload.Activity, key)
	span.End(err)
	if err == nil {
		p.noteAcceptedAlgorithm(ctx, payload.Inbox, key.Algorithm)
		p.clearDeliveryRecord(ctx, recordKey)
		return nil
	}

	if p.opts.RetryPolicy.Exhausted(task.Attempt + 1) {
		p.logger.Error("outbound delivery permanently failed",
			slog.String("activity_id", act.ID), slog.String("inbox", payload.Inbox),
			slog.Int("attempt", task.Attempt), slog.Any("error", err))
		p.clearDeliveryRecord(ctx, recordKey)
		if p.permanentFailure != nil {
			p.permanentFailure(ctx, act, payload.Inbox, err)
		}
		return nil
	}

	delay := p.opts.RetryPolicy.DelayForAttempt(task.Attempt)
	p.writeDeliveryRecord(ctx, recordKey, task.Attempt+1, time.Now().UTC().Add(delay))
	next := task
	next.Attempt++
	if enqueueErr := p.queue.EnqueueDelayed(ctx, next, delay); enqueueErr != nil {
		return enqueueErr
	}
	return nil
}

// selectKey picks which of the pipeline's signing keys to deliver with:
// the first whose algorithm inbox has accepted before, else the first
// key by declaration order (spec.md §9's key-selection Open Question).
func (p *Pipeline) selectKey(ctx context.Context, inbox string) (httpsig.PrivateKey, bool) {
	return p.keys.Select(p.acceptedAlgorithms(ctx, inbox))
}

func (p *Pipeline) acceptedAlgorithms(ctx context.Context, inbox string) []httpsig.Algorithm {
	if p.kv == nil {
		return nil
	}
	raw, ok, err := p.kv.Get(ctx, algoHintKey(inbox))
	if err != nil || !ok {
		return nil
	}
	var algs []httpsig.Algorithm
	if err := json.Unmarshal(raw, &algs); err != nil {
		return nil
	}
	return algs
}

// noteAcceptedAlgorithm records that inbox accepted a delivery signed
// with alg, moving it to the front of that inbox's hint so future
// deliveries prefer it. This hint is additional to, and persists
// independently of, the ephemeral per-activity delivery record above —
// spec.md §3's Delivery record is scoped to one (key, activity, inbox)
// and is deleted on completion, so it cannot itself carry cross-activity
// history.
func (p *Pipeline) noteAcceptedAlgorithm(ctx context.Context, inbox string, alg httpsig.Algorithm) {
	if p.kv == nil || alg == "" {
		return
	}
	existing := p.acceptedAlgorithms(ctx, inbox)
	reordered := []httpsig.Algorithm{alg}
	for _, a := range existing {
		if a != alg {
			reordered = append(reordered, a)
		}
	}
	encoded, err := json.Marshal(reordered)
	if err != nil {
		return
	}
	if err := p.kv.Set(ctx, algoHintKey(inbox), encoded, algoHintTTL); err != nil {
		p.logger.Debug("outbox: recording accepted-algorithm hint failed", slog.String("inbox", inbox), slog.String("error", err.Error()))
	}
}

func (p *Pipeline) writeDeliveryRecord(ctx context.Context, key string, attempts int, nextRetry time.Time) {
	if p.kv == nil {
		return
	}
	rec := deliveryRecord{Attempts: attempts, NextRetry: nextRetry, Status: "pending"}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := p.kv.Set(ctx, key, encoded, deliveryRecordTTL); err != nil {
		p.logger.Debug("outbox: writing delivery record failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (p *Pipeline) clearDeliveryRecord(ctx context.Context, key string) {
	if p.kv == nil {
		return
	}
	if err := p.kv.Delete(ctx, key); err != nil {
		p.logger.Debug("outbox: clearing delivery record failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// post signs and sends one activity document to inbox using key.
func (p *Pipeline) post(ctx context.Context, inbox string, body []byte, key httpsig.PrivateKey) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("outbox: building request to %q: %w", inbox, err)
	}
	req.Header.Set("Content-Type", `application/activity+json`)

	if err := httpsig.SignRequest(req, body, key, p.opts.SignProfile, httpsig.SignOptions{}); err != nil {
		return fmt.Errorf("outbox: signing delivery to %q: %w", inbox, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("outbox: delivering to %q: %w", inbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("outbox: %q rejected delivery with status %d", inbox, resp.StatusCode)
	}
	return nil
}
