package mqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Queue backed by JetStream, grounded on the teacher's
// events.Bus: the same connection options (reconnect wait, error handler)
// and JetStream initialization, adapted from fire-and-forget pub/sub to
// explicit-ack work-queue delivery so a failed handler redelivers instead
// of losing the task.
type NATS struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
	stream string
}

type envelope struct {
	Task Task `json:"task"`
}

// NewNATS connects to the NATS server at natsURL and ensures a
// work-queue-retention JetStream stream named stream exists, with one
// subject per task kind (stream.<kind>).
func NewNATS(natsURL, stream string, logger *slog.Logger) (*NATS, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("fedcore"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			if err != nil {
				logger.Error("NATS error", slog.String("error", err.Error()))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", natsURL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("initializing JetStream: %w", err)
	}

	n := &NATS{conn: nc, js: js, logger: logger, stream: stream}
	if err := n.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return n, nil
}

func (n *NATS) ensureStream() error {
	info, err := n.js.StreamInfo(n.stream)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("checking stream %s: %w", n.stream, err)
	}
	if info != nil {
		return nil
	}
	_, err = n.js.AddStream(&nats.StreamConfig{
		Name:      n.stream,
		Subjects:  []string{n.stream + ".>"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", n.stream, err)
	}
	n.logger.Info("JetStream stream created", slog.String("stream", n.stream))
	return nil
}

func (n *NATS) subject(kind string) string {
	return n.stream + "." + kind
}

func (n *NATS) Enqueue(ctx context.Context, task Task) error {
	return n.publish(ctx, task, nil)
}

func (n *NATS) EnqueueMany(ctx context.Context, tasks []Task) error {
	for _, t := range tasks {
		if err := n.publish(ctx, t, nil); err != nil {
			return err
		}
	}
	return nil
}

func (n *NATS) EnqueueDelayed(ctx context.Context, task Task, delay time.Duration) error {
	readyAt := time.Now().Add(delay)
	return n.publish(ctx, task, &readyAt)
}

func (n *NATS) publish(ctx context.Context, task Task, readyAt *time.Time) error {
	data, err := json.Marshal(envelope{Task: task})
	if err != nil {
		return fmt.Errorf("marshaling task %s: %w", task.ID, err)
	}
	msg := nats.NewMsg(n.subject(task.Kind))
	msg.Data = data
	if readyAt != nil {
		msg.Header.Set("X-Ready-At", readyAt.Format(time.RFC3339Nano))
	}
	_, err = n.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publishing task %s: %w", task.ID, err)
	}
	return nil
}

// Listen pulls from a durable consumer on the kind's subject, honoring
// delayed visibility via the X-Ready-At header (NakWithDelay until due) and
// per-ordering-key exclusivity via a local in-flight set. The in-flight set
// is process-local: running more than one Listen consumer for the same kind
// across processes only gets cross-process redelivery safety, not
// cross-process ordering-key exclusivity — spec.md's reference deployment
// runs one worker process per kind, so this is not a gap in practice.
func (n *NATS) Listen(ctx context.Context, kind string, handler Handler) error {
	subject := n.subject(kind)
	durable := "fedcore-" + kind

	sub, err := n.js.PullSubscribe(subject, durable, nats.AckExplicit(), nats.MaxDeliver(50))
	if err != nil {
		return fmt.Errorf("pull subscribing to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	var mu sync.Mutex
	inFlight := make(map[string]bool)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := sub.Fetch(16, nats.MaxWait(250*time.Millisecond))
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
				n.logger.Warn("fetch failed", slog.String("subject", subject), slog.String("error", err.Error()))
			}
			continue
		}

		for _, msg := range msgs {
			var env envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				n.logger.Error("dropping malformed task", slog.String("subject", subject), slog.String("error", err.Error()))
				msg.Term()
				continue
			}

			if readyAt := msg.Header.Get("X-Ready-At"); readyAt != "" {
				if t, err := time.Parse(time.RFC3339Nano, readyAt); err == nil && t.After(time.Now()) {
					msg.NakWithDelay(time.Until(t))
					continue
				}
			}

			key := env.Task.OrderingKey
			mu.Lock()
			if key != "" && inFlight[key] {
				mu.Unlock()
				msg.NakWithDelay(50 * time.Millisecond)
				continue
			}
			if key != "" {
				inFlight[key] = true
			}
			mu.Unlock()

			wg.Add(1)
			go func(msg *nats.Msg, task Task) {
				defer wg.Done()
				defer func() {
					if key == "" {
						return
					}
					mu.Lock()
					delete(inFlight, key)
					mu.Unlock()
				}()

				if err := handler(ctx, task); err != nil {
					msg.Nak()
					return
				}
				msg.Ack()
			}(msg, env.Task)
		}
	}
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}
