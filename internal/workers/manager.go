// Package workers runs the inbound and outbound delivery pipelines as
// long-lived background consumers, grounded on the teacher's workers.Manager
// pattern: each consumer runs in its own goroutine tracked by a WaitGroup,
// started from New/Start and stopped by canceling the run context and
// waiting for every goroutine to drain (spec.md §4.J's graceful-shutdown
// requirement).
package workers

import (
	"context"
	"log/slog"
	"sync"
)

// Listener is anything that can run a blocking dispatch loop until its
// context is canceled — internal/inbox.Pipeline.Listen and
// internal/outbox.Pipeline.Listen both satisfy this.
type Listener interface {
	Listen(ctx context.Context) error
}

// Config configures a Manager.
type Config struct {
	// Inbox, when set, is started as the inbound dispatch consumer.
	Inbox Listener
	// Outbox, when set, is started as the outbound delivery consumer.
	Outbox Listener
	Logger *slog.Logger
}

// Manager owns the lifecycle of the engine's background queue consumers.
type Manager struct {
	cfg    Config
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New returns a Manager for cfg. Call Start to begin consuming.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Start launches every configured consumer in its own goroutine. Start must
// only be called once; call Stop to shut down.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.startListener("inbox", m.cfg.Inbox, runCtx)
	m.startListener("outbox", m.cfg.Outbox, runCtx)
}

func (m *Manager) startListener(name string, l Listener, ctx context.Context) {
	if l == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.cfg.Logger.Info("worker started", slog.String("worker", name))
		if err := l.Listen(ctx); err != nil && ctx.Err() == nil {
			m.cfg.Logger.Error("worker exited with error", slog.String("worker", name), slog.Any("error", err))
			return
		}
		m.cfg.Logger.Info("worker stopped", slog.String("worker", name))
	}()
}

// Stop cancels every running consumer's context and blocks until each has
// drained its in-flight work and returned.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
