// Package kernel runs one kernel process for one notebook.
//
// A Kernel registers a fresh session (UUIDv7) on every start, reports
// liveness with heartbeats, claims pending entries while it is the eligible
// session, and executes its assignments through a dispatch.Dispatcher.
// The only network surface is the read-only /health and /info endpoints,
// plus an optional Prometheus listener.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/roach88/nbkernel/internal/config"
	"github.com/roach88/nbkernel/internal/dispatch"
	"github.com/roach88/nbkernel/internal/engine"
	"github.com/roach88/nbkernel/internal/executor"
	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/metrics"
	"github.com/roach88/nbkernel/internal/session"
	"github.com/roach88/nbkernel/internal/store"
)

// Kernel is one kernel process lifetime.
type Kernel struct {
	cfg       config.Config
	store     *store.Store
	ownsStore bool
	engine    *engine.Engine
	exec      dispatch.Executor
	closers   []io.Closer
	clock     clockwork.Clock
	ids       engine.IDGenerator
	metrics   *metrics.Metrics

	sessionID  string
	startedAt  time.Time
	registered bool
	wake       chan struct{}
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithStore uses an already open log instead of opening cfg.SyncURL.
// The caller keeps ownership.
func WithStore(s *store.Store) Option {
	return func(k *Kernel) { k.store = s }
}

// WithClock sets the clock for heartbeats, staleness and log following.
func WithClock(c clockwork.Clock) Option {
	return func(k *Kernel) { k.clock = c }
}

// WithIDs sets the generator for session, event and entry ids.
func WithIDs(ids engine.IDGenerator) Option {
	return func(k *Kernel) { k.ids = ids }
}

// WithExecutor replaces the default cell runtimes.
func WithExecutor(exec dispatch.Executor) Option {
	return func(k *Kernel) { k.exec = exec }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(k *Kernel) { k.metrics = m }
}

// New opens the log, verifies it belongs to cfg.NotebookID and prepares a
// new session. Nothing is written until Run.
func New(cfg config.Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	k := &Kernel{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		ids:   engine.UUIDv7Generator{},
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.store == nil {
		s, err := store.Open(cfg.SyncURL)
		if err != nil {
			return nil, fmt.Errorf("open event log %s: %w", cfg.SyncURL, err)
		}
		k.store = s
		k.ownsStore = true
	}

	if _, err := k.store.BindNotebook(context.Background(), cfg.NotebookID); err != nil {
		k.closeOwned()
		return nil, err
	}

	if k.exec == nil {
		sqlRunner, err := executor.OpenSQL(cfg.SQLDatabase)
		if err != nil {
			k.closeOwned()
			return nil, err
		}
		k.closers = append(k.closers, sqlRunner)
		k.exec = executor.Default(executor.Options{
			CodeCommand: cfg.CodeCommand,
			AICommand:   cfg.AICommand,
			SQL:         sqlRunner,
		})
	}

	k.engine = engine.New(k.store, k.ids, engine.WithMetrics(k.metrics))
	k.sessionID = k.ids.Generate()
	return k, nil
}

// SessionID returns this process's session id.
func (k *Kernel) SessionID() string {
	return k.sessionID
}

// Engine returns the kernel's log replica.
func (k *Kernel) Engine() *engine.Engine {
	return k.engine
}

func (k *Kernel) origin() string {
	return "kernel:" + k.sessionID
}

// Run registers the session and runs until ctx is cancelled or a member
// loop fails. Shutdown always attempts a disconnected heartbeat, bounded by
// ShutdownGrace.
func (k *Kernel) Run(ctx context.Context) (err error) {
	k.startedAt = k.clock.Now()
	defer func() {
		err = k.shutdown(err)
	}()

	if _, err := k.engine.CatchUp(ctx); err != nil {
		return fmt.Errorf("initial catch up: %w", err)
	}

	_, out, err := k.engine.Emit(ctx, ir.KernelSessionStarted{
		SessionID:  k.sessionID,
		KernelType: k.cfg.KernelType,
		At:         k.startedAt.UnixMilli(),
	}, k.origin())
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	if !out.Applied {
		return fmt.Errorf("register session %s: %s", k.sessionID, out.Reason)
	}
	k.registered = true
	if err := k.heartbeat(ctx, session.StatusReady); err != nil {
		return err
	}

	slog.Info("kernel started",
		"notebook", k.cfg.NotebookID,
		"session", k.sessionID,
		"kernel_type", k.cfg.KernelType,
		"log", k.cfg.SyncURL,
		"seq", k.engine.LastSeq(),
	)

	g := newGroup(ctx)
	g.Go("heartbeat", k.heartbeatLoop)
	g.Go("assigner", (&assigner{
		engine:    k.engine,
		sessionID: k.sessionID,
		timeout:   k.cfg.HeartbeatTimeout,
		clock:     k.clock,
		metrics:   k.metrics,
		origin:    k.origin(),
		wake:      k.wake,
	}).run)
	g.Go("dispatcher", dispatch.New(k.engine, k.sessionID, k.exec,
		dispatch.WithClock(k.clock),
		dispatch.WithMetrics(k.metrics),
		dispatch.WithOrigin(k.origin()),
	).Run)
	g.Go("follower", func(ctx context.Context) error {
		return k.engine.Follow(ctx, k.clock, k.cfg.SyncInterval)
	})
	if k.cfg.StatusAddr != "" {
		if err := k.serve(g, "status server", k.cfg.StatusAddr, k.Handler()); err != nil {
			g.cancel()
			_ = g.Wait()
			return err
		}
	}
	if k.cfg.MetricsAddr != "" && k.metrics != nil {
		if err := k.serve(g, "metrics server", k.cfg.MetricsAddr, k.metrics.Handler()); err != nil {
			g.cancel()
			_ = g.Wait()
			return err
		}
	}

	return g.Wait()
}

// serve binds addr now, so a bad address fails startup, and serves h as a
// group member until the group stops.
func (k *Kernel) serve(g *group, name, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: listen %s: %w", name, addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	slog.Info("listening", "server", name, "addr", ln.Addr().String())

	g.Go(name, func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), k.cfg.ShutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})
	return nil
}

// shutdown reports the session disconnected and releases resources. Every
// failure is collected alongside runErr.
func (k *Kernel) shutdown(runErr error) error {
	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}

	if k.registered {
		ctx, cancel := context.WithTimeout(context.Background(), k.cfg.ShutdownGrace)
		defer cancel()
		if err := k.heartbeat(ctx, session.StatusDisconnected); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, c := range k.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if k.ownsStore {
		if err := k.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close event log: %w", err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		slog.Error("kernel stopped with errors", "session", k.sessionID, "error", err)
		return err
	}
	slog.Info("kernel stopped", "session", k.sessionID)
	return nil
}

// closeOwned releases resources opened by New when it fails partway.
func (k *Kernel) closeOwned() {
	for _, c := range k.closers {
		c.Close()
	}
	if k.ownsStore {
		k.store.Close()
	}
}
