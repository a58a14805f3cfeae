package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zenyx/fleet/pkg/gateway"
	"github.com/zenyx/fleet/pkg/log"
	"github.com/zenyx/fleet/pkg/metrics"
	"github.com/zenyx/fleet/pkg/storage"
	"github.com/zenyx/fleet/pkg/types"
)

const (
	defaultStartTimeout = 10 * time.Second
	defaultStopGrace    = 5 * time.Second
)

// DispatchFunc handles one inbound message. It must not block
// indefinitely; errors are logged and isolated to the message.
type DispatchFunc func(ctx context.Context, msg types.InboundMessage, w *Worker) error

// ExitFunc is invoked exactly once when a worker's message loop ends.
// err is non-nil when the loop ended on a transport failure.
type ExitFunc func(botID string, err error)

// Config holds worker configuration
type Config struct {
	Bot      *types.Bot
	Gateway  gateway.Client
	Store    storage.Store
	Dispatch DispatchFunc
	OnExit   ExitFunc

	StartTimeout time.Duration
	StopGrace    time.Duration
}

// Worker supervises one bot connection: it owns the gateway connection,
// the inbound message loop, and the cancellation scope every delayed
// task and broadcast job for this bot hangs off.
type Worker struct {
	id       string
	bot      *types.Bot
	gw       gateway.Client
	store    storage.Store
	dispatch DispatchFunc
	onExit   ExitFunc

	startTimeout time.Duration
	stopGrace    time.Duration

	conn   gateway.Conn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	state     types.WorkerState
	lastErr   error
	startedAt time.Time

	restartCount int

	stopOnce sync.Once
	exitOnce sync.Once
	logger   zerolog.Logger
}

// New creates a worker for one bot record. The record is a snapshot:
// a re-keyed credential requires a fresh worker.
func New(cfg Config) *Worker {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		id:           cfg.Bot.ID,
		bot:          cfg.Bot,
		gw:           cfg.Gateway,
		store:        cfg.Store,
		dispatch:     cfg.Dispatch,
		onExit:       cfg.OnExit,
		startTimeout: cfg.StartTimeout,
		stopGrace:    cfg.StopGrace,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		state:        types.WorkerStateStarting,
		logger:       log.WithBotID(cfg.Bot.ID),
	}
}

// ID returns the bot ID this worker runs
func (w *Worker) ID() string { return w.id }

// Token returns the credential snapshot the worker was built from.
// The supervisor compares it against the current record to detect re-keys.
func (w *Worker) Token() string { return w.bot.Token }

// Context returns the worker's cancellation scope. Delayed tasks and
// broadcast jobs derive their contexts from it so stopping the worker
// cancels them transitively.
func (w *Worker) Context() context.Context { return w.ctx }

// State returns the current lifecycle state
func (w *Worker) State() types.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// LastError returns the error that moved the worker to Failed, if any
func (w *Worker) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// SetRestartCount records how many times the supervisor has restarted
// this bot's worker. Informational, surfaced via Status.
func (w *Worker) SetRestartCount(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restartCount = n
}

// Status returns a read-only snapshot for the status surface
func (w *Worker) Status() types.WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	st := types.WorkerStatus{
		BotID:        w.id,
		State:        w.state,
		RestartCount: w.restartCount,
		StartedAt:    w.startedAt,
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

// Uptime reports how long the worker has been running, zero before Start
func (w *Worker) Uptime() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.startedAt.IsZero() {
		return 0
	}
	return time.Since(w.startedAt)
}

// Start opens and validates the gateway connection, then begins
// consuming inbound messages. A CredentialError is terminal for this
// start attempt; retry policy belongs to the supervisor.
func (w *Worker) Start(ctx context.Context) error {
	openCtx, cancel := context.WithTimeout(ctx, w.startTimeout)
	defer cancel()

	conn, err := w.gw.Open(openCtx, w.bot.Token)
	if err != nil {
		w.setState(types.WorkerStateFailed, err)
		w.cancel()
		return fmt.Errorf("failed to open connection for bot %s: %w", w.id, err)
	}
	w.writeBackIdentity(conn.Identity())

	w.mu.Lock()
	w.conn = conn
	w.state = types.WorkerStateRunning
	w.startedAt = time.Now()
	w.mu.Unlock()

	w.logger.Info().Str("username", conn.Identity().Username).Msg("worker running")

	go w.run()

	return nil
}

// writeBackIdentity persists the gateway-resolved identity onto the bot
// record. Skipped when the record already matches, so the write happens
// at most once per credential.
func (w *Worker) writeBackIdentity(id gateway.Identity) {
	if w.bot.Username == id.Username && w.bot.DisplayName == id.DisplayName {
		return
	}
	if err := w.store.UpdateBotIdentity(w.id, id.DisplayName, id.Username); err != nil {
		w.logger.Warn().Err(err).Msg("failed to write back bot identity")
	}
}

// run is the inbound message loop. Messages are forwarded in gateway
// delivery order; the loop ends when the connection closes.
func (w *Worker) run() {
	defer close(w.done)

	for msg := range w.conn.Receive() {
		w.forward(msg)
	}

	var exitErr error
	if err := w.conn.Err(); err != nil && w.ctx.Err() == nil {
		// Transport failure, not a supervised stop.
		exitErr = err
		w.setState(types.WorkerStateFailed, err)
		w.cancel()
		w.logger.Error().Err(err).Msg("worker failed")
	}

	w.exitOnce.Do(func() {
		if w.onExit != nil {
			w.onExit(w.id, exitErr)
		}
	})
}

// forward hands one message to the dispatch callback. A bad message
// never takes down the connection: errors and panics are logged and
// counted, then the loop moves on.
func (w *Worker) forward(msg types.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatchErrorsTotal.Inc()
			w.logger.Error().Interface("panic", r).Int64("update_id", msg.UpdateID).Msg("dispatch panicked")
		}
	}()

	metrics.MessagesDispatchedTotal.Inc()
	if err := w.dispatch(w.ctx, msg, w); err != nil {
		metrics.DispatchErrorsTotal.Inc()
		w.logger.Warn().Err(err).Int64("update_id", msg.UpdateID).Msg("dispatch failed")
	}
}

// Send delivers a payload through this worker's connection
func (w *Worker) Send(ctx context.Context, recipient string, payload types.Payload) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("worker %s has no open connection", w.id)
	}
	return conn.Send(ctx, recipient, payload)
}

// Stop cancels the message loop and every child task, closes the
// connection, and waits up to the stop grace period for the loop to
// drain. Idempotent: stopping a stopped worker is a no-op.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		alreadyTerminal := w.state == types.WorkerStateStopped || w.state == types.WorkerStateFailed
		if !alreadyTerminal {
			w.state = types.WorkerStateStopping
		}
		w.mu.Unlock()

		// Cancel children first so no delayed task or broadcast send
		// races the connection teardown.
		w.cancel()
		if w.conn != nil {
			if err := w.conn.Close(); err != nil {
				w.logger.Warn().Err(err).Msg("connection close failed")
			}
		}

		if w.conn != nil {
			select {
			case <-w.done:
			case <-time.After(w.stopGrace):
				w.logger.Warn().Msg("message loop did not drain within grace period")
			}
		}

		w.mu.Lock()
		if w.state != types.WorkerStateFailed {
			w.state = types.WorkerStateStopped
		}
		w.mu.Unlock()

		w.logger.Info().Msg("worker stopped")
	})
}

// Done is closed when the message loop has fully exited
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) setState(state types.WorkerState, err error) {
	w.mu.Lock()
	w.state = state
	if err != nil {
		w.lastErr = err
	}
	w.mu.Unlock()
}
