package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zenyx/fleet/pkg/events"
	"github.com/zenyx/fleet/pkg/gateway"
	"github.com/zenyx/fleet/pkg/log"
	"github.com/zenyx/fleet/pkg/metrics"
	"github.com/zenyx/fleet/pkg/storage"
	"github.com/zenyx/fleet/pkg/types"
	"github.com/zenyx/fleet/pkg/worker"
)

const (
	defaultInterval      = 5 * time.Second
	defaultShutdownGrace = 15 * time.Second
	defaultBackoffBase   = 2 * time.Second
	defaultBackoffCap    = 60 * time.Second
	defaultHealthyReset  = 2 * time.Minute
)

// Config holds supervisor configuration
type Config struct {
	Store    storage.Store
	Gateway  gateway.Client
	Broker   *events.Broker
	Dispatch worker.DispatchFunc

	Interval      time.Duration
	ShutdownGrace time.Duration
	StartTimeout  time.Duration
	StopGrace     time.Duration

	BackoffBase  time.Duration
	BackoffCap   time.Duration
	HealthyReset time.Duration
}

// workerExit is a terminal-state report from a worker's message loop
type workerExit struct {
	botID string
	err   error
}

// backoffEntry tracks restart backoff for one bot
type backoffEntry struct {
	failures    int
	nextRestart time.Time
}

// Supervisor keeps the set of running workers equal to the set of
// active bot records, and nothing else. The reconciliation loop is the
// single writer of the worker map; other components only read handles.
type Supervisor struct {
	store    storage.Store
	gw       gateway.Client
	broker   *events.Broker
	dispatch worker.DispatchFunc

	interval      time.Duration
	shutdownGrace time.Duration
	startTimeout  time.Duration
	stopGrace     time.Duration
	backoffBase   time.Duration
	backoffCap    time.Duration
	healthyReset  time.Duration

	mu      sync.RWMutex
	workers map[string]*worker.Worker

	// Owned exclusively by the run goroutine.
	desired    map[string]*types.Bot
	tombstones map[string]struct{}
	backoff    map[string]*backoffEntry
	lastSync   time.Time
	synced     bool

	exitCh chan workerExit
	pokeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	eventSub events.Subscriber
	logger   zerolog.Logger
}

// New creates a supervisor over the given store and gateway
func New(cfg Config) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.HealthyReset <= 0 {
		cfg.HealthyReset = defaultHealthyReset
	}

	return &Supervisor{
		store:         cfg.Store,
		gw:            cfg.Gateway,
		broker:        cfg.Broker,
		dispatch:      cfg.Dispatch,
		interval:      cfg.Interval,
		shutdownGrace: cfg.ShutdownGrace,
		startTimeout:  cfg.StartTimeout,
		stopGrace:     cfg.StopGrace,
		backoffBase:   cfg.BackoffBase,
		backoffCap:    cfg.BackoffCap,
		healthyReset:  cfg.HealthyReset,
		workers:       make(map[string]*worker.Worker),
		desired:       make(map[string]*types.Bot),
		tombstones:    make(map[string]struct{}),
		backoff:       make(map[string]*backoffEntry),
		exitCh:        make(chan workerExit, 64),
		pokeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		logger:        log.WithComponent("supervisor"),
	}
}

// Start begins the reconciliation loop
func (s *Supervisor) Start() {
	if s.broker != nil {
		s.eventSub = s.broker.Subscribe()
		go s.watchHints()
	}
	go s.run()
}

// Stop shuts the supervisor down: the loop exits, then every worker is
// stopped concurrently within the shutdown grace period.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	<-s.doneCh

	if s.broker != nil && s.eventSub != nil {
		s.broker.Unsubscribe(s.eventSub)
	}

	s.mu.Lock()
	running := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		running = append(running, w)
	}
	s.workers = make(map[string]*worker.Worker)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range running {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		s.logger.Warn().Msg("shutdown grace period expired with workers still stopping")
	}

	s.logger.Info().Int("workers", len(running)).Msg("supervisor stopped")
}

// Poke requests an immediate reconciliation pass. This is the optional
// push hint: correctness never depends on it, it only shortens latency.
func (s *Supervisor) Poke() {
	select {
	case s.pokeCh <- struct{}{}:
	default:
	}
}

// WorkerFor returns the live worker for a bot, if one is running
func (s *Supervisor) WorkerFor(botID string) (*worker.Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[botID]
	return w, ok
}

// WorkerStatuses returns a snapshot of every live worker
func (s *Supervisor) WorkerStatuses() []types.WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]types.WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		statuses = append(statuses, w.Status())
	}
	return statuses
}

// watchHints converts bot record events into reconciliation pokes
func (s *Supervisor) watchHints() {
	for {
		select {
		case ev, ok := <-s.eventSub:
			if !ok {
				return
			}
			switch ev.Type {
			case events.EventBotCreated, events.EventBotUpdated, events.EventBotDeleted:
				s.Poke()
			}
		case <-s.stopCh:
			return
		}
	}
}

// run is the reconciliation loop. Passes never overlap: ticker events,
// pokes, and worker exits are all serialized through this goroutine,
// which is the only writer of the worker map.
func (s *Supervisor) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.reconcile()

	for {
		select {
		case <-ticker.C:
			s.reconcile()
		case <-s.pokeCh:
			s.reconcile()
		case exit := <-s.exitCh:
			s.handleExit(exit)
		case <-s.stopCh:
			return
		}
	}
}

// reconcile performs one pass: fetch changed records, fold them into the
// desired view, then align running workers with it.
func (s *Supervisor) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	// The fetch window opens before the query so a record updated while
	// the pass runs is re-delivered next pass rather than missed.
	fetchStart := time.Now()

	var records []*types.Bot
	var err error
	if s.synced {
		records, err = s.store.ListBotsChangedSince(s.lastSync)
	} else {
		records, err = s.store.ListBots()
	}
	if err != nil {
		// Fail safe: leave previous state untouched, retry next interval.
		metrics.ReconciliationErrorsTotal.Inc()
		s.logger.Error().Err(err).Msg("state fetch failed, keeping previous view")
		return
	}

	for _, rec := range records {
		if rec.Status == types.BotStatusDeleted {
			s.tombstones[rec.ID] = struct{}{}
		}
		s.desired[rec.ID] = rec
	}

	s.align()

	s.lastSync = fetchStart
	s.synced = true

	s.updateGauges()
}

// align starts and stops workers until the running set matches the
// desired view. Sequencing is strict: a re-keyed bot's old worker is
// fully stopped before the replacement starts.
func (s *Supervisor) align() {
	now := time.Now()

	for id, bot := range s.desired {
		w, running := s.lookupWorker(id)
		_, tombstoned := s.tombstones[id]

		// Deleted is terminal: stop and never restart, even if the
		// record status is later rewritten.
		if tombstoned {
			if running {
				s.stopWorker(w)
			}
			delete(s.backoff, id)
			continue
		}

		switch bot.Status {
		case types.BotStatusActive:
			if running && w.Token() != bot.Token {
				// Re-key: the old connection must be closed before a
				// new one opens under the replacement credential.
				s.logger.Info().Str("bot_id", id).Msg("credential changed, recycling worker")
				s.stopWorker(w)
				delete(s.backoff, id)
				running = false
			}
			if !running && s.restartAllowed(id, now) {
				s.startWorker(bot)
			}
		default:
			if running {
				s.stopWorker(w)
			}
			// A paused bot starts with a clean slate on resume.
			delete(s.backoff, id)
		}
	}
}

// restartAllowed checks the backoff schedule for a bot
func (s *Supervisor) restartAllowed(id string, now time.Time) bool {
	e, ok := s.backoff[id]
	if !ok {
		return true
	}
	return !now.Before(e.nextRestart)
}

// startWorker creates, registers, and starts a worker for one record.
// The map entry is inserted before Start so no concurrent pass could
// ever run two workers for the same id.
func (s *Supervisor) startWorker(bot *types.Bot) {
	snapshot := *bot
	w := worker.New(worker.Config{
		Bot:          &snapshot,
		Gateway:      s.gw,
		Store:        s.store,
		Dispatch:     s.dispatch,
		OnExit:       s.reportExit,
		StartTimeout: s.startTimeout,
		StopGrace:    s.stopGrace,
	})

	if e, ok := s.backoff[bot.ID]; ok && e.failures > 0 {
		w.SetRestartCount(e.failures)
		metrics.WorkerRestartsTotal.Inc()
	}

	s.mu.Lock()
	s.workers[bot.ID] = w
	s.mu.Unlock()

	// The worker bounds its own validation timeout.
	if err := w.Start(context.Background()); err != nil {
		s.mu.Lock()
		delete(s.workers, bot.ID)
		s.mu.Unlock()

		s.handleStartFailure(bot, err)
		return
	}

	s.publish(events.EventWorkerStarted, bot.ID, "worker started")
	s.logger.Info().Str("bot_id", bot.ID).Msg("worker started")
}

// handleStartFailure applies the error taxonomy to a failed start:
// credential errors deactivate the record so the tenant can see it,
// transient errors go through restart backoff.
func (s *Supervisor) handleStartFailure(bot *types.Bot, err error) {
	if gateway.IsCredentialError(err) {
		s.logger.Warn().Err(err).Str("bot_id", bot.ID).Msg("credential rejected, deactivating bot")
		if uerr := s.store.UpdateBotStatus(bot.ID, types.BotStatusInactive); uerr != nil {
			s.logger.Error().Err(uerr).Str("bot_id", bot.ID).Msg("failed to deactivate bot")
		}
		delete(s.backoff, bot.ID)
		s.publish(events.EventWorkerFailed, bot.ID, "credential rejected")
		return
	}

	s.recordFailure(bot.ID, 0)
	s.publish(events.EventWorkerFailed, bot.ID, "start failed")
	s.logger.Warn().Err(err).Str("bot_id", bot.ID).Msg("worker start failed, will retry with backoff")
}

// stopWorker stops a worker and removes it from the running set
func (s *Supervisor) stopWorker(w *worker.Worker) {
	w.Stop()

	s.mu.Lock()
	if current, ok := s.workers[w.ID()]; ok && current == w {
		delete(s.workers, w.ID())
	}
	s.mu.Unlock()

	s.publish(events.EventWorkerStopped, w.ID(), "worker stopped")
}

// reportExit is the worker's terminal-state callback. It runs on the
// worker goroutine, so it only enqueues; the run goroutine mutates.
func (s *Supervisor) reportExit(botID string, err error) {
	select {
	case s.exitCh <- workerExit{botID: botID, err: err}:
	default:
		// Queue full; the next polling pass observes the dead worker.
		s.Poke()
	}
}

// handleExit processes a worker's terminal-state report
func (s *Supervisor) handleExit(exit workerExit) {
	s.mu.Lock()
	w, ok := s.workers[exit.botID]
	if ok {
		delete(s.workers, exit.botID)
	}
	s.mu.Unlock()

	if !ok {
		// Already removed by a supervised stop.
		return
	}

	if exit.err != nil {
		s.recordFailure(exit.botID, w.Uptime())
		s.publish(events.EventWorkerFailed, exit.botID, exit.err.Error())
		s.logger.Warn().Err(exit.err).Str("bot_id", exit.botID).Msg("worker failed")
	}

	// Restart decisions belong to the next reconcile pass, which checks
	// the record status and the backoff schedule.
	s.Poke()
}

// recordFailure advances the exponential backoff schedule for a bot.
// A sustained healthy run resets the schedule first.
func (s *Supervisor) recordFailure(id string, uptime time.Duration) {
	e, ok := s.backoff[id]
	if !ok {
		e = &backoffEntry{}
		s.backoff[id] = e
	}

	if uptime >= s.healthyReset {
		e.failures = 0
	}
	e.failures++

	delay := s.backoffBase << (e.failures - 1)
	if delay > s.backoffCap || delay <= 0 {
		delay = s.backoffCap
	}
	e.nextRestart = time.Now().Add(delay)
}

// updateGauges refreshes the fleet-level prometheus gauges
func (s *Supervisor) updateGauges() {
	botCounts := make(map[types.BotStatus]int)
	for _, bot := range s.desired {
		botCounts[bot.Status]++
	}

	metrics.BotsTotal.Reset()
	for status, count := range botCounts {
		metrics.BotsTotal.WithLabelValues(string(status)).Set(float64(count))
	}

	stateCounts := make(map[types.WorkerState]int)
	s.mu.RLock()
	for _, w := range s.workers {
		stateCounts[w.State()]++
	}
	s.mu.RUnlock()

	metrics.WorkersTotal.Reset()
	for state, count := range stateCounts {
		metrics.WorkersTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

// publish emits an event when a broker is attached
func (s *Supervisor) publish(eventType events.EventType, botID, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:    eventType,
		BotID:   botID,
		Message: message,
	})
}

// lookupWorker reads the running set
func (s *Supervisor) lookupWorker(id string) (*worker.Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	return w, ok
}
