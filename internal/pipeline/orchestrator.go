package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/metrics"
	"github.com/triage-ai/warden/internal/quality"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("orchestrator closed")

// Launcher performs the external work of a run. In streamed mode it
// reports through the feed and returns a nil result; in atomic mode it
// returns the terminal result.
type Launcher interface {
	Launch(ctx context.Context, req RunRequest) (*TerminalResult, error)
}

// StartRequest is the caller's view of RunRequest.
type StartRequest struct {
	DatasetID       string
	DatasetVersion  string
	Mode            Mode
	RunType         quality.RunType
	LastExecutionTS *time.Time
}

// Options configures an Orchestrator.
type Options struct {
	TickInterval   time.Duration
	LeaseTTL       time.Duration
	ReconnectDelay time.Duration
	Locker         Locker
	Metrics        *metrics.Metrics
}

const (
	defaultTickInterval   = time.Second
	defaultLeaseTTL       = 30 * time.Second
	defaultReconnectDelay = 500 * time.Millisecond
)

// Orchestrator owns one actor goroutine per dataset. All state for a
// dataset is mutated on that goroutine only.
type Orchestrator struct {
	feed     Feed
	launcher Launcher
	opts     Options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	actors map[string]*actor
	closed bool

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(feed Feed, launcher Launcher, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		feed:     feed,
		launcher: launcher,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		actors:   make(map[string]*actor),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Start begins a new run for the dataset and returns its run id. A run
// already in progress is superseded.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.DatasetID == "" {
		return "", errors.New("dataset id is required")
	}
	if req.Mode == "" {
		req.Mode = ModeStreamed
	}
	if req.RunType == "" {
		req.RunType = quality.RunPipeline
	}
	a, err := o.actor(req.DatasetID)
	if err != nil {
		return "", err
	}
	reply := make(chan startReply, 1)
	if err := a.send(ctx, startMsg{req: req, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.runID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Reset returns the dataset to idle. Results of the superseded run are
// ignored when they arrive.
func (o *Orchestrator) Reset(ctx context.Context, datasetID string) error {
	a, err := o.actor(datasetID)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	if err := a.send(ctx, resetMsg{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the dataset's state. Unknown datasets are idle.
func (o *Orchestrator) Snapshot(ctx context.Context, datasetID string) (State, error) {
	o.mu.Lock()
	a, ok := o.actors[datasetID]
	o.mu.Unlock()
	if !ok {
		return Idle(datasetID), nil
	}
	reply := make(chan State, 1)
	if err := a.send(ctx, snapshotMsg{reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Close stops every actor and releases held leases.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) actor(datasetID string) (*actor, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if a, ok := o.actors[datasetID]; ok {
		return a, nil
	}
	a := &actor{
		o:     o,
		state: Idle(datasetID),
		inbox: make(chan any, 16),
	}
	o.actors[datasetID] = a
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		a.run(o.ctx)
	}()
	return a, nil
}

type startReply struct {
	runID string
	err   error
}

type startMsg struct {
	req   StartRequest
	reply chan<- startReply
}

type resetMsg struct{ done chan<- struct{} }

type snapshotMsg struct{ reply chan<- State }

type terminalMsg struct {
	runID  string
	result *TerminalResult
	err    error
}

type actor struct {
	o     *Orchestrator
	state State
	inbox chan any

	leased bool
	ticker *time.Ticker
}

func (a *actor) send(ctx context.Context, msg any) error {
	select {
	case a.inbox <- msg:
		return nil
	case <-a.o.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) run(ctx context.Context) {
	datasetID := a.state.DatasetID
	logger := a.o.logger.With(zap.String("dataset_id", datasetID))

	records, _ := a.subscribe(ctx, logger, false)
	var reconnect <-chan time.Time
	if records == nil {
		reconnect = time.After(a.o.opts.ReconnectDelay)
	}

	defer func() {
		a.stopTicker()
		a.releaseLease(logger)
	}()

	for {
		prev := a.state.Status
		var tick <-chan time.Time
		if a.ticker != nil {
			tick = a.ticker.C
		}

		select {
		case <-ctx.Done():
			return

		case msg := <-a.inbox:
			a.handle(ctx, logger, msg)

		case rec, ok := <-records:
			if !ok {
				logger.Warn("pipeline feed disconnected, reconnecting")
				records = nil
				reconnect = time.After(a.o.opts.ReconnectDelay)
				break
			}
			a.state = Reduce(a.state, rec)

		case <-reconnect:
			reconnect = nil
			if records, _ = a.subscribe(ctx, logger, true); records == nil {
				reconnect = time.After(a.o.opts.ReconnectDelay)
			}

		case <-tick:
			a.state = Tick(a.state, a.o.opts.TickInterval)
			a.refreshLease(ctx, logger)
		}

		a.settle(logger, prev)
	}
}

// subscribe opens the feed and, on reconnect, reconciles with the latest
// known records. Reduce is idempotent so overlap with live delivery is
// harmless.
func (a *actor) subscribe(ctx context.Context, logger *zap.Logger, reconcile bool) (<-chan Record, error) {
	ch, err := a.o.feed.Subscribe(ctx, a.state.DatasetID)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("pipeline feed subscribe failed", zap.Error(err))
		}
		return nil, err
	}
	if reconcile {
		recs, err := a.o.feed.Latest(ctx, a.state.DatasetID)
		if err != nil {
			logger.Warn("pipeline reconcile failed", zap.Error(err))
			return ch, nil
		}
		for _, r := range recs {
			a.state = Reduce(a.state, r)
		}
	}
	return ch, nil
}

func (a *actor) handle(ctx context.Context, logger *zap.Logger, msg any) {
	switch m := msg.(type) {
	case startMsg:
		runID, err := a.start(ctx, logger, m.req)
		m.reply <- startReply{runID: runID, err: err}

	case resetMsg:
		a.state = Idle(a.state.DatasetID)
		close(m.done)

	case snapshotMsg:
		m.reply <- a.state.Clone()

	case terminalMsg:
		if m.runID != a.state.RunID {
			return
		}
		res := m.result
		if m.err != nil {
			logger.Error("pipeline run failed", zap.String("run_id", m.runID), zap.Error(m.err))
			res = &TerminalResult{
				RunID:      m.runID,
				FailedStep: a.state.RunningStep(),
				Error:      m.err.Error(),
				FinishedAt: a.o.now().UTC(),
			}
		}
		if res != nil {
			a.state = ApplyTerminal(a.state, *res)
		}
	}
}

func (a *actor) start(ctx context.Context, logger *zap.Logger, req StartRequest) (string, error) {
	if l := a.o.opts.Locker; l != nil {
		if err := l.Acquire(ctx, req.DatasetID, a.o.opts.LeaseTTL); err != nil {
			if errors.Is(err, ErrOwnedElsewhere) {
				return "", err
			}
			return "", fmt.Errorf("acquire lease: %w", err)
		}
		a.leased = true
	}

	runID := a.o.newID()
	a.state = Begin(req.DatasetID, runID, req.Mode, req.DatasetVersion, a.o.now())
	logger.Info("pipeline started", zap.String("run_id", runID), zap.String("mode", string(req.Mode)))

	run := RunRequest{
		DatasetID:       req.DatasetID,
		RunID:           runID,
		DatasetVersion:  req.DatasetVersion,
		Mode:            req.Mode,
		RunType:         req.RunType,
		LastExecutionTS: req.LastExecutionTS,
	}
	a.o.wg.Add(1)
	go func() {
		defer a.o.wg.Done()
		res, err := a.o.launcher.Launch(a.o.ctx, run)
		if res == nil && err == nil {
			return
		}
		// Best effort; a closed orchestrator drops the result.
		_ = a.send(a.o.ctx, terminalMsg{runID: runID, result: res, err: err})
	}()
	return runID, nil
}

// settle keeps the ticker and lease in step with the pipeline status.
func (a *actor) settle(logger *zap.Logger, prev Status) {
	cur := a.state.Status
	if cur != prev {
		a.o.opts.Metrics.IncPipelineTransition(string(cur))
		if cur == StatusSuccess || cur == StatusError {
			logger.Info("pipeline finished",
				zap.String("run_id", a.state.RunID),
				zap.String("status", string(cur)),
				zap.Int("elapsed_ticks", a.state.ElapsedTicks),
			)
		}
	}
	if cur == StatusRunning {
		if a.ticker == nil {
			a.ticker = time.NewTicker(a.o.opts.TickInterval)
		}
		return
	}
	a.stopTicker()
	a.releaseLease(logger)
}

func (a *actor) stopTicker() {
	if a.ticker != nil {
		a.ticker.Stop()
		a.ticker = nil
	}
}

func (a *actor) refreshLease(ctx context.Context, logger *zap.Logger) {
	if !a.leased {
		return
	}
	if err := a.o.opts.Locker.Refresh(ctx, a.state.DatasetID, a.o.opts.LeaseTTL); err != nil {
		logger.Warn("pipeline lease refresh failed", zap.Error(err))
	}
}

func (a *actor) releaseLease(logger *zap.Logger) {
	if !a.leased {
		return
	}
	a.leased = false
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.o.opts.Locker.Release(ctx, a.state.DatasetID); err != nil {
		logger.Warn("pipeline lease release failed", zap.Error(err))
	}
}
