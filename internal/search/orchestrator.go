package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/domain"
	"storesearch/searchclient/internal/metrics"
)

const (
	DefaultDebounce      = 300 * time.Millisecond
	DefaultSingleLimit   = 20
	DefaultFanOutLimit   = 50
	defaultMaxConcurrent = 4
	tracerName           = "storesearch/searchclient/internal/search"
)

// State is the orchestrator's position in the search cycle.
type State int32

const (
	StateIdle State = iota
	StateDebouncing
	StateQuerying
)

func (s State) String() string {
	switch s {
	case StateDebouncing:
		return "debouncing"
	case StateQuerying:
		return "querying"
	default:
		return "idle"
	}
}

type Config struct {
	Debounce      time.Duration
	SingleLimit   int
	FanOutLimit   int
	Lang          string
	MaxConcurrent int
	QueryTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce < 0 {
		c.Debounce = 0
	}
	if c.SingleLimit <= 0 {
		c.SingleLimit = DefaultSingleLimit
	}
	if c.FanOutLimit <= 0 {
		c.FanOutLimit = DefaultFanOutLimit
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	return c
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithHealth(health *Health) Option {
	return func(o *Orchestrator) {
		o.health = health
	}
}

// WithArtwork makes every new generation cancel the loader's pending work.
func WithArtwork(loader *ArtworkLoader) Option {
	return func(o *Orchestrator) {
		o.artwork = loader
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

type inputEvent struct {
	term      *string
	scope     *domain.SearchScope
	immediate bool
}

type debounceEvent struct {
	seq uint64
}

type scopeJob struct {
	generation uint64
	inputTerm  string
	inputScope domain.SearchScope
	query      domain.Query
}

type resultEvent struct {
	scopeJob
	items   []domain.StoreItem
	err     error
	elapsed time.Duration
}

// Orchestrator turns raw search input into published snapshots. All
// aggregator state is owned by a single goroutine; scope queries run
// concurrently and hand their results back over a channel.
type Orchestrator struct {
	catalog Catalog
	cfg     Config
	logger  *slog.Logger
	health  *Health
	artwork *ArtworkLoader
	tracer  trace.Tracer
	sem     *semaphore.Weighted

	events    chan any
	snapshots chan domain.Snapshot
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup

	state      atomic.Int32
	generation atomic.Uint64
	latest     atomic.Pointer[domain.Snapshot]

	// Owned by run.
	ctx         context.Context
	cancelRoot  context.CancelFunc
	cancelGen   context.CancelFunc
	term        string
	scope       domain.SearchScope
	current     uint64
	timer       *time.Timer
	debouncing  bool
	debounceSeq uint64
	agg         *Aggregator
}

func NewOrchestrator(cat Catalog, cfg Config, opts ...Option) *Orchestrator {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		catalog:    cat,
		cfg:        cfg,
		logger:     slog.Default(),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		events:     make(chan any, 32),
		snapshots:  make(chan domain.Snapshot, 1),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		ctx:        ctx,
		cancelRoot: cancel,
		scope:      domain.ScopeAll,
		agg:        NewAggregator(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	initial := o.agg.Snapshot()
	o.latest.Store(&initial)
	go o.run()
	return o
}

// SetTerm records a term edit and restarts the debounce timer.
func (o *Orchestrator) SetTerm(term string) {
	o.send(inputEvent{term: &term})
}

// SetScope records a scope change and restarts the debounce timer.
func (o *Orchestrator) SetScope(scope domain.SearchScope) {
	o.send(inputEvent{scope: &scope})
}

func (o *Orchestrator) SetInput(term string, scope domain.SearchScope) {
	o.send(inputEvent{term: &term, scope: &scope})
}

// Submit sets the input and dispatches a generation without waiting for
// the debounce delay.
func (o *Orchestrator) Submit(term string, scope domain.SearchScope) {
	o.send(inputEvent{term: &term, scope: &scope, immediate: true})
}

// Snapshots delivers published snapshots. A slow reader only sees the
// newest one; the channel is closed by Close.
func (o *Orchestrator) Snapshots() <-chan domain.Snapshot {
	return o.snapshots
}

// Current returns the most recently published snapshot.
func (o *Orchestrator) Current() domain.Snapshot {
	return *o.latest.Load()
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Generation returns the number of generations dispatched so far.
func (o *Orchestrator) Generation() uint64 {
	return o.generation.Load()
}

// Close cancels all outstanding work and waits for it to drain.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.done) })
	<-o.stopped
	o.inflight.Wait()
}

func (o *Orchestrator) send(event any) bool {
	select {
	case o.events <- event:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) run() {
	defer close(o.stopped)
	for {
		select {
		case <-o.done:
			o.shutdown()
			return
		case event := <-o.events:
			switch e := event.(type) {
			case inputEvent:
				o.handleInput(e)
			case debounceEvent:
				if o.debouncing && e.seq == o.debounceSeq {
					o.dispatch()
				}
			case resultEvent:
				o.handleResult(e)
			}
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.stopTimer()
	if o.cancelGen != nil {
		o.cancelGen()
	}
	o.cancelRoot()
	if o.artwork != nil {
		o.artwork.CancelAll()
	}
	close(o.snapshots)
}

func (o *Orchestrator) handleInput(e inputEvent) {
	changed := false
	if e.term != nil && *e.term != o.term {
		o.term = *e.term
		changed = true
	}
	if e.scope != nil {
		switch {
		case !e.scope.Valid():
			o.logger.Warn("ignoring invalid search scope", slog.Int("scope", int(*e.scope)))
		case *e.scope != o.scope:
			o.scope = *e.scope
			changed = true
		}
	}
	if !changed && !e.immediate {
		return
	}

	o.stopTimer()
	o.debounceSeq++
	if e.immediate {
		o.dispatch()
		return
	}
	seq := o.debounceSeq
	o.debouncing = true
	o.state.Store(int32(StateDebouncing))
	o.timer = time.AfterFunc(o.cfg.Debounce, func() {
		o.send(debounceEvent{seq: seq})
	})
}

func (o *Orchestrator) stopTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.debouncing = false
}

// dispatch starts a new generation for the current input. Everything tied
// to earlier generations is cancelled; their late results are discarded by
// handleResult regardless of whether the cancellation took effect.
func (o *Orchestrator) dispatch() {
	o.stopTimer()
	if o.cancelGen != nil {
		o.cancelGen()
		o.cancelGen = nil
	}
	if o.artwork != nil {
		o.artwork.CancelAll()
	}
	o.current++
	o.generation.Store(o.current)
	metrics.GenerationsTotal.Inc()

	term := catalog.NormalizeTerm(o.term)
	scope := o.scope
	if term == "" {
		o.state.Store(int32(StateIdle))
		o.publish(o.agg.Reset(Cycle{Generation: o.current, Scope: scope}))
		return
	}

	scopes := scope.Expand()
	limit := o.cfg.SingleLimit
	if len(scopes) > 1 {
		limit = o.cfg.FanOutLimit
	}

	ctx, cancel := context.WithCancel(o.ctx)
	o.cancelGen = cancel
	o.state.Store(int32(StateQuerying))
	o.publish(o.agg.Reset(Cycle{
		Generation: o.current,
		Term:       term,
		Scope:      scope,
		Queried:    scopes,
	}))

	o.logger.Debug("search generation started",
		slog.Uint64("generation", o.current),
		slog.String("term", Abbreviate(term, 80)),
		slog.String("scope", scope.Title()),
		slog.Int("queries", len(scopes)),
		slog.Int("limit", limit),
	)

	for _, queried := range scopes {
		job := scopeJob{
			generation: o.current,
			inputTerm:  o.term,
			inputScope: scope,
			query: domain.Query{
				Term:  term,
				Scope: queried,
				Lang:  o.cfg.Lang,
				Limit: limit,
			},
		}
		o.inflight.Add(1)
		go o.runScope(ctx, job)
	}
}

func (o *Orchestrator) runScope(ctx context.Context, job scopeJob) {
	defer o.inflight.Done()

	result := resultEvent{scopeJob: job}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		result.err = fmt.Errorf("%w: %w", catalog.ErrCancelled, err)
		o.send(result)
		return
	}
	defer o.sem.Release(1)

	queryCtx := ctx
	if o.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, o.cfg.QueryTimeout)
		defer cancel()
	}

	queryCtx, span := o.tracer.Start(queryCtx, "search.scope", trace.WithAttributes(
		attribute.String("search.scope", strings.ToLower(job.query.Scope.Title())),
		attribute.Int64("search.generation", int64(job.generation)),
		attribute.Int("search.limit", job.query.Limit),
	))
	startedAt := time.Now()
	items, err := o.catalog.Search(queryCtx, job.query)
	elapsed := time.Since(startedAt)
	if err != nil && !catalog.IsCancelled(err) && errors.Is(ctx.Err(), context.Canceled) {
		err = fmt.Errorf("%w: %w", catalog.ErrCancelled, err)
	}

	span.SetAttributes(attribute.Int("search.results", len(items)))
	if err != nil && !catalog.IsCancelled(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	o.health.Record(job.query.Scope, job.query.Term, err, elapsed, time.Now())

	result.items = items
	result.err = err
	result.elapsed = elapsed
	o.send(result)
}

func (o *Orchestrator) handleResult(e resultEvent) {
	if e.generation != o.current || e.inputTerm != o.term || e.inputScope != o.scope {
		metrics.StaleResultsDiscarded.Inc()
		o.logger.Debug("discarding stale scope result",
			slog.Uint64("generation", e.generation),
			slog.Uint64("current", o.current),
			slog.String("scope", e.query.Scope.Title()),
		)
		return
	}

	status := domain.ScopeStatus{Scope: e.query.Scope, OK: e.err == nil}
	switch {
	case e.err == nil:
		status.Count = len(e.items)
		o.agg.Merge(e.items)
		o.logger.Debug("scope query completed",
			slog.String("scope", e.query.Scope.Title()),
			slog.String("term", Abbreviate(e.query.Term, 80)),
			slog.Int("results", len(e.items)),
			slog.Int64("elapsedMs", e.elapsed.Milliseconds()),
		)
	case catalog.IsCancelled(e.err):
		status.Cancelled = true
	default:
		status.Error = e.err.Error()
		o.logger.Warn("scope query failed",
			slog.String("scope", e.query.Scope.Title()),
			slog.String("term", Abbreviate(e.query.Term, 80)),
			slog.Int64("elapsedMs", e.elapsed.Milliseconds()),
			slog.String("error", e.err.Error()),
		)
	}

	snapshot := o.agg.RecordStatus(status)
	if snapshot.Final && !o.debouncing {
		o.state.Store(int32(StateIdle))
		o.logger.Info("search completed",
			slog.Uint64("generation", snapshot.Generation),
			slog.String("term", Abbreviate(snapshot.Term, 80)),
			slog.String("scope", snapshot.Scope.Title()),
			slog.Int("sections", len(snapshot.Sections)),
			slog.Int("items", snapshot.ItemCount()),
		)
	}
	o.publish(snapshot)
}

// publish replaces any undelivered snapshot with the new one; snapshots
// carry full state so only the newest matters.
func (o *Orchestrator) publish(snapshot domain.Snapshot) {
	stored := snapshot
	o.latest.Store(&stored)
	metrics.SnapshotsPublished.Inc()
	for {
		select {
		case o.snapshots <- snapshot:
			return
		default:
		}
		select {
		case <-o.snapshots:
		default:
		}
	}
}
