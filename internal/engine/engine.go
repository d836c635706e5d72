// Package engine is the core of the txtchatd daemon. It owns the query
// pipeline and its attempt log, counts attempts per transport as they are
// recorded and prunes the log on a ticker. Log maintenance is serialized
// through a single goroutine; queries run concurrently on the pipeline.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lc/txtchat/internal/attemptlog"
	"github.com/lc/txtchat/internal/chain"
	"github.com/lc/txtchat/internal/config"
	"github.com/lc/txtchat/internal/label"
	"github.com/lc/txtchat/internal/log"
	"github.com/lc/txtchat/internal/pipeline"
	"github.com/lc/txtchat/internal/query"
	"github.com/lc/txtchat/internal/transport"
)

const (
	// DefaultPruneInterval is how often expired attempts are dropped.
	DefaultPruneInterval = 30 * time.Second
	// Small buffer for commands to avoid blocking senders momentarily.
	_commandBufferSize = 10
)

// Engine serves queries and keeps their attempt log tidy.
type Engine struct {
	pipe      *pipeline.Pipeline
	available []transport.Variant
	counts    map[transport.Variant]*counter
	logger    *zap.SugaredLogger

	// PruneInterval is read by Run.
	PruneInterval time.Duration
	// Now is the clock used for pruning.
	Now func() time.Time

	started  time.Time
	cmdChan  chan command // processed serially by runLoop
	wg       sync.WaitGroup
	cancelFn context.CancelFunc
}

type counter struct {
	attempts atomic.Int64
	failures atomic.Int64
}

// Counts is the number of attempts made on one transport.
type Counts struct {
	Attempts int64
	Failures int64
}

// Status summarizes the engine.
type Status struct {
	Uptime    time.Duration
	Available []transport.Variant
	Queries   pipeline.Stats
	Log       attemptlog.Stats
	Variants  map[transport.Variant]Counts
}

// New returns an engine serving pipe over the available transports.
func New(pipe *pipeline.Pipeline, available []transport.Variant) *Engine {
	counts := make(map[transport.Variant]*counter, len(available))
	for _, v := range []transport.Variant{transport.Native, transport.UDP, transport.TCP, transport.Mock} {
		counts[v] = new(counter)
	}
	return &Engine{
		pipe:          pipe,
		available:     append([]transport.Variant(nil), available...),
		counts:        counts,
		logger:        log.Named("engine"),
		PruneInterval: DefaultPruneInterval,
		Now:           time.Now,
		started:       time.Now(),
		cmdChan:       make(chan command, _commandBufferSize),
	}
}

// NewFromConfig probes the host once, keeps the configured transports that
// can run here and builds the pipeline for them.
func NewFromConfig(cfg *config.Config) (*Engine, error) {
	available, err := transport.Available(cfg.Order(), cfg.Capabilities())
	if err != nil {
		return nil, err
	}
	set, err := transport.NewSet(cfg.TransportSettings(cfg.HostResolver()))
	if err != nil {
		return nil, fmt.Errorf("building transports: %w", err)
	}

	pipe := pipeline.New(pipeline.Context{
		Sink:    attemptlog.New(cfg.Logs.Capacity, cfg.Logs.Retention),
		Limiter: cfg.Limiter(),
		Logger:  log.Named("pipeline"),
	}, pipeline.Config{
		Composer:       cfg.Composer(),
		Transports:     set,
		Order:          available,
		AttemptTimeout: cfg.Transport.AttemptTimeout,
		DefaultTarget:  cfg.DefaultTarget(),
		Port:           cfg.Resolver.Port,
	})
	return New(pipe, available), nil
}

// Run starts the background goroutines. ctx controls their lifetime.
func (e *Engine) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel

	attempts, unsubscribe := e.pipe.Sink().Subscribe()

	e.wg.Add(3)
	go e.runLoop(runCtx)
	go e.runTicker(runCtx)
	go e.runWatch(attempts)

	go func() {
		<-runCtx.Done()
		unsubscribe()
	}()

	e.logger.Infow("started", "transports", transport.Strings(e.available))
}

// Close stops the background goroutines and waits for them.
func (e *Engine) Close() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
	e.wg.Wait()
	e.logger.Info("stopped")
}

// Ask sends prompt to target. An empty order uses every available transport;
// otherwise transports that cannot run here are skipped.
func (e *Engine) Ask(ctx context.Context, prompt string, target query.Target, order []transport.Variant) (*pipeline.Result, error) {
	if len(order) > 0 {
		order = e.restrict(order)
		if len(order) == 0 {
			return nil, fmt.Errorf("%w: none of the requested transports can run here", transport.ErrUnavailable)
		}
	}
	return e.pipe.Ask(ctx, prompt, target, order)
}

// Sanitize turns raw into a DNS label without doing any I/O.
func (e *Engine) Sanitize(raw string) (label.Label, error) {
	return e.pipe.Sanitize(raw)
}

// Logs returns the recorded attempts, all of them when queryID is empty.
func (e *Engine) Logs(queryID string) []chain.Attempt {
	if queryID == "" {
		return e.pipe.Logs()
	}
	return e.pipe.Sink().Query(queryID)
}

// Prune drops expired attempts now and returns how many went. It needs Run.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	done := make(chan int, 1)
	select {
	case e.cmdChan <- pruneCmd{done: done}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-done:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Status returns a snapshot of the engine counters.
func (e *Engine) Status() Status {
	variants := make(map[transport.Variant]Counts, len(e.counts))
	for v, c := range e.counts {
		variants[v] = Counts{Attempts: c.attempts.Load(), Failures: c.failures.Load()}
	}
	return Status{
		Uptime:    time.Since(e.started),
		Available: append([]transport.Variant(nil), e.available...),
		Queries:   e.pipe.Stats(),
		Log:       e.pipe.Sink().Stats(),
		Variants:  variants,
	}
}

func (e *Engine) restrict(order []transport.Variant) []transport.Variant {
	out := make([]transport.Variant, 0, len(order))
	for _, v := range order {
		for _, a := range e.available {
			if v == a {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

// runLoop serializes log maintenance.
func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case cmd := <-e.cmdChan:
			switch c := cmd.(type) {
			case pruneCmd:
				n := e.pipe.Sink().ExpireNow(e.Now())
				if n > 0 {
					e.logger.Infow("pruned attempt log", "expired", n)
				}
				if c.done != nil {
					c.done <- n
				}
			default:
				e.logger.Warnf("received unknown command type: %T", cmd)
			}
		case <-ctx.Done():
			return
		}
	}
}

// runTicker periodically asks runLoop to prune.
func (e *Engine) runTicker(ctx context.Context) {
	defer e.wg.Done()

	interval := e.PruneInterval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case e.cmdChan <- pruneCmd{}:
			case <-ctx.Done():
				return
			default:
				e.logger.Info("command channel full, skipping prune cycle")
			}
		case <-ctx.Done():
			return
		}
	}
}

// runWatch counts attempts until the subscription is closed.
func (e *Engine) runWatch(attempts <-chan chain.Attempt) {
	defer e.wg.Done()

	for a := range attempts {
		c, ok := e.counts[a.Variant]
		if !ok {
			continue
		}
		c.attempts.Inc()
		if !a.OK() {
			c.failures.Inc()
		}
	}
}

// command is processed by runLoop.
type command interface {
	isCommand()
}

type pruneCmd struct {
	done chan<- int
}

func (pruneCmd) isCommand() {}
