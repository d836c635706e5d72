// Package pipeline turns a user prompt into an answer:
//
//	prompt → label.Sanitize → query.Compose → wire.EncodeQuery
//	       → chain.Run (decode + validate each response) → txt.Reassemble → answer
//
// A Pipeline holds no per-query state; concurrent queries share only the
// attempt sink, the rate limiter and the logger handed in through Context.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lc/txtchat/internal/attemptlog"
	"github.com/lc/txtchat/internal/chain"
	"github.com/lc/txtchat/internal/dnserr"
	"github.com/lc/txtchat/internal/label"
	"github.com/lc/txtchat/internal/log"
	"github.com/lc/txtchat/internal/query"
	"github.com/lc/txtchat/internal/transport"
	"github.com/lc/txtchat/internal/txt"
	"github.com/lc/txtchat/internal/wire"
)

// ErrRateLimited is returned when a query could not get a slot from the limiter.
var ErrRateLimited = dnserr.New(dnserr.ErrValidation, "rate limited")

// Context carries the collaborators shared by every query of a Pipeline.
type Context struct {
	// Sink receives every attempt. Nil creates a private sink.
	Sink *attemptlog.Sink
	// Limiter throttles queries. Nil disables throttling.
	Limiter *rate.Limiter
	// Logger defaults to log.Named("pipeline").
	Logger *zap.SugaredLogger
}

// Config describes what a Pipeline talks to.
type Config struct {
	Composer   *query.Composer
	Transports transport.Set
	// Order is used when a query names none.
	Order          []transport.Variant
	AttemptTimeout time.Duration
	// DefaultTarget is used when a query names no server.
	DefaultTarget query.Target
	// Port overrides the DNS port of every server. Zero means 53.
	Port int
}

// Result is the outcome of a successful query.
type Result struct {
	QueryID  string
	Name     query.Name
	Target   query.Target
	Answer   string
	Attempts []chain.Attempt
}

// Stats counts queries handled by a Pipeline.
type Stats struct {
	Queries   int64
	Succeeded int64
	Failed    int64
}

// Pipeline is the entry point for sending prompts.
type Pipeline struct {
	pctx     Context
	composer *query.Composer
	chain    *chain.Chain
	order    []transport.Variant
	target   query.Target
	port     int
	newID    func() (uint16, error)

	queries   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// New returns a Pipeline.
func New(pctx Context, cfg Config) *Pipeline {
	if pctx.Sink == nil {
		pctx.Sink = attemptlog.New(0, 0)
	}
	if pctx.Logger == nil {
		pctx.Logger = log.Named("pipeline")
	}
	if cfg.Composer == nil {
		cfg.Composer = query.NewComposer(nil, "")
	}
	if len(cfg.Order) == 0 {
		cfg.Order = transport.DefaultOrder
	}
	if cfg.DefaultTarget.Server == "" {
		cfg.DefaultTarget.Server = query.DefaultZone
	}

	c := chain.New(cfg.Transports, pctx.Sink)
	c.Logger = pctx.Logger.Named("chain")
	if cfg.AttemptTimeout > 0 {
		c.Timeout = cfg.AttemptTimeout
	}

	return &Pipeline{
		pctx:     pctx,
		composer: cfg.Composer,
		chain:    c,
		order:    cfg.Order,
		target:   cfg.DefaultTarget,
		port:     cfg.Port,
		newID:    randomID,
	}
}

// Sanitize turns raw into a DNS label without doing any I/O.
func (p *Pipeline) Sanitize(raw string) (label.Label, error) {
	return label.Sanitize(raw)
}

// SendQuery sends raw to target over the transports in order and returns the
// reassembled answer. An empty target server or order selects the defaults.
func (p *Pipeline) SendQuery(ctx context.Context, raw string, target query.Target, order []transport.Variant) (string, error) {
	res, err := p.Ask(ctx, raw, target, order)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Ask is SendQuery returning the full Result.
func (p *Pipeline) Ask(ctx context.Context, raw string, target query.Target, order []transport.Variant) (*Result, error) {
	p.queries.Inc()
	res, err := p.ask(ctx, raw, target, order)
	if err != nil {
		p.failed.Inc()
		return nil, err
	}
	p.succeeded.Inc()
	return res, nil
}

func (p *Pipeline) ask(ctx context.Context, raw string, target query.Target, order []transport.Variant) (*Result, error) {
	lbl, err := label.Sanitize(raw)
	if err != nil {
		return nil, err
	}
	if target.Server == "" {
		target = p.target
	}
	name, resolved, err := p.composer.Compose(lbl, target)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		order = p.order
	}

	id, err := p.newID()
	if err != nil {
		return nil, fmt.Errorf("transaction id: %w", err)
	}
	encoded, err := wire.EncodeQuery(string(name), wire.TypeTXT, wire.ClassIN, id)
	if err != nil {
		return nil, err
	}
	sent := wire.NewQuery(string(name), wire.TypeTXT, wire.ClassIN, id)

	if p.pctx.Limiter != nil {
		if err := p.pctx.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	}

	qid := uuid.NewString()
	logger := p.pctx.Logger.With("query_id", qid, "name", name, "server", resolved.Server)
	logger.Debugw("sending query", "order", transport.Strings(order))

	resp, err := p.chain.Run(ctx, chain.Request{
		QueryID: qid,
		Transport: transport.Request{
			Query:  encoded,
			Server: resolved.Server,
			Port:   p.port,
		},
		Order: order,
		Accept: func(resp []byte) error {
			m, err := wire.Decode(resp)
			if err != nil {
				return err
			}
			return wire.Validate(sent, m)
		},
	})
	if err != nil {
		logger.Infow("query failed", "category", dnserr.Name(err), "error", err)
		return nil, err
	}

	m, err := wire.Decode(resp)
	if err != nil {
		return nil, err
	}
	answer, err := txt.Reassemble(m.TXT())
	if err != nil {
		logger.Infow("reassembly failed", "fragments", len(m.TXT()), "error", err)
		return nil, err
	}
	logger.Debugw("query answered", "bytes", len(answer))

	return &Result{
		QueryID:  qid,
		Name:     name,
		Target:   resolved,
		Answer:   answer,
		Attempts: p.pctx.Sink.Query(qid),
	}, nil
}

// Logs returns a snapshot of every recorded attempt, oldest first.
func (p *Pipeline) Logs() []chain.Attempt {
	return p.pctx.Sink.Snapshot()
}

// Stats returns the query counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Queries:   p.queries.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
	}
}

// Order returns the default transport order.
func (p *Pipeline) Order() []transport.Variant {
	return append([]transport.Variant(nil), p.order...)
}

// Sink returns the attempt sink.
func (p *Pipeline) Sink() *attemptlog.Sink {
	return p.pctx.Sink
}

// IsDefinitive reports whether err is a negative answer that asking again
// cannot change.
func IsDefinitive(err error) bool {
	var se *wire.ServerError
	return errors.As(err, &se) && se.Definitive()
}

func randomID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
