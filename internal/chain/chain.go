// Package chain runs a query through an ordered list of transports, one at a
// time, until one of them produces an acceptable response.
//
// Each try is recorded as an Attempt. Attempts are strictly sequential, so at
// most one socket is open per query, and each try gets its own deadline:
//
//	native ──fail──▶ udp ──fail──▶ tcp ──fail──▶ *ExhaustedError
//	   │               │              │
//	   └──ok──▶ bytes  └──ok──▶ bytes └──ok──▶ bytes
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lc/txtchat/internal/dnserr"
	"github.com/lc/txtchat/internal/log"
	"github.com/lc/txtchat/internal/transport"
	"github.com/lc/txtchat/internal/wire"
)

// DefaultAttemptTimeout bounds a single try.
const DefaultAttemptTimeout = 10 * time.Second

// Attempt is the record of one try on one transport.
type Attempt struct {
	QueryID   string
	Variant   transport.Variant
	Server    string
	StartedAt time.Time
	Duration  time.Duration
	// Response holds the accepted bytes; nil when Err is set.
	Response []byte
	Err      error
}

// OK reports whether the attempt succeeded.
func (a Attempt) OK() bool { return a.Err == nil }

// Recorder receives every attempt as soon as it finishes. It must be safe for
// concurrent use.
type Recorder interface {
	Record(a Attempt)
}

// Request is one query to run through the chain.
type Request struct {
	QueryID string
	// Transport carries the encoded query and its destination.
	Transport transport.Request
	Order     []transport.Variant
	// Accept inspects raw response bytes. A non-nil error turns the attempt
	// into a failure and the chain moves on, unless the error is a definitive
	// *wire.ServerError.
	Accept func(resp []byte) error
}

// Chain owns the transports and the attempt policy.
type Chain struct {
	Transports transport.Set
	Timeout    time.Duration
	Recorder   Recorder
	Logger     *zap.SugaredLogger
	Now        func() time.Time
}

// New returns a chain over set with the default attempt timeout.
func New(set transport.Set, rec Recorder) *Chain {
	return &Chain{
		Transports: set,
		Timeout:    DefaultAttemptTimeout,
		Recorder:   rec,
		Logger:     log.Named("chain"),
		Now:        time.Now,
	}
}

// Run tries each variant of req.Order in turn and returns the first accepted
// response. When every variant fails it returns an *ExhaustedError holding all
// attempts. A definitive server answer (NXDOMAIN) ends the chain early with
// that error, and so does cancellation of ctx.
func (c *Chain) Run(ctx context.Context, req Request) ([]byte, error) {
	if len(req.Order) == 0 {
		return nil, fmt.Errorf("%w: empty transport order", transport.ErrUnavailable)
	}

	attempts := make([]Attempt, 0, len(req.Order))
	for _, v := range req.Order {
		a := c.attempt(ctx, v, req)
		attempts = append(attempts, a)
		c.record(a)

		if a.OK() {
			return a.Response, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("query %s canceled after %d attempts: %w", req.QueryID, len(attempts), err)
		}
		var se *wire.ServerError
		if errors.As(a.Err, &se) && se.Definitive() {
			return nil, a.Err
		}
	}
	return nil, &ExhaustedError{Attempts: attempts}
}

func (c *Chain) attempt(ctx context.Context, v transport.Variant, req Request) Attempt {
	a := Attempt{
		QueryID:   req.QueryID,
		Variant:   v,
		Server:    req.Transport.Server,
		StartedAt: c.now(),
	}

	t, ok := c.Transports.Get(v)
	if !ok {
		a.Err = fmt.Errorf("%w: %s", transport.ErrUnavailable, v)
		return a
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.Send(actx, req.Transport)
	if err == nil && req.Accept != nil {
		err = req.Accept(resp)
	}
	// A transport that ignores its deadline still reports a timeout.
	if err == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %s exceeded %v", transport.ErrTimeout, v, timeout)
	}

	a.Duration = c.now().Sub(a.StartedAt)
	if err != nil {
		a.Err = err
		return a
	}
	a.Response = resp
	return a
}

func (c *Chain) record(a Attempt) {
	if c.Logger != nil {
		kv := []any{
			"query_id", a.QueryID,
			"variant", a.Variant,
			"server", a.Server,
			"duration", a.Duration,
		}
		if a.OK() {
			c.Logger.Debugw("attempt succeeded", kv...)
		} else {
			kv = append(kv, "category", dnserr.Name(a.Err), "error", a.Err)
			c.Logger.Infow("attempt failed", kv...)
		}
	}
	if c.Recorder != nil {
		c.Recorder.Record(a)
	}
}

func (c *Chain) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
