package rbs

import (
	"context"
	"sync"
)

// lane runs token operations one at a time. Submissions are handed over on
// an unbuffered channel, so waiting callers are served in arrival order and
// a caller whose ctx ends before hand-over is never run.
type lane struct {
	ops  chan laneOp
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

type laneFunc func(ctx context.Context) (TokenRecord, error)

type laneResult struct {
	rec TokenRecord
	err error
}

type laneOp struct {
	ctx context.Context
	fn  laneFunc
	res chan laneResult
}

func newLane() *lane {
	l := &lane{
		ops:  make(chan laneOp),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *lane) run() {
	defer close(l.done)
	for {
		select {
		case op := <-l.ops:
			if err := op.ctx.Err(); err != nil {
				op.res <- laneResult{err: err}
				continue
			}
			rec, err := op.fn(op.ctx)
			op.res <- laneResult{rec: rec, err: err}
		case <-l.quit:
			return
		}
	}
}

// do runs fn on the lane and waits for its result. A caller that gives up
// early gets ctx.Err(); the op still finishes and its result is dropped.
func (l *lane) do(ctx context.Context, fn laneFunc) (TokenRecord, error) {
	op := laneOp{ctx: ctx, fn: fn, res: make(chan laneResult, 1)}

	select {
	case l.ops <- op:
	case <-ctx.Done():
		return TokenRecord{}, ctx.Err()
	case <-l.quit:
		return TokenRecord{}, ErrClosed
	}

	select {
	case r := <-op.res:
		return r.rec, r.err
	case <-ctx.Done():
		return TokenRecord{}, ctx.Err()
	}
}

// close waits for the running op, if any, and rejects later submissions.
func (l *lane) close() {
	l.once.Do(func() {
		close(l.quit)
		<-l.done
	})
}
