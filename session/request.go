package session

import (
	"context"
	"time"

	"ibtrading/internal/gate"
	"ibtrading/logger"
)

// Outcome is how a blocking request ended.
type Outcome int

const (
	// TimedOut means no terminal reply arrived within the bound.
	TimedOut Outcome = iota
	// Empty means the gateway completed the request with no rows.
	Empty
	// Completed means the gateway returned at least one row.
	Completed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Empty:
		return "empty"
	default:
		return "timed_out"
	}
}

// Result carries the rows of a blocking request and how it ended.
type Result[T any] struct {
	Rows    []T
	Outcome Outcome
	Elapsed time.Duration
}

// OK is true only when rows were returned, so callers that only test
// truthiness treat empty and timed out replies alike.
func (r Result[T]) OK() bool {
	return r.Outcome == Completed
}

func (r Result[T]) TimedOut() bool {
	return r.Outcome == TimedOut
}

func (r Result[T]) Len() int {
	return len(r.Rows)
}

// First returns the first row, if any.
func (r Result[T]) First() (T, bool) {
	var zero T
	if len(r.Rows) == 0 {
		return zero, false
	}
	return r.Rows[0], true
}

func newResult[T any](rows []T, resolved bool, elapsed time.Duration) Result[T] {
	r := Result[T]{Elapsed: elapsed}
	switch {
	case !resolved:
		r.Outcome = TimedOut
	case len(rows) == 0:
		r.Outcome = Empty
	default:
		r.Outcome = Completed
		r.Rows = rows
	}
	return r
}

type requestOptions struct {
	keep       bool
	timeout    time.Duration
	timeoutSet bool
	delayed    bool
}

// RequestOption adjusts a single façade call.
type RequestOption func(*requestOptions)

// KeepStored leaves the drained rows in the reply buffer.
func KeepStored() RequestOption {
	return func(o *requestOptions) { o.keep = true }
}

// Timeout overrides the configured wait for this call. Zero waits until the
// context ends.
func Timeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// DelayedData selects delayed market data for historical requests.
func DelayedData() RequestOption {
	return func(o *requestOptions) { o.delayed = true }
}

func buildOptions(def time.Duration, opts []RequestOption) requestOptions {
	o := requestOptions{timeout: def}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// roundTrip registers a completion handle for key, runs prepare and send,
// and waits up to timeout for the terminal callback. It reports whether the
// handle resolved. Send failures and in-flight conflicts are errors; a
// timeout is not. prepare only runs once key is owned by this call, so a
// rejected duplicate leaves the in-flight request untouched.
func (s *Session) roundTrip(ctx context.Context, op string, key gate.Key, timeout time.Duration, prepare func() error, send func() error) (bool, time.Duration, error) {
	h, err := s.pending.Begin(key)
	if err != nil {
		return false, 0, err
	}
	if prepare != nil {
		if err := prepare(); err != nil {
			s.pending.Abandon(key, h)
			return false, 0, err
		}
	}

	start := time.Now()
	if err := s.pacer.WaitMessage(ctx); err != nil {
		s.pending.Abandon(key, h)
		return false, 0, err
	}
	if err := send(); err != nil {
		s.pending.Abandon(key, h)
		s.log.WithError(err).WithField("op", op).Warn("request not sent")
		return false, 0, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resolved := h.Wait(waitCtx)
	elapsed := time.Since(start)
	if !resolved {
		s.pending.Abandon(key, h)
		s.log.WithFields(logger.Fields{
			"op":      op,
			"req_id":  key.ID,
			"timeout": timeout.String(),
		}).Warn("no reply before timeout")
	}
	return resolved, elapsed, nil
}

// clearing turns a buffer reset into a roundTrip prepare step.
func clearing(reset func()) func() error {
	return func() error {
		reset()
		return nil
	}
}

// finish turns drained rows into a Result and records its outcome.
func finish[T any](s *Session, op string, rows []T, resolved bool, elapsed time.Duration) Result[T] {
	r := newResult(rows, resolved, elapsed)
	s.recorder.RecordRequest(op, r.Outcome.String(), elapsed)
	logger.LogPerformanceEntry(s.log, "session", op, elapsed, logger.Fields{
		"rows":    len(rows),
		"outcome": r.Outcome.String(),
	})
	return r
}
