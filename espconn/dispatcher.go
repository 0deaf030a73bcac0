package espconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-espconn/internal/pool"
	"github.com/arloliu/go-espconn/protocol"
	"github.com/sony/gobreaker/v2"
)

// breakerTimeout keeps an opened breaker open. A failed session is never
// reused, so the half-open probe is not wanted.
const breakerTimeout = 24 * time.Hour

// Execute sends one command and waits for its response.
//
// At most one command is on the wire at a time. A caller that finds another
// command outstanding waits in a bounded queue and fails with ErrDeviceBusy
// when the queue is full. Execute fails with ErrNotReady unless the
// connection is Ready, both on entry and again once the caller owns the port.
//
// Responses with another sequence id or opcode are discarded. A framing
// error while waiting re-sends the same frame once; a second one returns an
// error matching ErrFraming. When no response arrives within timeout the
// result is ErrTimeout; the command is not retried. A zero timeout uses the
// configured command timeout.
//
// The response status is returned as received; callers decide whether a
// non-zero status is a failure.
func (c *Connection) Execute(ctx context.Context, op protocol.Opcode, payload []byte, timeout time.Duration) (*protocol.Response, error) {
	if timeout <= 0 {
		timeout = c.cfg.commandTimeout
	}

	if st := c.State(); st != ReadyState && st != BusyState {
		return nil, errNotReady(st)
	}

	if n := c.pending.Add(1); int(n) > c.cfg.queueDepth+1 {
		c.metrics.QueuedGauge.Store(c.pending.Add(-1))
		c.metrics.incBusyRejectCount()
		c.logger.Warn("espconn: command rejected, queue full", "opcode", op.String(), "queueDepth", c.cfg.queueDepth)

		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, op)
	}
	c.metrics.QueuedGauge.Store(c.pending.Load())
	defer func() { c.metrics.QueuedGauge.Store(c.pending.Add(-1)) }()

	if err := c.acquireGate(ctx); err != nil {
		return nil, err
	}
	defer c.releaseGate()

	s := c.session()
	if s == nil || !c.stateMgr.Transition(BusyState, ReadyState) {
		return nil, errNotReady(c.State())
	}
	defer c.stateMgr.Transition(ReadyState, BusyState)

	rsp, err := s.breaker.Execute(func() (*protocol.Response, error) {
		return c.roundTrip(ctx, s, exchange{op: op, payload: payload, timeout: timeout, reissue: true})
	})

	switch {
	case err == nil:
		return rsp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %w", ErrNotReady, ErrLinkLost)
	case isTimeout(err):
		c.metrics.incTimeoutCount()
		c.logger.Warn("espconn: command timeout", "opcode", op.String(), "timeout", timeout,
			"consecutive", s.breaker.Counts().ConsecutiveFailures)
	}

	return nil, err
}

// exchange describes one request/response round trip.
type exchange struct {
	op      protocol.Opcode
	payload []byte
	timeout time.Duration
	// reissue allows one re-send of the frame after a framing error.
	// Without it framing errors are skipped and the wait continues.
	reissue bool
}

// roundTrip writes a command and waits for the response carrying its
// sequence id. The caller owns the gate.
func (c *Connection) roundTrip(ctx context.Context, s *session, x exchange) (*protocol.Response, error) {
	cmd := protocol.Command{Opcode: x.op, Seq: s.seq.next(), Payload: x.payload}
	wire, err := protocol.Encode(cmd)
	if err != nil {
		return nil, err
	}

	if err := c.writeFrame(s, cmd, wire); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(x.timeout)
	reissued := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait := pool.Remaining(deadline, c.cfg.pollInterval)
		if wait == 0 {
			return nil, fmt.Errorf("%w: %s seq=%d after %v", ErrTimeout, x.op, cmd.Seq, x.timeout)
		}

		data, err := s.port.ReadAvailable(wait)
		if err != nil {
			c.linkLost(s, err)

			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		frames, ferr := s.decoder.Feed(data)
		for _, f := range frames {
			if rsp, ok := c.matchResponse(cmd, f); ok {
				c.metrics.incResponseRecvCount()

				return rsp, nil
			}
		}

		if ferr == nil {
			continue
		}

		c.metrics.addFramingErrCount(countErrors(ferr))
		if !x.reissue {
			c.logger.Debug("espconn: framing error ignored", "opcode", x.op.String(), "seq", cmd.Seq, "error", ferr)

			continue
		}
		if reissued {
			c.logger.Warn("espconn: framing error after re-issue", "opcode", x.op.String(), "seq", cmd.Seq, "error", ferr)

			return nil, fmt.Errorf("espconn: %s seq=%d: %w", x.op, cmd.Seq, ferr)
		}

		reissued = true
		c.metrics.incReissueCount()
		c.logger.Warn("espconn: framing error, re-issuing command", "opcode", x.op.String(), "seq", cmd.Seq, "error", ferr)

		s.decoder.Reset()
		if err := c.writeFrame(s, cmd, wire); err != nil {
			return nil, err
		}
		deadline = time.Now().Add(x.timeout)
	}
}

func (c *Connection) writeFrame(s *session, cmd protocol.Command, wire []byte) error {
	c.logger.Debug("espconn: send command", "opcode", cmd.Opcode.String(), "seq", cmd.Seq, "len", len(cmd.Payload))

	if _, err := s.port.Write(wire); err != nil {
		c.linkLost(s, err)

		return err
	}
	c.metrics.incCommandSendCount()

	return nil
}

// matchResponse returns the response in f if it answers cmd. Anything else
// is logged and dropped.
func (c *Connection) matchResponse(cmd protocol.Command, f protocol.Frame) (*protocol.Response, bool) {
	rsp, err := f.Response()
	if err != nil {
		c.metrics.incStaleResponseCount()
		c.logger.Debug("espconn: discarding non-response frame", "opcode", f.Opcode.String(), "seq", f.Seq, "error", err)

		return nil, false
	}

	if rsp.Seq != cmd.Seq || rsp.Opcode != cmd.Opcode {
		c.metrics.incStaleResponseCount()
		c.logger.Debug("espconn: discarding stale response",
			"want_opcode", cmd.Opcode.String(), "want_seq", cmd.Seq,
			"got_opcode", rsp.Opcode.String(), "got_seq", rsp.Seq)

		return nil, false
	}

	return rsp, true
}

func (c *Connection) newBreaker(s *session) *gobreaker.CircuitBreaker[*protocol.Response] {
	limit := uint32(c.cfg.linkLossThreshold) //nolint:gosec // bounded by MaxLinkLossThreshold

	return gobreaker.NewCircuitBreaker[*protocol.Response](gobreaker.Settings{
		Name:        "espconn:" + s.desc.Name,
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("espconn: circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				c.linkFailed(s, fmt.Errorf("%w: %d consecutive timeouts", ErrLinkLost, limit))
			}
		},
		// only silence counts toward link loss
		IsSuccessful: func(err error) bool {
			return !isTimeout(err)
		},
	})
}

func countErrors(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok { //nolint:errorlint // counting members of a join
		return len(joined.Unwrap())
	}

	return 1
}
