package espconn

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// maxLineLength flushes a line that never sees a newline.
const maxLineLength = 4096

// Monitor relays device log output line by line while it owns the port.
// No command can be sent until Stop returns.
type Monitor struct {
	c *Connection
	s *session

	lines    chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	stopping atomic.Bool
	done     chan struct{}

	// err is written by the reader loop before done is closed.
	err error

	finishOnce sync.Once
	finishErr  error
}

// StartMonitor takes the port away from the command path and starts relaying
// device output.
//
// It fails with ErrAlreadyMonitoring when a monitor is running, with
// ErrAlreadyBusy while a command is outstanding or queued, and with
// ErrNotReady in any other state than Ready. With monitor reset enabled the
// device is first rebooted into its firmware.
func (c *Connection) StartMonitor(ctx context.Context) (*Monitor, error) {
	switch st := c.State(); st {
	case MonitoringState:
		return nil, ErrAlreadyMonitoring
	case BusyState:
		return nil, ErrAlreadyBusy
	case ReadyState:
	default:
		return nil, errNotReady(st)
	}

	if !c.tryAcquireGate() {
		return nil, ErrAlreadyBusy
	}
	if c.pending.Load() > 0 {
		c.releaseGate()

		return nil, ErrAlreadyBusy
	}

	s := c.session()
	if s == nil || !c.stateMgr.Transition(MonitoringState, ReadyState) {
		st := c.State()
		c.releaseGate()

		if st == MonitoringState {
			return nil, ErrAlreadyMonitoring
		}

		return nil, errNotReady(st)
	}

	if c.cfg.monitorReset {
		if err := c.bootFirmware(ctx, s); err != nil {
			c.logger.Error("espconn: firmware reset failed", "error", err)
			c.stateMgr.Transition(ReadyState, MonitoringState)
			c.releaseGate()

			return nil, err
		}
	}

	m := &Monitor{
		c:      c,
		s:      s,
		lines:  make(chan string, c.cfg.monitorBuffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.sessMu.Lock()
	c.monitor = m
	c.sessMu.Unlock()

	go m.run()

	c.logger.Info("espconn: monitor started", "port", s.desc.Name, "reset", c.cfg.monitorReset)
	c.events.publish(Event{Kind: EventMonitorStarted, State: MonitoringState})

	return m, nil
}

// Lines returns the channel of log lines, without line terminators. It is
// closed when the monitor stops.
func (m *Monitor) Lines() <-chan string { return m.lines }

// Done is closed when the reader loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Err returns the read error that ended the monitor, or nil after a
// requested stop. It is only meaningful once Done is closed.
func (m *Monitor) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Stop ends the monitor and hands the port back to the command path. It
// returns once the reader loop has exited, within one monitor read timeout.
// Stop may be called more than once. The error is the one that ended the
// monitor early, if any.
func (m *Monitor) Stop() error {
	m.requestStop()
	<-m.done

	if err := m.c.finishMonitor(m); err != nil {
		return err
	}

	return m.err
}

func (m *Monitor) requestStop() {
	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		close(m.stopCh)
	})
}

func (m *Monitor) run() {
	err := m.relay()
	m.err = err
	close(m.lines)
	close(m.done)

	// the port is released only after done is closed: release waits on it
	if err != nil {
		m.c.linkLost(m.s, err)
	}
}

// relay copies lines to the consumer until stop or a read error.
func (m *Monitor) relay() error {
	c := m.c
	var pending []byte

	for !m.stopping.Load() {
		data, err := m.s.port.ReadAvailable(c.cfg.monitorReadTimeout)
		if err != nil {
			if m.stopping.Load() {
				return nil
			}

			return err
		}
		pending = append(pending, data...)

		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				if len(pending) < maxLineLength {
					break
				}
				i = len(pending)
			}

			line := string(bytes.TrimRight(pending[:i], "\r"))
			pending = pending[min(i+1, len(pending)):]

			if !m.deliver(line) {
				return nil
			}
		}
	}

	return nil
}

// deliver blocks while the consumer is slow; it gives up only on stop.
func (m *Monitor) deliver(line string) bool {
	select {
	case m.lines <- line:
		m.c.metrics.incMonitorLineCount()

		return true
	case <-m.stopCh:
		return false
	}
}

// finishMonitor returns the port to the command path once the reader loop
// has exited. With monitor reset enabled the device is rebooted into the
// bootloader and re-synchronized; the chip identity is kept.
func (c *Connection) finishMonitor(m *Monitor) error {
	m.finishOnce.Do(func() {
		c.sessMu.Lock()
		if c.monitor == m {
			c.monitor = nil
		}
		c.sessMu.Unlock()

		s := m.s
		if !s.closed.Load() && c.State() == MonitoringState {
			m.finishErr = c.resumeCommands(s)
		}

		c.releaseGate()

		c.logger.Info("espconn: monitor stopped", "port", s.desc.Name, "lines", c.metrics.MonitorLineCount.Load(), "error", m.finishErr)
		c.events.publish(Event{Kind: EventMonitorStopped, State: c.State(), Err: m.finishErr})
	})

	return m.finishErr
}

func (c *Connection) resumeCommands(s *session) error {
	if err := c.flushInput(s); err != nil {
		c.dropLink(s, err)

		return err
	}

	if c.cfg.monitorReset {
		ctx := context.Background()
		if err := c.resetIntoBootloader(ctx, s); err != nil {
			c.dropLink(s, err)

			return err
		}
		if err := c.sync(ctx, s); err != nil {
			c.dropLink(s, err)

			return err
		}
		if err := c.negotiateBaud(ctx, s); err != nil {
			c.dropLink(s, err)

			return err
		}
	}

	c.stateMgr.Transition(ReadyState, MonitoringState)

	return nil
}

// bootFirmware reboots into the application. Both ROM and firmware start
// at the initial rate, so a negotiated rate is dropped first.
func (c *Connection) bootFirmware(ctx context.Context, s *session) error {
	initial := c.cfg.initialBaudRate
	if safe := safeBaudRate(s.bridge, s.known); initial > safe {
		initial = safe
	}

	if int(s.baud.Load()) != initial {
		if err := s.port.SetBaudRate(initial); err != nil {
			return err
		}
		s.baud.Store(int64(initial))
	}

	return c.resetIntoFirmware(ctx, s)
}

func errNotReady(st ConnState) error {
	return fmt.Errorf("%w: state %s", ErrNotReady, st)
}
