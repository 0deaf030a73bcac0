package espconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-espconn/bridge"
	"github.com/arloliu/go-espconn/chip"
	"github.com/arloliu/go-espconn/logger"
	"github.com/arloliu/go-espconn/protocol"
	"github.com/arloliu/go-espconn/transport"
	"github.com/sony/gobreaker/v2"
)

// DeviceIdentity describes the chip found during the handshake. It never
// changes for the lifetime of a session.
type DeviceIdentity struct {
	ChipFamily      string
	MAC             [6]byte
	FlashEncryption bool
	SecureBoot      bool
	// ChipID is the GET_SECURITY_INFO chip id, or -1 when the chip was
	// identified through the magic register.
	ChipID int
	// Revision is the ECO version reported by newer ROMs.
	Revision uint32
}

// MACString renders the MAC as aa:bb:cc:dd:ee:ff.
func (d DeviceIdentity) MACString() string { return chip.FormatMAC(d.MAC) }

// DeviceInfo is the result of a successful Connect.
type DeviceInfo struct {
	Port     transport.PortDescriptor
	Identity DeviceIdentity
	Bridge   bridge.Info
	// BridgeKnown is false when the USB vendor is not in the tables.
	BridgeKnown bool
	BaudRate    int
}

// session is everything that belongs to one open port. A new session is
// created by every Connect; nothing carries over.
type session struct {
	id       uint64
	port     transport.Port
	desc     transport.PortDescriptor
	decoder  *protocol.Decoder
	seq      seqGenerator
	breaker  *gobreaker.CircuitBreaker[*protocol.Response]
	identity *DeviceIdentity
	bridge   bridge.Info
	known    bool
	baud     atomic.Int64
	phase    atomic.Int32
	closed   atomic.Bool
}

// Connection is a host-side engine for one ESP device.
type Connection struct {
	cfg    *ConnectionConfig
	logger logger.Logger

	stateMgr *ConnStateMgr
	events   *eventBus
	metrics  ConnectionMetrics

	// connMu serializes Connect and Disconnect.
	connMu sync.Mutex

	// sessMu protects sess and monitor.
	sessMu    sync.RWMutex
	sess      *session
	monitor   *Monitor
	sessionID atomic.Uint64

	// gate is the single slot owning the port. pending counts callers
	// holding or waiting for it.
	gate    chan struct{}
	pending atomic.Int32
}

// NewConnection creates a Connection. No port is opened until Connect.
func NewConnection(cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, errors.New("espconn: connection config is nil")
	}

	c := &Connection{
		cfg:    cfg,
		logger: cfg.logger,
		gate:   make(chan struct{}, 1),
	}
	c.events = newEventBus(cfg.eventBuffer, c.metrics.incDroppedEventCount)
	c.stateMgr = NewConnStateMgr(cfg.logger, c.onStateChange)

	return c, nil
}

// --- accessors ---

// State returns the current connection state.
func (c *Connection) State() ConnState { return c.stateMgr.State() }

// WaitState blocks until the connection reaches state or ctx is done.
func (c *Connection) WaitState(ctx context.Context, state ConnState) error {
	return c.stateMgr.WaitState(ctx, state)
}

// Identity returns the chip identity of the current session, or nil before
// the first successful handshake.
func (c *Connection) Identity() *DeviceIdentity {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()

	s := c.sess
	if s == nil || s.identity == nil {
		return nil
	}
	id := *s.identity

	return &id
}

// Bridge returns the bridge resolved for the current session.
func (c *Connection) Bridge() (bridge.Info, bool) {
	s := c.session()
	if s == nil {
		return bridge.Info{}, false
	}

	return s.bridge, s.known
}

// BaudRate returns the current line rate, or zero without a session.
func (c *Connection) BaudRate() int {
	s := c.session()
	if s == nil {
		return 0
	}

	return int(s.baud.Load())
}

// HandshakePhase returns the phase reached by the last handshake.
func (c *Connection) HandshakePhase() HandshakePhase {
	s := c.session()
	if s == nil {
		return PhaseIdle
	}

	return HandshakePhase(s.phase.Load())
}

// Metrics returns the connection counters.
func (c *Connection) Metrics() *ConnectionMetrics { return &c.metrics }

// GetLogger returns the logger associated with the connection.
func (c *Connection) GetLogger() logger.Logger { return c.logger }

// Config returns the connection configuration.
func (c *Connection) Config() *ConnectionConfig { return c.cfg }

// Subscribe registers for events. The returned function unsubscribes and
// closes the channel. Events are dropped for a subscriber whose channel is
// full.
func (c *Connection) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

func (c *Connection) session() *session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()

	return c.sess
}

// --- lifecycle ---

// Connect opens the port described by desc, performs the handshake and
// returns the device identity together with the resolved bridge.
//
// Connect is allowed from Disconnected and Failed. From Failed, the old port
// handle is closed first. A transport failure during the handshake releases
// the port and leaves the connection Disconnected; any other handshake
// failure leaves it Failed.
func (c *Connection) Connect(ctx context.Context, desc transport.PortDescriptor) (*DeviceInfo, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	switch st := c.State(); st {
	case DisconnectedState:
	case FailedState:
		c.logger.Info("espconn: reconnecting after failure", "port", desc.Name)
		c.teardown(nil)
	default:
		return nil, fmt.Errorf("%w: state %s", ErrAlreadyConnected, st)
	}

	info, known := bridge.Info{}, false
	if desc.IsUSB() {
		info, known = bridge.Resolve(desc.VendorID, desc.ProductID)
	}

	baud := c.cfg.initialBaudRate
	if safe := safeBaudRate(info, known); baud > safe {
		baud = safe
	}

	c.stateMgr.To(ConnectingState)
	port, err := c.cfg.opener.Open(desc, baud)
	if err != nil {
		c.stateMgr.To(DisconnectedState)
		c.logger.Error("espconn: failed to open port", "port", desc.Name, "error", err)
		if !errors.Is(err, ErrPortUnavailable) {
			err = fmt.Errorf("%w: %w", ErrPortUnavailable, err)
		}

		return nil, err
	}

	s := &session{
		id:      c.sessionID.Add(1),
		port:    port,
		desc:    desc,
		decoder: protocol.NewDecoder(),
		bridge:  info,
		known:   known,
	}
	s.baud.Store(int64(baud))
	s.breaker = c.newBreaker(s)

	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()

	c.logger.Info("espconn: port opened",
		"port", desc.Name, "baud", baud, "bridge", info.String(), "bridgeKnown", known)

	// The gate is free here: no session existed, and a Failed session's
	// owners released it when their calls returned.
	if err := c.acquireGate(ctx); err != nil {
		c.stateMgr.To(FailedState)

		return nil, err
	}
	defer c.releaseGate()

	c.stateMgr.To(SyncingState)
	identity, err := c.handshake(ctx, s)
	if err != nil {
		c.logger.Error("espconn: handshake failed", "port", desc.Name, "error", err)
		if isTransportErr(err) {
			c.linkLost(s, err)
		} else if !s.closed.Load() {
			c.stateMgr.To(FailedState)
		}

		return nil, err
	}

	c.sessMu.Lock()
	s.identity = identity
	c.sessMu.Unlock()

	c.stateMgr.To(ReadyState)

	result := &DeviceInfo{
		Port:        desc,
		Identity:    *identity,
		Bridge:      info,
		BridgeKnown: known,
		BaudRate:    int(s.baud.Load()),
	}

	c.logger.Info("espconn: device ready",
		"chip", identity.ChipFamily, "mac", identity.MACString(),
		"flashEncryption", identity.FlashEncryption, "secureBoot", identity.SecureBoot,
		"baud", result.BaudRate)
	c.events.publish(Event{Kind: EventConnected, State: ReadyState})

	return result, nil
}

// Disconnect stops a running monitor, closes the port and moves to
// Disconnected. An outstanding command fails with an I/O error.
func (c *Connection) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.State() == DisconnectedState && c.session() == nil {
		return nil
	}

	return c.teardown(nil)
}

// teardown closes the session port and moves to Disconnected. A running
// monitor is stopped and gives the gate back.
func (c *Connection) teardown(cause error) error {
	_, err := c.release(nil, cause)

	return err
}

// release detaches the current session, stops its monitor, closes the port
// and moves to Disconnected. When expect is set, nothing happens unless it is
// still the current session.
func (c *Connection) release(expect *session, cause error) (bool, error) {
	c.sessMu.Lock()
	s := c.sess
	if expect != nil && s != expect {
		c.sessMu.Unlock()

		return false, nil
	}
	m := c.monitor
	c.sess = nil
	c.sessMu.Unlock()

	if m != nil {
		m.requestStop()
	}

	var err error
	if s != nil && s.closed.CompareAndSwap(false, true) {
		err = s.port.Close()
		c.logger.Info("espconn: port closed", "port", s.desc.Name, "cause", cause)
	}

	if m != nil {
		<-m.done
		c.finishMonitor(m)
	}

	c.stateMgr.To(DisconnectedState)
	c.events.publish(Event{Kind: EventDisconnected, State: DisconnectedState, Err: cause})

	return true, err
}

// linkLost releases the port of a live session after a transport failure.
// Errors from a session that has already been replaced or closed are
// ignored.
func (c *Connection) linkLost(s *session, cause error) {
	if s.closed.Load() || c.session() != s {
		return
	}

	c.logger.Error("espconn: link lost", "port", s.desc.Name, "error", cause)
	c.events.publish(Event{Kind: EventLinkLost, State: DisconnectedState, Err: cause})

	if _, err := c.release(s, cause); err != nil {
		c.logger.Debug("espconn: close after link loss", "port", s.desc.Name, "error", err)
	}
}

// linkFailed moves a live session to Failed. The port stays open until
// Disconnect or the next Connect.
func (c *Connection) linkFailed(s *session, cause error) {
	if s.closed.Load() || c.session() != s {
		return
	}

	if c.stateMgr.Transition(FailedState, ReadyState, BusyState, MonitoringState, SyncingState) {
		c.logger.Error("espconn: link failed", "port", s.desc.Name, "error", cause)
		c.events.publish(Event{Kind: EventLinkLost, State: FailedState, Err: cause})
	}
}

// dropLink picks linkLost for transport errors and linkFailed for anything
// else.
func (c *Connection) dropLink(s *session, cause error) {
	if isTransportErr(cause) {
		c.linkLost(s, cause)

		return
	}

	c.linkFailed(s, cause)
}

func isTransportErr(err error) bool {
	return errors.Is(err, ErrIO) || errors.Is(err, transport.ErrClosed)
}

func (c *Connection) onStateChange(prev, next ConnState) {
	c.events.publish(Event{Kind: EventStateChanged, PrevState: prev, State: next})
}

// --- gate ---

func (c *Connection) acquireGate(ctx context.Context) error {
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) tryAcquireGate() bool {
	select {
	case c.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Connection) releaseGate() {
	<-c.gate
}

func safeBaudRate(info bridge.Info, known bool) int {
	if !known {
		return bridge.DefaultBaudRate
	}

	return info.SafeBaudRate()
}
