package espconn

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic counters for a Connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// CommandSendCount indicates the number of command frames written,
	// re-issues included.
	CommandSendCount atomic.Uint64
	// ResponseRecvCount indicates the number of matching responses received.
	ResponseRecvCount atomic.Uint64
	// StaleResponseCount indicates responses discarded for a sequence id or
	// opcode mismatch.
	StaleResponseCount atomic.Uint64
	// FramingErrCount indicates frames dropped by the decoder.
	FramingErrCount atomic.Uint64
	// ReissueCount indicates commands re-sent after a framing error.
	ReissueCount atomic.Uint64
	// TimeoutCount indicates commands that got no response in time.
	TimeoutCount atomic.Uint64
	// BusyRejectCount indicates Execute calls rejected by a full queue.
	BusyRejectCount atomic.Uint64
	// SyncAttemptCount indicates SYNC frames sent during handshakes.
	SyncAttemptCount atomic.Uint64
	// MonitorLineCount indicates log lines relayed by the monitor.
	MonitorLineCount atomic.Uint64
	// DroppedEventCount indicates events not delivered to slow subscribers.
	DroppedEventCount atomic.Uint64

	// QueuedGauge indicates callers holding or waiting for the command gate.
	QueuedGauge atomic.Int32
}

func (m *ConnectionMetrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *ConnectionMetrics) incResponseRecvCount() {
	m.ResponseRecvCount.Add(1)
}

func (m *ConnectionMetrics) incStaleResponseCount() {
	m.StaleResponseCount.Add(1)
}

func (m *ConnectionMetrics) addFramingErrCount(n int) {
	m.FramingErrCount.Add(uint64(n)) //nolint:gosec // n is never negative
}

func (m *ConnectionMetrics) incReissueCount() {
	m.ReissueCount.Add(1)
}

func (m *ConnectionMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ConnectionMetrics) incBusyRejectCount() {
	m.BusyRejectCount.Add(1)
}

func (m *ConnectionMetrics) incSyncAttemptCount() {
	m.SyncAttemptCount.Add(1)
}

func (m *ConnectionMetrics) incMonitorLineCount() {
	m.MonitorLineCount.Add(1)
}

func (m *ConnectionMetrics) incDroppedEventCount() {
	m.DroppedEventCount.Add(1)
}
