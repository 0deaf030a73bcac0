package espconn

import (
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-espconn/protocol"
	"github.com/arloliu/go-espconn/simulator"
	"github.com/stretchr/testify/require"
)

func readLine(t *testing.T, m *Monitor) string {
	t.Helper()

	select {
	case line, ok := <-m.Lines():
		require.True(t, ok, "monitor closed")
		return line
	case <-time.After(time.Second):
		require.FailNow(t, "no monitor line")
	}

	return ""
}

func TestMonitor_StopThenExecute(t *testing.T) {
	require := require.New(t)

	dev := simulator.New()
	conn, _ := connectTest(t, dev)
	ctx := testContext(t)
	syncs := dev.CountRequests(protocol.OpSync)

	m, err := conn.StartMonitor(ctx)
	require.NoError(err)
	require.Equal(MonitoringState, conn.State())

	dev.EmitLine("boot: ESP-IDF v5.2")
	dev.EmitRaw([]byte("I (31) cpu_start: Pro cpu up.\r\npartial"))
	dev.EmitRaw([]byte(" line\n"))

	require.Equal("boot: ESP-IDF v5.2", readLine(t, m))
	require.Equal("I (31) cpu_start: Pro cpu up.", readLine(t, m))
	require.Equal("partial line", readLine(t, m))

	_, err = conn.ReadRegister(ctx, simulator.DemoRegister)
	require.ErrorIs(err, ErrNotReady)

	_, err = conn.StartMonitor(ctx)
	require.ErrorIs(err, ErrAlreadyMonitoring)

	require.NoError(m.Stop())
	require.NoError(m.Stop())
	require.Equal(ReadyState, conn.State())

	_, ok := <-m.Lines()
	require.False(ok)

	reg, err := conn.ReadRegister(ctx, simulator.DemoRegister)
	require.NoError(err)
	require.Equal(simulator.DemoRegisterValue, reg.Value)

	// no new handshake
	require.Equal(syncs, dev.CountRequests(protocol.OpSync))
	require.Equal(uint64(3), conn.Metrics().MonitorLineCount.Load())
}

func TestMonitor_AlreadyBusy(t *testing.T) {
	require := require.New(t)

	dev := simulator.New(simulator.WithResponseDelay(80 * time.Millisecond))
	conn, _ := connectTest(t, dev,
		WithSyncTimeout(300*time.Millisecond),
		WithCommandTimeout(time.Second),
	)
	ctx := testContext(t)

	result := make(chan error, 1)
	go func() {
		_, err := conn.ReadRegister(ctx, simulator.DemoRegister)
		result <- err
	}()

	require.NoError(conn.WaitState(ctx, BusyState))

	_, err := conn.StartMonitor(ctx)
	require.ErrorIs(err, ErrAlreadyBusy)

	require.NoError(<-result)
	require.Equal(ReadyState, conn.State())

	m, err := conn.StartMonitor(ctx)
	require.NoError(err)
	require.NoError(m.Stop())
}

func TestMonitor_WithReset(t *testing.T) {
	require := require.New(t)

	dev := simulator.New(simulator.WithLogLines("Mock serial ready", "Mock serial heartbeat 1"))
	conn, _ := connectTest(t, dev, WithMonitorReset(true))
	ctx := testContext(t)
	syncs := dev.CountRequests(protocol.OpSync)

	m, err := conn.StartMonitor(ctx)
	require.NoError(err)
	require.True(dev.InFirmware())

	require.Equal("Mock serial ready", readLine(t, m))
	require.Equal("Mock serial heartbeat 1", readLine(t, m))

	require.NoError(m.Stop())
	require.False(dev.InFirmware())
	require.Equal(ReadyState, conn.State())
	require.Greater(dev.CountRequests(protocol.OpSync), syncs)

	id := conn.Identity()
	require.NotNil(id)
	require.Equal("ESP32-S3", id.ChipFamily)

	reg, err := conn.ReadRegister(ctx, simulator.DemoRegister)
	require.NoError(err)
	require.Equal(simulator.DemoRegisterValue, reg.Value)
}

func TestMonitor_SlowConsumer(t *testing.T) {
	require := require.New(t)

	dev := simulator.New()
	conn, _ := connectTest(t, dev, WithMonitorBuffer(1))

	m, err := conn.StartMonitor(testContext(t))
	require.NoError(err)

	for i := range 10 {
		dev.EmitLine(strings.Repeat("x", i+1))
	}

	// nothing is dropped while the reader is blocked
	for i := range 10 {
		require.Equal(strings.Repeat("x", i+1), readLine(t, m))
	}

	// stop wins over a blocked delivery
	dev.EmitLine("pending")
	dev.EmitLine("pending")
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(m.Stop())
	require.Less(time.Since(start), 500*time.Millisecond)
}

func TestMonitor_LongLineFlushed(t *testing.T) {
	require := require.New(t)

	dev := simulator.New()
	conn, _ := connectTest(t, dev)

	m, err := conn.StartMonitor(testContext(t))
	require.NoError(err)
	defer m.Stop() //nolint:errcheck

	dev.EmitRaw([]byte(strings.Repeat("a", maxLineLength+10)))

	line := readLine(t, m)
	require.Len(line, maxLineLength+10)
}

func TestMonitor_Unplug(t *testing.T) {
	require := require.New(t)

	dev := simulator.New()
	conn, _ := connectTest(t, dev)

	m, err := conn.StartMonitor(testContext(t))
	require.NoError(err)

	dev.Unplug()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		require.FailNow("monitor did not exit")
	}
	require.ErrorIs(m.Err(), ErrIO)

	require.NoError(conn.WaitState(testContext(t), DisconnectedState))
	require.True(dev.Closed())

	require.ErrorIs(m.Stop(), ErrIO)
	require.Equal(DisconnectedState, conn.State())

	// the gate was handed back with the port
	require.True(conn.tryAcquireGate())
	conn.releaseGate()

	require.NoError(conn.Disconnect())
	require.Equal(DisconnectedState, conn.State())
}

func TestMonitor_DisconnectWhileRunning(t *testing.T) {
	require := require.New(t)

	dev := simulator.New()
	conn, _ := connectTest(t, dev)
	events, unsubscribe := conn.Subscribe()
	defer unsubscribe()

	m, err := conn.StartMonitor(testContext(t))
	require.NoError(err)
	waitEvent(t, events, EventMonitorStarted)

	require.NoError(conn.Disconnect())
	require.Equal(DisconnectedState, conn.State())
	waitEvent(t, events, EventMonitorStopped)

	select {
	case <-m.Done():
	default:
		require.FailNow("monitor still running after disconnect")
	}
	require.NoError(m.Stop())

	// the gate was handed back
	_, err = conn.Connect(testContext(t), devkitPort)
	require.NoError(err)
	_, err = conn.ReadRegister(testContext(t), simulator.DemoRegister)
	require.NoError(err)
}
