package espconn

import (
	"testing"
	"time"

	"github.com/arloliu/go-espconn/logger"
	"github.com/arloliu/go-espconn/simulator"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionConfig(t *testing.T) {
	require := require.New(t)

	t.Run("Defaults", func(t *testing.T) {
		cfg, err := NewConnectionConfig()
		require.NoError(err)

		require.NotNil(cfg.Opener())
		require.Equal(DefaultInitialBaudRate, cfg.InitialBaudRate())
		require.Zero(cfg.TargetBaudRate())
		require.Equal(DefaultSyncTimeout, cfg.SyncTimeout())
		require.Equal(DefaultSyncRetryLimit, cfg.SyncRetryLimit())
		require.Equal(DefaultCommandTimeout, cfg.CommandTimeout())
		require.Equal(DefaultMD5TimeoutPerMB, cfg.MD5TimeoutPerMB())
		require.Equal(DefaultQueueDepth, cfg.QueueDepth())
		require.Equal(DefaultLinkLossThreshold, cfg.LinkLossThreshold())
		require.Equal(DigestOnDevice, cfg.DigestStrategy())
		require.Equal(DefaultReadChunkSize, cfg.ReadChunkSize())
		require.False(cfg.ResetOnConnect())
		require.False(cfg.MonitorReset())
		require.Equal(DefaultMonitorReadTimeout, cfg.MonitorReadTimeout())
		require.NotNil(cfg.GetLogger())
	})

	t.Run("Valid Options", func(t *testing.T) {
		l := logger.NewSlog(logger.WarnLevel)
		cfg, err := NewConnectionConfig(
			WithOpener(simulator.New().Opener()),
			WithInitialBaudRate(230_400),
			WithTargetBaudRate(921_600),
			WithSyncTimeout(100*time.Millisecond),
			WithSyncRetryLimit(10),
			WithCommandTimeout(time.Second),
			WithMD5TimeoutPerMB(2*time.Second),
			WithQueueDepth(0),
			WithLinkLossThreshold(5),
			WithDigestStrategy(DigestStreamed),
			WithReadChunkSize(2048),
			WithPollInterval(10*time.Millisecond),
			WithResetOnConnect(true),
			WithMonitorReset(true),
			WithInvertedControlLines(true),
			WithResetHoldTime(200*time.Millisecond, 100*time.Millisecond),
			WithMonitorReadTimeout(50*time.Millisecond),
			WithMonitorBuffer(8),
			WithEventBuffer(4),
			WithLogger(l),
		)
		require.NoError(err)

		require.Equal(230_400, cfg.InitialBaudRate())
		require.Equal(921_600, cfg.TargetBaudRate())
		require.Equal(100*time.Millisecond, cfg.SyncTimeout())
		require.Equal(10, cfg.SyncRetryLimit())
		require.Equal(time.Second, cfg.CommandTimeout())
		require.Equal(2*time.Second, cfg.MD5TimeoutPerMB())
		require.Zero(cfg.QueueDepth())
		require.Equal(5, cfg.LinkLossThreshold())
		require.Equal(DigestStreamed, cfg.DigestStrategy())
		require.Equal(2048, cfg.ReadChunkSize())
		require.True(cfg.ResetOnConnect())
		require.True(cfg.MonitorReset())
		require.Equal(50*time.Millisecond, cfg.MonitorReadTimeout())
		require.Equal(l, cfg.GetLogger())
	})

	t.Run("Invalid Options", func(t *testing.T) {
		invalid := map[string]ConnOption{
			"nil opener":            WithOpener(nil),
			"baud too low":          WithInitialBaudRate(1200),
			"baud too high":         WithInitialBaudRate(MaxBaudRate + 1),
			"target out of range":   WithTargetBaudRate(300),
			"sync timeout":          WithSyncTimeout(time.Millisecond),
			"sync retry limit":      WithSyncRetryLimit(0),
			"command timeout":       WithCommandTimeout(2 * MaxCommandTimeout),
			"negative md5 timeout":  WithMD5TimeoutPerMB(-time.Second),
			"queue depth":           WithQueueDepth(-1),
			"link loss threshold":   WithLinkLossThreshold(0),
			"digest strategy":       WithDigestStrategy(DigestStrategy(9)),
			"chunk too small":       WithReadChunkSize(MinReadChunkSize - 1),
			"chunk too large":       WithReadChunkSize(MaxReadChunkSize + 1),
			"poll interval":         WithPollInterval(0),
			"negative hold time":    WithResetHoldTime(-time.Millisecond, 0),
			"monitor read timeout":  WithMonitorReadTimeout(10 * time.Second),
			"negative monitor buf":  WithMonitorBuffer(-1),
			"negative event buffer": WithEventBuffer(-1),
			"nil logger":            WithLogger(nil),
		}

		for name, opt := range invalid {
			_, err := NewConnectionConfig(opt)
			require.Error(err, name)
		}
	})
}

func TestParseDigestStrategy(t *testing.T) {
	require := require.New(t)

	for input, want := range map[string]DigestStrategy{
		"":         DigestOnDevice,
		"device":   DigestOnDevice,
		"streamed": DigestStreamed,
		"host":     DigestStreamed,
	} {
		got, err := ParseDigestStrategy(input)
		require.NoError(err)
		require.Equal(want, got)
	}

	_, err := ParseDigestStrategy("sha256")
	require.Error(err)
	require.Equal("unknown", DigestStrategy(7).String())
}

func TestNewConnection_NilConfig(t *testing.T) {
	_, err := NewConnection(nil)
	require.Error(t, err)
}
