package espconn

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-espconn/bridge"
	"github.com/arloliu/go-espconn/logger"
	"github.com/arloliu/go-espconn/protocol"
	"github.com/arloliu/go-espconn/transport"
)

// Default configuration values.
const (
	DefaultInitialBaudRate = bridge.DefaultBaudRate

	DefaultSyncTimeout    = 200 * time.Millisecond
	DefaultSyncRetryLimit = 5

	DefaultCommandTimeout  = 3 * time.Second
	DefaultMD5TimeoutPerMB = 8 * time.Second

	DefaultQueueDepth         = 4
	DefaultLinkLossThreshold  = 3
	DefaultReadChunkSize      = 1024
	DefaultPollInterval       = 50 * time.Millisecond
	DefaultResetHoldTime      = 100 * time.Millisecond
	DefaultBootHoldTime       = 50 * time.Millisecond
	DefaultMonitorReadTimeout = 100 * time.Millisecond
	DefaultMonitorBuffer      = 64
	DefaultEventBuffer        = 16
)

// Range limits.
const (
	MinBaudRate = 9600
	MaxBaudRate = 5_000_000

	MinSyncTimeout = 10 * time.Millisecond
	MaxSyncTimeout = 5 * time.Second

	MinSyncRetryLimit = 1
	MaxSyncRetryLimit = 20

	MinCommandTimeout = 10 * time.Millisecond
	MaxCommandTimeout = 60 * time.Second

	MaxQueueDepth        = 64
	MaxLinkLossThreshold = 100

	MinReadChunkSize = 64
	MaxReadChunkSize = protocol.MaxPayload - protocol.StatusSize

	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second

	MinMonitorReadTimeout = time.Millisecond
	MaxMonitorReadTimeout = 5 * time.Second
)

// DigestStrategy selects how ChecksumRange obtains an MD5.
type DigestStrategy int

const (
	// DigestOnDevice asks the device to hash the range with one
	// SPI_FLASH_MD5 command.
	DigestOnDevice DigestStrategy = iota
	// DigestStreamed reads the range in chunks and hashes it on the host.
	DigestStreamed
)

func (s DigestStrategy) String() string {
	switch s {
	case DigestOnDevice:
		return "device"
	case DigestStreamed:
		return "streamed"
	default:
		return "unknown"
	}
}

// ParseDigestStrategy parses "device" or "streamed".
func ParseDigestStrategy(s string) (DigestStrategy, error) {
	switch s {
	case "", "device":
		return DigestOnDevice, nil
	case "streamed", "host":
		return DigestStreamed, nil
	}

	return DigestOnDevice, fmt.Errorf("espconn: unknown digest strategy %q", s)
}

// ConnectionConfig holds the configuration of a Connection.
type ConnectionConfig struct {
	opener transport.Opener

	initialBaudRate int
	// targetBaudRate is negotiated after the handshake; zero keeps the
	// initial rate.
	targetBaudRate int

	syncTimeout    time.Duration
	syncRetryLimit int

	commandTimeout  time.Duration
	md5TimeoutPerMB time.Duration

	queueDepth        int
	linkLossThreshold int

	digestStrategy DigestStrategy
	readChunkSize  int

	pollInterval time.Duration

	// Modem line handling.
	resetOnConnect       bool
	monitorReset         bool
	invertedControlLines bool
	resetHoldTime        time.Duration
	bootHoldTime         time.Duration

	monitorReadTimeout time.Duration
	monitorBuffer      int
	eventBuffer        int

	logger logger.Logger
}

// NewConnectionConfig creates a configuration with defaults overridden by opts.
func NewConnectionConfig(opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		initialBaudRate:    DefaultInitialBaudRate,
		syncTimeout:        DefaultSyncTimeout,
		syncRetryLimit:     DefaultSyncRetryLimit,
		commandTimeout:     DefaultCommandTimeout,
		md5TimeoutPerMB:    DefaultMD5TimeoutPerMB,
		queueDepth:         DefaultQueueDepth,
		linkLossThreshold:  DefaultLinkLossThreshold,
		digestStrategy:     DigestOnDevice,
		readChunkSize:      DefaultReadChunkSize,
		pollInterval:       DefaultPollInterval,
		resetHoldTime:      DefaultResetHoldTime,
		bootHoldTime:       DefaultBootHoldTime,
		monitorReadTimeout: DefaultMonitorReadTimeout,
		monitorBuffer:      DefaultMonitorBuffer,
		eventBuffer:        DefaultEventBuffer,
		logger:             logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.opener == nil {
		cfg.opener = transport.NewSerialOpener(cfg.logger)
	}

	return cfg, nil
}

// --- Getters ---

// Opener returns the port opener.
func (cfg *ConnectionConfig) Opener() transport.Opener { return cfg.opener }

// InitialBaudRate returns the rate used to open the port.
func (cfg *ConnectionConfig) InitialBaudRate() int { return cfg.initialBaudRate }

// TargetBaudRate returns the rate negotiated after the handshake, or zero.
func (cfg *ConnectionConfig) TargetBaudRate() int { return cfg.targetBaudRate }

// SyncTimeout returns the wait for each SYNC attempt.
func (cfg *ConnectionConfig) SyncTimeout() time.Duration { return cfg.syncTimeout }

// SyncRetryLimit returns the number of SYNC transmissions before giving up.
func (cfg *ConnectionConfig) SyncRetryLimit() int { return cfg.syncRetryLimit }

// CommandTimeout returns the default per-command timeout.
func (cfg *ConnectionConfig) CommandTimeout() time.Duration { return cfg.commandTimeout }

// MD5TimeoutPerMB returns the extra time allowed per MiB hashed on the device.
func (cfg *ConnectionConfig) MD5TimeoutPerMB() time.Duration { return cfg.md5TimeoutPerMB }

// QueueDepth returns how many callers may wait behind an outstanding command.
func (cfg *ConnectionConfig) QueueDepth() int { return cfg.queueDepth }

// LinkLossThreshold returns the number of consecutive timeouts that fail the link.
func (cfg *ConnectionConfig) LinkLossThreshold() int { return cfg.linkLossThreshold }

// DigestStrategy returns the ChecksumRange strategy.
func (cfg *ConnectionConfig) DigestStrategy() DigestStrategy { return cfg.digestStrategy }

// ReadChunkSize returns the READ_FLASH_SLOW chunk size.
func (cfg *ConnectionConfig) ReadChunkSize() int { return cfg.readChunkSize }

// ResetOnConnect reports whether Connect resets the chip into its bootloader.
func (cfg *ConnectionConfig) ResetOnConnect() bool { return cfg.resetOnConnect }

// MonitorReset reports whether the monitor resets the chip into firmware.
func (cfg *ConnectionConfig) MonitorReset() bool { return cfg.monitorReset }

// MonitorReadTimeout returns the read interval of the monitor loop.
func (cfg *ConnectionConfig) MonitorReadTimeout() time.Duration { return cfg.monitorReadTimeout }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- ConnOption ---

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithOpener sets the port opener. The default opens OS serial ports.
func WithOpener(o transport.Opener) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if o == nil {
			return errors.New("espconn: opener must not be nil")
		}
		cfg.opener = o

		return nil
	})
}

// WithInitialBaudRate sets the rate the port is opened at. The ROM
// bootloader listens at 115200 after reset.
func WithInitialBaudRate(baud int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if baud < MinBaudRate || baud > MaxBaudRate {
			return fmt.Errorf("espconn: initial baud rate %d out of range [%d, %d]", baud, MinBaudRate, MaxBaudRate)
		}
		cfg.initialBaudRate = baud

		return nil
	})
}

// WithTargetBaudRate negotiates a faster rate after the handshake. The rate
// is clamped to what the bridge is known to sustain. Zero disables it.
func WithTargetBaudRate(baud int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if baud != 0 && (baud < MinBaudRate || baud > MaxBaudRate) {
			return fmt.Errorf("espconn: target baud rate %d out of range [%d, %d]", baud, MinBaudRate, MaxBaudRate)
		}
		cfg.targetBaudRate = baud

		return nil
	})
}

// WithSyncTimeout sets how long each SYNC attempt waits for an echo.
func WithSyncTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinSyncTimeout || d > MaxSyncTimeout {
			return fmt.Errorf("espconn: sync timeout %v out of range [%v, %v]", d, MinSyncTimeout, MaxSyncTimeout)
		}
		cfg.syncTimeout = d

		return nil
	})
}

// WithSyncRetryLimit sets the total number of SYNC transmissions.
func WithSyncRetryLimit(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < MinSyncRetryLimit || n > MaxSyncRetryLimit {
			return fmt.Errorf("espconn: sync retry limit %d out of range [%d, %d]", n, MinSyncRetryLimit, MaxSyncRetryLimit)
		}
		cfg.syncRetryLimit = n

		return nil
	})
}

// WithCommandTimeout sets the default per-command timeout.
func WithCommandTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinCommandTimeout || d > MaxCommandTimeout {
			return fmt.Errorf("espconn: command timeout %v out of range [%v, %v]", d, MinCommandTimeout, MaxCommandTimeout)
		}
		cfg.commandTimeout = d

		return nil
	})
}

// WithMD5TimeoutPerMB sets the extra time allowed per MiB for SPI_FLASH_MD5.
func WithMD5TimeoutPerMB(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < 0 {
			return errors.New("espconn: MD5 timeout per MiB must not be negative")
		}
		cfg.md5TimeoutPerMB = d

		return nil
	})
}

// WithQueueDepth sets how many Execute callers may wait behind the one in
// flight. Zero makes every concurrent caller fail with ErrDeviceBusy.
func WithQueueDepth(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 0 || n > MaxQueueDepth {
			return fmt.Errorf("espconn: queue depth %d out of range [0, %d]", n, MaxQueueDepth)
		}
		cfg.queueDepth = n

		return nil
	})
}

// WithLinkLossThreshold sets how many consecutive command timeouts move the
// connection to Failed.
func WithLinkLossThreshold(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 1 || n > MaxLinkLossThreshold {
			return fmt.Errorf("espconn: link loss threshold %d out of range [1, %d]", n, MaxLinkLossThreshold)
		}
		cfg.linkLossThreshold = n

		return nil
	})
}

// WithDigestStrategy selects how ChecksumRange computes its digest.
func WithDigestStrategy(s DigestStrategy) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if s != DigestOnDevice && s != DigestStreamed {
			return fmt.Errorf("espconn: unknown digest strategy %d", s)
		}
		cfg.digestStrategy = s

		return nil
	})
}

// WithReadChunkSize sets the READ_FLASH_SLOW chunk size.
func WithReadChunkSize(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < MinReadChunkSize || n > MaxReadChunkSize {
			return fmt.Errorf("espconn: read chunk size %d out of range [%d, %d]", n, MinReadChunkSize, MaxReadChunkSize)
		}
		cfg.readChunkSize = n

		return nil
	})
}

// WithPollInterval bounds each port read while waiting for a response, which
// sets how quickly a cancelled context is noticed.
func WithPollInterval(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("espconn: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithResetOnConnect pulses DTR/RTS to enter the bootloader before syncing.
func WithResetOnConnect(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.resetOnConnect = enabled

		return nil
	})
}

// WithMonitorReset resets the chip into its firmware when the monitor
// starts and back into the bootloader when it stops.
func WithMonitorReset(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.monitorReset = enabled

		return nil
	})
}

// WithInvertedControlLines swaps the polarity of DTR and RTS for boards
// whose auto-reset transistors are wired the other way.
func WithInvertedControlLines(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.invertedControlLines = enabled

		return nil
	})
}

// WithResetHoldTime sets how long EN is held low and IO0 after release.
func WithResetHoldTime(reset, boot time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if reset < 0 || boot < 0 {
			return errors.New("espconn: reset hold times must not be negative")
		}
		cfg.resetHoldTime = reset
		cfg.bootHoldTime = boot

		return nil
	})
}

// WithMonitorReadTimeout sets the read interval of the monitor loop, which
// bounds how long Monitor.Stop waits.
func WithMonitorReadTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinMonitorReadTimeout || d > MaxMonitorReadTimeout {
			return fmt.Errorf("espconn: monitor read timeout %v out of range [%v, %v]", d, MinMonitorReadTimeout, MaxMonitorReadTimeout)
		}
		cfg.monitorReadTimeout = d

		return nil
	})
}

// WithMonitorBuffer sets the capacity of the monitor line channel.
func WithMonitorBuffer(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 0 {
			return errors.New("espconn: monitor buffer must not be negative")
		}
		cfg.monitorBuffer = n

		return nil
	})
}

// WithEventBuffer sets the capacity of each subscriber channel.
func WithEventBuffer(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 0 {
			return errors.New("espconn: event buffer must not be negative")
		}
		cfg.eventBuffer = n

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("espconn: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
