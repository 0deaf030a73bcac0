package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/arloliu/go-espconn/espconn"
	"github.com/arloliu/go-espconn/logger"
	"gopkg.in/yaml.v3"
)

// protocolNote is printed with the usage text.
const protocolNote = "espconnect speaks a sequence-tagged variant of the ESP ROM protocol.\n" +
	"The device must run a loader stub that speaks it; the stock ROM loader does not answer.\n" +
	"Use -simulate to try the commands without hardware."

// Config holds the command configuration. Values come from the YAML file
// first and are then overridden by flags given on the command line.
type Config struct {
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud"`
	TargetBaudRate int           `yaml:"target_baud"`
	SyncTimeout    time.Duration `yaml:"sync_timeout"`
	SyncRetries    int           `yaml:"sync_retries"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Digest         string        `yaml:"digest"`
	ResetOnConnect bool          `yaml:"reset_on_connect"`
	MonitorReset   bool          `yaml:"monitor_reset"`
	InvertLines    bool          `yaml:"invert_control_lines"`
	LogLevel       string        `yaml:"log_level"`
	LogConsole     bool          `yaml:"log_console"`
	Simulate       bool          `yaml:"simulate"`
}

func defaultConfig() Config {
	return Config{
		BaudRate:       espconn.DefaultInitialBaudRate,
		SyncTimeout:    espconn.DefaultSyncTimeout,
		SyncRetries:    espconn.DefaultSyncRetryLimit,
		CommandTimeout: espconn.DefaultCommandTimeout,
		Digest:         espconn.DigestOnDevice.String(),
		LogLevel:       "info",
	}
}

// loadConfigFile merges the YAML file at path into cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	return nil
}

// parseConfig builds the configuration from args. A config file named with
// -config is applied first; only flags present in args override it.
func parseConfig(args []string) (Config, string, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("espconnect", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: espconnect [flags]\n\n%s\n\nFlags:\n", protocolNote)
		fs.PrintDefaults()
	}
	configFile := fs.String("config", "", "YAML configuration file")
	command := fs.String("c", "", "run one shell command and exit")

	var flagCfg Config
	fs.StringVar(&flagCfg.Port, "port", "", "serial port, e.g. /dev/ttyUSB0 or COM5")
	fs.IntVar(&flagCfg.BaudRate, "baud", cfg.BaudRate, "initial baud rate")
	fs.IntVar(&flagCfg.TargetBaudRate, "target-baud", 0, "baud rate negotiated after the handshake (0 keeps the initial rate)")
	fs.DurationVar(&flagCfg.SyncTimeout, "sync-timeout", cfg.SyncTimeout, "wait per SYNC attempt")
	fs.IntVar(&flagCfg.SyncRetries, "sync-retries", cfg.SyncRetries, "SYNC attempts before giving up")
	fs.DurationVar(&flagCfg.CommandTimeout, "timeout", cfg.CommandTimeout, "command timeout")
	fs.StringVar(&flagCfg.Digest, "digest", cfg.Digest, "MD5 strategy: device or streamed")
	fs.BoolVar(&flagCfg.ResetOnConnect, "reset", false, "reset into the bootloader with DTR/RTS before syncing")
	fs.BoolVar(&flagCfg.MonitorReset, "monitor-reset", false, "reset into firmware when the monitor starts")
	fs.BoolVar(&flagCfg.InvertLines, "invert-lines", false, "invert DTR/RTS polarity")
	fs.StringVar(&flagCfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&flagCfg.LogConsole, "log-console", false, "human readable log output")
	fs.BoolVar(&flagCfg.Simulate, "simulate", false, "talk to a simulated ESP32-S3 instead of a serial port")

	if err := fs.Parse(args); err != nil {
		return cfg, "", err
	}

	if *configFile != "" {
		if err := loadConfigFile(*configFile, &cfg); err != nil {
			return cfg, "", err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = flagCfg.Port
		case "baud":
			cfg.BaudRate = flagCfg.BaudRate
		case "target-baud":
			cfg.TargetBaudRate = flagCfg.TargetBaudRate
		case "sync-timeout":
			cfg.SyncTimeout = flagCfg.SyncTimeout
		case "sync-retries":
			cfg.SyncRetries = flagCfg.SyncRetries
		case "timeout":
			cfg.CommandTimeout = flagCfg.CommandTimeout
		case "digest":
			cfg.Digest = flagCfg.Digest
		case "reset":
			cfg.ResetOnConnect = flagCfg.ResetOnConnect
		case "monitor-reset":
			cfg.MonitorReset = flagCfg.MonitorReset
		case "invert-lines":
			cfg.InvertLines = flagCfg.InvertLines
		case "log-level":
			cfg.LogLevel = flagCfg.LogLevel
		case "log-console":
			cfg.LogConsole = flagCfg.LogConsole
		case "simulate":
			cfg.Simulate = flagCfg.Simulate
		}
	})

	return cfg, *command, nil
}

// connOptions turns the configuration into connection options.
func (c Config) connOptions(l logger.Logger) ([]espconn.ConnOption, error) {
	strategy, err := espconn.ParseDigestStrategy(c.Digest)
	if err != nil {
		return nil, err
	}

	return []espconn.ConnOption{
		espconn.WithInitialBaudRate(c.BaudRate),
		espconn.WithTargetBaudRate(c.TargetBaudRate),
		espconn.WithSyncTimeout(c.SyncTimeout),
		espconn.WithSyncRetryLimit(c.SyncRetries),
		espconn.WithCommandTimeout(c.CommandTimeout),
		espconn.WithDigestStrategy(strategy),
		espconn.WithResetOnConnect(c.ResetOnConnect),
		espconn.WithMonitorReset(c.MonitorReset),
		espconn.WithInvertedControlLines(c.InvertLines),
		espconn.WithLogger(l),
	}, nil
}

func (c Config) validate() error {
	if c.Port == "" && !c.Simulate {
		return errors.New("no port given: use -port, -simulate or the ports command")
	}

	return nil
}
