// Command espconnect talks to an ESP32 or ESP8266 bootloader over a serial
// port.
//
// The device must run a loader stub that speaks the sequence-tagged packet
// format of package protocol; the stock ROM loader does not. Use -simulate
// to try every command without hardware.
//
// Usage:
//
//	espconnect [flags]
//
// Flags:
//
//	-port string         Serial port, e.g. /dev/ttyUSB0 or COM5
//	-config string       YAML configuration file
//	-baud int            Initial baud rate (default 115200)
//	-target-baud int     Baud rate negotiated after the handshake
//	-digest string       MD5 strategy: device or streamed (default "device")
//	-reset               Reset into the bootloader with DTR/RTS before syncing
//	-monitor-reset       Reset into firmware when the monitor starts
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-simulate            Talk to a simulated ESP32-S3
//	-c string            Run one shell command and exit
//
// Examples:
//
//	# Interactive shell on a dev kit running the loader stub
//	espconnect -port /dev/ttyACM0 -reset
//
//	# Print the partition table and exit
//	espconnect -port COM5 -c partitions
//
//	# Try the shell without hardware
//	espconnect -simulate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-espconn/espconn"
	"github.com/arloliu/go-espconn/logger"
	"github.com/arloliu/go-espconn/simulator"
	"github.com/arloliu/go-espconn/transport"
	"github.com/google/uuid"
)

// simulatedPort is the descriptor shown for the simulator: an ESP32-S3
// dev kit on its native USB port.
var simulatedPort = transport.PortDescriptor{
	Name:      "simulator",
	VendorID:  0x303A,
	ProductID: 0x4001,
	Product:   "Simulated ESP32-S3",
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, command, err := parseConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	sessionID := uuid.NewString()
	l := logger.NewSlog(level, logger.WithOutput(os.Stderr), logger.WithConsole(cfg.LogConsole)).
		With("session", sessionID)
	logger.SetLogger(l)

	opts, err := cfg.connOptions(l)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	desc := transport.PortDescriptor{Name: cfg.Port}
	if cfg.Simulate {
		dev := simulator.New(simulator.WithLogger(l))
		opts = append(opts, espconn.WithOpener(dev.Opener()))
		desc = simulatedPort
	} else if cfg.Port != "" {
		desc = describePort(cfg.Port)
	}

	connCfg, err := espconn.NewConnectionConfig(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	conn, err := espconn.NewConnection(connCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer conn.Disconnect() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Info("espconnect: session started", "port", desc.String(), "simulate", cfg.Simulate)

	sh := newShell(conn, os.Stdout, desc)

	if command != "" {
		if err := cfg.validate(); err != nil && command != "ports" {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if err := sh.exec(ctx, command); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		return 0
	}

	if err := sh.interactive(ctx, cfg.validate() == nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return 0
}

// describePort fills in USB ids for a port name from the host enumeration.
func describePort(name string) transport.PortDescriptor {
	ports, err := transport.ListPorts()
	if err != nil {
		return transport.PortDescriptor{Name: name}
	}

	for _, p := range ports {
		if p.Name == name {
			return p
		}
	}

	return transport.PortDescriptor{Name: name}
}
