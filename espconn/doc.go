// Package espconn drives an ESP32/ESP8266 bootloader over a serial link.
//
// The wire format is the sequence-tagged variant described in package
// protocol. It needs a device-side stub that speaks it (or the simulator);
// a chip left in its stock ROM loader does not answer in this format and
// Connect ends in [ErrHandshakeTimeout].
//
// A [Connection] owns one open [transport.Port] at a time. [Connection.Connect]
// opens the port, optionally resets the chip into its bootloader, runs the
// SYNC handshake and identifies the chip. Once the connection is Ready, tool
// operations such as [Connection.ReadRegister], [Connection.ChecksumRange] and
// [Connection.PartitionTable] are built on [Connection.Execute], which keeps at
// most one command on the wire.
//
// # Ownership of the port
//
// The port is handed between the command dispatcher and the monitor stream
// through a single-slot gate. Whoever holds the gate is the only goroutine
// touching the port, so the decoder and the sequence counter need no locking
// of their own. Callers of Execute that find the gate taken wait in a short
// bounded queue (see [WithQueueDepth]); callers beyond it get [ErrDeviceBusy].
// [Connection.StartMonitor] never waits: it fails with [ErrAlreadyBusy] when a
// command is outstanding.
//
// # Failure handling
//
// A timed-out command is reported as [ErrTimeout] and is not retried. A run of
// consecutive timeouts (see [WithLinkLossThreshold]) trips a circuit breaker
// and moves the connection to Failed. A Failed connection keeps its port
// handle until [Connection.Disconnect] or a new [Connection.Connect], which
// closes it and performs a fresh handshake. An I/O error from the port
// (unplug, USB reset) releases the handle at once and leaves the connection
// Disconnected.
//
// # Events
//
// Applications observe completions through [Connection.Subscribe] rather
// than registering callbacks with the engine.
//
// Basic usage:
//
//	cfg, err := espconn.NewConnectionConfig(espconn.WithTargetBaudRate(921600))
//	if err != nil {
//	    return err
//	}
//	conn, err := espconn.NewConnection(cfg)
//	if err != nil {
//	    return err
//	}
//	info, err := conn.Connect(ctx, transport.PortDescriptor{Name: "/dev/ttyACM0", VendorID: 0x303A, ProductID: 0x4001})
//	if err != nil {
//	    return err
//	}
//	defer conn.Disconnect()
//
//	fmt.Println(info.Identity.ChipFamily, info.Identity.MACString())
//	v, err := conn.ReadRegister(ctx, 0x3FF00044)
package espconn
