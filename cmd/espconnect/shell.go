package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/arloliu/go-espconn/bridge"
	"github.com/arloliu/go-espconn/chip"
	"github.com/arloliu/go-espconn/espconn"
	"github.com/arloliu/go-espconn/transport"
	"github.com/chzyer/readline"
)

// maxDump bounds the bytes printed by the read command.
const maxDump = 4096

var errQuit = errors.New("quit")

// shell runs espconnect commands against one connection.
type shell struct {
	conn *espconn.Connection
	desc transport.PortDescriptor
	out  io.Writer
	rl   *readline.Instance

	// listPorts is replaced in tests.
	listPorts func() ([]transport.PortDescriptor, error)
}

func newShell(conn *espconn.Connection, out io.Writer, desc transport.PortDescriptor) *shell {
	return &shell{
		conn:      conn,
		desc:      desc,
		out:       out,
		listPorts: transport.ListPorts,
	}
}

// interactive runs the readline loop until quit, EOF or ctx is done.
func (s *shell) interactive(ctx context.Context, connect bool) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "esp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	s.rl = rl
	s.out = rl.Stdout()

	s.printHelp()

	if connect {
		if err := s.connect(ctx); err != nil {
			fmt.Fprintf(s.out, "connect failed: %v\n", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return nil
		}

		if err := s.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				fmt.Fprintln(s.out, "Exiting...")
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// exec runs one command line.
func (s *shell) exec(ctx context.Context, line string) error {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "ports":
		return s.cmdPorts()
	case "connect":
		return s.connect(ctx)
	case "disconnect":
		return s.conn.Disconnect()
	case "status":
		s.cmdStatus()
		return nil
	}

	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	switch cmd {
	case "info", "i":
		return s.cmdInfo()
	case "reg", "r":
		return s.cmdReg(ctx, args)
	case "md5":
		return s.cmdMD5(ctx, args)
	case "read":
		return s.cmdRead(ctx, args)
	case "partitions", "p":
		return s.cmdPartitions(ctx)
	case "monitor", "m":
		return s.cmdMonitor(ctx)
	}

	return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
}

func (s *shell) printHelp() {
	fmt.Fprintf(s.out, `
espconnect commands:
  Connection:
    ports                 - List serial ports
    connect               - Connect and handshake
    disconnect            - Release the port
    status                - Show connection state and counters
    info                  - Show chip, MAC, security flags and bridge

  Tools:
    reg <addr>            - Read a register
    reg <addr> <value>    - Write a register
    md5 <offset> <length> - MD5 of a flash range
    read <offset> <len>   - Hex dump of a flash range
    partitions            - Show the partition table
    monitor               - Show device output until Enter

  Offsets accept presets: %s

    quit                  - Exit
`, presetNames())
}

func (s *shell) connect(ctx context.Context) error {
	if s.desc.Name == "" {
		return errors.New("no port configured")
	}

	info, err := s.conn.Connect(ctx, s.desc)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Connected to %s on %s at %d baud\n", info.Identity.ChipFamily, info.Port.Name, info.BaudRate)

	return nil
}

func (s *shell) ensureConnected(ctx context.Context) error {
	switch s.conn.State() {
	case espconn.DisconnectedState, espconn.FailedState:
		return s.connect(ctx)
	}

	return nil
}

func (s *shell) cmdPorts() error {
	ports, err := s.listPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(s.out, "No serial ports found")
		return nil
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tUSB ID\tBRIDGE\t")
	for _, p := range ports {
		id, name := "-", "-"
		if p.IsUSB() {
			id = fmt.Sprintf("%04X:%04X", p.VendorID, p.ProductID)
			if info, ok := bridge.Resolve(p.VendorID, p.ProductID); ok {
				name = info.String()
			} else if p.Product != "" {
				name = p.Product
			}
		}
		mark := ""
		if bridge.IsKnownVendor(p.VendorID) {
			mark = "*"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t\n", p.Name, mark, id, name)
	}

	return w.Flush()
}

func (s *shell) cmdStatus() {
	m := s.conn.Metrics()

	fmt.Fprintf(s.out, "State:      %s (handshake %s)\n", s.conn.State(), s.conn.HandshakePhase())
	fmt.Fprintf(s.out, "Baud rate:  %d\n", s.conn.BaudRate())
	fmt.Fprintf(s.out, "Commands:   %d sent, %d answered, %d timed out, %d re-issued\n",
		m.CommandSendCount.Load(), m.ResponseRecvCount.Load(), m.TimeoutCount.Load(), m.ReissueCount.Load())
	fmt.Fprintf(s.out, "Discarded:  %d stale, %d framing errors\n",
		m.StaleResponseCount.Load(), m.FramingErrCount.Load())
}

func (s *shell) cmdInfo() error {
	id := s.conn.Identity()
	if id == nil {
		return espconn.ErrNotReady
	}

	yesNo := map[bool]string{true: "enabled", false: "disabled"}

	fmt.Fprintf(s.out, "Chip:             %s\n", id.ChipFamily)
	if id.ChipID >= 0 {
		fmt.Fprintf(s.out, "Chip ID:          %d (revision %d)\n", id.ChipID, id.Revision)
	}
	fmt.Fprintf(s.out, "MAC:              %s\n", id.MACString())
	fmt.Fprintf(s.out, "Flash Encryption: %s\n", yesNo[id.FlashEncryption])
	fmt.Fprintf(s.out, "Secure Boot:      %s\n", yesNo[id.SecureBoot])

	if pwm, ok := chip.PWMCapabilities(id.ChipFamily); ok {
		if pwm.HasLEDC {
			fmt.Fprintf(s.out, "LEDC:             %d timers, %d channels, up to %d Hz\n", pwm.Timers, pwm.Channels, pwm.MaxFreqHz1Bit)
		} else {
			fmt.Fprintf(s.out, "LEDC:             none (%s)\n", pwm.Notes)
		}
	}

	if info, known := s.conn.Bridge(); known {
		fmt.Fprintf(s.out, "Bridge:           %s, up to %d baud\n", info.String(), info.SafeBaudRate())
	} else {
		fmt.Fprintf(s.out, "Bridge:           unknown, using %d baud\n", bridge.DefaultBaudRate)
	}

	return nil
}

func (s *shell) cmdReg(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: reg <addr> [value]")
	}

	addr, err := parseUint32(args[0])
	if err != nil {
		return err
	}

	if len(args) == 2 {
		value, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		if err := s.conn.WriteRegister(ctx, addr, value); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "0x%08x <- 0x%08x\n", addr, value)

		return nil
	}

	reg, err := s.conn.ReadRegister(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, reg.String())

	return nil
}

func (s *shell) cmdMD5(ctx context.Context, args []string) error {
	offset, length, err := parseRange(args, "md5")
	if err != nil {
		return err
	}

	digest, err := s.conn.ChecksumRange(ctx, offset, length)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s  0x%08x+0x%x (%s)\n", digest.Hex(), offset, length, digest.Strategy)

	return nil
}

func (s *shell) cmdRead(ctx context.Context, args []string) error {
	offset, length, err := parseRange(args, "read")
	if err != nil {
		return err
	}
	if length > maxDump {
		return fmt.Errorf("read is limited to %d bytes", maxDump)
	}

	data, err := s.conn.ReadFlash(ctx, offset, length)
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, hex.Dump(data))

	return nil
}

func (s *shell) cmdPartitions(ctx context.Context) error {
	tbl, err := s.conn.PartitionTable(ctx)
	if tbl == nil {
		return err
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tTYPE\tSUBTYPE\tOFFSET\tSIZE\tFLAGS\t")
	for _, e := range tbl.Entries {
		var flags []string
		if e.Encrypted() {
			flags = append(flags, "encrypted")
		}
		if e.ReadOnly() {
			flags = append(flags, "readonly")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t0x%06x\t0x%06x\t%s\t\n",
			e.Label, e.Type, e.SubTypeName(), e.Offset, e.Size, strings.Join(flags, ","))
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}

	// a partial table is still printed
	return err
}

func (s *shell) cmdMonitor(ctx context.Context) error {
	m, err := s.conn.StartMonitor(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out, "--- monitor started, press Enter to stop ---")

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for line := range m.Lines() {
			fmt.Fprintln(s.out, line)
		}
	}()

	if s.rl != nil {
		_, _ = s.rl.Readline()
	} else {
		select {
		case <-ctx.Done():
		case <-m.Done():
		}
	}

	err = m.Stop()
	<-printed
	fmt.Fprintln(s.out, "--- monitor stopped ---")

	return err
}

func parseRange(args []string, cmd string) (uint32, uint32, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("usage: %s <offset> <length>", cmd)
	}

	offset, err := parseOffset(args[0])
	if err != nil {
		return 0, 0, err
	}
	length, err := parseUint32(args[1])
	if err != nil {
		return 0, 0, err
	}

	return offset, length, nil
}
