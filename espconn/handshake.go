package espconn

import (
	"context"
	"fmt"

	"github.com/arloliu/go-espconn/chip"
	"github.com/arloliu/go-espconn/protocol"
)

// HandshakePhase is the progress of the connect handshake.
type HandshakePhase int32

const (
	PhaseIdle HandshakePhase = iota
	PhaseSyncSent
	PhaseSyncAcked
	PhaseChipIDQueried
	PhaseReady
	PhaseFailed
)

func (p HandshakePhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSyncSent:
		return "sync-sent"
	case PhaseSyncAcked:
		return "sync-acked"
	case PhaseChipIDQueried:
		return "chip-id-queried"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s *session) setPhase(p HandshakePhase) { s.phase.Store(int32(p)) }

// handshake brings a freshly opened port to a synchronized bootloader and
// identifies the chip. The caller owns the gate.
func (c *Connection) handshake(ctx context.Context, s *session) (*DeviceIdentity, error) {
	s.setPhase(PhaseIdle)

	identity, err := c.runHandshake(ctx, s)
	if err != nil {
		s.setPhase(PhaseFailed)

		return nil, err
	}
	s.setPhase(PhaseReady)

	return identity, nil
}

func (c *Connection) runHandshake(ctx context.Context, s *session) (*DeviceIdentity, error) {
	if c.cfg.resetOnConnect {
		if err := c.resetIntoBootloader(ctx, s); err != nil {
			return nil, err
		}
	}

	if err := c.flushInput(s); err != nil {
		return nil, err
	}

	if err := c.sync(ctx, s); err != nil {
		return nil, err
	}

	identity, err := c.identify(ctx, s)
	if err != nil {
		return nil, err
	}

	if err := c.negotiateBaud(ctx, s); err != nil {
		return nil, err
	}

	return identity, nil
}

// sync sends SYNC until one is acknowledged or the retry budget runs out.
// Every attempt carries a new sequence id.
func (c *Connection) sync(ctx context.Context, s *session) error {
	limit := c.cfg.syncRetryLimit

	for attempt := 1; attempt <= limit; attempt++ {
		s.setPhase(PhaseSyncSent)
		c.metrics.incSyncAttemptCount()

		rsp, err := c.roundTrip(ctx, s, exchange{
			op:      protocol.OpSync,
			payload: protocol.SyncPayload(),
			timeout: c.cfg.syncTimeout,
		})

		switch {
		case err == nil && rsp.OK():
			s.setPhase(PhaseSyncAcked)
			c.logger.Debug("espconn: sync acknowledged", "port", s.desc.Name, "attempt", attempt)

			// the ROM answers one SYNC several times
			return c.flushInput(s)
		case err == nil:
			c.logger.Debug("espconn: sync rejected", "attempt", attempt, "error", rsp.Err())
		case isTimeout(err):
			c.logger.Debug("espconn: sync timeout", "attempt", attempt, "timeout", c.cfg.syncTimeout)
		default:
			return err
		}
	}

	return fmt.Errorf("%w: no SYNC response after %d attempts", ErrHandshakeTimeout, limit)
}

// identify queries the chip family, security flags and factory MAC.
func (c *Connection) identify(ctx context.Context, s *session) (*DeviceIdentity, error) {
	s.setPhase(PhaseChipIDQueried)

	identity := &DeviceIdentity{ChipID: -1}

	family, found, err := c.querySecurityInfo(ctx, s, identity)
	if err != nil {
		return nil, err
	}

	if !found {
		magic, err := c.readRegLocked(ctx, s, chip.ChipDetectMagicReg)
		if err != nil {
			return nil, err
		}

		family, found = chip.ByMagic(magic)
		if !found {
			return nil, fmt.Errorf("%w: magic 0x%08x", ErrUnknownChip, magic)
		}
	}
	identity.ChipFamily = family.Name

	words := make([]uint32, 0, len(family.MACRegisters))
	for _, reg := range family.MACRegisters {
		w, err := c.readRegLocked(ctx, s, reg)
		if err != nil {
			return nil, err
		}
		words = append(words, w)
	}

	mac, err := family.DecodeMAC(words)
	if err != nil {
		return nil, err
	}
	identity.MAC = mac

	return identity, nil
}

// querySecurityInfo fills the security flags. found reports whether the
// response carried a chip id of a known family. A ROM without the command
// answers with an error status, which is not a failure.
func (c *Connection) querySecurityInfo(ctx context.Context, s *session, identity *DeviceIdentity) (chip.Family, bool, error) {
	rsp, err := c.roundTrip(ctx, s, exchange{
		op:      protocol.OpGetSecurityInfo,
		timeout: c.cfg.commandTimeout,
		reissue: true,
	})
	if err != nil {
		return chip.Family{}, false, err
	}

	if !rsp.OK() {
		c.logger.Debug("espconn: security info unsupported, falling back to magic register", "error", rsp.Err())

		return chip.Family{}, false, nil
	}

	info, err := protocol.ParseSecurityInfo(rsp.Data)
	if err != nil {
		return chip.Family{}, false, err
	}

	identity.SecureBoot = info.SecureBoot()
	identity.FlashEncryption = info.FlashEncryption()

	if !info.HasChipID {
		return chip.Family{}, false, nil
	}

	family, ok := chip.ByChipID(info.ChipID)
	if !ok {
		c.logger.Warn("espconn: unknown chip id, falling back to magic register", "chipID", info.ChipID)

		return chip.Family{}, false, nil
	}
	identity.ChipID = int(info.ChipID)
	identity.Revision = info.EcoVersion

	return family, true, nil
}

// readRegLocked reads a register while the caller owns the gate.
func (c *Connection) readRegLocked(ctx context.Context, s *session, addr uint32) (uint32, error) {
	rsp, err := c.roundTrip(ctx, s, exchange{
		op:      protocol.OpReadReg,
		payload: protocol.ReadRegPayload(addr),
		timeout: c.cfg.commandTimeout,
		reissue: true,
	})
	if err != nil {
		return 0, err
	}
	if err := rsp.Err(); err != nil {
		return 0, err
	}

	return protocol.ParseUint32(rsp.Data)
}

// negotiateBaud switches to the configured target rate, clamped to what the
// bridge is known to sustain.
func (c *Connection) negotiateBaud(ctx context.Context, s *session) error {
	target := c.cfg.targetBaudRate
	if target == 0 {
		return nil
	}

	if safe := safeBaudRate(s.bridge, s.known); target > safe {
		c.logger.Info("espconn: target baud rate clamped", "requested", target, "safe", safe)
		target = safe
	}

	current := int(s.baud.Load())
	if target == current {
		return nil
	}

	rsp, err := c.roundTrip(ctx, s, exchange{
		op:      protocol.OpChangeBaudRate,
		payload: protocol.ChangeBaudPayload(uint32(target), 0), //nolint:gosec // validated by WithTargetBaudRate
		timeout: c.cfg.commandTimeout,
		reissue: true,
	})
	if err != nil {
		return err
	}
	if err := rsp.Err(); err != nil {
		return err
	}

	if err := s.port.SetBaudRate(target); err != nil {
		return err
	}
	s.baud.Store(int64(target))

	c.logger.Info("espconn: baud rate changed", "from", current, "to", target)

	return c.flushInput(s)
}

// flushInput discards buffered input and any partial frame.
func (c *Connection) flushInput(s *session) error {
	s.decoder.Reset()

	return s.port.ResetInputBuffer()
}
