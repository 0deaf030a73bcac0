package espconn

import (
	"context"

	"github.com/arloliu/go-espconn/internal/pool"
)

// Auto-reset circuits on ESP boards drive EN from RTS and IO0 from DTR,
// both active low.

func (c *Connection) setLines(s *session, dtr, rts bool) error {
	if c.cfg.invertedControlLines {
		dtr, rts = !dtr, !rts
	}

	return s.port.SetControlLines(dtr, rts)
}

// resetIntoBootloader pulses EN while IO0 is held low, so the chip starts
// in the ROM download mode.
func (c *Connection) resetIntoBootloader(ctx context.Context, s *session) error {
	c.logger.Debug("espconn: resetting into bootloader", "port", s.desc.Name)

	steps := []struct {
		dtr, rts bool
		hold     func() error
	}{
		{dtr: false, rts: true, hold: func() error { return pool.Sleep(ctx, c.cfg.resetHoldTime) }},
		{dtr: true, rts: false, hold: func() error { return pool.Sleep(ctx, c.cfg.bootHoldTime) }},
		{dtr: false, rts: false},
	}

	for _, step := range steps {
		if err := c.setLines(s, step.dtr, step.rts); err != nil {
			return err
		}
		if step.hold != nil {
			if err := step.hold(); err != nil {
				return err
			}
		}
	}

	return nil
}

// resetIntoFirmware pulses EN with IO0 released, so the application starts.
func (c *Connection) resetIntoFirmware(ctx context.Context, s *session) error {
	c.logger.Debug("espconn: resetting into firmware", "port", s.desc.Name)

	if err := c.setLines(s, false, true); err != nil {
		return err
	}
	if err := pool.Sleep(ctx, c.cfg.resetHoldTime); err != nil {
		return err
	}

	return c.setLines(s, false, false)
}
