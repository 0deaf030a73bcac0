package simulator

import (
	"testing"
	"time"

	"github.com/arloliu/go-espconn/chip"
	"github.com/arloliu/go-espconn/partition"
	"github.com/arloliu/go-espconn/protocol"
	"github.com/arloliu/go-espconn/transport"
	"github.com/stretchr/testify/require"
)

// roundTrip sends one command and decodes whatever the device answers.
func roundTrip(t *testing.T, d *Device, cmd protocol.Command) []protocol.Frame {
	t.Helper()

	wire, err := protocol.Encode(cmd)
	require.NoError(t, err)
	_, err = d.Write(wire)
	require.NoError(t, err)

	data, err := d.ReadAvailable(20 * time.Millisecond)
	require.NoError(t, err)

	frames, err := protocol.NewDecoder().Feed(data)
	require.NoError(t, err)

	return frames
}

func response(t *testing.T, f protocol.Frame) *protocol.Response {
	t.Helper()

	rsp, err := f.Response()
	require.NoError(t, err)

	return rsp
}

func TestDevice_Sync(t *testing.T) {
	require := require.New(t)

	d := New(WithSyncEcho(3))
	frames := roundTrip(t, d, protocol.Command{Opcode: protocol.OpSync, Seq: 7, Payload: protocol.SyncPayload()})

	require.Len(frames, 3)
	for _, f := range frames {
		rsp := response(t, f)
		require.True(rsp.OK())
		require.Equal(uint32(7), rsp.Seq)
	}

	frames = roundTrip(t, d, protocol.Command{Opcode: protocol.OpSync, Seq: 8})
	require.Len(frames, 3)
	require.False(response(t, frames[0]).OK())
}

func TestDevice_Registers(t *testing.T) {
	require := require.New(t)

	d := New()

	frames := roundTrip(t, d, protocol.Command{Opcode: protocol.OpReadReg, Seq: 1, Payload: protocol.ReadRegPayload(DemoRegister)})
	require.Len(frames, 1)
	v, err := protocol.ParseUint32(response(t, frames[0]).Data)
	require.NoError(err)
	require.Equal(DemoRegisterValue, v)

	frames = roundTrip(t, d, protocol.Command{Opcode: protocol.OpWriteReg, Seq: 2, Payload: protocol.WriteRegPayload(DemoRegister, 0x55)})
	require.True(response(t, frames[0]).OK())
	require.Equal(uint32(0x55), d.Register(DemoRegister))

	require.Equal(chip.ESP32S3.Magic[0], d.Register(chip.ChipDetectMagicReg))
	require.Equal(2, len(d.Requests()))
	require.Equal(1, d.CountRequests(protocol.OpWriteReg))
	require.Equal(2, d.WriteCalls())
}

func TestDevice_SecurityInfo(t *testing.T) {
	require := require.New(t)

	d := New(WithSecurity(true, false))
	frames := roundTrip(t, d, protocol.Command{Opcode: protocol.OpGetSecurityInfo, Seq: 1})

	info, err := protocol.ParseSecurityInfo(response(t, frames[0]).Data)
	require.NoError(err)
	require.True(info.SecureBoot())
	require.False(info.FlashEncryption())
	require.True(info.HasChipID)
	require.Equal(uint32(chip.ESP32S3.ChipID), info.ChipID) //nolint:gosec

	d = New(WithoutSecurityInfo())
	frames = roundTrip(t, d, protocol.Command{Opcode: protocol.OpGetSecurityInfo, Seq: 1})
	require.False(response(t, frames[0]).OK())
}

func TestDevice_Flash(t *testing.T) {
	require := require.New(t)

	d := New()

	frames := roundTrip(t, d, protocol.Command{Opcode: protocol.OpReadFlashSlow, Seq: 1,
		Payload: protocol.ReadFlashPayload(partition.TableOffset, partition.TableSize/3)})
	rsp := response(t, frames[0])
	require.True(rsp.OK())

	tbl, err := partition.Decode(rsp.Data, partition.TableOffset)
	require.NoError(err)
	require.Len(tbl.Entries, len(DefaultPartitions))

	frames = roundTrip(t, d, protocol.Command{Opcode: protocol.OpSPIFlashMD5, Seq: 2,
		Payload: protocol.MD5Payload(0, 0x1000)})
	sum, err := protocol.ParseMD5(response(t, frames[0]).Data)
	require.NoError(err)
	require.Equal(d.FlashMD5(0, 0x1000), sum)

	frames = roundTrip(t, d, protocol.Command{Opcode: protocol.OpSPIFlashMD5, Seq: 3,
		Payload: protocol.MD5Payload(DefaultFlashSize, 1)})
	require.Equal(protocol.CodeFlashReadError, response(t, frames[0]).Code)
}

func TestDevice_Faults(t *testing.T) {
	t.Run("stale", func(t *testing.T) {
		require := require.New(t)

		d := New()
		d.InjectStale(1)

		frames := roundTrip(t, d, protocol.Command{Opcode: protocol.OpReadReg, Seq: 5, Payload: protocol.ReadRegPayload(DemoRegister)})
		require.Len(frames, 2)
		require.Equal(uint32(4), frames[0].Seq)
		require.Equal(uint32(5), frames[1].Seq)
	})

	t.Run("corrupt", func(t *testing.T) {
		require := require.New(t)

		d := New()
		d.CorruptNext(1)

		wire, err := protocol.Encode(protocol.Command{Opcode: protocol.OpReadReg, Seq: 1, Payload: protocol.ReadRegPayload(DemoRegister)})
		require.NoError(err)
		_, err = d.Write(wire)
		require.NoError(err)

		data, err := d.ReadAvailable(20 * time.Millisecond)
		require.NoError(err)

		frames, err := protocol.NewDecoder().Feed(data)
		require.Empty(frames)
		require.ErrorIs(err, protocol.ErrChecksumMismatch)
	})

	t.Run("silent", func(t *testing.T) {
		require := require.New(t)

		d := New(WithSilent())
		wire, err := protocol.Encode(protocol.Command{Opcode: protocol.OpSync, Seq: 1, Payload: protocol.SyncPayload()})
		require.NoError(err)
		_, err = d.Write(wire)
		require.NoError(err)

		data, err := d.ReadAvailable(5 * time.Millisecond)
		require.NoError(err)
		require.Empty(data)
		require.Equal(1, d.CountRequests(protocol.OpSync))
	})

	t.Run("unplug", func(t *testing.T) {
		require := require.New(t)

		d := New()
		d.Unplug()

		_, err := d.Write([]byte{protocol.FrameEnd})
		require.ErrorIs(err, transport.ErrIO)
		_, err = d.ReadAvailable(time.Millisecond)
		require.ErrorIs(err, ErrUnplugged)

		_, err = d.Opener().Open(transport.PortDescriptor{Name: "sim"}, 115200)
		require.ErrorIs(err, transport.ErrPortUnavailable)
	})
}

func TestDevice_ResponseDelay(t *testing.T) {
	require := require.New(t)

	d := New(WithResponseDelay(30 * time.Millisecond))
	wire, err := protocol.Encode(protocol.Command{Opcode: protocol.OpReadReg, Seq: 1, Payload: protocol.ReadRegPayload(DemoRegister)})
	require.NoError(err)
	_, err = d.Write(wire)
	require.NoError(err)

	data, err := d.ReadAvailable(5 * time.Millisecond)
	require.NoError(err)
	require.Empty(data)

	// delayed data survives an input flush
	require.NoError(d.ResetInputBuffer())

	data, err = d.ReadAvailable(100 * time.Millisecond)
	require.NoError(err)
	require.NotEmpty(data)
}

func TestDevice_ControlLines(t *testing.T) {
	require := require.New(t)

	d := New(WithLogLines("hello", "world"))

	// EN low, then released with IO0 high: firmware
	require.NoError(d.SetControlLines(false, true))
	require.NoError(d.SetControlLines(false, false))
	require.True(d.InFirmware())
	require.Equal(1, d.Resets())

	data, err := d.ReadAvailable(10 * time.Millisecond)
	require.NoError(err)
	require.Equal("hello\r\nworld\r\n", string(data))

	// firmware ignores protocol traffic
	wire, err := protocol.Encode(protocol.Command{Opcode: protocol.OpSync, Seq: 1, Payload: protocol.SyncPayload()})
	require.NoError(err)
	_, err = d.Write(wire)
	require.NoError(err)
	require.Zero(d.CountRequests(protocol.OpSync))

	// EN released while IO0 is low: bootloader
	require.NoError(d.SetControlLines(false, true))
	require.NoError(d.SetControlLines(true, false))
	require.NoError(d.SetControlLines(false, false))
	require.False(d.InFirmware())
	require.Equal(2, d.Resets())
}

func TestDevice_OpenClose(t *testing.T) {
	require := require.New(t)

	d := New()
	port, err := d.Opener().Open(transport.PortDescriptor{Name: "sim"}, 74880)
	require.NoError(err)
	require.Equal(74880, d.BaudRate())

	require.NoError(port.SetBaudRate(921600))
	require.Equal(921600, d.BaudRate())

	require.NoError(port.Close())
	require.True(d.Closed())

	_, err = port.Write([]byte{0})
	require.ErrorIs(err, transport.ErrClosed)

	_, err = d.Opener().Open(transport.PortDescriptor{Name: "sim"}, 115200)
	require.NoError(err)
	require.False(d.Closed())
}
