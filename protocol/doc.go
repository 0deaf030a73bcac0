// Package protocol implements a sequence-tagged packet codec derived from
// the ESP ROM bootloader protocol.
//
// The opcodes, SLIP framing and checksum seed follow the ROM, but the packet
// layout does not: requests and responses carry a sequence id, responses
// start with their status and every packet ends in a checksum byte. The
// stock ROM answers with the status at the end, a value word where the
// sequence id sits and no trailing checksum, so its replies decode as
// [ErrFraming]. The peer must be a device-side stub speaking this layout, or
// the in-memory device in package simulator.
//
// # Framing
//
// Every packet travels inside a SLIP frame (RFC 1055 style):
//
//   - END (0xC0) marks both the start and the end of a frame.
//   - ESC (0xDB) introduces an escape: 0xDB 0xDC stands for 0xC0 and
//     0xDB 0xDD stands for 0xDB. Any other byte after ESC is malformed.
//
// # Packet layout
//
// The unescaped frame body is:
//
//	[dir(1)][opcode(1)][length(2, LE)][seq(4, LE)][payload(length)][checksum(1)]
//
// dir is 0x00 for a host request and 0x01 for a device response. seq carries
// the request sequence id and is echoed by the device so replies can be
// correlated. A response payload always starts with [status(1)][error(1)];
// status zero means success.
//
// # Checksum
//
// The checksum is the XOR of every unescaped byte before it, seeded with
// 0xEF, the seed the ESP ROM uses for its data checksums. The algorithm is
// fixed for all packets.
//
// # Decoding
//
// [Decoder] is an incremental state machine (idle, in-frame, escaped). It is
// fed whatever bytes the transport returned and yields complete packets. A
// frame with a bad checksum, a malformed escape or an oversized body is
// dropped as a whole and reported as [ErrFraming]; decoding resumes at the
// next frame boundary so a damaged frame never bleeds into the next one.
package protocol
