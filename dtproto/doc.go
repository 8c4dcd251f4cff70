// Package dtproto implements the byte-level DT command protocol spoken by
// Tricontinent C-Series syringe pumps over a shared RS-232/RS-485 line.
//
// The DT protocol is a half-duplex, ASCII, master/slave protocol: the host
// sends one instruction frame to an addressed pump and the pump answers with
// one status frame. Pumps never talk unsolicited.
//
// # Instruction Frames
//
// An instruction frame is:
//
//	'/' <address> <command>... ['R'] <CR>
//
// where each command is a single opcode character optionally followed by a
// decimal ASCII operand. The trailing 'R' opcode tells the firmware to execute
// the command buffer immediately; without it the commands are only loaded.
// For example, aspirating 1200 steps on the pump at address ':' is the frame
// "/:P1200R\r".
//
// # Status Frames
//
// Every answer carries the responder address, a one-byte status and an
// optional data payload:
//
//	'/' <address> <status> [data...] [ETX] <CR> <LF>
//
// The status byte encodes both the busy/idle state of the pump and an error
// code; see [Status]. [DecodeFrame] tolerates the trailer variations seen on
// real buses (missing ETX, bare CR, leading slash runs) and reports frames it
// cannot make sense of with [ErrCannotDecode] so that callers can retry the
// exchange instead of failing hard on line noise.
//
// # Addressing
//
// Each pump is addressed by the ASCII byte derived from its rotary address
// switch; [AddressForSwitch] performs the mapping. The special address '_'
// broadcasts to every pump on the line.
//
// Packet construction for a given pump is provided by [Protocol], which forges
// ready-to-send instruction packets for every supported operation.
//
// For the full command reference see the Tricontinent C-Series pump manual
// (https://www.tricontinent.com/products/cseries-syringe-pumps).
package dtproto
