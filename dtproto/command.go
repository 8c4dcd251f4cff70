package dtproto

import (
	"errors"
	"fmt"
)

// ErrCannotEncode indicates that a packet cannot be serialized into a
// well-formed instruction frame because an address, opcode or operand
// carries bytes outside the wire charset.
var ErrCannotEncode = errors.New("dtproto: cannot encode instruction frame")

// Framing bytes of the DT protocol.
const (
	// StartByte opens every instruction and answer frame.
	StartByte byte = '/'

	// StopByte terminates an instruction frame.
	StopByte byte = '\r'

	// ETX is appended by the pump after the answer payload, before the
	// line terminator.
	ETX byte = 0x03
)

// Instruction opcodes understood by the C-Series firmware.
const (
	// CmdExecute runs the loaded command buffer.
	CmdExecute = "R"
	// CmdInitializeValveRight homes the plunger with the output set to the right valve position.
	CmdInitializeValveRight = "Z"
	// CmdInitializeValveLeft homes the plunger with the output set to the left valve position.
	CmdInitializeValveLeft = "Y"
	// CmdInitializeNoValve homes the plunger without moving the valve.
	CmdInitializeNoValve = "W"
	// CmdInitializeValveOnly initializes the valve drive without moving the plunger.
	CmdInitializeValveOnly = "w"
	// CmdMicrostepMode selects the plunger positioning mode (0-2).
	CmdMicrostepMode = "N"
	// CmdMoveTo moves the plunger to an absolute step position.
	CmdMoveTo = "A"
	// CmdPump aspirates the given number of steps.
	CmdPump = "P"
	// CmdDeliver dispenses the given number of steps.
	CmdDeliver = "D"
	// CmdTopVelocity sets the plunger top velocity in steps per second.
	CmdTopVelocity = "V"
	// CmdEEPROMConfig writes a firmware configuration word. Takes effect
	// after a power cycle.
	CmdEEPROMConfig = "U"
	// CmdEEPROMLowLevelConfig writes a low-level EEPROM field. Takes effect
	// after a power cycle.
	CmdEEPROMLowLevelConfig = "u"
	// CmdTerminate aborts the running command.
	CmdTerminate = "T"
)

// Valve select opcodes. Depending on the EEPROM valve configuration (U4 vs
// U11), 4-way distribution valves answer either the plain I/O/B/E selects or
// the positional I<n>/O<n> form.
const (
	// CmdValveInput turns the valve to the input port.
	CmdValveInput = "I"
	// CmdValveOutput turns the valve to the output port.
	CmdValveOutput = "O"
	// CmdValveBypass turns the valve to the bypass port.
	CmdValveBypass = "B"
	// CmdValveExtra turns the valve to the extra port.
	CmdValveExtra = "E"
)

// Report opcodes. Reports are answered in the data payload of the status frame.
const (
	// CmdReportStatus queries the status byte alone.
	CmdReportStatus = "Q"
	// CmdReportPlungerPosition queries the absolute plunger position in steps.
	CmdReportPlungerPosition = "?"
	// CmdReportStartVelocity queries the start velocity.
	CmdReportStartVelocity = "?1"
	// CmdReportPeakVelocity queries the top (peak) velocity.
	CmdReportPeakVelocity = "?2"
	// CmdReportCutoffVelocity queries the cutoff velocity.
	CmdReportCutoffVelocity = "?3"
	// CmdReportValvePosition queries the current valve position.
	CmdReportValvePosition = "?6"
	// CmdReportInitialized queries whether the pump has been initialized
	// since power-up.
	CmdReportInitialized = "?19"
	// CmdReportEEPROM queries the EEPROM configuration string.
	CmdReportEEPROM = "?27"
	// CmdReportJumper queries the J2-5 jumper state used by 120-degree
	// 3-way Y valves.
	CmdReportJumper = "?28"
)

// Command is a single DT instruction: one opcode with an optional ASCII
// operand. Commands are concatenated back to back inside an instruction
// packet, so neither field may contain framing bytes.
type Command struct {
	Op      string
	Operand string
}

// appendWire appends the wire form of the command to buf and returns the
// extended slice.
func (c Command) appendWire(buf []byte) []byte {
	buf = append(buf, c.Op...)
	buf = append(buf, c.Operand...)

	return buf
}

// validate checks that every opcode and operand byte is printable ASCII.
// Control bytes would collide with the frame terminator or the answer ETX.
func (c Command) validate() error {
	for i := 0; i < len(c.Op); i++ {
		if !wireByte(c.Op[i]) {
			return fmt.Errorf("%w: opcode %q", ErrCannotEncode, c.Op)
		}
	}

	for i := 0; i < len(c.Operand); i++ {
		if !wireByte(c.Operand[i]) {
			return fmt.Errorf("%w: operand %q of opcode %q", ErrCannotEncode, c.Operand, c.Op)
		}
	}

	return nil
}

// wireByte reports whether b belongs to the instruction wire charset,
// the printable ASCII range.
func wireByte(b byte) bool {
	return b >= 0x20 && b <= 0x7e
}

// String returns a printable form of the command for logging.
func (c Command) String() string {
	if c.Operand == "" {
		return c.Op
	}

	return c.Op + c.Operand
}
