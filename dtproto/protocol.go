package dtproto

import (
	"fmt"
	"strconv"
)

// Protocol forges instruction packets for a single wire address. It is a pure
// packet factory: it performs no I/O and is safe for concurrent use.
type Protocol struct {
	address byte
}

// NewProtocol creates a packet factory for the given wire address.
func NewProtocol(address byte) *Protocol {
	return &Protocol{address: address}
}

// Address returns the wire address packets are forged for.
func (p *Protocol) Address() byte {
	return p.address
}

// forge assembles commands into an instruction packet, appending the execute
// opcode when execute is true.
func (p *Protocol) forge(execute bool, commands ...Command) *InstructionPacket {
	if execute {
		commands = append(commands, Command{Op: CmdExecute})
	}

	return NewInstructionPacket(p.address, commands...)
}

// --- Initialization ---

// ForgeInitializeValveRight forges a plunger initialization with the output
// set to the right valve position.
func (p *Protocol) ForgeInitializeValveRight(operand int) *InstructionPacket {
	return p.forge(true, Command{Op: CmdInitializeValveRight, Operand: strconv.Itoa(operand)})
}

// ForgeInitializeValveLeft forges a plunger initialization with the output
// set to the left valve position.
func (p *Protocol) ForgeInitializeValveLeft(operand int) *InstructionPacket {
	return p.forge(true, Command{Op: CmdInitializeValveLeft, Operand: strconv.Itoa(operand)})
}

// ForgeInitializeNoValve forges a plunger initialization that leaves the
// valve untouched. Operand 1 selects the slower homing profile used for small
// syringes.
func (p *Protocol) ForgeInitializeNoValve(operand int) *InstructionPacket {
	return p.forge(true, Command{Op: CmdInitializeNoValve, Operand: strconv.Itoa(operand)})
}

// ForgeInitializeValveOnly forges a valve-drive initialization that does not
// move the plunger. The operand string is passed through verbatim; "0,0" is
// the stock profile.
func (p *Protocol) ForgeInitializeValveOnly(operand string) *InstructionPacket {
	return p.forge(true, Command{Op: CmdInitializeValveOnly, Operand: operand})
}

// --- Plunger motion ---

// ForgeMicrostepMode forges a positioning mode select. mode must be in [0, 2].
func (p *Protocol) ForgeMicrostepMode(mode int) (*InstructionPacket, error) {
	if mode < 0 || mode > 2 {
		return nil, fmt.Errorf("dtproto: microstep mode must be in [0, 2], got %d", mode)
	}

	return p.forge(true, Command{Op: CmdMicrostepMode, Operand: strconv.Itoa(mode)}), nil
}

// ForgeMoveTo forges an absolute plunger move to the given step position.
func (p *Protocol) ForgeMoveTo(steps int) *InstructionPacket {
	return p.forge(true, Command{Op: CmdMoveTo, Operand: strconv.Itoa(steps)})
}

// ForgePump forges an aspirate of the given number of steps.
func (p *Protocol) ForgePump(steps int) *InstructionPacket {
	return p.forge(true, Command{Op: CmdPump, Operand: strconv.Itoa(steps)})
}

// ForgeDeliver forges a dispense of the given number of steps.
func (p *Protocol) ForgeDeliver(steps int) *InstructionPacket {
	return p.forge(true, Command{Op: CmdDeliver, Operand: strconv.Itoa(steps)})
}

// ForgeTopVelocity forges a top velocity set, in steps per second.
func (p *Protocol) ForgeTopVelocity(stepsPerSec int) *InstructionPacket {
	return p.forge(true, Command{Op: CmdTopVelocity, Operand: strconv.Itoa(stepsPerSec)})
}

// ForgeTerminate forges an abort of the running command.
func (p *Protocol) ForgeTerminate() *InstructionPacket {
	return p.forge(true, Command{Op: CmdTerminate})
}

// --- EEPROM ---

// ForgeEEPROMConfig forges a firmware configuration write. The pump stores
// the word without executing anything, so no execute opcode is appended; the
// new configuration takes effect after a power cycle.
func (p *Protocol) ForgeEEPROMConfig(operand int) *InstructionPacket {
	return p.forge(false, Command{Op: CmdEEPROMConfig, Operand: strconv.Itoa(operand)})
}

// ForgeEEPROMLowLevelConfig forges a low-level EEPROM field write of the form
// u<sub>_<value>. Like [Protocol.ForgeEEPROMConfig] it carries no execute
// opcode and requires a power cycle to take effect.
func (p *Protocol) ForgeEEPROMLowLevelConfig(subCommand int, value string) *InstructionPacket {
	operand := strconv.Itoa(subCommand) + "_" + value

	return p.forge(false, Command{Op: CmdEEPROMLowLevelConfig, Operand: operand})
}

// --- Valve ---

// ForgeValveInput forges a valve turn to the input port.
func (p *Protocol) ForgeValveInput() *InstructionPacket {
	return p.forge(true, Command{Op: CmdValveInput})
}

// ForgeValveOutput forges a valve turn to the output port.
func (p *Protocol) ForgeValveOutput() *InstructionPacket {
	return p.forge(true, Command{Op: CmdValveOutput})
}

// ForgeValveBypass forges a valve turn to the bypass port.
func (p *Protocol) ForgeValveBypass() *InstructionPacket {
	return p.forge(true, Command{Op: CmdValveBypass})
}

// ForgeValveExtra forges a valve turn to the extra port.
func (p *Protocol) ForgeValveExtra() *InstructionPacket {
	return p.forge(true, Command{Op: CmdValveExtra})
}

// ForgeValve6Way forges a positional turn of a 6-way distribution valve.
// position is the ASCII digit of the target port, '1' through '6'.
func (p *Protocol) ForgeValve6Way(position byte) *InstructionPacket {
	return p.forge(true, Command{Op: CmdValveInput, Operand: string(position)})
}

// --- Reports ---

// ForgeReportStatus forges a bare status query.
func (p *Protocol) ForgeReportStatus() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportStatus})
}

// ForgeReportPlungerPosition forges a plunger position query.
func (p *Protocol) ForgeReportPlungerPosition() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportPlungerPosition})
}

// ForgeReportStartVelocity forges a start velocity query.
func (p *Protocol) ForgeReportStartVelocity() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportStartVelocity})
}

// ForgeReportPeakVelocity forges a top (peak) velocity query.
func (p *Protocol) ForgeReportPeakVelocity() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportPeakVelocity})
}

// ForgeReportCutoffVelocity forges a cutoff velocity query.
func (p *Protocol) ForgeReportCutoffVelocity() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportCutoffVelocity})
}

// ForgeReportValvePosition forges a valve position query.
func (p *Protocol) ForgeReportValvePosition() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportValvePosition})
}

// ForgeReportInitialized forges a query for the initialized-since-power-up
// flag.
func (p *Protocol) ForgeReportInitialized() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportInitialized})
}

// ForgeReportEEPROM forges an EEPROM configuration query.
func (p *Protocol) ForgeReportEEPROM() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportEEPROM})
}

// ForgeReportJumper forges a query of the J2-5 jumper used by 120-degree
// 3-way Y valves.
func (p *Protocol) ForgeReportJumper() *InstructionPacket {
	return p.forge(true, Command{Op: CmdReportJumper})
}
