package dtproto

import (
	"fmt"

	"github.com/arloliu/go-tricont/internal/util"
)

// InstructionPacket is one complete instruction frame addressed to a single
// pump (or to every pump via [BroadcastAddress]).
//
// A packet on the wire is: [StartByte][Address][Commands...][StopByte].
type InstructionPacket struct {
	address  byte
	commands []Command
}

// NewInstructionPacket creates an instruction packet for the given wire
// address carrying commands in order.
func NewInstructionPacket(address byte, commands ...Command) *InstructionPacket {
	return &InstructionPacket{
		address:  address,
		commands: commands,
	}
}

// Address returns the wire address the packet is directed to.
func (p *InstructionPacket) Address() byte {
	return p.address
}

// Commands returns a copy of the command list carried by the packet.
func (p *InstructionPacket) Commands() []Command {
	return util.CloneSlice(p.commands, 0)
}

// Validate reports whether the packet serializes into a well-formed frame.
// A frame is well formed when the address and every command byte fall
// inside the wire charset; [ErrCannotEncode] is returned otherwise. Packets
// built by [Protocol] always pass, so this only matters for hand-built
// commands with caller-supplied operands.
func (p *InstructionPacket) Validate() error {
	if !wireByte(p.address) {
		return fmt.Errorf("%w: address %q", ErrCannotEncode, p.address)
	}

	for _, cmd := range p.commands {
		if err := cmd.validate(); err != nil {
			return err
		}
	}

	return nil
}

// Pack serializes the packet to its wire format.
func (p *InstructionPacket) Pack() []byte {
	// 4 covers start byte, address and stop byte plus slack for one opcode.
	buf := make([]byte, 0, 4+len(p.commands)*4)

	buf = append(buf, StartByte, p.address)
	for _, cmd := range p.commands {
		buf = cmd.appendWire(buf)
	}
	buf = append(buf, StopByte)

	return buf
}

// String returns the frame as a printable string with the trailing carriage
// return omitted, suitable for logging.
func (p *InstructionPacket) String() string {
	wire := p.Pack()

	return string(wire[:len(wire)-1])
}
