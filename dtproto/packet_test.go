package dtproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "R", Command{Op: CmdExecute}.String())
	assert.Equal(t, "P1200", Command{Op: CmdPump, Operand: "1200"}.String())
	assert.Equal(t, "w0,0", Command{Op: CmdInitializeValveOnly, Operand: "0,0"}.String())
}

func TestInstructionPacket_Pack(t *testing.T) {
	tests := []struct {
		name     string
		address  byte
		commands []Command
		want     string
	}{
		{
			name:     "single command with operand",
			address:  ':',
			commands: []Command{{Op: CmdPump, Operand: "1200"}, {Op: CmdExecute}},
			want:     "/:P1200R\r",
		},
		{
			name:     "operand-less command",
			address:  '1',
			commands: []Command{{Op: CmdReportStatus}, {Op: CmdExecute}},
			want:     "/1QR\r",
		},
		{
			name:     "multiple commands in one frame",
			address:  '2',
			commands: []Command{{Op: CmdMicrostepMode, Operand: "2"}, {Op: CmdTopVelocity, Operand: "6000"}, {Op: CmdExecute}},
			want:     "/2N2V6000R\r",
		},
		{
			name:     "no execute opcode",
			address:  '1',
			commands: []Command{{Op: CmdEEPROMConfig, Operand: "1"}},
			want:     "/1U1\r",
		},
		{
			name:    "broadcast without commands",
			address: BroadcastAddress,
			want:    "/_\r",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewInstructionPacket(tt.address, tt.commands...)
			assert.Equal(t, []byte(tt.want), p.Pack())
		})
	}
}

func TestInstructionPacket_Validate(t *testing.T) {
	tests := []struct {
		name     string
		address  byte
		commands []Command
		wantErr  bool
	}{
		{
			name:     "forged frame passes",
			address:  '1',
			commands: []Command{{Op: CmdPump, Operand: "1200"}, {Op: CmdExecute}},
		},
		{
			name:     "punctuated operand passes",
			address:  '2',
			commands: []Command{{Op: CmdEEPROMLowLevelConfig, Operand: "20_tricont1"}},
		},
		{
			name:     "carriage return in operand",
			address:  '1',
			commands: []Command{{Op: CmdPump, Operand: "12\r00"}},
			wantErr:  true,
		},
		{
			name:     "answer terminator in operand",
			address:  '1',
			commands: []Command{{Op: CmdMoveTo, Operand: "0\x03"}},
			wantErr:  true,
		},
		{
			name:     "non-ASCII operand",
			address:  '1',
			commands: []Command{{Op: CmdTopVelocity, Operand: "60\x8000"}},
			wantErr:  true,
		},
		{
			name:     "control byte in opcode",
			address:  '1',
			commands: []Command{{Op: "\n"}},
			wantErr:  true,
		},
		{
			name:    "control byte as address",
			address: '\r',
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewInstructionPacket(tt.address, tt.commands...).Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCannotEncode)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInstructionPacket_Accessors(t *testing.T) {
	p := NewInstructionPacket(';', Command{Op: CmdDeliver, Operand: "300"}, Command{Op: CmdExecute})

	assert.Equal(t, byte(';'), p.Address())

	cmds := p.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, CmdDeliver, cmds[0].Op)

	// Returned slice is a copy — mutating it doesn't affect the packet.
	cmds[0].Operand = "999"
	assert.Equal(t, []byte("/;D300R\r"), p.Pack())
}

func TestInstructionPacket_String(t *testing.T) {
	p := NewInstructionPacket('1', Command{Op: CmdMoveTo, Operand: "0"}, Command{Op: CmdExecute})

	// The carriage return is dropped so the frame can go straight into a log line.
	assert.Equal(t, "/1A0R", p.String())
}
