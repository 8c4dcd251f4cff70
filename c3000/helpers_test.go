package c3000

import (
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-tricont/dtproto"
	"github.com/arloliu/go-tricont/logger"
)

// answer builds a well-formed answer frame with status s and payload data.
func answer(s byte, data string) []byte {
	frame := make([]byte, 0, len(data)+6)
	frame = append(frame, dtproto.StartByte, '0', s)
	frame = append(frame, data...)
	frame = append(frame, dtproto.ETX, '\r', '\n')

	return frame
}

// scriptTransport replays a fixed list of canned answers, one per
// transaction. A nil answer simulates a read timeout.
type scriptTransport struct {
	mu      sync.Mutex
	answers [][]byte
	writes  []string
	resets  int
	closed  bool
}

func newScriptTransport(answers ...[]byte) *scriptTransport {
	return &scriptTransport{answers: answers}
}

func (t *scriptTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, string(p))

	return nil
}

func (t *scriptTransport) ReadLine() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.answers) == 0 {
		return nil, ErrReadTimeout
	}

	next := t.answers[0]
	t.answers = t.answers[1:]
	if next == nil {
		return nil, ErrReadTimeout
	}

	return next, nil
}

func (t *scriptTransport) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++

	return nil
}

func (t *scriptTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true

	return nil
}

func (t *scriptTransport) writeLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.writes...)
}

// replyFunc computes the answer for one written instruction frame.
type replyFunc func(wire []byte) ([]byte, error)

// funcTransport answers every transaction through fn and records each
// written frame.
type funcTransport struct {
	mu     sync.Mutex
	fn     replyFunc
	writes []string
	last   []byte
}

func (t *funcTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, string(p))
	t.last = append([]byte(nil), p...)

	return nil
}

func (t *funcTransport) ReadLine() ([]byte, error) {
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()

	return t.fn(last)
}

func (t *funcTransport) ResetInputBuffer() error { return nil }
func (t *funcTransport) Close() error            { return nil }

func (t *funcTransport) writeLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.writes...)
}

// bodies extracts the command bodies of every logged frame addressed to
// addr, e.g. "/1P1200R\r" becomes "P1200R".
func bodies(writes []string, addr byte) []string {
	var out []string
	prefix := string([]byte{dtproto.StartByte, addr})
	for _, wire := range writes {
		if strings.HasPrefix(wire, prefix) {
			out = append(out, strings.TrimSuffix(wire[2:], "\r"))
		}
	}

	return out
}

// motionBodies filters bodies down to plunger draw and delivery commands.
func motionBodies(writes []string, addr byte) []string {
	var out []string
	for _, body := range bodies(writes, addr) {
		if body[0] == 'P' || body[0] == 'D' {
			out = append(out, body)
		}
	}

	return out
}

func eepromWithValveField(valveField string) string {
	fields := strings.Split("10,75,14,62,1,1,20,10,48,210,X,0,0,25,20,15,0,0,0,0", ",")
	fields[10] = valveField

	return strings.Join(fields, ",")
}

// fakeBankPump is the modeled state of one pump on a fakeBank.
type fakeBankPump struct {
	steps       int
	velocity    int
	valve       byte
	initialized bool
	refuseInit  bool
	eeprom      string
}

// fakeBank models a daisy chain of always-idle pumps well enough to answer
// status, report, valve, velocity, motion and EEPROM instructions.
type fakeBank struct {
	mu    sync.Mutex
	pumps map[byte]*fakeBankPump
}

func newFakeBank(t *testing.T, switchLabels ...string) *fakeBank {
	t.Helper()

	bank := &fakeBank{pumps: make(map[byte]*fakeBankPump)}
	for _, label := range switchLabels {
		addr, err := dtproto.AddressForSwitch(label)
		require.NoError(t, err)
		bank.pumps[addr] = &fakeBankPump{
			velocity: 5600,
			valve:    'i',
			eeprom:   eepromWithValveField("2013100"),
		}
	}

	return bank
}

func (b *fakeBank) transport() *funcTransport {
	return &funcTransport{fn: b.reply}
}

func (b *fakeBank) at(t *testing.T, switchLabel string) *fakeBankPump {
	t.Helper()

	addr, err := dtproto.AddressForSwitch(switchLabel)
	require.NoError(t, err)
	pump, ok := b.pumps[addr]
	require.True(t, ok, "no fake pump at switch %s", switchLabel)

	return pump
}

func (b *fakeBank) reply(wire []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(wire) < 4 || wire[0] != dtproto.StartByte || wire[len(wire)-1] != dtproto.StopByte {
		return nil, ErrReadTimeout
	}

	pump, ok := b.pumps[wire[1]]
	if !ok {
		return nil, ErrReadTimeout
	}

	body := strings.TrimSuffix(string(wire[2:len(wire)-1]), "R")

	switch body {
	case "Q":
		return answer('`', ""), nil
	case "?":
		return answer('`', strconv.Itoa(pump.steps)), nil
	case "?2":
		return answer('`', strconv.Itoa(pump.velocity)), nil
	case "?6":
		return answer('`', string(pump.valve)), nil
	case "?19":
		if pump.initialized {
			return answer('`', "1"), nil
		}

		return answer('`', "0"), nil
	case "?27":
		return answer('`', pump.eeprom), nil
	}

	op, operand := body[0], body[1:]
	switch op {
	case 'Z', 'Y', 'W':
		if !pump.refuseInit {
			pump.steps = 0
			pump.initialized = true
		}
	case 'w': // valve drive init, no modeled state
	case 'N': // resolution switch, conversions stay host-side
	case 'A':
		if n, err := strconv.Atoi(operand); err == nil {
			pump.steps = n
		}
	case 'P':
		if n, err := strconv.Atoi(operand); err == nil {
			pump.steps += n
		}
	case 'D':
		if n, err := strconv.Atoi(operand); err == nil {
			pump.steps -= n
		}
	case 'V':
		if n, err := strconv.Atoi(operand); err == nil {
			pump.velocity = n
		}
	case 'I', 'O', 'B', 'E':
		if operand == "" {
			pump.valve = op + ('a' - 'A')
		} else {
			pump.valve = operand[0]
		}
	case 'U':
		switch operand {
		case "1", "5":
			pump.eeprom = eepromWithValveField("2013100")
		case "4":
			pump.eeprom = eepromWithValveField("2033110")
		case "2":
			pump.eeprom = eepromWithValveField("2130001")
		}
	case 'u': // low-level EEPROM write, nothing to model
	case 'T': // abort, bank pumps are never busy
	default:
		return nil, ErrReadTimeout
	}

	return answer('`', ""), nil
}

func newTestPump(t *testing.T, transport Transport, name, switchLabel string, volume float64, opts ...PumpConfigOption) *Pump {
	t.Helper()

	cfg, err := NewPumpConfig(switchLabel, volume, opts...)
	require.NoError(t, err)

	pump, err := NewPump(NewBus(transport, logger.GetLogger()), name, cfg)
	require.NoError(t, err)

	return pump
}
