package dtproto

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrCannotDecode indicates that an answer line could not be parsed into a
// status frame. This is a soft failure: half-duplex lines shared by several
// pumps occasionally produce truncated or garbled answers, and the caller is
// expected to retry the exchange.
var ErrCannotDecode = errors.New("dtproto: cannot decode status frame")

// Status is the single status byte carried in every answer frame. It encodes
// the busy/idle state of the pump together with an error code: error-free
// pumps answer '`' (idle) or '@' (busy), faulted pumps answer a letter that is
// lowercase while idle and uppercase while busy.
type Status byte

// Error-free status bytes.
const (
	// StatusIdle reports an idle pump with no error.
	StatusIdle Status = '`'
	// StatusBusy reports a pump executing a command, with no error.
	StatusBusy Status = '@'
)

// Error status bytes. Each fault is reported with one of two bytes: lowercase
// while the pump is idle, uppercase while it is busy.
const (
	StatusIdleInitFailure     Status = 'a'
	StatusBusyInitFailure     Status = 'A'
	StatusIdleInvalidCommand  Status = 'b'
	StatusBusyInvalidCommand  Status = 'B'
	StatusIdleInvalidOperand  Status = 'c'
	StatusBusyInvalidOperand  Status = 'C'
	StatusIdleEEPROMFailure   Status = 'f'
	StatusBusyEEPROMFailure   Status = 'F'
	StatusIdleNotInitialized  Status = 'g'
	StatusBusyNotInitialized  Status = 'G'
	StatusIdlePlungerOverload Status = 'i'
	StatusBusyPlungerOverload Status = 'I'
	StatusIdleValveOverload   Status = 'j'
	StatusBusyValveOverload   Status = 'J'
	StatusIdlePlungerStuck    Status = 'k'
	StatusBusyPlungerStuck    Status = 'K'
)

// faultDescs maps the canonical (lowercase) fault code to its description.
var faultDescs = map[byte]string{
	'a': "initialization failure",
	'b': "invalid command",
	'c': "invalid operand",
	'f': "EEPROM failure",
	'g': "pump not initialized",
	'i': "plunger overload",
	'j': "valve overload",
	'k': "plunger move not allowed",
}

// Fault returns the canonical lowercase fault code and its description.
// ok is false for the error-free statuses and for unknown status bytes.
func (s Status) Fault() (code byte, desc string, ok bool) {
	code = byte(s)
	if code >= 'A' && code <= 'Z' {
		code += 'a' - 'A'
	}
	desc, ok = faultDescs[code]

	return code, desc, ok
}

// Busy reports whether the status byte was sent while the pump executes a
// command. Both '@' and the uppercase fault bytes count as busy.
func (s Status) Busy() bool {
	if s == StatusBusy {
		return true
	}
	if s >= 'A' && s <= 'Z' {
		_, _, ok := s.Fault()
		return ok
	}

	return false
}

// Idle reports whether the status byte was sent by an idle pump. Both '`' and
// the lowercase fault bytes count as idle.
func (s Status) Idle() bool {
	if s == StatusIdle {
		return true
	}
	if s >= 'a' && s <= 'z' {
		_, _, ok := s.Fault()
		return ok
	}

	return false
}

// ErrorFree reports whether the status byte carries no fault code.
func (s Status) ErrorFree() bool {
	return s == StatusIdle || s == StatusBusy
}

// Known reports whether the byte is a status the C-Series firmware can emit.
// Unknown bytes usually mean the frame was corrupted on the line.
func (s Status) Known() bool {
	if s.ErrorFree() {
		return true
	}
	_, _, ok := s.Fault()

	return ok
}

// String renders the status for logs, e.g. "idle", "busy" or
// `busy fault 'i' (plunger overload)`.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	}

	if code, desc, ok := s.Fault(); ok {
		state := "idle"
		if s.Busy() {
			state = "busy"
		}
		return fmt.Sprintf("%s fault %q (%s)", state, code, desc)
	}

	return fmt.Sprintf("unknown status %q", byte(s))
}

// StatusFrame is one decoded answer frame from a pump.
type StatusFrame struct {
	// Address is the address byte echoed by the responder.
	Address byte
	// Status is the status byte; see [Status].
	Status Status
	// Data is the ASCII payload following the status byte. Empty for plain
	// acknowledgements.
	Data string
}

// String returns a printable form of the frame for logging.
func (f *StatusFrame) String() string {
	if f.Data == "" {
		return fmt.Sprintf("addr=%q status=%v", f.Address, f.Status)
	}

	return fmt.Sprintf("addr=%q status=%v data=%q", f.Address, f.Status, f.Data)
}

// answerCutset covers the whitespace trailer after the payload: pumps send
// CR LF, some RS-485 adapters deliver a bare CR or add padding.
const answerCutset = " \t\n\r\v\f"

// DecodeFrame parses a raw answer line into a status frame.
//
// The line is trimmed of trailing whitespace, then of the ETX trailer, then of
// the leading start byte run. Of what remains, the first byte is the responder
// address, the second the status byte and the rest the data payload.
//
// Lines too short to carry an address and a status byte fail with
// [ErrCannotDecode]; callers should treat this as line noise and retry.
func DecodeFrame(line []byte) (*StatusFrame, error) {
	trimmed := bytes.TrimRight(line, answerCutset)
	trimmed = bytes.TrimRight(trimmed, string(ETX))
	trimmed = bytes.TrimLeft(trimmed, string(StartByte))

	if len(trimmed) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrCannotDecode, line)
	}

	return &StatusFrame{
		Address: trimmed[0],
		Status:  Status(trimmed[1]),
		Data:    string(trimmed[2:]),
	}, nil
}
