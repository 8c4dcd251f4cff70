package c3000

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-tricont/dtproto"
)

// Sentinel errors for pump communication and validation.
var (
	// Transport-level errors.
	ErrReadTimeout = errors.New("c3000: read timeout, no answer from pump")
	ErrBusClosed   = errors.New("c3000: bus closed")

	// Validation errors, returned before any bytes reach the bus.
	ErrVelocityOutOfRange   = errors.New("c3000: top velocity out of range")
	ErrInvalidValvePosition = errors.New("c3000: invalid valve position")
	ErrInvalidVolume        = errors.New("c3000: volume out of syringe range")

	// Registry errors.
	ErrUnknownPump  = errors.New("c3000: unknown pump name")
	ErrUnknownGroup = errors.New("c3000: unknown pump group")

	// Reply errors.
	ErrUnexpectedReply   = errors.New("c3000: unexpected reply payload")
	ErrUnknownValveReply = errors.New("c3000: unknown valve position report")

	// Construction errors.
	ErrNoTransportFactory = errors.New("c3000: no transport factory configured")
)

// HardwareError reports an error status byte answered by a pump, such as a
// plunger overload or an invalid operand.
type HardwareError struct {
	// Pump is the name of the pump that answered the error status.
	Pump string
	// Status is the raw status byte from the answer frame.
	Status dtproto.Status
}

func (e *HardwareError) Error() string {
	code, desc, ok := e.Status.Fault()
	if !ok {
		return fmt.Sprintf("c3000: pump %q: hardware error status %#x", e.Pump, byte(e.Status))
	}

	return fmt.Sprintf("c3000: pump %q: hardware error %q (%s)", e.Pump, code, desc)
}

// Code returns the canonical (lowercase) error code byte, or 0 when the
// status is not a known fault.
func (e *HardwareError) Code() byte {
	code, _, ok := e.Status.Fault()
	if !ok {
		return 0
	}

	return code
}

// ProtocolError reports a status byte outside the DT protocol status table.
type ProtocolError struct {
	// Pump is the name of the pump that answered.
	Pump string
	// Status is the unrecognized status byte.
	Status dtproto.Status
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("c3000: pump %q: unknown status byte %#x", e.Pump, byte(e.Status))
}

// RepeatedError reports an operation that kept failing after all of its
// attempts: a transaction that never got a decodable answer, an
// initialization that never took, or a velocity or valve setting the pump
// never confirmed.
type RepeatedError struct {
	// Pump is the name of the pump the operation ran against.
	Pump string
	// Op describes the failed operation.
	Op string
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last underlying failure, when one was observed.
	Err error
}

func (e *RepeatedError) Error() string {
	return fmt.Sprintf("c3000: pump %q: %s failed after %d attempts", e.Pump, e.Op, e.Attempts)
}

func (e *RepeatedError) Unwrap() error { return e.Err }
