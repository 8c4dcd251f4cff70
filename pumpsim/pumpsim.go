// Package pumpsim simulates a daisy chain of C-Series syringe pumps behind
// the c3000.Transport interface.
//
// The simulator parses DT instruction frames, models plunger position,
// velocity, valve position, initialization state and busy windows, and
// answers the way real pumps do: broadcast instructions are executed but
// never answered, unknown addresses stay silent, and faults are reported
// through the status byte. Answer drops and garbled lines can be injected
// to exercise retry paths.
//
// A Simulator models one serial link; every pump added to it shares that
// link. Use the [Simulator.Factory] method with c3000.WithTransportFactory
// to run a setup file against the simulator instead of real hardware.
package pumpsim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-tricont/c3000"
	"github.com/arloliu/go-tricont/dtproto"
	"github.com/arloliu/go-tricont/logger"
)

// Power-up state of a simulated pump, before any initialization.
const (
	defaultTotalSteps     = 3000 // microstep mode 0
	defaultStartVelocity  = 900
	defaultTopVelocity    = 5600
	defaultCutoffVelocity = 400
)

// Defaults for the simulator itself.
const (
	// DefaultAnswerTimeout is how long a read blocks when no answer is
	// pending before reporting a timeout.
	DefaultAnswerTimeout = 50 * time.Millisecond
)

// Simulator is a bank of simulated pumps on one serial link. It implements
// c3000.Transport and is safe for concurrent use.
type Simulator struct {
	mu      sync.Mutex
	pumps   map[byte]*simPump
	pending [][]byte
	closed  bool

	motionDuration time.Duration
	valveDuration  time.Duration
	answerTimeout  time.Duration
	logger         logger.Logger
}

var _ c3000.Transport = (*Simulator)(nil)

// simPump is the modeled state of one pump.
type simPump struct {
	totalSteps     int
	plunger        int
	startVelocity  int
	topVelocity    int
	cutoffVelocity int
	valve          byte
	initialized    bool
	busyUntil      time.Time
	eeprom         string

	// fault is the transient fault code, cleared when the next
	// instruction loads the command buffer. injected is set only through
	// InjectFault and masks everything until cleared.
	fault    byte
	injected byte

	drops   int
	garbles int
}

// --- Options ---

// Option configures a Simulator; see [WithMotionDuration],
// [WithValveDuration], [WithAnswerTimeout] and [WithLogger].
type Option interface {
	apply(*Simulator) error
}

type optFunc func(*Simulator) error

func (f optFunc) apply(s *Simulator) error { return f(s) }

// WithMotionDuration sets how long a plunger move keeps the pump busy.
// Zero, the default, makes moves instantaneous.
func WithMotionDuration(d time.Duration) Option {
	return optFunc(func(s *Simulator) error {
		if d < 0 {
			return fmt.Errorf("pumpsim: motion duration must not be negative, got %v", d)
		}
		s.motionDuration = d

		return nil
	})
}

// WithValveDuration sets how long a valve turn keeps the pump busy. Zero,
// the default, makes turns instantaneous.
func WithValveDuration(d time.Duration) Option {
	return optFunc(func(s *Simulator) error {
		if d < 0 {
			return fmt.Errorf("pumpsim: valve duration must not be negative, got %v", d)
		}
		s.valveDuration = d

		return nil
	})
}

// WithAnswerTimeout sets how long a read without a pending answer blocks
// before reporting a timeout.
func WithAnswerTimeout(d time.Duration) Option {
	return optFunc(func(s *Simulator) error {
		if d <= 0 {
			return fmt.Errorf("pumpsim: answer timeout must be positive, got %v", d)
		}
		s.answerTimeout = d

		return nil
	})
}

// WithLogger sets the logger used to trace executed instructions.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Simulator) error {
		if l == nil {
			return errors.New("pumpsim: logger must not be nil")
		}
		s.logger = l

		return nil
	})
}

// New creates an empty simulator; add pumps with [Simulator.AddPump].
func New(opts ...Option) (*Simulator, error) {
	s := &Simulator{
		pumps:         make(map[byte]*simPump),
		answerTimeout: DefaultAnswerTimeout,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// AddPump puts a factory-fresh pump on the link at the given address
// switch position, "0".."9" or "A".."E".
func (s *Simulator) AddPump(switchLabel string) error {
	addr, err := dtproto.AddressForSwitch(switchLabel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pumps[addr]; exists {
		return fmt.Errorf("pumpsim: switch %s already has a pump", switchLabel)
	}

	s.pumps[addr] = &simPump{
		totalSteps:     defaultTotalSteps,
		startVelocity:  defaultStartVelocity,
		topVelocity:    defaultTopVelocity,
		cutoffVelocity: defaultCutoffVelocity,
		valve:          'i',
		eeprom:         factoryEEPROM(eepromValve3Way),
	}

	return nil
}

// Factory hands the simulator itself out as the transport for every
// configured bus; pass it to c3000.WithTransportFactory.
func (s *Simulator) Factory(c3000.BusSettings) (c3000.Transport, error) {
	return s, nil
}

// --- Fault injection ---

// InjectFault makes the pump report the given canonical fault code, such
// as 'i' for a plunger overload, until [Simulator.ClearFault].
func (s *Simulator) InjectFault(switchLabel string, code byte) error {
	if _, _, ok := dtproto.Status(code).Fault(); !ok || code >= 'A' && code <= 'Z' {
		return fmt.Errorf("pumpsim: %q is not a canonical fault code", code)
	}

	pump, err := s.pumpAt(switchLabel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pump.injected = code

	return nil
}

// ClearFault removes an injected fault.
func (s *Simulator) ClearFault(switchLabel string) error {
	pump, err := s.pumpAt(switchLabel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pump.injected = 0

	return nil
}

// DropAnswers makes the pump swallow its next n answers. The instructions
// still execute, the answers just never reach the wire.
func (s *Simulator) DropAnswers(switchLabel string, n int) error {
	pump, err := s.pumpAt(switchLabel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pump.drops = n

	return nil
}

// GarbleAnswers replaces the pump's next n answers with an undecodable
// line fragment.
func (s *Simulator) GarbleAnswers(switchLabel string, n int) error {
	pump, err := s.pumpAt(switchLabel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pump.garbles = n

	return nil
}

// --- State ---

// PumpState is a snapshot of one simulated pump.
type PumpState struct {
	Plunger        int
	TotalSteps     int
	StartVelocity  int
	TopVelocity    int
	CutoffVelocity int
	Valve          byte
	Initialized    bool
	Busy           bool
}

// State snapshots the pump at the given switch position.
func (s *Simulator) State(switchLabel string) (PumpState, error) {
	pump, err := s.pumpAt(switchLabel)
	if err != nil {
		return PumpState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return PumpState{
		Plunger:        pump.plunger,
		TotalSteps:     pump.totalSteps,
		StartVelocity:  pump.startVelocity,
		TopVelocity:    pump.topVelocity,
		CutoffVelocity: pump.cutoffVelocity,
		Valve:          pump.valve,
		Initialized:    pump.initialized,
		Busy:           time.Now().Before(pump.busyUntil),
	}, nil
}

func (s *Simulator) pumpAt(switchLabel string) (*simPump, error) {
	addr, err := dtproto.AddressForSwitch(switchLabel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pump, ok := s.pumps[addr]
	if !ok {
		return nil, fmt.Errorf("pumpsim: no pump at switch %s", switchLabel)
	}

	return pump, nil
}

// --- Transport ---

// Write parses and executes one instruction frame.
//
// Broadcast frames run on every pump and are never answered. Frames for
// unknown addresses, and frames too mangled to parse, are silently
// dropped, exactly like noise on a real RS-485 chain.
func (s *Simulator) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("pumpsim: simulator closed")
	}

	if len(frame) < 3 || frame[0] != dtproto.StartByte || frame[len(frame)-1] != dtproto.StopByte {
		s.logger.Debug("unparseable frame dropped", "frame", fmt.Sprintf("%q", frame))
		return nil
	}

	addr := frame[1]
	body := string(frame[2 : len(frame)-1])

	if addr == dtproto.BroadcastAddress {
		for _, pump := range s.pumps {
			pump.execute(body, s)
		}

		return nil
	}

	pump, ok := s.pumps[addr]
	if !ok {
		s.logger.Debug("no pump at address", "addr", string(addr))
		return nil
	}

	status, data := pump.execute(body, s)
	s.logger.Debug("instruction executed",
		"addr", string(addr), "body", body, "status", string(status), "data", data)

	switch {
	case pump.drops > 0:
		pump.drops--
	case pump.garbles > 0:
		pump.garbles--
		s.pending = append(s.pending, []byte{dtproto.StartByte, '\r', '\n'})
	default:
		s.pending = append(s.pending, answerFrame(status, data))
	}

	return nil
}

// ReadLine pops the next pending answer. With nothing pending it blocks
// for the answer timeout and reports c3000.ErrReadTimeout.
func (s *Simulator) ReadLine() ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("pumpsim: simulator closed")
	}

	if len(s.pending) > 0 {
		line := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		return line, nil
	}
	s.mu.Unlock()

	time.Sleep(s.answerTimeout)

	return nil, c3000.ErrReadTimeout
}

// ResetInputBuffer drops every pending answer.
func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil

	return nil
}

// Close shuts the simulated link down. Closing twice is fine.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	return nil
}

func answerFrame(status byte, data string) []byte {
	frame := make([]byte, 0, len(data)+6)
	frame = append(frame, dtproto.StartByte, '0', status)
	frame = append(frame, data...)
	frame = append(frame, dtproto.ETX, '\r', '\n')

	return frame
}
