package c3000

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/arloliu/go-tricont/dtproto"
)

// --- Initialization ---

// Initialize runs the full initialization sequence: initialize the valve
// drive alone, move the valve to valve, then home the plunger without
// touching the valve. The sequence repeats until the pump reports
// initialized, up to maxAttempts times.
//
// valve == 0 selects the configured initial valve position; maxAttempts
// <= 0 uses the configured attempt limit.
func (p *Pump) Initialize(ctx context.Context, valve ValvePosition, maxAttempts int, secure bool) error {
	if valve == 0 {
		valve = p.cfg.initValve
	}
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.maxAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.InitializeValveOnly(ctx, "", true); err != nil {
			return err
		}
		if err := p.SetValvePosition(ctx, valve, 0, secure); err != nil {
			return err
		}
		if err := p.InitializeNoValve(ctx, true); err != nil {
			return err
		}

		initialized, err := p.IsInitialized(ctx)
		if err != nil {
			return err
		}
		if initialized {
			return nil
		}

		p.logger.Debug("initialization did not take", "attempt", attempt, "max_attempts", maxAttempts)
	}

	p.logger.Error("pump would not initialize", "attempts", maxAttempts)

	return &RepeatedError{Pump: p.name, Op: "initialize", Attempts: maxAttempts}
}

// SmartInitialize initializes the pump only when it reports uninitialized,
// then reapplies the microstep mode and the default top velocity.
func (p *Pump) SmartInitialize(ctx context.Context, valve ValvePosition, secure bool) error {
	initialized, err := p.IsInitialized(ctx)
	if err != nil {
		return err
	}

	if !initialized {
		if err := p.Initialize(ctx, valve, 0, secure); err != nil {
			return err
		}
	}

	return p.InitAllParameters(ctx, secure)
}

// InitializeValveRight homes the plunger with the valve drive initialized
// clockwise. operand selects the initialization force and output position;
// 0 is the factory behavior.
func (p *Pump) InitializeValveRight(ctx context.Context, operand int, wait bool) error {
	if _, err := p.WriteAndRead(ctx, p.proto.ForgeInitializeValveRight(operand), 0); err != nil {
		return err
	}

	if wait {
		return p.WaitUntilIdle(ctx)
	}

	return nil
}

// InitializeValveLeft homes the plunger with the valve drive initialized
// counterclockwise.
func (p *Pump) InitializeValveLeft(ctx context.Context, operand int, wait bool) error {
	if _, err := p.WriteAndRead(ctx, p.proto.ForgeInitializeValveLeft(operand), 0); err != nil {
		return err
	}

	if wait {
		return p.WaitUntilIdle(ctx)
	}

	return nil
}

// InitializeNoValve homes the plunger without moving the valve. Syringes
// of 500 uL or less are homed at half plunger force.
func (p *Pump) InitializeNoValve(ctx context.Context, wait bool) error {
	operand := 0
	if p.cfg.totalVolume < 1 {
		operand = 1 // half stall force
	}

	if _, err := p.WriteAndRead(ctx, p.proto.ForgeInitializeNoValve(operand), 0); err != nil {
		return err
	}

	if wait {
		return p.WaitUntilIdle(ctx)
	}

	return nil
}

// InitializeValveOnly initializes the valve drive without moving the
// plunger. operand "" uses "0,0": no output change, full initialization
// force.
func (p *Pump) InitializeValveOnly(ctx context.Context, operand string, wait bool) error {
	if operand == "" {
		operand = "0,0"
	}

	if _, err := p.WriteAndRead(ctx, p.proto.ForgeInitializeValveOnly(operand), 0); err != nil {
		return err
	}

	if wait {
		return p.WaitUntilIdle(ctx)
	}

	return nil
}

// InitAllParameters applies the configured microstep mode and the default
// top velocity to the pump.
func (p *Pump) InitAllParameters(ctx context.Context, secure bool) error {
	if err := p.SetMicrostepMode(ctx, p.cfg.microstepMode); err != nil {
		return err
	}
	// Mode changes apply immediately, but make sure.
	if err := p.WaitUntilIdle(ctx); err != nil {
		return err
	}

	if err := p.SetTopVelocity(ctx, p.DefaultTopVelocity(), 0, secure); err != nil {
		return err
	}

	return p.WaitUntilIdle(ctx)
}

// SetMicrostepMode switches the plunger drive resolution on the device.
//
// The step/volume conversion keeps using the configured mode; drive a
// pump with the mode it was configured for.
func (p *Pump) SetMicrostepMode(ctx context.Context, mode int) error {
	packet, err := p.proto.ForgeMicrostepMode(mode)
	if err != nil {
		return err
	}

	_, err = p.WriteAndRead(ctx, packet, 0)

	return err
}

// --- Velocity ---

// DefaultTopVelocity returns the velocity restored before moves that do
// not name their own speed.
func (p *Pump) DefaultTopVelocity() int {
	return int(p.defaultTopVelocity.Load())
}

// SetDefaultTopVelocity changes the default top velocity. The new value
// takes effect on the next move or EnsureDefaultTopVelocity call.
func (p *Pump) SetDefaultTopVelocity(velocity int) error {
	if err := validateTopVelocity(velocity, p.cfg.microstepMode); err != nil {
		return err
	}

	p.defaultTopVelocity.Store(int64(velocity))

	return nil
}

// EnsureDefaultTopVelocity reads the device's top velocity and restores
// the default when they differ.
func (p *Pump) EnsureDefaultTopVelocity(ctx context.Context, secure bool) error {
	current, err := p.TopVelocity(ctx)
	if err != nil {
		return err
	}

	if current == p.DefaultTopVelocity() {
		return nil
	}

	return p.SetTopVelocity(ctx, p.DefaultTopVelocity(), 0, secure)
}

// SetTopVelocity sets the pump's top velocity in steps/s.
//
// With secure false the set command is issued exactly once, without
// verification. With secure true the device velocity is read back before
// and after every set until it matches, up to maxAttempts times; a pump
// already at the target is left untouched. maxAttempts <= 0 uses the
// configured attempt limit.
func (p *Pump) SetTopVelocity(ctx context.Context, velocity, maxAttempts int, secure bool) error {
	if err := validateTopVelocity(velocity, p.cfg.microstepMode); err != nil {
		return err
	}
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.maxAttempts
	}

	if !secure {
		_, err := p.WriteAndRead(ctx, p.proto.ForgeTopVelocity(velocity), 0)
		return err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		current, err := p.TopVelocity(ctx)
		if err != nil {
			return err
		}
		if current == velocity {
			return nil
		}

		p.logger.Debug("setting top velocity", "velocity", velocity, "current", current, "attempt", attempt)
		if _, err := p.WriteAndRead(ctx, p.proto.ForgeTopVelocity(velocity), 0); err != nil {
			return err
		}
	}

	p.logger.Error("pump did not confirm top velocity", "velocity", velocity, "attempts", maxAttempts)

	return &RepeatedError{Pump: p.name, Op: "set top velocity", Attempts: maxAttempts}
}

// --- Valve ---

// RawValvePosition reads the valve position report exactly as the pump
// sends it: lowercase letters for named ports, a digit for 6-way ports.
func (p *Pump) RawValvePosition(ctx context.Context) (string, error) {
	frame, err := p.WriteAndRead(ctx, p.proto.ForgeReportValvePosition(), 0)
	if err != nil {
		return "", err
	}

	return frame.Data, nil
}

// CurrentValvePosition reads and normalizes the valve position, retrying
// reads that answer an unknown report up to the configured attempt limit.
func (p *Pump) CurrentValvePosition(ctx context.Context) (ValvePosition, error) {
	var raw string
	for attempt := 1; attempt <= p.cfg.maxAttempts; attempt++ {
		var err error
		raw, err = p.RawValvePosition(ctx)
		if err != nil {
			return 0, err
		}

		if pos, ok := valvePositionFromReport(raw); ok {
			return pos, nil
		}

		p.logger.Debug("unknown valve position report", "raw", raw, "attempt", attempt)
	}

	return 0, fmt.Errorf("%w: pump %q answered %q", ErrUnknownValveReply, p.name, raw)
}

// SetValvePosition moves the distribution valve to pos.
//
// With secure false the valve command is issued exactly once. With secure
// true the position is read back before and after every move until it
// matches, waiting for the valve drive to go idle in between; a valve
// already at the target is left untouched. maxAttempts <= 0 uses the
// configured attempt limit.
func (p *Pump) SetValvePosition(ctx context.Context, pos ValvePosition, maxAttempts int, secure bool) error {
	packet, err := p.valvePacket(pos)
	if err != nil {
		return err
	}
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.maxAttempts
	}

	if !secure {
		_, err := p.WriteAndRead(ctx, packet, 0)
		return err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		current, err := p.CurrentValvePosition(ctx)
		if err != nil {
			return err
		}
		if current == pos {
			return nil
		}

		p.logger.Debug("moving valve", "target", pos.String(), "current", current.String(), "attempt", attempt)
		if _, err := p.WriteAndRead(ctx, packet, 0); err != nil {
			return err
		}
		if err := p.WaitUntilIdle(ctx); err != nil {
			return err
		}
	}

	p.logger.Error("valve did not reach target", "target", pos.String(), "attempts", maxAttempts)

	return &RepeatedError{Pump: p.name, Op: "set valve position", Attempts: maxAttempts}
}

func (p *Pump) valvePacket(pos ValvePosition) (*dtproto.InstructionPacket, error) {
	switch pos {
	case ValveInput:
		return p.proto.ForgeValveInput(), nil
	case ValveOutput:
		return p.proto.ForgeValveOutput(), nil
	case ValveBypass:
		return p.proto.ForgeValveBypass(), nil
	case ValveExtra:
		return p.proto.ForgeValveExtra(), nil
	default:
		if pos.SixWay() {
			return p.proto.ForgeValve6Way(byte(pos)), nil
		}

		return nil, fmt.Errorf("%w: %q", ErrInvalidValvePosition, byte(pos))
	}
}

// --- Motion ---

// Pump draws volumeML milliliters into the syringe. It reports false,
// without issuing any motion, when the syringe cannot draw that much from
// its current position.
//
// Options select a source valve, a one-off speed, whether to block until
// the move finishes, and whether velocity and valve setup are verified;
// see [WithValve], [WithSpeed], [WithWait] and [WithSecure].
func (p *Pump) Pump(ctx context.Context, volumeML float64, opts ...MoveOption) (bool, error) {
	mo := newMoveOptions(opts)

	pumpable, err := p.IsVolumePumpable(ctx, volumeML)
	if err != nil || !pumpable {
		return false, err
	}

	if err := p.applySpeed(ctx, mo); err != nil {
		return false, err
	}
	if err := p.applyValve(ctx, mo); err != nil {
		return false, err
	}

	steps := p.VolumeToSteps(volumeML)
	if _, err := p.WriteAndRead(ctx, p.proto.ForgePump(steps), 0); err != nil {
		return false, err
	}

	if mo.wait {
		if err := p.WaitUntilIdle(ctx); err != nil {
			return false, err
		}
	}

	return true, nil
}

// Deliver pushes volumeML milliliters out of the syringe. It reports
// false, without issuing any motion, when the syringe holds less than
// that. Delivering zero volume succeeds immediately without touching the
// valve or velocity.
func (p *Pump) Deliver(ctx context.Context, volumeML float64, opts ...MoveOption) (bool, error) {
	mo := newMoveOptions(opts)

	deliverable, err := p.IsVolumeDeliverable(ctx, volumeML)
	if err != nil || !deliverable {
		return false, err
	}
	if volumeML == 0 {
		return true, nil
	}

	if err := p.applySpeed(ctx, mo); err != nil {
		return false, err
	}
	if err := p.applyValve(ctx, mo); err != nil {
		return false, err
	}

	steps := p.VolumeToSteps(volumeML)
	if _, err := p.WriteAndRead(ctx, p.proto.ForgeDeliver(steps), 0); err != nil {
		return false, err
	}

	if mo.wait {
		if err := p.WaitUntilIdle(ctx); err != nil {
			return false, err
		}
	}

	return true, nil
}

// GoToVolume moves the plunger to the absolute fill volume volumeML. It
// reports false, without issuing any motion, when the volume does not fit
// the syringe.
func (p *Pump) GoToVolume(ctx context.Context, volumeML float64, opts ...MoveOption) (bool, error) {
	mo := newMoveOptions(opts)

	if !p.IsVolumeValid(volumeML) {
		return false, nil
	}

	if err := p.applySpeed(ctx, mo); err != nil {
		return false, err
	}
	if err := p.applyValve(ctx, mo); err != nil {
		return false, err
	}

	steps := p.VolumeToSteps(volumeML)
	if _, err := p.WriteAndRead(ctx, p.proto.ForgeMoveTo(steps), 0); err != nil {
		return false, err
	}

	if mo.wait {
		if err := p.WaitUntilIdle(ctx); err != nil {
			return false, err
		}
	}

	return true, nil
}

// GoToMaxVolume fills the syringe completely.
func (p *Pump) GoToMaxVolume(ctx context.Context, opts ...MoveOption) (bool, error) {
	return p.GoToVolume(ctx, p.cfg.totalVolume, opts...)
}

// Transfer moves volumeML milliliters from fromValve to toValve in
// full-syringe chunks, drawing and delivering until the whole volume has
// been moved. Each chunk blocks until the plunger finishes. [WithSpeedIn]
// and [WithSpeedOut] select one-off draw and delivery speeds.
func (p *Pump) Transfer(ctx context.Context, volumeML float64, fromValve, toValve ValvePosition, opts ...MoveOption) error {
	mo := newMoveOptions(opts)

	for volumeML > 0 {
		remaining, err := p.RemainingVolume(ctx)
		if err != nil {
			return err
		}

		chunk := math.Min(volumeML, remaining)
		if chunk <= 0 {
			return fmt.Errorf("%w: pump %q has no draw capacity left", ErrInvalidVolume, p.name)
		}

		pumpOpts := []MoveOption{WithValve(fromValve), WithWait(true), WithSecure(mo.secure)}
		if mo.speedIn != 0 {
			pumpOpts = append(pumpOpts, WithSpeed(mo.speedIn))
		}
		pumped, err := p.Pump(ctx, chunk, pumpOpts...)
		if err != nil {
			return err
		}
		if !pumped {
			return fmt.Errorf("%w: pump %q cannot draw %.4g mL", ErrInvalidVolume, p.name, chunk)
		}

		deliverOpts := []MoveOption{WithValve(toValve), WithWait(true), WithSecure(mo.secure)}
		if mo.speedOut != 0 {
			deliverOpts = append(deliverOpts, WithSpeed(mo.speedOut))
		}
		delivered, err := p.Deliver(ctx, chunk, deliverOpts...)
		if err != nil {
			return err
		}
		if !delivered {
			return fmt.Errorf("%w: pump %q cannot deliver %.4g mL", ErrInvalidVolume, p.name, chunk)
		}

		volumeML -= chunk
	}

	return nil
}

func (p *Pump) applySpeed(ctx context.Context, mo moveOptions) error {
	if mo.speed != 0 {
		return p.SetTopVelocity(ctx, mo.speed, 0, mo.secure)
	}

	return p.EnsureDefaultTopVelocity(ctx, mo.secure)
}

func (p *Pump) applyValve(ctx context.Context, mo moveOptions) error {
	if mo.valve == 0 {
		return nil
	}

	return p.SetValvePosition(ctx, mo.valve, 0, mo.secure)
}

// --- EEPROM ---

// eepromSignature marks pumps whose EEPROM was configured by this package.
const eepromSignature = "tricont1"

// Factory EEPROM configuration values for the supported valve types.
const (
	eepromConfig3WayY       = 1
	eepromConfig4WayNonDist = 2
	eepromConfig4WayDist    = 4
	eepromConfig3WayT       = 5
)

// SetEEPROMConfig writes a factory configuration value to the pump's
// EEPROM and signs the low-level configuration area. The pump must be
// power cycled before the new configuration takes effect.
func (p *Pump) SetEEPROMConfig(ctx context.Context, operand int) error {
	if _, err := p.WriteAndRead(ctx, p.proto.ForgeEEPROMConfig(operand), 0); err != nil {
		return err
	}
	if _, err := p.WriteAndRead(ctx, p.proto.ForgeEEPROMLowLevelConfig(20, eepromSignature), 0); err != nil {
		return err
	}

	p.logger.Warn("EEPROM configuration written, power cycle the pump to apply it", "config", operand)

	return nil
}

// SetEEPROMLowLevelConfig writes one low-level EEPROM parameter.
func (p *Pump) SetEEPROMLowLevelConfig(ctx context.Context, sub int, value string) error {
	_, err := p.WriteAndRead(ctx, p.proto.ForgeEEPROMLowLevelConfig(sub, value), 0)
	return err
}

// FlashEEPROM3WayYValve configures the pump for a 3-way 120° Y valve.
func (p *Pump) FlashEEPROM3WayYValve(ctx context.Context) error {
	return p.SetEEPROMConfig(ctx, eepromConfig3WayY)
}

// FlashEEPROM3WayTValve configures the pump for a 3-way 120° T valve.
func (p *Pump) FlashEEPROM3WayTValve(ctx context.Context) error {
	return p.SetEEPROMConfig(ctx, eepromConfig3WayT)
}

// FlashEEPROM4WayDistValve configures the pump for a 4-way distribution valve.
func (p *Pump) FlashEEPROM4WayDistValve(ctx context.Context) error {
	return p.SetEEPROMConfig(ctx, eepromConfig4WayDist)
}

// FlashEEPROM4WayNonDistValve configures the pump for a 4-way
// non-distribution valve.
func (p *Pump) FlashEEPROM4WayNonDistValve(ctx context.Context) error {
	return p.SetEEPROMConfig(ctx, eepromConfig4WayNonDist)
}

// EEPROMConfig reads the pump's raw EEPROM configuration report.
func (p *Pump) EEPROMConfig(ctx context.Context) (string, error) {
	frame, err := p.WriteAndRead(ctx, p.proto.ForgeReportEEPROM(), 0)
	if err != nil {
		return "", err
	}

	return frame.Data, nil
}

// CurrentValveConfig derives the installed valve type from the EEPROM
// configuration report.
func (p *Pump) CurrentValveConfig(ctx context.Context) (ValveConfig, error) {
	report, err := p.EEPROMConfig(ctx)
	if err != nil {
		return "", err
	}

	fields := strings.Split(report, ",")
	if len(fields) < 11 {
		return "", fmt.Errorf("%w: EEPROM report %q", ErrUnexpectedReply, report)
	}

	switch fields[10] {
	case "2013100":
		return ValveConfig3Way, nil
	case "2033110":
		return ValveConfig4WayDist, nil
	case "2130001":
		return ValveConfig4WayNonDist, nil
	default:
		p.logger.Warn("unsupported valve configuration", "field", fields[10])
		return ValveConfigUnknown, nil
	}
}

// --- Control ---

// Terminate aborts the move in progress immediately.
func (p *Pump) Terminate(ctx context.Context) error {
	_, err := p.WriteAndRead(ctx, p.proto.ForgeTerminate(), 0)
	return err
}
