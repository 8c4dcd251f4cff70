package c3000

import (
	"fmt"
	"time"

	"github.com/arloliu/go-tricont/dtproto"
)

// Microstep resolution modes of the C-Series plunger drive.
const (
	// MicrostepMode0 is standard resolution: 3000 steps over the full stroke.
	MicrostepMode0 = 0
	// MicrostepMode2 is fine resolution: 24000 steps over the full stroke.
	MicrostepMode2 = 2
)

// Full-stroke step counts and velocity limits per microstep mode.
const (
	StepsMode0 = 3000
	StepsMode2 = 24000

	MinTopVelocity      = 1     // steps/s
	MaxTopVelocityMode0 = 6000  // steps/s
	MaxTopVelocityMode2 = 48000 // steps/s

	// DefaultTopVelocity is valid in either microstep mode.
	DefaultTopVelocity = 6000 // steps/s
)

// stepsForMode returns the full-stroke step count of a microstep mode.
func stepsForMode(mode int) (int, error) {
	switch mode {
	case MicrostepMode0:
		return StepsMode0, nil
	case MicrostepMode2:
		return StepsMode2, nil
	default:
		return 0, fmt.Errorf("c3000: invalid microstep mode %d, want %d or %d", mode, MicrostepMode0, MicrostepMode2)
	}
}

// maxTopVelocityForMode returns the velocity ceiling of a microstep mode.
func maxTopVelocityForMode(mode int) int {
	if mode == MicrostepMode0 {
		return MaxTopVelocityMode0
	}

	return MaxTopVelocityMode2
}

// validateTopVelocity checks a top velocity against the limits of a
// microstep mode.
func validateTopVelocity(velocity, mode int) error {
	maxVelocity := maxTopVelocityForMode(mode)
	if velocity < MinTopVelocity || velocity > maxVelocity {
		return fmt.Errorf("%w: %d steps/s not in [%d, %d]", ErrVelocityOutOfRange, velocity, MinTopVelocity, maxVelocity)
	}

	return nil
}

// PumpConfig holds the static configuration of one pump on a bus.
type PumpConfig struct {
	address byte

	// totalVolume is the syringe volume in milliliters.
	totalVolume float64

	microstepMode int
	numberOfSteps int
	stepsPerML    int

	// topVelocity is the initial default top velocity in steps/s.
	topVelocity int

	// initValve is the valve position taken during initialization.
	initValve ValvePosition

	maxAttempts  int
	waitInterval time.Duration
}

// NewPumpConfig creates a configuration for the pump at the given address
// switch, driving a syringe of totalVolume milliliters.
//
// switchLabel is the position of the pump's physical address switch:
// "0".."9", "A".."E", or [dtproto.BroadcastSwitch]. opts are functional
// options applied in order; see With* functions.
func NewPumpConfig(switchLabel string, totalVolume float64, opts ...PumpConfigOption) (*PumpConfig, error) {
	address, err := dtproto.AddressForSwitch(switchLabel)
	if err != nil {
		return nil, err
	}

	if totalVolume <= 0 {
		return nil, fmt.Errorf("c3000: total volume %v mL must be positive", totalVolume)
	}

	cfg := &PumpConfig{
		address:       address,
		totalVolume:   totalVolume,
		microstepMode: MicrostepMode2,
		topVelocity:   DefaultTopVelocity,
		initValve:     ValveInput,
		maxAttempts:   DefaultMaxAttempts,
		waitInterval:  DefaultWaitInterval,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	// The mode is validated by its option, so this cannot fail for the default.
	cfg.numberOfSteps, err = stepsForMode(cfg.microstepMode)
	if err != nil {
		return nil, err
	}

	cfg.stepsPerML = int(float64(cfg.numberOfSteps) / cfg.totalVolume)
	if cfg.stepsPerML < 1 {
		return nil, fmt.Errorf("c3000: total volume %v mL exceeds %d steps of travel", totalVolume, cfg.numberOfSteps)
	}

	if err := validateTopVelocity(cfg.topVelocity, cfg.microstepMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// --- Getters ---

// Address returns the pump's wire address byte.
func (cfg *PumpConfig) Address() byte { return cfg.address }

// TotalVolume returns the syringe volume in milliliters.
func (cfg *PumpConfig) TotalVolume() float64 { return cfg.totalVolume }

// MicrostepMode returns the configured plunger drive resolution.
func (cfg *PumpConfig) MicrostepMode() int { return cfg.microstepMode }

// NumberOfSteps returns the plunger's full-stroke step count.
func (cfg *PumpConfig) NumberOfSteps() int { return cfg.numberOfSteps }

// StepsPerML returns the step/volume conversion factor.
func (cfg *PumpConfig) StepsPerML() int { return cfg.stepsPerML }

// TopVelocity returns the initial default top velocity in steps/s.
func (cfg *PumpConfig) TopVelocity() int { return cfg.topVelocity }

// InitialValvePosition returns the valve position taken during initialization.
func (cfg *PumpConfig) InitialValvePosition() ValvePosition { return cfg.initValve }

// MaxAttempts returns the attempt limit for transactions and operation repeats.
func (cfg *PumpConfig) MaxAttempts() int { return cfg.maxAttempts }

// WaitInterval returns the status polling interval.
func (cfg *PumpConfig) WaitInterval() time.Duration { return cfg.waitInterval }

// --- PumpConfigOption ---

// PumpConfigOption is a functional option for configuring a PumpConfig.
type PumpConfigOption interface {
	apply(*PumpConfig) error
}

type pumpCfgOptFunc func(*PumpConfig) error

func (f pumpCfgOptFunc) apply(cfg *PumpConfig) error { return f(cfg) }

// WithMicrostepMode selects the plunger drive resolution, [MicrostepMode0]
// or [MicrostepMode2]. The default is MicrostepMode2.
func WithMicrostepMode(mode int) PumpConfigOption {
	return pumpCfgOptFunc(func(cfg *PumpConfig) error {
		if _, err := stepsForMode(mode); err != nil {
			return err
		}
		cfg.microstepMode = mode

		return nil
	})
}

// WithTopVelocity sets the default top velocity in steps/s. The pump is
// brought back to this velocity before any move that does not name its own
// speed. The default is [DefaultTopVelocity]; the mode-specific upper
// limit is enforced once all options are applied.
func WithTopVelocity(velocity int) PumpConfigOption {
	return pumpCfgOptFunc(func(cfg *PumpConfig) error {
		if velocity < MinTopVelocity {
			return fmt.Errorf("%w: %d steps/s below minimum %d", ErrVelocityOutOfRange, velocity, MinTopVelocity)
		}
		cfg.topVelocity = velocity

		return nil
	})
}

// WithInitialValvePosition sets the valve position taken during
// initialization. The default is [ValveInput].
func WithInitialValvePosition(pos ValvePosition) PumpConfigOption {
	return pumpCfgOptFunc(func(cfg *PumpConfig) error {
		if !pos.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidValvePosition, byte(pos))
		}
		cfg.initValve = pos

		return nil
	})
}

// WithMaxAttempts sets the attempt limit for transactions and operation
// repeats. The default is [DefaultMaxAttempts].
func WithMaxAttempts(n int) PumpConfigOption {
	return pumpCfgOptFunc(func(cfg *PumpConfig) error {
		if n < 1 {
			return fmt.Errorf("c3000: max attempts %d must be >= 1", n)
		}
		cfg.maxAttempts = n

		return nil
	})
}

// WithWaitInterval sets the status polling interval used while waiting for
// a pump to go idle. The default is [DefaultWaitInterval].
func WithWaitInterval(d time.Duration) PumpConfigOption {
	return pumpCfgOptFunc(func(cfg *PumpConfig) error {
		if d <= 0 {
			return fmt.Errorf("c3000: wait interval %v must be positive", d)
		}
		cfg.waitInterval = d

		return nil
	})
}
