package c3000

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-tricont/logger"
)

// BusSettings describes one serial link of a setup file.
type BusSettings struct {
	// Port is the serial device path, e.g. /dev/ttyUSB0 or COM3.
	Port string `yaml:"port" json:"port"`
	// Baudrate defaults to DefaultBaudrate when zero.
	Baudrate int `yaml:"baudrate,omitempty" json:"baudrate,omitempty"`
	// Timeout is the answer timeout in seconds; fractions are allowed.
	// Defaults to DefaultTimeout when zero.
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// EffectiveBaudrate returns the configured baudrate or [DefaultBaudrate].
func (s BusSettings) EffectiveBaudrate() int {
	if s.Baudrate <= 0 {
		return DefaultBaudrate
	}

	return s.Baudrate
}

// EffectiveTimeout returns the configured answer timeout or [DefaultTimeout].
func (s BusSettings) EffectiveTimeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}

	return time.Duration(s.Timeout * float64(time.Second))
}

// PumpSettings describes one pump entry of a setup file. Unset fields fall
// back to the setup-wide defaults.
type PumpSettings struct {
	// Switch is the pump's physical address switch position, "0".."9" or
	// "A".."E". Required per pump.
	Switch string `yaml:"switch,omitempty" json:"switch,omitempty"`
	// Volume is the syringe volume in milliliters.
	Volume float64 `yaml:"volume,omitempty" json:"volume,omitempty"`
	// MicrostepMode selects the plunger drive resolution. A nil pointer
	// means "not set"; mode 0 is a valid value.
	MicrostepMode *int `yaml:"micro_step_mode,omitempty" json:"micro_step_mode,omitempty"`
	// TopVelocity is the default top velocity in steps/s.
	TopVelocity int `yaml:"top_velocity,omitempty" json:"top_velocity,omitempty"`
	// InitialValvePosition is the valve position taken during
	// initialization, e.g. "I" or "1".
	InitialValvePosition string `yaml:"initialize_valve_position,omitempty" json:"initialize_valve_position,omitempty"`
}

// merged overlays s onto the setup-wide defaults, field by field.
func (s PumpSettings) merged(def PumpSettings) PumpSettings {
	if s.Switch == "" {
		s.Switch = def.Switch
	}
	if s.Volume == 0 {
		s.Volume = def.Volume
	}
	if s.MicrostepMode == nil {
		s.MicrostepMode = def.MicrostepMode
	}
	if s.TopVelocity == 0 {
		s.TopVelocity = def.TopVelocity
	}
	if s.InitialValvePosition == "" {
		s.InitialValvePosition = def.InitialValvePosition
	}

	return s
}

// pumpConfig builds a PumpConfig from fully merged settings.
func (s PumpSettings) pumpConfig() (*PumpConfig, error) {
	var opts []PumpConfigOption
	if s.MicrostepMode != nil {
		opts = append(opts, WithMicrostepMode(*s.MicrostepMode))
	}
	if s.TopVelocity != 0 {
		opts = append(opts, WithTopVelocity(s.TopVelocity))
	}
	if s.InitialValvePosition != "" {
		if len(s.InitialValvePosition) != 1 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidValvePosition, s.InitialValvePosition)
		}
		opts = append(opts, WithInitialValvePosition(ValvePosition(s.InitialValvePosition[0])))
	}

	return NewPumpConfig(s.Switch, s.Volume, opts...)
}

// HubSetup groups the pumps daisy-chained on one serial link.
type HubSetup struct {
	IO    BusSettings             `yaml:"io" json:"io"`
	Pumps map[string]PumpSettings `yaml:"pumps" json:"pumps"`
}

// Setup is a full multi-pump configuration.
//
// Single-hub setups put the link under "io" and the pumps at the top
// level; multi-hub setups list every link under "hubs" instead.
type Setup struct {
	// Default holds pump settings shared by every pump entry.
	Default PumpSettings `yaml:"default,omitempty" json:"default,omitempty"`
	// Groups maps a group name to member pump names.
	Groups map[string][]string `yaml:"groups,omitempty" json:"groups,omitempty"`

	// Single-hub form.
	IO    BusSettings             `yaml:"io,omitempty" json:"io,omitempty"`
	Pumps map[string]PumpSettings `yaml:"pumps,omitempty" json:"pumps,omitempty"`

	// Multi-hub form; takes precedence when non-empty.
	Hubs []HubSetup `yaml:"hubs,omitempty" json:"hubs,omitempty"`
}

// hubList normalizes the single-hub and multi-hub forms into one list.
func (s *Setup) hubList() []HubSetup {
	if len(s.Hubs) > 0 {
		return s.Hubs
	}

	return []HubSetup{{IO: s.IO, Pumps: s.Pumps}}
}

// LoadSetup reads a setup file, selecting the decoder by file extension:
// .yaml/.yml or .json.
func LoadSetup(path string) (*Setup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("c3000: read setup: %w", err)
	}

	setup := &Setup{}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, setup); err != nil {
			return nil, fmt.Errorf("c3000: parse setup %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, setup); err != nil {
			return nil, fmt.Errorf("c3000: parse setup %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("c3000: unsupported setup file extension %q", ext)
	}

	return setup, nil
}

// --- ControllerOption ---

type controllerOptions struct {
	factory TransportFactory
	logger  logger.Logger
}

// ControllerOption is a functional option for setup-driven controller
// construction.
type ControllerOption interface {
	apply(*controllerOptions) error
}

type ctrlOptFunc func(*controllerOptions) error

func (f ctrlOptFunc) apply(o *controllerOptions) error { return f(o) }

// WithTransportFactory sets the factory used to open one transport per
// hub, e.g. serialport.Factory for real hardware or a pumpsim simulator's
// Factory method. Required.
func WithTransportFactory(factory TransportFactory) ControllerOption {
	return ctrlOptFunc(func(o *controllerOptions) error {
		if factory == nil {
			return errors.New("c3000: transport factory must not be nil")
		}
		o.factory = factory

		return nil
	})
}

// WithControllerLogger sets the logger shared by the controller, its buses
// and its pumps.
func WithControllerLogger(l logger.Logger) ControllerOption {
	return ctrlOptFunc(func(o *controllerOptions) error {
		if l == nil {
			return errors.New("c3000: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}

// NewControllerFromSetup opens one bus per hub and creates every
// configured pump. A transport factory is required; see
// [WithTransportFactory].
func NewControllerFromSetup(setup *Setup, opts ...ControllerOption) (*Controller, error) {
	if setup == nil {
		return nil, errors.New("c3000: setup is nil")
	}

	options := controllerOptions{logger: logger.GetLogger()}
	for _, opt := range opts {
		if err := opt.apply(&options); err != nil {
			return nil, err
		}
	}
	if options.factory == nil {
		return nil, ErrNoTransportFactory
	}

	pumps := make(map[string]*Pump)
	var buses []*Bus

	closeAll := func() {
		for _, bus := range buses {
			_ = bus.Close()
		}
	}

	for _, hub := range setup.hubList() {
		transport, err := options.factory(hub.IO)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("c3000: open transport for %q: %w", hub.IO.Port, err)
		}

		bus := NewBus(transport, options.logger)
		buses = append(buses, bus)

		for name, settings := range hub.Pumps {
			if _, exists := pumps[name]; exists {
				closeAll()
				return nil, fmt.Errorf("c3000: pump %q configured twice", name)
			}

			cfg, err := settings.merged(setup.Default).pumpConfig()
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("c3000: pump %q: %w", name, err)
			}

			pump, err := NewPump(bus, name, cfg)
			if err != nil {
				closeAll()
				return nil, err
			}
			pumps[name] = pump
		}
	}

	ctrl, err := NewController(pumps, setup.Groups, buses, options.logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	return ctrl, nil
}

// NewControllerFromFile loads a setup file and builds a controller from it.
func NewControllerFromFile(path string, opts ...ControllerOption) (*Controller, error) {
	setup, err := LoadSetup(path)
	if err != nil {
		return nil, err
	}

	return NewControllerFromSetup(setup, opts...)
}
