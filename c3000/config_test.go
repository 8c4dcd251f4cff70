package c3000

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const setupYAML = `
default:
  volume: 5.0
  micro_step_mode: 2
  top_velocity: 6000

groups:
  chemicals: [water, acetone]

io:
  port: /dev/ttyUSB0
  baudrate: 9600
  timeout: 1.5

pumps:
  water:
    switch: "0"
  acetone:
    switch: "1"
    volume: 2.5
    initialize_valve_position: "I"
`

const setupJSON = `{
  "default": {"volume": 5.0, "micro_step_mode": 2},
  "io": {"port": "/dev/ttyUSB0"},
  "pumps": {
    "water": {"switch": "0"},
    "acetone": {"switch": "1", "volume": 2.5}
  }
}`

func writeSetupFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadSetup_YAML(t *testing.T) {
	setup, err := LoadSetup(writeSetupFile(t, "setup.yaml", setupYAML))
	require.NoError(t, err)

	assert.InDelta(t, 5.0, setup.Default.Volume, 1e-9)
	require.NotNil(t, setup.Default.MicrostepMode)
	assert.Equal(t, 2, *setup.Default.MicrostepMode)
	assert.Equal(t, 6000, setup.Default.TopVelocity)

	assert.Equal(t, []string{"water", "acetone"}, setup.Groups["chemicals"])

	assert.Equal(t, "/dev/ttyUSB0", setup.IO.Port)
	assert.Equal(t, 9600, setup.IO.Baudrate)
	assert.InDelta(t, 1.5, setup.IO.Timeout, 1e-9)

	water := setup.Pumps["water"]
	assert.Equal(t, "0", water.Switch)
	assert.Nil(t, water.MicrostepMode, "unset mode stays nil until merge")

	acetone := setup.Pumps["acetone"]
	assert.Equal(t, "1", acetone.Switch)
	assert.InDelta(t, 2.5, acetone.Volume, 1e-9)
	assert.Equal(t, "I", acetone.InitialValvePosition)
}

func TestLoadSetup_JSON(t *testing.T) {
	setup, err := LoadSetup(writeSetupFile(t, "setup.json", setupJSON))
	require.NoError(t, err)

	assert.InDelta(t, 5.0, setup.Default.Volume, 1e-9)
	require.NotNil(t, setup.Default.MicrostepMode)
	assert.Equal(t, 2, *setup.Default.MicrostepMode)
	assert.Equal(t, "/dev/ttyUSB0", setup.IO.Port)
	assert.Len(t, setup.Pumps, 2)
}

func TestLoadSetup_Errors(t *testing.T) {
	_, err := LoadSetup(writeSetupFile(t, "setup.toml", "port = 1"))
	assert.Error(t, err)

	_, err = LoadSetup(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadSetup(writeSetupFile(t, "broken.yaml", "pumps: ["))
	assert.Error(t, err)
}

func TestBusSettings_Effective(t *testing.T) {
	var zero BusSettings
	assert.Equal(t, DefaultBaudrate, zero.EffectiveBaudrate())
	assert.Equal(t, DefaultTimeout, zero.EffectiveTimeout())

	set := BusSettings{Baudrate: 38400, Timeout: 0.5}
	assert.Equal(t, 38400, set.EffectiveBaudrate())
	assert.Equal(t, 500*time.Millisecond, set.EffectiveTimeout())
}

func TestPumpSettings_Merged(t *testing.T) {
	mode0 := 0
	mode2 := 2
	def := PumpSettings{
		Volume:               5.0,
		MicrostepMode:        &mode0,
		TopVelocity:          6000,
		InitialValvePosition: "I",
	}

	// Everything unset inherits from the defaults, including mode 0.
	merged := PumpSettings{Switch: "3"}.merged(def)
	assert.Equal(t, "3", merged.Switch)
	assert.InDelta(t, 5.0, merged.Volume, 1e-9)
	require.NotNil(t, merged.MicrostepMode)
	assert.Equal(t, 0, *merged.MicrostepMode)
	assert.Equal(t, 6000, merged.TopVelocity)
	assert.Equal(t, "I", merged.InitialValvePosition)

	// Explicit settings win over the defaults.
	merged = PumpSettings{
		Switch:               "4",
		Volume:               1.0,
		MicrostepMode:        &mode2,
		TopVelocity:          1000,
		InitialValvePosition: "O",
	}.merged(def)
	assert.InDelta(t, 1.0, merged.Volume, 1e-9)
	assert.Equal(t, 2, *merged.MicrostepMode)
	assert.Equal(t, 1000, merged.TopVelocity)
	assert.Equal(t, "O", merged.InitialValvePosition)
}

func TestNewControllerFromSetup(t *testing.T) {
	setup, err := LoadSetup(writeSetupFile(t, "setup.yaml", setupYAML))
	require.NoError(t, err)

	var opened []BusSettings
	factory := func(settings BusSettings) (Transport, error) {
		opened = append(opened, settings)
		return newScriptTransport(), nil
	}

	ctrl, err := NewControllerFromSetup(setup, WithTransportFactory(factory))
	require.NoError(t, err)
	defer ctrl.Close()

	require.Len(t, opened, 1)
	assert.Equal(t, "/dev/ttyUSB0", opened[0].Port)

	assert.Equal(t, []string{"acetone", "water"}, ctrl.PumpNames())
	assert.Len(t, ctrl.Buses(), 1)

	water, ok := ctrl.PumpNamed("water")
	require.True(t, ok)
	assert.Equal(t, byte('1'), water.Address())
	assert.InDelta(t, 5.0, water.TotalVolume(), 1e-9, "water inherits the default volume")
	assert.Equal(t, MicrostepMode2, water.Config().MicrostepMode())

	acetone, ok := ctrl.PumpNamed("acetone")
	require.True(t, ok)
	assert.InDelta(t, 2.5, acetone.TotalVolume(), 1e-9)

	members, err := ctrl.PumpsInGroup("chemicals")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestNewControllerFromSetup_Hubs(t *testing.T) {
	setup := &Setup{
		Hubs: []HubSetup{
			{
				IO: BusSettings{Port: "/dev/ttyUSB0"},
				Pumps: map[string]PumpSettings{
					"water":   {Switch: "0", Volume: 5.0},
					"acetone": {Switch: "1", Volume: 5.0},
				},
			},
			{
				IO: BusSettings{Port: "/dev/ttyUSB1"},
				Pumps: map[string]PumpSettings{
					"oil": {Switch: "0", Volume: 25.0},
				},
			},
		},
	}

	var opened []BusSettings
	factory := func(settings BusSettings) (Transport, error) {
		opened = append(opened, settings)
		return newScriptTransport(), nil
	}

	ctrl, err := NewControllerFromSetup(setup, WithTransportFactory(factory))
	require.NoError(t, err)
	defer ctrl.Close()

	assert.Len(t, opened, 2)
	assert.Len(t, ctrl.Buses(), 2)
	assert.Equal(t, []string{"acetone", "oil", "water"}, ctrl.PumpNames())
}

func TestNewControllerFromSetup_RequiresFactory(t *testing.T) {
	setup := &Setup{
		Pumps: map[string]PumpSettings{"water": {Switch: "0", Volume: 5.0}},
	}

	_, err := NewControllerFromSetup(setup)
	assert.ErrorIs(t, err, ErrNoTransportFactory)
}

func TestNewControllerFromSetup_ClosesBusesOnError(t *testing.T) {
	setup := &Setup{
		Groups: map[string][]string{"chemicals": {"water", "ghost"}},
		Pumps:  map[string]PumpSettings{"water": {Switch: "0", Volume: 5.0}},
	}

	var transports []*scriptTransport
	factory := func(BusSettings) (Transport, error) {
		transport := newScriptTransport()
		transports = append(transports, transport)
		return transport, nil
	}

	_, err := NewControllerFromSetup(setup, WithTransportFactory(factory))
	require.ErrorIs(t, err, ErrUnknownPump)

	require.Len(t, transports, 1)
	assert.True(t, transports[0].closed, "transport must be closed when construction fails")
}

func TestNewControllerFromSetup_DuplicatePumpName(t *testing.T) {
	setup := &Setup{
		Hubs: []HubSetup{
			{
				IO:    BusSettings{Port: "/dev/ttyUSB0"},
				Pumps: map[string]PumpSettings{"water": {Switch: "0", Volume: 5.0}},
			},
			{
				IO:    BusSettings{Port: "/dev/ttyUSB1"},
				Pumps: map[string]PumpSettings{"water": {Switch: "0", Volume: 5.0}},
			},
		},
	}

	factory := func(BusSettings) (Transport, error) {
		return newScriptTransport(), nil
	}

	_, err := NewControllerFromSetup(setup, WithTransportFactory(factory))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured twice")
}

func TestNewControllerFromSetup_BadOptions(t *testing.T) {
	setup := &Setup{
		Pumps: map[string]PumpSettings{"water": {Switch: "0", Volume: 5.0}},
	}

	_, err := NewControllerFromSetup(setup, WithTransportFactory(nil))
	assert.Error(t, err)

	_, err = NewControllerFromSetup(setup, WithControllerLogger(nil))
	assert.Error(t, err)

	_, err = NewControllerFromSetup(nil)
	assert.Error(t, err)
}

func TestNewControllerFromFile(t *testing.T) {
	path := writeSetupFile(t, "setup.yml", setupYAML)

	ctrl, err := NewControllerFromFile(path, WithTransportFactory(func(BusSettings) (Transport, error) {
		return newScriptTransport(), nil
	}))
	require.NoError(t, err)
	defer ctrl.Close()

	assert.Equal(t, []string{"acetone", "water"}, ctrl.PumpNames())
}
