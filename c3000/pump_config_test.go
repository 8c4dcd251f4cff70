package c3000

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPumpConfig_Defaults(t *testing.T) {
	cfg, err := NewPumpConfig("0", 5.0)
	require.NoError(t, err)

	assert.Equal(t, byte('1'), cfg.Address())
	assert.InDelta(t, 5.0, cfg.TotalVolume(), 1e-9)
	assert.Equal(t, MicrostepMode2, cfg.MicrostepMode())
	assert.Equal(t, 24000, cfg.NumberOfSteps())
	assert.Equal(t, 4800, cfg.StepsPerML())
	assert.Equal(t, DefaultTopVelocity, cfg.TopVelocity())
	assert.Equal(t, ValveInput, cfg.InitialValvePosition())
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts())
	assert.Equal(t, DefaultWaitInterval, cfg.WaitInterval())
}

func TestNewPumpConfig_Options(t *testing.T) {
	cfg, err := NewPumpConfig("E", 25.0,
		WithMicrostepMode(MicrostepMode0),
		WithTopVelocity(5000),
		WithInitialValvePosition(ValveOutput),
		WithMaxAttempts(3),
		WithWaitInterval(50*time.Millisecond),
	)
	require.NoError(t, err)

	assert.Equal(t, byte('?'), cfg.Address())
	assert.Equal(t, MicrostepMode0, cfg.MicrostepMode())
	assert.Equal(t, 3000, cfg.NumberOfSteps())
	assert.Equal(t, 120, cfg.StepsPerML())
	assert.Equal(t, 5000, cfg.TopVelocity())
	assert.Equal(t, ValveOutput, cfg.InitialValvePosition())
	assert.Equal(t, 3, cfg.MaxAttempts())
	assert.Equal(t, 50*time.Millisecond, cfg.WaitInterval())
}

func TestNewPumpConfig_TruncatesStepsPerML(t *testing.T) {
	// 24000 steps over 7 mL is not a whole number; the ratio truncates.
	cfg, err := NewPumpConfig("1", 7.0)
	require.NoError(t, err)
	assert.Equal(t, 3428, cfg.StepsPerML())
}

func TestNewPumpConfig_Errors(t *testing.T) {
	tests := []struct {
		name        string
		switchLabel string
		volume      float64
		opts        []PumpConfigOption
	}{
		{name: "unknown switch", switchLabel: "Z", volume: 5.0},
		{name: "zero volume", switchLabel: "0", volume: 0},
		{name: "negative volume", switchLabel: "0", volume: -1.0},
		{
			name:        "invalid microstep mode",
			switchLabel: "0",
			volume:      5.0,
			opts:        []PumpConfigOption{WithMicrostepMode(1)},
		},
		{
			name:        "top velocity too low",
			switchLabel: "0",
			volume:      5.0,
			opts:        []PumpConfigOption{WithTopVelocity(0)},
		},
		{
			name:        "top velocity above mode ceiling",
			switchLabel: "0",
			volume:      5.0,
			opts:        []PumpConfigOption{WithMicrostepMode(MicrostepMode0), WithTopVelocity(6001)},
		},
		{
			name:        "invalid initial valve position",
			switchLabel: "0",
			volume:      5.0,
			opts:        []PumpConfigOption{WithInitialValvePosition(ValvePosition('x'))},
		},
		{
			name:        "non-positive max attempts",
			switchLabel: "0",
			volume:      5.0,
			opts:        []PumpConfigOption{WithMaxAttempts(0)},
		},
		{
			name:        "non-positive wait interval",
			switchLabel: "0",
			volume:      5.0,
			opts:        []PumpConfigOption{WithWaitInterval(0)},
		},
		{
			name:        "volume too large for one step per mL",
			switchLabel: "0",
			volume:      30000.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPumpConfig(tt.switchLabel, tt.volume, tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestValidateTopVelocity(t *testing.T) {
	assert.NoError(t, validateTopVelocity(1, MicrostepMode0))
	assert.NoError(t, validateTopVelocity(6000, MicrostepMode0))
	assert.NoError(t, validateTopVelocity(48000, MicrostepMode2))

	assert.ErrorIs(t, validateTopVelocity(0, MicrostepMode0), ErrVelocityOutOfRange)
	assert.ErrorIs(t, validateTopVelocity(6001, MicrostepMode0), ErrVelocityOutOfRange)
	assert.ErrorIs(t, validateTopVelocity(48001, MicrostepMode2), ErrVelocityOutOfRange)
}

func TestValvePosition(t *testing.T) {
	assert.True(t, ValveInput.Valid())
	assert.True(t, ValveOutput.Valid())
	assert.True(t, ValveBypass.Valid())
	assert.True(t, ValveExtra.Valid())
	assert.True(t, Valve6Way1.Valid())
	assert.True(t, Valve6Way6.Valid())
	assert.False(t, ValvePosition('x').Valid())
	assert.False(t, ValvePosition('0').Valid())
	assert.False(t, ValvePosition('7').Valid())

	assert.False(t, ValveInput.SixWay())
	assert.True(t, Valve6Way3.SixWay())

	assert.Equal(t, "I", ValveInput.String())
	assert.Equal(t, "4", Valve6Way4.String())
}

func TestValvePositionFromReport(t *testing.T) {
	tests := []struct {
		raw  string
		want ValvePosition
		ok   bool
	}{
		{raw: "i", want: ValveInput, ok: true},
		{raw: "o", want: ValveOutput, ok: true},
		{raw: "b", want: ValveBypass, ok: true},
		{raw: "e", want: ValveExtra, ok: true},
		{raw: "1", want: Valve6Way1, ok: true},
		{raw: "6", want: Valve6Way6, ok: true},
		{raw: "", ok: false},
		{raw: "x", ok: false},
		{raw: "io", ok: false},
	}

	for _, tt := range tests {
		got, ok := valvePositionFromReport(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw %q", tt.raw)
		if tt.ok {
			assert.Equal(t, tt.want, got, "raw %q", tt.raw)
		}
	}
}
