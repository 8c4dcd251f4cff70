package c3000

// ValvePosition identifies one port of a pump's distribution valve.
//
// Classic 3-way and 4-way valves address their ports by letter; 6-way
// distribution valves address them by number.
type ValvePosition byte

const (
	ValveInput  ValvePosition = 'I'
	ValveOutput ValvePosition = 'O'
	ValveBypass ValvePosition = 'B'
	ValveExtra  ValvePosition = 'E'

	Valve6Way1 ValvePosition = '1'
	Valve6Way2 ValvePosition = '2'
	Valve6Way3 ValvePosition = '3'
	Valve6Way4 ValvePosition = '4'
	Valve6Way5 ValvePosition = '5'
	Valve6Way6 ValvePosition = '6'
)

// SixWay reports whether v addresses a 6-way distribution valve port.
func (v ValvePosition) SixWay() bool {
	return v >= '1' && v <= '6'
}

// Valid reports whether v is a known valve position.
func (v ValvePosition) Valid() bool {
	switch v {
	case ValveInput, ValveOutput, ValveBypass, ValveExtra:
		return true
	default:
		return v.SixWay()
	}
}

func (v ValvePosition) String() string {
	return string(v)
}

// valvePositionFromReport maps a raw valve position report to a
// ValvePosition. Pumps report letter ports in lowercase and 6-way ports as
// plain digits.
func valvePositionFromReport(raw string) (ValvePosition, bool) {
	if len(raw) != 1 {
		return 0, false
	}

	switch raw[0] {
	case 'i':
		return ValveInput, true
	case 'o':
		return ValveOutput, true
	case 'b':
		return ValveBypass, true
	case 'e':
		return ValveExtra, true
	default:
		pos := ValvePosition(raw[0])
		if pos.SixWay() {
			return pos, true
		}

		return 0, false
	}
}

// ValveConfig identifies the physical valve type a pump reports in its
// EEPROM configuration.
type ValveConfig string

const (
	ValveConfig3Way        ValveConfig = "3-way"
	ValveConfig4WayDist    ValveConfig = "4-way distribution"
	ValveConfig4WayNonDist ValveConfig = "4-way non-distribution"
	ValveConfigUnknown     ValveConfig = "unknown"
)
