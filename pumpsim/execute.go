package pumpsim

import (
	"strconv"
	"strings"
	"time"
)

// EEPROM valve signatures as they appear in field 10 of the configuration
// report.
const (
	eepromValve3Way        = "2013100"
	eepromValve4WayDist    = "2033110"
	eepromValve4WayNonDist = "2130001"
)

func factoryEEPROM(valveField string) string {
	fields := strings.Split("10,75,14,62,1,1,20,10,48,210,X,0,0,25,20,15,0,0,0,0", ",")
	fields[10] = valveField

	return strings.Join(fields, ",")
}

// optionalInt reports whether operand is empty or a well-formed integer,
// the two shapes initialization commands accept.
func optionalInt(operand string) bool {
	if operand == "" {
		return true
	}

	_, err := strconv.Atoi(operand)

	return err == nil
}

// execute runs one command body against the pump and returns the status
// byte and data payload for the answer. Callers hold the simulator lock.
func (p *simPump) execute(body string, s *Simulator) (byte, string) {
	now := time.Now()
	cmd := strings.TrimSuffix(body, "R")

	// Report commands answer from current state without reloading the
	// command buffer, so a latched fault survives them.
	if data, isReport := p.report(cmd); isReport {
		return p.statusByte(now), data
	}

	// Loading an instruction into the command buffer clears the fault
	// latched by the previous one.
	p.fault = 0

	if cmd == "" {
		return p.statusByte(now), ""
	}

	opcode, operand := cmd[0], cmd[1:]
	switch opcode {
	case 'Z', 'Y': // full initialization, plunger and valve drive
		if !optionalInt(operand) {
			p.fault = 'c'
			break
		}
		p.plunger = 0
		p.initialized = true
		p.busyUntil = now.Add(s.motionDuration + s.valveDuration)

	case 'W': // plunger-only initialization
		if !optionalInt(operand) {
			p.fault = 'c'
			break
		}
		p.plunger = 0
		p.initialized = true
		p.busyUntil = now.Add(s.motionDuration)

	case 'w': // valve drive initialization
		p.busyUntil = now.Add(s.valveDuration)

	case 'N':
		mode, err := strconv.Atoi(operand)
		if err != nil || mode < 0 || mode > 2 {
			p.fault = 'c'
			break
		}
		if mode == 0 {
			p.totalSteps = 3000
		} else {
			p.totalSteps = 24000
		}
		if p.plunger > p.totalSteps {
			p.plunger = p.totalSteps
		}

	case 'A':
		target, err := strconv.Atoi(operand)
		switch {
		case !p.initialized:
			p.fault = 'g'
		case err != nil || target < 0 || target > p.totalSteps:
			p.fault = 'c'
		default:
			p.plunger = target
			p.busyUntil = now.Add(s.motionDuration)
		}

	case 'P':
		n, err := strconv.Atoi(operand)
		switch {
		case !p.initialized:
			p.fault = 'g'
		case err != nil || n < 0:
			p.fault = 'c'
		case p.plunger+n > p.totalSteps:
			p.fault = 'k' // aspirate past the top of the stroke
		default:
			p.plunger += n
			p.busyUntil = now.Add(s.motionDuration)
		}

	case 'D':
		n, err := strconv.Atoi(operand)
		switch {
		case !p.initialized:
			p.fault = 'g'
		case err != nil || n < 0:
			p.fault = 'c'
		case p.plunger-n < 0:
			p.fault = 'k' // dispense past the bottom of the stroke
		default:
			p.plunger -= n
			p.busyUntil = now.Add(s.motionDuration)
		}

	case 'V':
		n, err := strconv.Atoi(operand)
		if err != nil || n < 1 || n > 48000 {
			p.fault = 'c'
			break
		}
		p.topVelocity = n

	case 'I', 'O', 'B', 'E':
		switch {
		case operand == "":
			p.valve = opcode + 'a' - 'A'
			p.busyUntil = now.Add(s.valveDuration)
		case opcode == 'I' && len(operand) == 1 && operand[0] >= '1' && operand[0] <= '6':
			p.valve = operand[0]
			p.busyUntil = now.Add(s.valveDuration)
		default:
			p.fault = 'c'
		}

	case 'U':
		val, err := strconv.Atoi(operand)
		if err != nil {
			p.fault = 'c'
			break
		}
		switch val {
		case 1, 5:
			p.eeprom = factoryEEPROM(eepromValve3Way)
		case 4:
			p.eeprom = factoryEEPROM(eepromValve4WayDist)
		case 2:
			p.eeprom = factoryEEPROM(eepromValve4WayNonDist)
		default:
			p.fault = 'c'
		}

	case 'u': // low-level EEPROM write, nothing observable to model
	case 'T':
		p.busyUntil = now

	default:
		p.fault = 'b' // unknown opcode
	}

	return p.statusByte(now), ""
}

// report answers query commands; the second return is false when cmd is
// not a report.
func (p *simPump) report(cmd string) (string, bool) {
	switch cmd {
	case "Q":
		return "", true
	case "?":
		return strconv.Itoa(p.plunger), true
	case "?1":
		return strconv.Itoa(p.startVelocity), true
	case "?2":
		return strconv.Itoa(p.topVelocity), true
	case "?3":
		return strconv.Itoa(p.cutoffVelocity), true
	case "?6":
		return string(p.valve), true
	case "?19":
		if p.initialized {
			return "1", true
		}

		return "0", true
	case "?27":
		return p.eeprom, true
	case "?28": // J2-5 jumper, not fitted on the simulated pumps
		return "0", true
	default:
		return "", false
	}
}

// statusByte folds fault and busy state into the DT status byte: idle or
// busy when fault-free, the canonical code when idle and faulted, the
// uppercase variant when busy and faulted. An injected fault masks
// everything else.
func (p *simPump) statusByte(now time.Time) byte {
	code := p.injected
	if code == 0 {
		code = p.fault
	}

	busy := now.Before(p.busyUntil)
	if code == 0 {
		if busy {
			return '@'
		}

		return '`'
	}

	if busy {
		return code - ('a' - 'A')
	}

	return code
}
