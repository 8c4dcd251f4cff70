package dtproto

import (
	"errors"
	"fmt"
)

// ErrUnknownSwitch indicates an address-switch label outside "0"-"9", "A"-"E"
// and [BroadcastSwitch].
var ErrUnknownSwitch = errors.New("dtproto: unknown address switch")

const (
	// BroadcastSwitch is the switch label that selects every pump on the bus.
	BroadcastSwitch = "BROADCAST"

	// BroadcastAddress is the wire address all pumps listen to. Broadcast
	// instructions are executed by every pump but never answered.
	BroadcastAddress byte = '_'
)

// AddressForSwitch maps a rotary address-switch label to the wire address
// byte. Valid labels are the fifteen switch positions "0"-"9" and "A"-"E"
// printed on the pump, plus [BroadcastSwitch].
//
// The firmware assigns addresses as a contiguous ASCII run: switch position 0
// answers to '1', position 9 to ':' and positions A-E to ';' through '?'.
func AddressForSwitch(sw string) (byte, error) {
	if sw == BroadcastSwitch {
		return BroadcastAddress, nil
	}

	if len(sw) == 1 {
		c := sw[0]
		switch {
		case c >= '0' && c <= '9':
			return '1' + (c - '0'), nil
		case c >= 'A' && c <= 'E':
			return ';' + (c - 'A'), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownSwitch, sw)
}
