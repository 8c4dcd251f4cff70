package c3000

// MoveOption tunes a single motion operation; see [WithValve], [WithSpeed],
// [WithSpeedIn], [WithSpeedOut], [WithWait] and [WithSecure].
type MoveOption func(*moveOptions)

type moveOptions struct {
	valve    ValvePosition // 0 = leave the valve alone
	speed    int           // steps/s, 0 = restore the default top velocity
	speedIn  int           // draw speed for transfers, 0 = default
	speedOut int           // delivery speed for transfers, 0 = default
	wait     bool
	secure   bool
}

func newMoveOptions(opts []MoveOption) moveOptions {
	mo := moveOptions{secure: true}
	for _, opt := range opts {
		opt(&mo)
	}

	return mo
}

// WithValve moves the distribution valve before the motion starts: the
// draw port for Pump, the delivery port for Deliver. Without it the valve
// stays where it is.
func WithValve(pos ValvePosition) MoveOption {
	return func(mo *moveOptions) { mo.valve = pos }
}

// WithSpeed uses a one-off top velocity in steps/s for this motion instead
// of restoring the pump's default.
func WithSpeed(velocity int) MoveOption {
	return func(mo *moveOptions) { mo.speed = velocity }
}

// WithSpeedIn sets the draw speed in steps/s for Transfer and
// ParallelTransfer.
func WithSpeedIn(velocity int) MoveOption {
	return func(mo *moveOptions) { mo.speedIn = velocity }
}

// WithSpeedOut sets the delivery speed in steps/s for Transfer and
// ParallelTransfer.
func WithSpeedOut(velocity int) MoveOption {
	return func(mo *moveOptions) { mo.speedOut = velocity }
}

// WithWait blocks the operation until the pump goes idle again. Off by
// default.
func WithWait(wait bool) MoveOption {
	return func(mo *moveOptions) { mo.wait = wait }
}

// WithSecure toggles verified velocity and valve setup. Secure is on by
// default; turning it off skips the verification read-backs and trusts the
// pump to honor every command.
func WithSecure(secure bool) MoveOption {
	return func(mo *moveOptions) { mo.secure = secure }
}
