package c3000

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-tricont/internal/util"
	"github.com/arloliu/go-tricont/logger"
)

// PumpOp is one operation applied to a pump during a controller fan-out.
type PumpOp func(ctx context.Context, p *Pump) (any, error)

// Controller coordinates a bank of pumps across one or more buses.
//
// Fan-out operations visit pumps sequentially in sorted name order; the
// per-bus fair lock keeps concurrent callers from starving each other.
type Controller struct {
	pumps  *xsync.MapOf[string, *Pump]
	names  []string
	groups map[string][]string
	buses  []*Bus
	logger logger.Logger
}

// NewController creates a controller over already-constructed pumps.
//
// groups maps a group name to member pump names; every member must be a
// key of pumps. buses are the buses owned by the controller and closed by
// [Controller.Close]. To build a controller from a setup file, see
// [NewControllerFromSetup].
func NewController(pumps map[string]*Pump, groups map[string][]string, buses []*Bus, log logger.Logger) (*Controller, error) {
	if len(pumps) == 0 {
		return nil, errors.New("c3000: controller needs at least one pump")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	c := &Controller{
		pumps:  xsync.NewMapOf[string, *Pump](),
		groups: make(map[string][]string, len(groups)),
		buses:  buses,
		logger: log,
	}

	for name, pump := range pumps {
		if pump == nil {
			return nil, fmt.Errorf("c3000: pump %q is nil", name)
		}
		c.pumps.Store(name, pump)
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	for group, members := range groups {
		for _, name := range members {
			if _, ok := pumps[name]; !ok {
				return nil, fmt.Errorf("%w: %q in group %q", ErrUnknownPump, name, group)
			}
		}
		c.groups[group] = util.CloneSlice(members, 0)
	}

	return c, nil
}

// Close closes every bus owned by the controller.
func (c *Controller) Close() error {
	var errs []error
	for _, bus := range c.buses {
		if err := bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// --- Registry ---

// PumpNames returns every registered pump name in sorted order.
func (c *Controller) PumpNames() []string {
	return util.CloneSlice(c.names, 0)
}

// PumpNamed returns the pump registered under name.
func (c *Controller) PumpNamed(name string) (*Pump, bool) {
	return c.pumps.Load(name)
}

// Pumps returns every registered pump in sorted name order.
func (c *Controller) Pumps() []*Pump {
	return c.PumpsNamed(c.names)
}

// PumpsNamed returns the pumps registered under names, skipping names that
// are not registered.
func (c *Controller) PumpsNamed(names []string) []*Pump {
	pumps := make([]*Pump, 0, len(names))
	for _, name := range names {
		if pump, ok := c.pumps.Load(name); ok {
			pumps = append(pumps, pump)
		}
	}

	return pumps
}

// GroupNames returns every configured group name in sorted order.
func (c *Controller) GroupNames() []string {
	names := make([]string, 0, len(c.groups))
	for group := range c.groups {
		names = append(names, group)
	}
	sort.Strings(names)

	return names
}

// PumpsInGroup returns the member pumps of a configured group.
func (c *Controller) PumpsInGroup(group string) ([]*Pump, error) {
	members, ok := c.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}

	// Membership is validated at construction.
	return c.PumpsNamed(members), nil
}

// Buses returns the buses owned by the controller.
func (c *Controller) Buses() []*Bus {
	return util.CloneSlice(c.buses, 0)
}

// --- Fan-out ---

// ApplyToPumps runs op on each named pump in order, collecting results by
// pump name. It stops at the first pump whose op fails.
func (c *Controller) ApplyToPumps(ctx context.Context, names []string, op PumpOp) (map[string]any, error) {
	results := make(map[string]any, len(names))
	for _, name := range names {
		pump, ok := c.pumps.Load(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPump, name)
		}

		result, err := op(ctx, pump)
		if err != nil {
			return nil, err
		}
		results[name] = result
	}

	return results, nil
}

// ApplyToAllPumps runs op on every registered pump in sorted name order.
func (c *Controller) ApplyToAllPumps(ctx context.Context, op PumpOp) (map[string]any, error) {
	return c.ApplyToPumps(ctx, c.names, op)
}

// ApplyToGroup runs op on every pump of a configured group.
func (c *Controller) ApplyToGroup(ctx context.Context, group string, op PumpOp) (map[string]any, error) {
	members, ok := c.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}

	return c.ApplyToPumps(ctx, members, op)
}

// --- Bank status ---

// AreAllPumpsInitialized reports whether every registered pump reports
// initialized.
func (c *Controller) AreAllPumpsInitialized(ctx context.Context) (bool, error) {
	return c.allPumps(ctx, (*Pump).IsInitialized)
}

// AreAllPumpsIdle reports whether every registered pump reports idle.
func (c *Controller) AreAllPumpsIdle(ctx context.Context) (bool, error) {
	return c.allPumps(ctx, (*Pump).IsIdle)
}

// AreAllPumpsBusy reports whether every registered pump reports busy.
func (c *Controller) AreAllPumpsBusy(ctx context.Context) (bool, error) {
	return c.allPumps(ctx, (*Pump).IsBusy)
}

func (c *Controller) allPumps(ctx context.Context, query func(*Pump, context.Context) (bool, error)) (bool, error) {
	for _, name := range c.names {
		pump, _ := c.pumps.Load(name)
		ok, err := query(pump, ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// WaitUntilPumpsIdle blocks until each named pump reports idle.
func (c *Controller) WaitUntilPumpsIdle(ctx context.Context, names []string) error {
	_, err := c.ApplyToPumps(ctx, names, waitUntilIdleOp)
	return err
}

// WaitUntilAllPumpsIdle blocks until every registered pump reports idle.
func (c *Controller) WaitUntilAllPumpsIdle(ctx context.Context) error {
	_, err := c.ApplyToAllPumps(ctx, waitUntilIdleOp)
	return err
}

// WaitUntilGroupIdle blocks until every pump of a configured group reports
// idle.
func (c *Controller) WaitUntilGroupIdle(ctx context.Context, group string) error {
	_, err := c.ApplyToGroup(ctx, group, waitUntilIdleOp)
	return err
}

func waitUntilIdleOp(ctx context.Context, p *Pump) (any, error) {
	return nil, p.WaitUntilIdle(ctx)
}

// TerminateAllPumps aborts the move in progress on every registered pump.
func (c *Controller) TerminateAllPumps(ctx context.Context) error {
	_, err := c.ApplyToAllPumps(ctx, func(ctx context.Context, p *Pump) (any, error) {
		return nil, p.Terminate(ctx)
	})

	return err
}

// --- Bank initialization ---

// SmartInitializeAll initializes every pump that reports uninitialized.
// Each stage is issued across the whole bank before waiting for the bank
// to go idle, so all pumps run the stage concurrently. It finishes by
// reapplying the microstep mode and default top velocity on every pump.
func (c *Controller) SmartInitializeAll(ctx context.Context, secure bool) error {
	if err := c.forEachUninitialized(ctx, func(ctx context.Context, p *Pump) error {
		return p.InitializeValveOnly(ctx, "", false)
	}); err != nil {
		return err
	}
	if err := c.WaitUntilAllPumpsIdle(ctx); err != nil {
		return err
	}

	if err := c.forEachUninitialized(ctx, func(ctx context.Context, p *Pump) error {
		return p.SetValvePosition(ctx, p.cfg.initValve, 0, secure)
	}); err != nil {
		return err
	}
	if err := c.WaitUntilAllPumpsIdle(ctx); err != nil {
		return err
	}

	if err := c.forEachUninitialized(ctx, func(ctx context.Context, p *Pump) error {
		return p.InitializeNoValve(ctx, false)
	}); err != nil {
		return err
	}
	if err := c.WaitUntilAllPumpsIdle(ctx); err != nil {
		return err
	}

	if _, err := c.ApplyToAllPumps(ctx, func(ctx context.Context, p *Pump) (any, error) {
		return nil, p.InitAllParameters(ctx, secure)
	}); err != nil {
		return err
	}

	return c.WaitUntilAllPumpsIdle(ctx)
}

// forEachUninitialized runs fn on every registered pump that reports
// uninitialized, re-querying the report each time.
func (c *Controller) forEachUninitialized(ctx context.Context, fn func(context.Context, *Pump) error) error {
	for _, name := range c.names {
		pump, _ := c.pumps.Load(name)
		initialized, err := pump.IsInitialized(ctx)
		if err != nil {
			return err
		}
		if initialized {
			continue
		}

		if err := fn(ctx, pump); err != nil {
			return err
		}
	}

	return nil
}

// --- Bank motion ---

// Pump draws volumeML milliliters into each named pump: velocity setup
// across the bank, optional valve positioning across the bank, then the
// draw commands back to back, so the pumps move together. A pump that
// cannot draw the volume is skipped with a warning.
func (c *Controller) Pump(ctx context.Context, names []string, volumeML float64, opts ...MoveOption) error {
	mo := newMoveOptions(opts)

	if err := c.applySpeedFanout(ctx, names, mo.speed, mo.secure); err != nil {
		return err
	}
	if err := c.applyValveFanout(ctx, names, mo.valve, mo.secure); err != nil {
		return err
	}

	moveOpts := movePassthrough(mo)
	if _, err := c.ApplyToPumps(ctx, names, func(ctx context.Context, p *Pump) (any, error) {
		pumped, err := p.Pump(ctx, volumeML, moveOpts...)
		if err != nil {
			return nil, err
		}
		if !pumped {
			c.logger.Warn("volume not pumpable, pump skipped", "pump", p.name, "volume_ml", volumeML)
		}

		return pumped, nil
	}); err != nil {
		return err
	}

	if mo.wait {
		return c.WaitUntilPumpsIdle(ctx, names)
	}

	return nil
}

// Deliver pushes volumeML milliliters out of each named pump, mirroring
// [Controller.Pump]: velocity, then valve, then the delivery commands back
// to back. A pump holding less than the volume is skipped with a warning.
func (c *Controller) Deliver(ctx context.Context, names []string, volumeML float64, opts ...MoveOption) error {
	mo := newMoveOptions(opts)

	if err := c.applySpeedFanout(ctx, names, mo.speed, mo.secure); err != nil {
		return err
	}
	if err := c.applyValveFanout(ctx, names, mo.valve, mo.secure); err != nil {
		return err
	}

	moveOpts := movePassthrough(mo)
	if _, err := c.ApplyToPumps(ctx, names, func(ctx context.Context, p *Pump) (any, error) {
		delivered, err := p.Deliver(ctx, volumeML, moveOpts...)
		if err != nil {
			return nil, err
		}
		if !delivered {
			c.logger.Warn("volume not deliverable, pump skipped", "pump", p.name, "volume_ml", volumeML)
		}

		return delivered, nil
	}); err != nil {
		return err
	}

	if mo.wait {
		return c.WaitUntilPumpsIdle(ctx, names)
	}

	return nil
}

// Transfer moves volumeML milliliters through each named pump from
// fromValve to toValve. Chunks are sized by the bank: every round draws
// and delivers the largest volume every pump can still draw, waiting for
// the bank between the two phases, until the whole volume has been moved
// through every pump.
func (c *Controller) Transfer(ctx context.Context, names []string, volumeML float64, fromValve, toValve ValvePosition, opts ...MoveOption) error {
	if len(names) == 0 {
		return errors.New("c3000: transfer needs at least one pump")
	}

	mo := newMoveOptions(opts)

	for volumeML > 0 {
		chunk := volumeML
		for _, name := range names {
			pump, ok := c.pumps.Load(name)
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownPump, name)
			}

			remaining, err := pump.RemainingVolume(ctx)
			if err != nil {
				return err
			}
			chunk = math.Min(chunk, remaining)
		}
		if chunk <= 0 {
			return fmt.Errorf("%w: no draw capacity left in the bank", ErrInvalidVolume)
		}

		pumpOpts := []MoveOption{WithValve(fromValve), WithWait(true), WithSecure(mo.secure)}
		if mo.speedIn != 0 {
			pumpOpts = append(pumpOpts, WithSpeed(mo.speedIn))
		}
		if err := c.Pump(ctx, names, chunk, pumpOpts...); err != nil {
			return err
		}

		deliverOpts := []MoveOption{WithValve(toValve), WithWait(true), WithSecure(mo.secure)}
		if mo.speedOut != 0 {
			deliverOpts = append(deliverOpts, WithSpeed(mo.speedOut))
		}
		if err := c.Deliver(ctx, names, chunk, deliverOpts...); err != nil {
			return err
		}

		volumeML -= chunk
	}

	return nil
}

// ParallelTransfer moves a different volume through each pump, all at
// once: every pump draws its chunk, the bank waits until idle, every pump
// delivers, and the cycle repeats until every volume is done. It reports
// false without moving anything when volumes names an unregistered pump.
//
// With [WithWait] the call blocks until the final deliveries finish.
func (c *Controller) ParallelTransfer(ctx context.Context, volumes map[string]float64, fromValve, toValve ValvePosition, opts ...MoveOption) (bool, error) {
	mo := newMoveOptions(opts)

	round := make([]string, 0, len(volumes))
	for name := range volumes {
		if _, ok := c.pumps.Load(name); !ok {
			c.logger.Warn("parallel transfer aborted, unknown pump", "pump", name)
			return false, nil
		}
		round = append(round, name)
	}
	sort.Strings(round)

	left := make(map[string]float64, len(volumes))
	for name, volume := range volumes {
		left[name] = volume
	}

	for len(round) > 0 {
		// Pumps may still be delivering from the previous round.
		if err := c.WaitUntilPumpsIdle(ctx, round); err != nil {
			return false, err
		}

		chunks := make(map[string]float64, len(round))
		for _, name := range round {
			pump, _ := c.pumps.Load(name)
			remaining, err := pump.RemainingVolume(ctx)
			if err != nil {
				return false, err
			}

			chunk := math.Min(left[name], remaining)
			if chunk <= 0 {
				return false, fmt.Errorf("%w: pump %q has no draw capacity left", ErrInvalidVolume, name)
			}
			chunks[name] = chunk

			pumpOpts := []MoveOption{WithValve(fromValve), WithSecure(mo.secure)}
			if mo.speedIn != 0 {
				pumpOpts = append(pumpOpts, WithSpeed(mo.speedIn))
			}
			if _, err := pump.Pump(ctx, chunk, pumpOpts...); err != nil {
				return false, err
			}
		}

		if err := c.WaitUntilPumpsIdle(ctx, round); err != nil {
			return false, err
		}

		for _, name := range round {
			pump, _ := c.pumps.Load(name)
			deliverOpts := []MoveOption{WithValve(toValve), WithSecure(mo.secure)}
			if mo.speedOut != 0 {
				deliverOpts = append(deliverOpts, WithSpeed(mo.speedOut))
			}
			if _, err := pump.Deliver(ctx, chunks[name], deliverOpts...); err != nil {
				return false, err
			}

			if rest := left[name] - chunks[name]; rest > 0 {
				left[name] = rest
			} else {
				delete(left, name)
			}
		}

		prev := round
		round = make([]string, 0, len(left))
		for name := range left {
			round = append(round, name)
		}
		sort.Strings(round)

		if len(round) == 0 && mo.wait {
			if err := c.WaitUntilPumpsIdle(ctx, prev); err != nil {
				return false, err
			}
		}
	}

	return true, nil
}

func (c *Controller) applySpeedFanout(ctx context.Context, names []string, speed int, secure bool) error {
	_, err := c.ApplyToPumps(ctx, names, func(ctx context.Context, p *Pump) (any, error) {
		if speed != 0 {
			return nil, p.SetTopVelocity(ctx, speed, 0, secure)
		}

		return nil, p.EnsureDefaultTopVelocity(ctx, secure)
	})

	return err
}

func (c *Controller) applyValveFanout(ctx context.Context, names []string, valve ValvePosition, secure bool) error {
	if valve == 0 {
		return nil
	}

	_, err := c.ApplyToPumps(ctx, names, func(ctx context.Context, p *Pump) (any, error) {
		return nil, p.SetValvePosition(ctx, valve, 0, secure)
	})

	return err
}

// movePassthrough builds the per-pump options for the motion phase of a
// bank move. Velocity and valve are already set bank-wide; the per-pump
// call re-verifies them cheaply when secure is on.
func movePassthrough(mo moveOptions) []MoveOption {
	opts := []MoveOption{WithSecure(mo.secure)}
	if mo.speed != 0 {
		opts = append(opts, WithSpeed(mo.speed))
	}

	return opts
}
