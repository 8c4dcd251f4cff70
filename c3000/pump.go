package c3000

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/arloliu/go-tricont/dtproto"
	"github.com/arloliu/go-tricont/internal/pool"
	"github.com/arloliu/go-tricont/logger"
)

// Pump drives a single C-Series pump through its bus.
//
// A Pump is safe for concurrent use; operations from multiple goroutines
// interleave at transaction granularity on the shared bus.
type Pump struct {
	bus    *Bus
	cfg    *PumpConfig
	name   string
	proto  *dtproto.Protocol
	logger logger.Logger

	// defaultTopVelocity is restored before moves that do not name their
	// own speed. Mutable via SetDefaultTopVelocity.
	defaultTopVelocity atomic.Int64
}

// NewPump creates a handle for the pump described by cfg. name identifies
// the pump in logs and errors.
func NewPump(bus *Bus, name string, cfg *PumpConfig) (*Pump, error) {
	if bus == nil {
		return nil, errors.New("c3000: bus is nil")
	}
	if cfg == nil {
		return nil, errors.New("c3000: pump config is nil")
	}
	if name == "" {
		return nil, errors.New("c3000: pump name is empty")
	}

	p := &Pump{
		bus:    bus,
		cfg:    cfg,
		name:   name,
		proto:  dtproto.NewProtocol(cfg.address),
		logger: bus.logger.With("pump", name),
	}
	p.defaultTopVelocity.Store(int64(cfg.topVelocity))

	p.logger.Debug("pump created",
		"address", string(cfg.address),
		"volume_ml", cfg.totalVolume,
		"steps", cfg.numberOfSteps,
	)

	return p, nil
}

// Name returns the pump's name.
func (p *Pump) Name() string { return p.name }

// Address returns the pump's wire address byte.
func (p *Pump) Address() byte { return p.cfg.address }

// Config returns the pump's configuration.
func (p *Pump) Config() *PumpConfig { return p.cfg }

// TotalVolume returns the syringe volume in milliliters.
func (p *Pump) TotalVolume() float64 { return p.cfg.totalVolume }

// --- Transactions ---

// WriteAndRead sends an instruction packet and decodes the pump's answer,
// retrying on answer timeouts and on answers that cannot be decoded.
//
// maxAttempts <= 0 uses the configured attempt limit. Transport failures
// other than a read timeout abort immediately; exhausting every attempt
// returns a [RepeatedError] wrapping the last failure.
func (p *Pump) WriteAndRead(ctx context.Context, packet *dtproto.InstructionPacket, maxAttempts int) (*dtproto.StatusFrame, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.maxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			p.bus.metrics.incRetryCount()
		}

		line, err := p.bus.Transact(ctx, packet)
		if err != nil {
			if !errors.Is(err, ErrReadTimeout) {
				return nil, err
			}
			lastErr = err
			p.logger.Debug("answer timed out", "attempt", attempt, "max_attempts", maxAttempts)

			continue
		}

		frame, err := dtproto.DecodeFrame(line)
		if err != nil {
			p.bus.metrics.incDecodeErrCount()
			lastErr = err
			p.logger.Debug("undecodable answer", "attempt", attempt, "answer", fmt.Sprintf("%q", line))

			continue
		}

		return frame, nil
	}

	p.logger.Error("no valid answer from pump", "packet", packet.String(), "attempts", maxAttempts)

	return nil, &RepeatedError{Pump: p.name, Op: "write and read", Attempts: maxAttempts, Err: lastErr}
}

// --- Status ---

// IsIdle reports whether the pump answers an idle, error-free status.
//
// A fault status is surfaced as a [*HardwareError] carrying the canonical
// error code; a status byte outside the protocol table as a
// [*ProtocolError].
func (p *Pump) IsIdle(ctx context.Context) (bool, error) {
	frame, err := p.WriteAndRead(ctx, p.proto.ForgeReportStatus(), 0)
	if err != nil {
		return false, err
	}

	status := frame.Status
	switch {
	case status == dtproto.StatusIdle:
		return true, nil
	case status == dtproto.StatusBusy:
		return false, nil
	case status.Known():
		p.bus.metrics.incHardwareErrCount()
		p.logger.Error("pump hardware error", "status", status.String())

		return false, &HardwareError{Pump: p.name, Status: status}
	default:
		return false, &ProtocolError{Pump: p.name, Status: status}
	}
}

// IsBusy reports whether the pump answers a busy, error-free status.
func (p *Pump) IsBusy(ctx context.Context) (bool, error) {
	idle, err := p.IsIdle(ctx)
	if err != nil {
		return false, err
	}

	return !idle, nil
}

// WaitUntilIdle polls the pump status until it reports idle, sleeping the
// configured wait interval between polls. It returns early when ctx is
// canceled or the pump reports a fault.
func (p *Pump) WaitUntilIdle(ctx context.Context) error {
	for {
		idle, err := p.IsIdle(ctx)
		if err != nil {
			return err
		}
		if idle {
			return nil
		}

		if err := pool.SleepCtx(ctx, p.cfg.waitInterval); err != nil {
			return err
		}
	}
}

// IsInitialized reports whether the pump has completed plunger
// initialization since power-up.
func (p *Pump) IsInitialized(ctx context.Context) (bool, error) {
	frame, err := p.WriteAndRead(ctx, p.proto.ForgeReportInitialized(), 0)
	if err != nil {
		return false, err
	}

	switch frame.Data {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: initialized report %q", ErrUnexpectedReply, frame.Data)
	}
}

// --- Reports ---

func (p *Pump) reportInt(ctx context.Context, packet *dtproto.InstructionPacket, what string) (int, error) {
	frame, err := p.WriteAndRead(ctx, packet, 0)
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(frame.Data)
	if err != nil {
		return 0, fmt.Errorf("%w: %s report %q", ErrUnexpectedReply, what, frame.Data)
	}

	return n, nil
}

// TopVelocity reads the pump's current top (peak) velocity in steps/s.
func (p *Pump) TopVelocity(ctx context.Context) (int, error) {
	return p.reportInt(ctx, p.proto.ForgeReportPeakVelocity(), "top velocity")
}

// StartVelocity reads the velocity ramp's start velocity in steps/s.
func (p *Pump) StartVelocity(ctx context.Context) (int, error) {
	return p.reportInt(ctx, p.proto.ForgeReportStartVelocity(), "start velocity")
}

// CutoffVelocity reads the velocity ramp's cutoff velocity in steps/s.
func (p *Pump) CutoffVelocity(ctx context.Context) (int, error) {
	return p.reportInt(ctx, p.proto.ForgeReportCutoffVelocity(), "cutoff velocity")
}

// JumperPosition reads the J2-5 jumper state used by 120-degree 3-way Y
// valves: 0 when open, 1 when shorted.
func (p *Pump) JumperPosition(ctx context.Context) (int, error) {
	return p.reportInt(ctx, p.proto.ForgeReportJumper(), "jumper position")
}

// PlungerPosition reads the absolute plunger position in steps.
func (p *Pump) PlungerPosition(ctx context.Context) (int, error) {
	return p.reportInt(ctx, p.proto.ForgeReportPlungerPosition(), "plunger position")
}

// RemainingSteps reads how many steps of plunger travel remain.
func (p *Pump) RemainingSteps(ctx context.Context) (int, error) {
	pos, err := p.PlungerPosition(ctx)
	if err != nil {
		return 0, err
	}

	return p.cfg.numberOfSteps - pos, nil
}

// CurrentVolume reads the syringe's current fill volume in milliliters.
func (p *Pump) CurrentVolume(ctx context.Context) (float64, error) {
	pos, err := p.PlungerPosition(ctx)
	if err != nil {
		return 0, err
	}

	return p.StepsToVolume(pos), nil
}

// RemainingVolume reads how many milliliters the syringe can still draw
// before the plunger reaches full stroke.
func (p *Pump) RemainingVolume(ctx context.Context) (float64, error) {
	pos, err := p.PlungerPosition(ctx)
	if err != nil {
		return 0, err
	}

	return p.StepsToVolume(p.cfg.numberOfSteps - pos), nil
}

// --- Conversions ---

// VolumeToSteps converts a volume in milliliters to plunger steps,
// rounding to the nearest step.
func (p *Pump) VolumeToSteps(volumeML float64) int {
	return int(math.Round(volumeML * float64(p.cfg.stepsPerML)))
}

// StepsToVolume converts a plunger step count to milliliters.
func (p *Pump) StepsToVolume(steps int) float64 {
	return float64(steps) / float64(p.cfg.stepsPerML)
}

// IsVolumePumpable reports whether the syringe can draw volumeML more
// milliliters from its current position.
func (p *Pump) IsVolumePumpable(ctx context.Context, volumeML float64) (bool, error) {
	remaining, err := p.RemainingVolume(ctx)
	if err != nil {
		return false, err
	}

	return volumeML <= remaining, nil
}

// IsVolumeDeliverable reports whether the syringe currently holds at least
// volumeML milliliters.
func (p *Pump) IsVolumeDeliverable(ctx context.Context, volumeML float64) (bool, error) {
	current, err := p.CurrentVolume(ctx)
	if err != nil {
		return false, err
	}

	return volumeML <= current, nil
}

// IsVolumeValid reports whether volumeML fits the syringe at all.
func (p *Pump) IsVolumeValid(volumeML float64) bool {
	return volumeML >= 0 && volumeML <= p.cfg.totalVolume
}
