package c3000

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-tricont/dtproto"
	"github.com/arloliu/go-tricont/internal/fairlock"
	"github.com/arloliu/go-tricont/logger"
)

// Communication defaults matching the C-Series factory configuration.
const (
	// DefaultBaudrate is the factory serial speed of C-Series pumps.
	DefaultBaudrate = 9600
	// DefaultTimeout is the answer timeout per transaction.
	DefaultTimeout = 1 * time.Second
	// DefaultWaitInterval is the status polling interval while waiting for
	// a pump to go idle.
	DefaultWaitInterval = 100 * time.Millisecond
	// DefaultMaxAttempts bounds transaction retries and operation repeats.
	DefaultMaxAttempts = 10
)

// Transport is a byte-level half-duplex link to a pump daisy chain,
// typically an RS-232 or RS-485 serial port.
//
// ReadLine returns one answer frame, normally terminated by LF; a frame
// cut short by the transport's read timeout is returned as-is, and a
// timeout with no bytes at all returns [ErrReadTimeout]. Implementations
// must tolerate one goroutine at a time; [Bus] provides the serialization.
type Transport interface {
	Write(p []byte) error
	ReadLine() ([]byte, error)
	ResetInputBuffer() error
	Close() error
}

// TransportFactory opens the Transport for one bus settings entry.
type TransportFactory func(settings BusSettings) (Transport, error)

// Bus serializes instruction/answer transactions on a single pump daisy
// chain. Multiple pumps, and any number of goroutines, share one Bus; the
// bus lock is FIFO fair, so transactions are granted in arrival order and
// a chatty status poller cannot starve other callers.
type Bus struct {
	transport Transport
	lock      fairlock.Lock
	logger    logger.Logger
	closed    atomic.Bool
	metrics   BusMetrics
}

// NewBus creates a Bus on top of an open transport.
// If log is nil, the package default logger is used.
func NewBus(transport Transport, log logger.Logger) *Bus {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Bus{transport: transport, logger: log}
}

// Transact sends one instruction packet and reads back one answer frame.
//
// The bus lock is held for the whole write/read cycle, so an answer can
// never be attributed to the wrong instruction. The transport's input
// buffer is flushed before writing to discard stale bytes left over from
// an earlier timeout.
func (b *Bus) Transact(ctx context.Context, packet *dtproto.InstructionPacket) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	if err := packet.Validate(); err != nil {
		return nil, err
	}

	if err := b.lock.LockCtx(ctx); err != nil {
		return nil, err
	}
	defer b.lock.Unlock()

	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	if err := b.transport.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("c3000: flush input: %w", err)
	}

	b.logger.Debug("bus send", "packet", packet.String())
	if err := b.transport.Write(packet.Pack()); err != nil {
		return nil, fmt.Errorf("c3000: write: %w", err)
	}

	line, err := b.transport.ReadLine()
	if err != nil {
		if errors.Is(err, ErrReadTimeout) {
			b.metrics.incTimeoutCount()
			b.logger.Debug("bus answer timeout", "packet", packet.String())
		}

		return nil, err
	}

	b.metrics.incTransactCount()
	b.logger.Debug("bus recv", "answer", strings.TrimRight(string(line), "\r\n"))

	return line, nil
}

// Send writes an instruction packet without waiting for an answer.
//
// Pumps never answer instructions addressed to the broadcast address; use
// Send for those.
func (b *Bus) Send(ctx context.Context, packet *dtproto.InstructionPacket) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	if err := packet.Validate(); err != nil {
		return err
	}

	if err := b.lock.LockCtx(ctx); err != nil {
		return err
	}
	defer b.lock.Unlock()

	if b.closed.Load() {
		return ErrBusClosed
	}

	b.logger.Debug("bus send, no answer expected", "packet", packet.String())
	if err := b.transport.Write(packet.Pack()); err != nil {
		return fmt.Errorf("c3000: write: %w", err)
	}

	b.metrics.incTransactCount()

	return nil
}

// Close closes the bus and its underlying transport. The transaction in
// flight finishes first; queued and subsequent transactions fail with
// [ErrBusClosed].
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	return b.transport.Close()
}

// Metrics returns the bus metrics.
func (b *Bus) Metrics() *BusMetrics {
	return &b.metrics
}
