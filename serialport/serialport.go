// Package serialport opens RS-232/RS-485 serial devices as pump bus
// transports.
//
// The DT protocol runs over plain 8N1 framing; only the device path and
// baudrate vary between installations. Use [Factory] with
// c3000.WithTransportFactory to open one port per configured bus, or
// [Open] to manage a port directly.
package serialport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-tricont/c3000"
	"github.com/arloliu/go-tricont/logger"
)

// Config describes one serial link.
type Config struct {
	// Port is the serial device path, e.g. /dev/ttyUSB0 or COM3.
	Port string
	// Baudrate defaults to c3000.DefaultBaudrate when zero. C-Series
	// pumps ship at 9600 baud.
	Baudrate int
	// ReadTimeout bounds how long ReadLine waits for a complete answer
	// line. Defaults to c3000.DefaultTimeout when zero.
	ReadTimeout time.Duration
	// Logger defaults to the package default logger when nil.
	Logger logger.Logger
}

// Port is an open serial device implementing c3000.Transport.
type Port struct {
	port        serial.Port
	name        string
	readTimeout time.Duration
	logger      logger.Logger
}

var _ c3000.Transport = (*Port)(nil)

// Open opens the configured serial device with 8N1 framing.
func Open(cfg Config) (*Port, error) {
	if cfg.Port == "" {
		return nil, errors.New("serialport: device path is empty")
	}

	baudrate := cfg.Baudrate
	if baudrate <= 0 {
		baudrate = c3000.DefaultBaudrate
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = c3000.DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", cfg.Port, err)
	}

	log.Info("serial port opened", "port", cfg.Port, "baudrate", baudrate)

	return &Port{
		port:        port,
		name:        cfg.Port,
		readTimeout: readTimeout,
		logger:      log,
	}, nil
}

// Factory opens one serial transport per configured bus; pass it to
// c3000.WithTransportFactory.
func Factory(settings c3000.BusSettings) (c3000.Transport, error) {
	return Open(Config{
		Port:        settings.Port,
		Baudrate:    settings.EffectiveBaudrate(),
		ReadTimeout: settings.EffectiveTimeout(),
	})
}

// ListPorts returns the serial device paths present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Write sends the whole frame, looping over short writes.
func (p *Port) Write(frame []byte) error {
	for len(frame) > 0 {
		n, err := p.port.Write(frame)
		if err != nil {
			return fmt.Errorf("serialport: write %s: %w", p.name, err)
		}
		frame = frame[n:]
	}

	return nil
}

// ReadLine reads one answer line, ending at LF or at the read timeout.
//
// A line cut short by the timeout is returned as is when any bytes
// arrived; some RS-485 adapters swallow the trailing LF and the frame
// decoder copes without it. With no bytes at all the read fails with
// c3000.ErrReadTimeout.
func (p *Port) ReadLine() ([]byte, error) {
	deadline := time.Now().Add(p.readTimeout)

	var line []byte
	buf := make([]byte, 1)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := p.port.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("serialport: set read timeout on %s: %w", p.name, err)
		}

		n, err := p.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("serialport: read %s: %w", p.name, err)
		}
		if n == 0 {
			// The driver only returns a zero count when the read
			// timeout expired.
			break
		}

		line = append(line, buf[0])
		if buf[0] == '\n' {
			return line, nil
		}
	}

	if len(line) == 0 {
		return nil, c3000.ErrReadTimeout
	}

	return line, nil
}

// ResetInputBuffer drops bytes received but not yet read, such as stale
// answers from a previous transaction.
func (p *Port) ResetInputBuffer() error {
	return p.port.ResetInputBuffer()
}

// Close closes the serial device.
func (p *Port) Close() error {
	p.logger.Debug("serial port closed", "port", p.name)

	return p.port.Close()
}
