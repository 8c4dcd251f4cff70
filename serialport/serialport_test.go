package serialport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/arloliu/go-tricont/c3000"
	"github.com/arloliu/go-tricont/logger"
)

// fakeDevice stubs the driver-level serial port. Reads pop one byte at a
// time; an empty stream answers a zero count, the driver's way of
// reporting an expired read timeout.
type fakeDevice struct {
	serial.Port // unsupported methods panic

	stream  []byte
	chunked int // max bytes accepted per Write, 0 = all
	writes  [][]byte
	timeout time.Duration
	resets  int
	closed  bool
}

func (f *fakeDevice) Read(p []byte) (int, error) {
	if len(f.stream) == 0 {
		return 0, nil
	}

	p[0] = f.stream[0]
	f.stream = f.stream[1:]

	return 1, nil
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	n := len(p)
	if f.chunked > 0 && n > f.chunked {
		n = f.chunked
	}
	f.writes = append(f.writes, append([]byte(nil), p[:n]...))

	return n, nil
}

func (f *fakeDevice) SetReadTimeout(t time.Duration) error {
	f.timeout = t
	return nil
}

func (f *fakeDevice) ResetInputBuffer() error {
	f.resets++
	f.stream = nil

	return nil
}

func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

func newFakePort(device *fakeDevice, readTimeout time.Duration) *Port {
	return &Port{
		port:        device,
		name:        "fake",
		readTimeout: readTimeout,
		logger:      logger.GetLogger(),
	}
}

func TestPort_ReadLine(t *testing.T) {
	device := &fakeDevice{stream: []byte("/0`123\x03\r\n")}
	port := newFakePort(device, time.Second)

	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, []byte("/0`123\x03\r\n"), line)
	assert.Empty(t, device.stream, "the whole line is consumed")
}

func TestPort_ReadLine_StopsAtLF(t *testing.T) {
	device := &fakeDevice{stream: []byte("/0`\x03\r\n/0@\x03\r\n")}
	port := newFakePort(device, time.Second)

	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, []byte("/0`\x03\r\n"), line)

	line, err = port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, []byte("/0@\x03\r\n"), line, "the next line stays buffered for the next read")
}

func TestPort_ReadLine_Timeout(t *testing.T) {
	device := &fakeDevice{}
	port := newFakePort(device, 50*time.Millisecond)

	_, err := port.ReadLine()
	assert.ErrorIs(t, err, c3000.ErrReadTimeout)
	assert.Equal(t, 50*time.Millisecond, device.timeout.Round(time.Millisecond),
		"the driver timeout tracks the line deadline")
}

func TestPort_ReadLine_PartialLine(t *testing.T) {
	// The answer arrives without its LF trailer; the bytes still reach
	// the caller instead of being dropped at the deadline.
	device := &fakeDevice{stream: []byte("/0`42\x03")}
	port := newFakePort(device, 50*time.Millisecond)

	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, []byte("/0`42\x03"), line)
}

func TestPort_Write(t *testing.T) {
	device := &fakeDevice{}
	port := newFakePort(device, time.Second)

	require.NoError(t, port.Write([]byte("/1A1200R\r")))
	require.Len(t, device.writes, 1)
	assert.Equal(t, []byte("/1A1200R\r"), device.writes[0])
}

func TestPort_Write_ShortWrites(t *testing.T) {
	device := &fakeDevice{chunked: 3}
	port := newFakePort(device, time.Second)

	require.NoError(t, port.Write([]byte("/1A1200R\r")))

	var joined []byte
	for _, chunk := range device.writes {
		joined = append(joined, chunk...)
	}
	assert.Equal(t, []byte("/1A1200R\r"), joined, "short writes are retried until the frame is out")
}

func TestPort_ResetInputBufferAndClose(t *testing.T) {
	device := &fakeDevice{stream: []byte("stale")}
	port := newFakePort(device, time.Second)

	require.NoError(t, port.ResetInputBuffer())
	assert.Equal(t, 1, device.resets)
	assert.Empty(t, device.stream)

	require.NoError(t, port.Close())
	assert.True(t, device.closed)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	_, err = Open(Config{Port: "/dev/tricont-test-no-such-device"})
	assert.Error(t, err)
}

func TestFactory_BadDevice(t *testing.T) {
	_, err := Factory(c3000.BusSettings{Port: "/dev/tricont-test-no-such-device"})
	assert.Error(t, err)
}
