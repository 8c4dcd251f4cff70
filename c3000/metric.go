package c3000

import (
	"sync/atomic"
)

// BusMetrics contains atomic metrics for a pump bus.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type BusMetrics struct {
	// TransactCount indicates the number of instruction/answer transactions completed.
	TransactCount atomic.Uint64
	// TimeoutCount indicates the number of transactions that timed out waiting for an answer.
	TimeoutCount atomic.Uint64
	// RetryCount indicates the total number of transaction retries.
	RetryCount atomic.Uint64
	// DecodeErrCount indicates the number of answers that could not be decoded.
	DecodeErrCount atomic.Uint64
	// HardwareErrCount indicates the number of error status bytes answered by pumps.
	HardwareErrCount atomic.Uint64
}

func (m *BusMetrics) incTransactCount() {
	m.TransactCount.Add(1)
}

func (m *BusMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *BusMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *BusMetrics) incDecodeErrCount() {
	m.DecodeErrCount.Add(1)
}

func (m *BusMetrics) incHardwareErrCount() {
	m.HardwareErrCount.Add(1)
}
