// Package perfmonitor measures how long a transfer took and how fast bytes
// moved through it.
package perfmonitor

import "time"

// PerformanceMonitor times one transfer. Start and Stop bracket the
// measurement; AddBytes accumulates the payload moved in between. It is not
// safe for concurrent use.
type PerformanceMonitor struct {
	startTime time.Time
	endTime   time.Time
	bytes     int64
}

// NewPerformanceMonitor returns a monitor with no measurement recorded.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start of a measurement, clearing any previous end time and
// byte count.
func (pm *PerformanceMonitor) Start() {
	pm.startTime = time.Now()
	pm.endTime = time.Time{}
	pm.bytes = 0
}

// Stop records the end of the measurement. It is a no-op if Start was not
// called.
func (pm *PerformanceMonitor) Stop() {
	if pm.startTime.IsZero() {
		return
	}

	pm.endTime = time.Now()
}

// Reset clears the measurement.
func (pm *PerformanceMonitor) Reset() {
	pm.startTime = time.Time{}
	pm.endTime = time.Time{}
	pm.bytes = 0
}

// AddBytes adds n to the number of bytes transferred during the measurement.
func (pm *PerformanceMonitor) AddBytes(n int64) {
	pm.bytes += n
}

// Bytes returns the number of bytes added since Start.
func (pm *PerformanceMonitor) Bytes() int64 {
	return pm.bytes
}

// Elapsed returns the measured duration, or 0 when the measurement is not
// complete.
func (pm *PerformanceMonitor) Elapsed() time.Duration {
	if pm.startTime.IsZero() || pm.endTime.IsZero() {
		return 0
	}

	return pm.endTime.Sub(pm.startTime)
}

// ElapsedMilliseconds returns Elapsed in fractional milliseconds.
func (pm *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(pm.Elapsed()) / float64(time.Millisecond)
}

// ThroughputMiBps returns the transfer rate in MiB per second, or 0 when
// nothing was measured.
func (pm *PerformanceMonitor) ThroughputMiBps() float64 {
	elapsed := pm.Elapsed()
	if elapsed <= 0 {
		return 0
	}

	return float64(pm.bytes) / 1024 / 1024 / elapsed.Seconds()
}
