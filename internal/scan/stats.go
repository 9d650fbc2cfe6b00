package scan

import (
	"sync/atomic"
	"time"
)

// CaptureStats counts capture-path activity for one classifier or adapter.
// Atomic int64 fields MUST be first for ARM32 alignment (int64 fields need
// 8-byte alignment).
type CaptureStats struct {
	KeysBuffered     int64 `json:"keys_buffered"`
	KeysIgnored      int64 `json:"keys_ignored"`
	BurstsSplit      int64 `json:"bursts_split"`
	BuffersAbandoned int64 `json:"buffers_abandoned"`
	ScansEmitted     int64 `json:"scans_emitted"`
	ScansRejected    int64 `json:"scans_rejected"`

	// Written only while the owning component's mutex is held.
	LastScanTime time.Time `json:"last_scan_time"`
}

func (s *CaptureStats) recordKeyBuffered() {
	atomic.AddInt64(&s.KeysBuffered, 1)
}

func (s *CaptureStats) recordKeyIgnored() {
	atomic.AddInt64(&s.KeysIgnored, 1)
}

func (s *CaptureStats) recordBurstSplit() {
	atomic.AddInt64(&s.BurstsSplit, 1)
}

func (s *CaptureStats) recordBufferAbandoned() {
	atomic.AddInt64(&s.BuffersAbandoned, 1)
}

func (s *CaptureStats) recordScanEmitted(at time.Time) {
	atomic.AddInt64(&s.ScansEmitted, 1)
	s.LastScanTime = at
}

func (s *CaptureStats) recordScanRejected() {
	atomic.AddInt64(&s.ScansRejected, 1)
}

// snapshot returns a copy safe to hand outside the owning component.
func (s *CaptureStats) snapshot() CaptureStats {
	return CaptureStats{
		KeysBuffered:     atomic.LoadInt64(&s.KeysBuffered),
		KeysIgnored:      atomic.LoadInt64(&s.KeysIgnored),
		BurstsSplit:      atomic.LoadInt64(&s.BurstsSplit),
		BuffersAbandoned: atomic.LoadInt64(&s.BuffersAbandoned),
		ScansEmitted:     atomic.LoadInt64(&s.ScansEmitted),
		ScansRejected:    atomic.LoadInt64(&s.ScansRejected),
		LastScanTime:     s.LastScanTime,
	}
}
