// Package scan turns raw keystroke and decode activity into a single
// validated stream of scan events. The classifier and field adapter apply
// the wedge timing heuristics; the validator is the one acceptance gate
// every capture path flushes through.
package scan

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// RejectReason explains why a candidate produced no event. Rejection is a
// silent outcome, not an error.
type RejectReason string

const (
	RejectTooShort  RejectReason = "too-short"
	RejectTooLong   RejectReason = "too-long"
	RejectDuplicate RejectReason = "duplicate"
)

// Verdict is the validator's decision for one candidate.
type Verdict struct {
	Emit   bool
	Reason RejectReason
}

// Validator gates every candidate scan. All capture paths must share one
// instance: the duplicate window lives here, so a hardware read and a camera
// read of the same label suppress each other.
type Validator struct {
	mu     sync.Mutex
	clk    clock.Clock
	logger zerolog.Logger

	lastValue     string
	lastEmittedAt time.Time
}

// NewValidator returns a validator with an empty duplicate window. A nil
// clock falls back to the wall clock.
func NewValidator(clk clock.Clock, logger zerolog.Logger) *Validator {
	if clk == nil {
		clk = clock.New()
	}
	return &Validator{clk: clk, logger: logger}
}

// Accept trims candidate and applies the length and duplicate gates. On
// acceptance the duplicate-window slot is updated and the event to emit is
// returned; the check and the slot update are one atomic step so concurrent
// capture paths cannot both emit the same read.
func (v *Validator) Accept(candidate string, cfg Config, source Source) (*ScanEvent, Verdict) {
	value := strings.TrimSpace(candidate)

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clk.Now()
	length := utf8.RuneCountInString(value)
	switch {
	case value == "" || length < cfg.MinLength:
		return nil, reject(RejectTooShort)
	case length > cfg.MaxLength:
		return nil, reject(RejectTooLong)
	case v.isDuplicateLocked(value, now, cfg):
		v.logger.Debug().Str("source", string(source)).Msg("duplicate read suppressed")
		return nil, reject(RejectDuplicate)
	}

	v.lastValue = value
	v.lastEmittedAt = now
	return &ScanEvent{Value: value, ObservedAt: now, Source: source}, Verdict{Emit: true}
}

// Reset forgets the last emitted value, reopening the duplicate window.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastValue = ""
	v.lastEmittedAt = time.Time{}
}

func reject(reason RejectReason) Verdict {
	metricScansRejected.WithLabelValues(string(reason)).Inc()
	return Verdict{Reason: reason}
}

func (v *Validator) isDuplicateLocked(value string, now time.Time, cfg Config) bool {
	if cfg.DuplicateSuppression <= 0 || v.lastValue == "" {
		return false
	}
	return value == v.lastValue && now.Sub(v.lastEmittedAt) < cfg.DuplicateSuppression
}
