package scan

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// ControlOp is an imperative operation the owning UI control must mirror.
type ControlOp string

const (
	ControlFocus    ControlOp = "focus"
	ControlBlur     ControlOp = "blur"
	ControlClear    ControlOp = "clear"
	ControlSetValue ControlOp = "setValue"
	ControlSelect   ControlOp = "select"
)

// ControlCommand instructs the UI control bound to a field adapter.
type ControlCommand struct {
	FieldID string    `json:"fieldId"`
	Op      ControlOp `json:"op"`
	Value   string    `json:"value,omitempty"`
}

// FieldAdapter applies the wedge timing heuristics to one named text
// control. The shell mirrors the control's value changes and Enter/Escape
// keys in; the adapter mirrors imperative state back out through control
// commands. The control's text is the buffer here, so burst splitting only
// re-bases speed classification instead of erasing what the user can see.
type FieldAdapter struct {
	mu        sync.Mutex
	id        string
	cfg       Config
	validator *Validator
	clk       clock.Clock
	logger    zerolog.Logger
	onScan    func(ScanEvent)
	onCommand func(ControlCommand)

	value      string
	lastChange time.Time
	burstFast  bool
	flushTimer *clock.Timer
	bufGen     uint64
	focused    bool
	closed     bool

	stats CaptureStats
}

// NewFieldAdapter binds an adapter to the control named by id. A nil clock
// falls back to the wall clock.
func NewFieldAdapter(id string, cfg Config, validator *Validator, clk clock.Clock, logger zerolog.Logger) *FieldAdapter {
	if clk == nil {
		clk = clock.New()
	}
	return &FieldAdapter{
		id:        id,
		cfg:       cfg,
		validator: validator,
		clk:       clk,
		logger:    logger.With().Str("component", "field").Str("field_id", id).Logger(),
	}
}

// ID returns the bound control's name.
func (a *FieldAdapter) ID() string {
	return a.id
}

// OnScan installs the emission callback. The callback runs with the adapter
// locked and must not call back into it.
func (a *FieldAdapter) OnScan(fn func(ScanEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onScan = fn
}

// OnCommand installs the control-command callback, same locking contract as
// OnScan.
func (a *FieldAdapter) OnCommand(fn func(ControlCommand)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCommand = fn
}

// HandleInput feeds one value-change snapshot of the control. Repeats of the
// current value (command echoes from the shell) are ignored.
func (a *FieldAdapter) HandleInput(value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || !a.cfg.KeyboardEnabled() || value == a.value {
		return
	}
	if value == "" {
		// The user emptied the control; nothing left to flush.
		a.resetTrackingLocked()
		return
	}

	now := a.clk.Now()
	switch {
	case a.value == "" || a.lastChange.IsZero():
		a.burstFast = true
	case now.Sub(a.lastChange) > a.cfg.DebounceWindow:
		// Too slow for a scanner; whatever flushes from here on counts as
		// manual entry.
		a.burstFast = false
		a.stats.recordBurstSplit()
	}
	a.value = value
	a.lastChange = now
	a.stats.recordKeyBuffered()
	a.armFlushTimerLocked()
}

// HandleKey feeds Enter and Escape from the bound control. Enter flushes
// immediately; Escape clears the control without emitting, bypassing the
// validator entirely. Other keys are ignored (they arrive as value changes).
func (a *FieldAdapter) HandleKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || !a.cfg.KeyboardEnabled() {
		return
	}
	switch key {
	case keyEnter:
		a.flushLocked("enter")
	case keyEscape:
		a.resetTrackingLocked()
		a.commandLocked(ControlClear, "")
		a.logger.Debug().Msg("escape cleared field")
	}
}

// Focus asks the owning control to take focus.
func (a *FieldAdapter) Focus() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.focused = true
	a.commandLocked(ControlFocus, "")
}

// Blur asks the owning control to give up focus.
func (a *FieldAdapter) Blur() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.focused = false
	a.commandLocked(ControlBlur, "")
}

// Focused reports the last focus state commanded through this adapter.
func (a *FieldAdapter) Focused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.focused
}

// Clear empties the control and drops tracked state without emitting.
func (a *FieldAdapter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetTrackingLocked()
	a.commandLocked(ControlClear, "")
}

// Value returns the tracked control content.
func (a *FieldAdapter) Value() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// SetValue replaces the control's content programmatically. Programmatic
// writes are not scanner input, so burst tracking restarts as manual.
func (a *FieldAdapter) SetValue(value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disarmTimerLocked()
	a.value = value
	a.lastChange = time.Time{}
	a.burstFast = false
	a.commandLocked(ControlSetValue, value)
}

// Select asks the owning control to select its content.
func (a *FieldAdapter) Select() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commandLocked(ControlSelect, "")
}

// SetConfig swaps the capture tuning and drops tracked timing state.
func (a *FieldAdapter) SetConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.disarmTimerLocked()
	a.lastChange = time.Time{}
	a.burstFast = false
}

// Stats returns a snapshot of the capture counters.
func (a *FieldAdapter) Stats() CaptureStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.snapshot()
}

// Close detaches the adapter. Pending state is dropped and nothing emits.
// Closing twice is a no-op.
func (a *FieldAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.resetTrackingLocked()
}

func (a *FieldAdapter) armFlushTimerLocked() {
	if a.flushTimer != nil {
		a.flushTimer.Stop()
	}
	gen := a.bufGen
	a.flushTimer = a.clk.AfterFunc(a.cfg.AbandonTimeout, func() {
		a.onQuietPeriod(gen)
	})
}

func (a *FieldAdapter) onQuietPeriod(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.bufGen || a.closed || a.value == "" {
		return
	}
	if !a.burstFast {
		// Manual entry waits for an explicit Enter. The control keeps its
		// text so the operator can finish or correct it.
		a.disarmTimerLocked()
		a.logger.Debug().Msg("quiet period on manual entry, awaiting enter")
		return
	}
	a.stats.recordBufferAbandoned()
	a.flushLocked("quiet-period")
}

// flushLocked pushes the tracked value through the validator. On rejection
// the control keeps its content so the user can correct it; on acceptance
// the control is cleared when the tuning asks for it.
func (a *FieldAdapter) flushLocked(trigger string) {
	candidate := a.value
	fast := a.burstFast
	a.disarmTimerLocked()
	if strings.TrimSpace(candidate) == "" {
		return
	}

	ev, verdict := a.validator.Accept(candidate, a.cfg, SourceField)
	if !verdict.Emit {
		a.stats.recordScanRejected()
		a.logger.Debug().
			Str("trigger", trigger).
			Str("reason", string(verdict.Reason)).
			Msg("field value rejected")
		return
	}

	a.stats.recordScanEmitted(ev.ObservedAt)
	if a.cfg.ClearOnScan {
		a.resetTrackingLocked()
		a.commandLocked(ControlClear, "")
	}
	a.logger.Debug().
		Str("trigger", trigger).
		Str("value", ev.Value).
		Bool("machine_speed", fast).
		Msg("scan accepted")
	if a.onScan != nil {
		a.onScan(*ev)
	}
}

// disarmTimerLocked cancels the pending flush and invalidates callbacks
// already past Stop, leaving the tracked value alone.
func (a *FieldAdapter) disarmTimerLocked() {
	if a.flushTimer != nil {
		a.flushTimer.Stop()
		a.flushTimer = nil
	}
	a.bufGen++
}

// resetTrackingLocked is the authoritative clear: timer, value and burst
// state all drop together.
func (a *FieldAdapter) resetTrackingLocked() {
	a.disarmTimerLocked()
	a.value = ""
	a.lastChange = time.Time{}
	a.burstFast = false
}

func (a *FieldAdapter) commandLocked(op ControlOp, value string) {
	if a.onCommand == nil {
		return
	}
	a.onCommand(ControlCommand{FieldID: a.id, Op: op, Value: value})
}
