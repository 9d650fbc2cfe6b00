package scan

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Classifier watches the global keydown stream and separates scanner bursts
// from human typing. It owns one keystroke buffer; disposition is decided by
// inter-key gaps (burst splitting), the Enter key (immediate flush), and a
// quiet-period timer (flush of a buffer that never received its Enter
// suffix). Flushes go through the shared validator, so a human fragment
// dies on the length gate while a suffix-less scanner burst still emits.
type Classifier struct {
	mu        sync.Mutex
	cfg       Config
	validator *Validator
	clk       clock.Clock
	logger    zerolog.Logger
	onScan    func(ScanEvent)

	attached   bool
	buf        []rune
	lastKeyAt  time.Time
	flushTimer *clock.Timer
	bufGen     uint64

	stats CaptureStats
}

// NewClassifier returns a detached classifier. A nil clock falls back to the
// wall clock.
func NewClassifier(cfg Config, validator *Validator, clk clock.Clock, logger zerolog.Logger) *Classifier {
	if clk == nil {
		clk = clock.New()
	}
	return &Classifier{
		cfg:       cfg,
		validator: validator,
		clk:       clk,
		logger:    logger.With().Str("component", "classifier").Logger(),
	}
}

// OnScan installs the emission callback. The callback runs with the
// classifier locked and must not call back into it.
func (c *Classifier) OnScan(fn func(ScanEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onScan = fn
}

// Attach begins consuming key events. Attaching twice is a no-op.
func (c *Classifier) Attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return
	}
	c.attached = true
	c.logger.Debug().Msg("keyboard capture attached")
}

// Detach stops consuming key events and discards any pending buffer without
// emitting. Detaching twice is a no-op.
func (c *Classifier) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return
	}
	c.attached = false
	c.clearBufferLocked()
	c.logger.Debug().Msg("keyboard capture detached")
}

// Attached reports whether the classifier is consuming key events.
func (c *Classifier) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// HandleKey feeds one keydown into the classifier.
func (c *Classifier) HandleKey(ev KeyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attached || !c.cfg.KeyboardEnabled() {
		return
	}
	// Focus guard: a focused text control that has not opted in keeps all
	// of its keystrokes, Enter included.
	if ev.Target.TextEntry && !ev.Target.ScanCapture {
		c.stats.recordKeyIgnored()
		return
	}
	// Ctrl/Alt/Meta chords are shortcuts, not wedge output; Ctrl+Enter in
	// particular must not pass for an end-of-scan signal.
	if ev.Ctrl || ev.Alt || ev.Meta {
		c.stats.recordKeyIgnored()
		return
	}
	if ev.Key == keyEnter {
		c.flushLocked("enter")
		return
	}
	r, ok := printableRune(ev.Key)
	if !ok {
		c.stats.recordKeyIgnored()
		return
	}

	now := c.clk.Now()
	if len(c.buf) > 0 && now.Sub(c.lastKeyAt) > c.cfg.DebounceWindow {
		// Gap too wide for a scanner burst: the buffered characters belong
		// to an older burst and must not prefix this one.
		c.clearBufferLocked()
		c.stats.recordBurstSplit()
	}
	c.buf = append(c.buf, r)
	c.lastKeyAt = now
	c.stats.recordKeyBuffered()
	c.armFlushTimerLocked()
}

// SetConfig swaps the capture tuning. The pending buffer is discarded so old
// and new windows never mix.
func (c *Classifier) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.clearBufferLocked()
}

// Config returns the active capture tuning.
func (c *Classifier) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Stats returns a snapshot of the capture counters.
func (c *Classifier) Stats() CaptureStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.snapshot()
}

func (c *Classifier) armFlushTimerLocked() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}
	gen := c.bufGen
	c.flushTimer = c.clk.AfterFunc(c.cfg.AbandonTimeout, func() {
		c.onQuietPeriod(gen)
	})
}

// onQuietPeriod fires when the buffer saw no key for the abandon timeout.
// The generation check makes a timer that lost the race against a clear or
// a newer burst a no-op.
func (c *Classifier) onQuietPeriod(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.bufGen || len(c.buf) == 0 {
		return
	}
	c.stats.recordBufferAbandoned()
	c.flushLocked("quiet-period")
}

// flushLocked drains the buffer through the validator. Empty and
// whitespace-only buffers flush to nothing, silently.
func (c *Classifier) flushLocked(trigger string) {
	candidate := string(c.buf)
	c.clearBufferLocked()
	if strings.TrimSpace(candidate) == "" {
		return
	}

	ev, verdict := c.validator.Accept(candidate, c.cfg, SourceKeyboard)
	if !verdict.Emit {
		c.stats.recordScanRejected()
		c.logger.Debug().
			Str("trigger", trigger).
			Str("reason", string(verdict.Reason)).
			Int("length", len(candidate)).
			Msg("buffer rejected")
		return
	}

	c.stats.recordScanEmitted(ev.ObservedAt)
	c.logger.Debug().Str("trigger", trigger).Str("value", ev.Value).Msg("scan accepted")
	if c.onScan != nil {
		c.onScan(*ev)
	}
}

// clearBufferLocked is the only way buffered state is dropped. It cancels
// the pending flush timer and bumps the generation so a callback already
// past Stop cannot act on the next buffer.
func (c *Classifier) clearBufferLocked() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.bufGen++
	c.buf = c.buf[:0]
	c.lastKeyAt = time.Time{}
}
