package scan

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator() (*Validator, *clock.Mock) {
	mock := clock.NewMock()
	return NewValidator(mock, zerolog.Nop()), mock
}

// Test length and trimming gates
func TestValidatorLengthBounds(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name      string
		candidate string
		emit      bool
		reason    RejectReason
		value     string
	}{
		{
			name:      "minimum length accepted",
			candidate: "abc",
			emit:      true,
			value:     "abc",
		},
		{
			name:      "below minimum rejected",
			candidate: "ab",
			emit:      false,
			reason:    RejectTooShort,
		},
		{
			name:      "above maximum rejected",
			candidate: strings.Repeat("9", 101),
			emit:      false,
			reason:    RejectTooLong,
		},
		{
			name:      "at maximum accepted",
			candidate: strings.Repeat("9", 100),
			emit:      true,
			value:     strings.Repeat("9", 100),
		},
		{
			name:      "surrounding whitespace trimmed",
			candidate: "  4006381333931\t",
			emit:      true,
			value:     "4006381333931",
		},
		{
			name:      "whitespace only rejected",
			candidate: "   ",
			emit:      false,
			reason:    RejectTooShort,
		},
		{
			name:      "empty rejected",
			candidate: "",
			emit:      false,
			reason:    RejectTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestValidator()
			ev, verdict := v.Accept(tt.candidate, cfg, SourceKeyboard)
			assert.Equal(t, tt.emit, verdict.Emit)
			if tt.emit {
				require.NotNil(t, ev)
				assert.Equal(t, tt.value, ev.Value)
				assert.Equal(t, SourceKeyboard, ev.Source)
			} else {
				assert.Nil(t, ev)
				assert.Equal(t, tt.reason, verdict.Reason)
			}
		})
	}
}

// Test the duplicate suppression window
func TestValidatorDuplicateWindow(t *testing.T) {
	v, mock := newTestValidator()
	cfg := DefaultConfig()

	ev, verdict := v.Accept("4006381333931", cfg, SourceKeyboard)
	require.True(t, verdict.Emit)
	require.NotNil(t, ev)

	// Same value inside the window is swallowed.
	mock.Add(500 * time.Millisecond)
	ev, verdict = v.Accept("4006381333931", cfg, SourceKeyboard)
	assert.False(t, verdict.Emit)
	assert.Nil(t, ev)
	assert.Equal(t, RejectDuplicate, verdict.Reason)

	// A rejected duplicate must not refresh the window: 1100ms after the
	// only emission the value is accepted again.
	mock.Add(600 * time.Millisecond)
	ev, verdict = v.Accept("4006381333931", cfg, SourceKeyboard)
	assert.True(t, verdict.Emit)
	require.NotNil(t, ev)
	assert.Equal(t, "4006381333931", ev.Value)
}

func TestValidatorDifferentValuesNotSuppressed(t *testing.T) {
	v, _ := newTestValidator()
	cfg := DefaultConfig()

	_, verdict := v.Accept("1111111", cfg, SourceKeyboard)
	assert.True(t, verdict.Emit)
	_, verdict = v.Accept("2222222", cfg, SourceKeyboard)
	assert.True(t, verdict.Emit)
}

// A hardware read and a camera read of the same label must suppress each
// other through the shared instance.
func TestValidatorCrossPathSuppression(t *testing.T) {
	v, mock := newTestValidator()
	cfg := DefaultConfig()

	_, verdict := v.Accept("8712345678906", cfg, SourceKeyboard)
	require.True(t, verdict.Emit)

	mock.Add(200 * time.Millisecond)
	_, verdict = v.Accept("8712345678906", cfg, SourceCamera)
	assert.False(t, verdict.Emit)
	assert.Equal(t, RejectDuplicate, verdict.Reason)
}

func TestValidatorZeroWindowDisablesSuppression(t *testing.T) {
	v, _ := newTestValidator()
	cfg := DefaultConfig()
	cfg.DuplicateSuppression = 0

	_, verdict := v.Accept("1234567", cfg, SourceCamera)
	assert.True(t, verdict.Emit)
	_, verdict = v.Accept("1234567", cfg, SourceCamera)
	assert.True(t, verdict.Emit)
}

func TestValidatorReset(t *testing.T) {
	v, _ := newTestValidator()
	cfg := DefaultConfig()

	_, verdict := v.Accept("1234567", cfg, SourceKeyboard)
	require.True(t, verdict.Emit)

	v.Reset()
	_, verdict = v.Accept("1234567", cfg, SourceKeyboard)
	assert.True(t, verdict.Emit)
}

func TestValidatorEventTimestampComesFromClock(t *testing.T) {
	v, mock := newTestValidator()
	mock.Add(42 * time.Second)

	ev, verdict := v.Accept("1234567", DefaultConfig(), SourceField)
	require.True(t, verdict.Emit)
	assert.Equal(t, mock.Now(), ev.ObservedAt)
}

func BenchmarkValidatorAccept(b *testing.B) {
	v := NewValidator(clock.New(), zerolog.Nop())
	cfg := DefaultConfig()
	cfg.DuplicateSuppression = 0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = v.Accept("4006381333931", cfg, SourceKeyboard)
	}
}
