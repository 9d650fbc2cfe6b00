package scan

import "time"

const (
	keyEnter  = "Enter"
	keyEscape = "Escape"
)

// KeyTarget describes the UI element that held focus when a key event was
// captured. TextEntry covers inputs, textareas and content-editable hosts;
// ScanCapture is the explicit opt-in marker that lets a text control receive
// wedge input anyway.
type KeyTarget struct {
	TextEntry   bool `json:"textEntry"`
	ScanCapture bool `json:"scanCapture"`
}

// KeyEvent is one raw keydown observed by the client shell, reduced to the
// fields the classifier needs. Shift is deliberately absent: scanners emit
// shifted characters for letters and symbols, so only Ctrl/Alt/Meta mark an
// event as a shortcut rather than input.
type KeyEvent struct {
	Key    string    `json:"key"`
	Code   string    `json:"code,omitempty"`
	Ctrl   bool      `json:"ctrlKey,omitempty"`
	Alt    bool      `json:"altKey,omitempty"`
	Meta   bool      `json:"metaKey,omitempty"`
	Target KeyTarget `json:"target"`
}

// ScanEvent is one validated, deduplicated scan. Consumers receive the same
// shape regardless of which capture path produced it.
type ScanEvent struct {
	Value      string    `json:"value"`
	ObservedAt time.Time `json:"observedAt"`
	Source     Source    `json:"source"`
}

// printableRune returns the rune carried by a key name when the name
// represents exactly one printable character. Multi-rune names (Enter, Tab,
// ArrowDown, F5) and control characters do not qualify.
func printableRune(key string) (rune, bool) {
	runes := []rune(key)
	if len(runes) != 1 {
		return 0, false
	}
	r := runes[0]
	if r < 0x20 || r == 0x7f {
		return 0, false
	}
	return r, true
}
