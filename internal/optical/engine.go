package optical

import "image"

// Decoded is one successful engine read.
type Decoded struct {
	Text      string
	Symbology Symbology
}

// DecodeEngine is the optical decode black box. Implementations return
// ErrNoCode when the frame simply contains no readable code; any other
// error counts as an engine fault and ends the session.
type DecodeEngine interface {
	Decode(img image.Image, symbologies []Symbology) (*Decoded, error)
}
