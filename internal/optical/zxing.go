package optical

import (
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
)

// ZXingEngine decodes frames with the gozxing multi-format reader. A reader
// instance keeps internal state, so one engine must only be used from one
// decode loop at a time.
type ZXingEngine struct {
	reader *gozxing.MultiFormatReader
}

var _ DecodeEngine = (*ZXingEngine)(nil)

// NewZXingEngine returns a ready engine.
func NewZXingEngine() *ZXingEngine {
	return &ZXingEngine{reader: gozxing.NewMultiFormatReader()}
}

// Decode runs one frame through the reader. Reader misses (nothing found,
// checksum noise, partial reads) all fold into ErrNoCode; everything else
// is a genuine fault.
func (e *ZXingEngine) Decode(img image.Image, symbologies []Symbology) (*Decoded, error) {
	if img == nil {
		return nil, fmt.Errorf("decode: nil frame image")
	}
	formats, err := EngineFormats(symbologies)
	if err != nil {
		return nil, err
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize frame: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: formats,
	}
	result, err := e.reader.Decode(bmp, hints)
	if err != nil {
		if _, ok := err.(gozxing.ReaderException); ok {
			return nil, ErrNoCode
		}
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	return &Decoded{
		Text:      result.GetText(),
		Symbology: symbologyFromFormat(result.GetBarcodeFormat()),
	}, nil
}
