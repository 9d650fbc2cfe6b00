package optical

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aymurapp/scanbridge/internal/scan"
)

func encodeQR(t *testing.T, text string) image.Image {
	t.Helper()
	img, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 300, 300, nil)
	require.NoError(t, err)
	return img
}

func TestZXingEngineQRCodeRoundTrip(t *testing.T) {
	engine := NewZXingEngine()

	decoded, err := engine.Decode(encodeQR(t, "AYM-RING-18K-0042"), []Symbology{SymbologyQRCode})
	require.NoError(t, err)
	assert.Equal(t, "AYM-RING-18K-0042", decoded.Text)
	assert.Equal(t, SymbologyQRCode, decoded.Symbology)
}

func TestZXingEngineCode128RoundTrip(t *testing.T) {
	img, err := oned.NewCode128Writer().Encode("SKU-778812", gozxing.BarcodeFormat_CODE_128, 400, 120, nil)
	require.NoError(t, err)

	engine := NewZXingEngine()
	decoded, err := engine.Decode(img, DefaultSymbologies())
	require.NoError(t, err)
	assert.Equal(t, "SKU-778812", decoded.Text)
	assert.Equal(t, SymbologyCode128, decoded.Symbology)
}

func TestZXingEngineBlankFrameIsNoCode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	engine := NewZXingEngine()
	_, err := engine.Decode(img, []Symbology{SymbologyQRCode})
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestZXingEngineNilFrameIsFault(t *testing.T) {
	engine := NewZXingEngine()
	_, err := engine.Decode(nil, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCode)
}

func TestZXingEngineUnknownSymbologyIsFault(t *testing.T) {
	engine := NewZXingEngine()
	_, err := engine.Decode(encodeQR(t, "whatever"), []Symbology{"code_999"})
	assert.ErrorIs(t, err, ErrUnknownSymbology)
}

// A QR code is not found when the requested symbologies exclude it.
func TestZXingEngineHonorsSymbologyFilter(t *testing.T) {
	engine := NewZXingEngine()
	_, err := engine.Decode(encodeQR(t, "AYM-0001"), []Symbology{SymbologyCode128})
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestCropToBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))

	cropped := cropToBox(img, BoxDimensions{Width: 200, Height: 100})
	assert.Equal(t, 200, cropped.Bounds().Dx())
	assert.Equal(t, 100, cropped.Bounds().Dy())
	assert.Equal(t, image.Pt(100, 100), cropped.Bounds().Min)

	// A box at least as large as the frame is a pass-through.
	same := cropToBox(img, BoxDimensions{Width: 400, Height: 300})
	assert.Same(t, image.Image(img), same)
	huge := cropToBox(img, BoxDimensions{Width: 1920, Height: 1080})
	assert.Same(t, image.Image(img), huge)
}

// End to end: a real encoded frame through the session loop with the
// real decode engine.
func TestSessionWithZXingEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerSecond = 50
	cfg.DecodeBox = BoxDimensions{Width: 400, Height: 400}

	provider := NewMockMediaProvider()
	validator := scan.NewValidator(clock.New(), zerolog.Nop())
	session := NewSession(cfg, scan.DefaultConfig(), validator, provider, NewZXingEngine(), clock.New(), zerolog.Nop())

	events := make(chan scan.ScanEvent, 1)
	session.SetCallbacks(Callbacks{OnScan: func(ev scan.ScanEvent) {
		select {
		case events <- ev:
		default:
		}
	}})

	provider.Source.Push(encodeQR(t, "8712345678906"))
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop(context.Background())

	select {
	case ev := <-events:
		assert.Equal(t, "8712345678906", ev.Value)
		assert.Equal(t, scan.SourceCamera, ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no scan event from encoded frame")
	}
}
