package optical

import "github.com/makiuchi-d/gozxing"

// Symbology names use the wire spelling shared with clients and the config
// file.
type Symbology string

const (
	SymbologyQRCode      Symbology = "qr_code"
	SymbologyDataMatrix  Symbology = "data_matrix"
	SymbologyAztec       Symbology = "aztec"
	SymbologyPDF417      Symbology = "pdf417"
	SymbologyMaxiCode    Symbology = "maxicode"
	SymbologyCode128     Symbology = "code_128"
	SymbologyCode93      Symbology = "code_93"
	SymbologyCode39      Symbology = "code_39"
	SymbologyCodabar     Symbology = "codabar"
	SymbologyEAN13       Symbology = "ean_13"
	SymbologyEAN8        Symbology = "ean_8"
	SymbologyUPCA        Symbology = "upc_a"
	SymbologyUPCE        Symbology = "upc_e"
	SymbologyITF         Symbology = "itf"
	SymbologyRSS14       Symbology = "rss_14"
	SymbologyRSSExpanded Symbology = "rss_expanded"
)

// engineFormats is the static symbology translation table. Unknown names
// fail at config validation instead of being skipped at engine start.
var engineFormats = map[Symbology]gozxing.BarcodeFormat{
	SymbologyQRCode:      gozxing.BarcodeFormat_QR_CODE,
	SymbologyDataMatrix:  gozxing.BarcodeFormat_DATA_MATRIX,
	SymbologyAztec:       gozxing.BarcodeFormat_AZTEC,
	SymbologyPDF417:      gozxing.BarcodeFormat_PDF_417,
	SymbologyMaxiCode:    gozxing.BarcodeFormat_MAXICODE,
	SymbologyCode128:     gozxing.BarcodeFormat_CODE_128,
	SymbologyCode93:      gozxing.BarcodeFormat_CODE_93,
	SymbologyCode39:      gozxing.BarcodeFormat_CODE_39,
	SymbologyCodabar:     gozxing.BarcodeFormat_CODABAR,
	SymbologyEAN13:       gozxing.BarcodeFormat_EAN_13,
	SymbologyEAN8:        gozxing.BarcodeFormat_EAN_8,
	SymbologyUPCA:        gozxing.BarcodeFormat_UPC_A,
	SymbologyUPCE:        gozxing.BarcodeFormat_UPC_E,
	SymbologyITF:         gozxing.BarcodeFormat_ITF,
	SymbologyRSS14:       gozxing.BarcodeFormat_RSS_14,
	SymbologyRSSExpanded: gozxing.BarcodeFormat_RSS_EXPANDED,
}

// DefaultSymbologies is the retail set the back office meets in practice:
// the common 2D codes plus the linear families found on supplier labels.
func DefaultSymbologies() []Symbology {
	return []Symbology{
		SymbologyQRCode,
		SymbologyDataMatrix,
		SymbologyAztec,
		SymbologyPDF417,
		SymbologyCode128,
		SymbologyCode93,
		SymbologyCode39,
		SymbologyCodabar,
		SymbologyEAN13,
		SymbologyEAN8,
		SymbologyUPCA,
		SymbologyUPCE,
		SymbologyITF,
	}
}

// EngineFormat translates one symbology to its engine format.
func EngineFormat(s Symbology) (gozxing.BarcodeFormat, error) {
	format, ok := engineFormats[s]
	if !ok {
		return 0, ErrUnknownSymbology
	}
	return format, nil
}

// EngineFormats translates a symbology set, rejecting unknown names. An
// empty set translates the default set.
func EngineFormats(symbologies []Symbology) ([]gozxing.BarcodeFormat, error) {
	if len(symbologies) == 0 {
		symbologies = DefaultSymbologies()
	}
	formats := make([]gozxing.BarcodeFormat, 0, len(symbologies))
	for _, s := range symbologies {
		format, err := EngineFormat(s)
		if err != nil {
			return nil, err
		}
		formats = append(formats, format)
	}
	return formats, nil
}

// ValidateSymbologies checks that every name is known.
func ValidateSymbologies(symbologies []Symbology) error {
	for _, s := range symbologies {
		if _, ok := engineFormats[s]; !ok {
			return ErrUnknownSymbology
		}
	}
	return nil
}

// symbologyFromFormat reverses the translation table for engine results.
func symbologyFromFormat(format gozxing.BarcodeFormat) Symbology {
	for s, f := range engineFormats {
		if f == format {
			return s
		}
	}
	return ""
}
