// Package barcode extracts QR and product barcode payloads from photos.
package barcode

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNotFound reports that the image contains no readable code.
var ErrNotFound = errors.New("no readable code in image")

// Decoder extracts a single code payload from an image.
type Decoder interface {
	Decode(r io.Reader) (string, error)
}

// ZXing decodes QR codes and the common retail barcode symbologies using the
// gozxing port of the ZXing library.
type ZXing struct {
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXing builds a decoder that tries QR first, then UPC/EAN, then Code128.
// QR goes first because bills and device plates use it; product barcodes on
// vending items are the one-dimensional formats.
func NewZXing() *ZXing {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	return &ZXing{
		readers: []gozxing.Reader{
			qrcode.NewQRCodeReader(),
			oned.NewMultiFormatUPCEANReader(hints),
			oned.NewCode128Reader(),
		},
		hints: hints,
	}
}

// Decode reads a JPEG/PNG image and returns the first code any reader finds.
func (d *ZXing) Decode(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize image: %w", err)
	}

	for _, reader := range d.readers {
		result, err := reader.Decode(bmp, d.hints)
		if err != nil {
			reader.Reset()
			continue
		}
		return result.GetText(), nil
	}
	return "", ErrNotFound
}
