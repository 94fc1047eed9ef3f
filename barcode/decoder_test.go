package barcode

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qrPNG(t *testing.T, content string) *bytes.Buffer {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(content, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, matrix))
	return buf
}

func TestDecodeQrRoundTrip(t *testing.T) {
	d := NewZXing()

	payload, err := d.Decode(qrPNG(t, "/payment/check/abc123"))
	require.NoError(t, err)
	assert.Equal(t, "/payment/check/abc123", payload)
}

func TestDecodeSecondImageAfterReset(t *testing.T) {
	d := NewZXing()

	_, err := d.Decode(qrPNG(t, "first"))
	require.NoError(t, err)

	payload, err := d.Decode(qrPNG(t, "second"))
	require.NoError(t, err)
	assert.Equal(t, "second", payload)
}

func TestDecodeBlankImageReportsNotFound(t *testing.T) {
	d := NewZXing()

	white := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(white, white.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, white))

	_, err := d.Decode(buf)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeGarbageInputFails(t *testing.T) {
	d := NewZXing()

	_, err := d.Decode(strings.NewReader("not an image"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
