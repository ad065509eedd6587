package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestJPEG(t *testing.T, w, h, quality int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func TestJPEGDimensionsRoundTrip(t *testing.T) {
	data := encodeTestJPEG(t, 640, 360, 90)
	w, h, ok := JPEGDimensions(data)
	require.True(t, ok)
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)
}

func TestJPEGDimensionsRejectsNonJPEG(t *testing.T) {
	_, _, ok := JPEGDimensions([]byte{0x89, 0x50, 0x4E, 0x47, 0, 0, 0, 0})
	assert.False(t, ok)
}

func TestDetectFormatJPEG(t *testing.T) {
	data := encodeTestJPEG(t, 10, 10, 90)
	assert.Equal(t, FormatJPEG, DetectFormat(data))
	assert.True(t, Valid(data))
}

func TestDetectFormatPNG(t *testing.T) {
	head := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 8)...)
	assert.Equal(t, FormatPNG, DetectFormat(head))
}

func TestDetectFormatWebPRequiresBothRIFFAndWEBP(t *testing.T) {
	valid := []byte("RIFF????WEBPVP8 ")
	assert.Equal(t, FormatWebP, DetectFormat(valid))

	missingWebpTag := []byte("RIFF????XXXXVP8 ")
	assert.Equal(t, FormatUnknown, DetectFormat(missingWebpTag))
}

func TestDetectFormatRejectsUnknown(t *testing.T) {
	junk := bytes.Repeat([]byte{0x00}, 16)
	assert.Equal(t, FormatUnknown, DetectFormat(junk))
	assert.False(t, Valid(junk))
}

func TestNormalizeScalesDownOnlyAndPreservesAspect(t *testing.T) {
	data := encodeTestJPEG(t, 8000, 4000, 95)
	out, w, h, err := Normalize(data, 4000, 90)
	require.NoError(t, err)
	assert.LessOrEqual(t, w, 4000)
	assert.LessOrEqual(t, h, 4000)
	assert.InDelta(t, 2.0, float64(w)/float64(h), 0.05)

	gotW, gotH, ok := JPEGDimensions(out)
	require.True(t, ok)
	assert.Equal(t, w, gotW)
	assert.Equal(t, h, gotH)
}

func TestNormalizeNeverUpscalesSmallSource(t *testing.T) {
	data := encodeTestJPEG(t, 100, 50, 90)
	_, w, h, err := Normalize(data, 4000, 90)
	require.NoError(t, err)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)
}
