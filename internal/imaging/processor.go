package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Normalize produces a JPEG at the given quality, scaled down (never up) so
// neither dimension exceeds maxDim, preserving aspect ratio (spec section
// 4.2 step 6). Inputs already within maxDim are re-encoded without
// resizing: fitScaleDownOnly checks the source bounds before calling
// imaging.Fit.
func Normalize(data []byte, maxDim, quality int) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode source image: %w", err)
	}

	out := fitScaleDownOnly(src, maxDim, maxDim)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode normalized jpeg: %w", err)
	}

	w, h, ok := JPEGDimensions(buf.Bytes())
	if !ok {
		return nil, 0, 0, fmt.Errorf("normalize: failed to extract dimensions from produced jpeg")
	}

	return buf.Bytes(), w, h, nil
}

// DownscaleForIndex best-effort shrinks an over-sized index input to fit
// within maxDim x maxDim at the given quality (spec section 4.3 step b). On
// any failure the caller should fall back to the original bytes.
func DownscaleForIndex(data []byte, maxDim, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	out := fitScaleDownOnly(src, maxDim, maxDim)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode downscaled jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitScaleDownOnly fits src within maxW x maxH, preserving aspect ratio,
// and never upscales a source already within bounds.
func fitScaleDownOnly(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return src
	}
	return imaging.Fit(src, maxW, maxH, imaging.Lanczos)
}
