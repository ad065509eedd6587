package imaging

import "bytes"

// Format is one of the accepted upload formats, detected from magic bytes
// only — never from the notification's Content-Type (spec section 4.2
// step 5).
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatUnknown Format = ""
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	gifMagic  = []byte{0x47, 0x49, 0x46, 0x38}
)

// DetectFormat inspects the first 16 bytes of data and returns the accepted
// format, or FormatUnknown if none match. WebP additionally requires both
// 'RIFF' at offset 0 and 'WEBP' at offset 8.
func DetectFormat(data []byte) Format {
	if len(data) < 16 {
		return FormatUnknown
	}
	head := data[:16]

	switch {
	case bytes.HasPrefix(head, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(head, pngMagic):
		return FormatPNG
	case bytes.HasPrefix(head, gifMagic):
		return FormatGIF
	case bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// Valid reports whether data's magic bytes match one of the accepted
// formats (spec section 4.2 step 5).
func Valid(data []byte) bool {
	return DetectFormat(data) != FormatUnknown
}
