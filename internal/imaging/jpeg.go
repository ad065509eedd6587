package imaging

// JPEGDimensions extracts (width, height) by walking a JPEG's marker stream
// and reading the first SOF0/SOF1/SOF2 segment, per spec section 4.2 step 6.
// Returns ok=false for non-JPEG input or a malformed/truncated stream.
func JPEGDimensions(data []byte) (width, height int, ok bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, 0, false
	}

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			// Not aligned on a marker; stream is malformed.
			return 0, 0, false
		}
		marker := data[pos+1]
		pos += 2

		// Standalone markers carry no length field.
		if marker == 0xD8 || marker == 0xD9 || isRST(marker) {
			continue
		}

		if pos+2 > len(data) {
			return 0, 0, false
		}
		segLen := int(data[pos])<<8 | int(data[pos+1])
		if segLen < 2 || pos+segLen > len(data) {
			return 0, 0, false
		}

		if isSOF(marker) {
			// Segment layout after the length field: precision(1),
			// height(2), width(2), ...
			if segLen < 7 {
				return 0, 0, false
			}
			h := int(data[pos+3])<<8 | int(data[pos+4])
			w := int(data[pos+5])<<8 | int(data[pos+6])
			return w, h, true
		}

		pos += segLen
	}

	return 0, 0, false
}

func isRST(marker byte) bool {
	return marker >= 0xD0 && marker <= 0xD7
}

// isSOF matches SOF0, SOF1, and SOF2 (baseline, extended sequential,
// progressive), the only encodings Normalize ever produces or that a
// standards-conforming accepted upload will carry.
func isSOF(marker byte) bool {
	return marker == 0xC0 || marker == 0xC1 || marker == 0xC2
}
