package recognizer

import (
	"bytes"
	"path/filepath"
	"strings"
)

// sniffAudioFormat detects the real container from the first bytes, because
// uploads regularly carry the wrong extension. The extension is only a
// fallback when the header is unrecognized.
func sniffAudioFormat(data []byte, filename string) string {
	header := data
	if len(header) > 12 {
		header = header[:12]
	}

	switch {
	case bytes.Contains(header, []byte("ftyp")), bytes.Contains(header, []byte("isom")):
		return "m4a"
	case bytes.Contains(header, []byte("ID3")), bytes.Contains(header, []byte{0xff, 0xfb}):
		return "mp3"
	case bytes.Contains(header, []byte("RIFF")):
		return "wav"
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return "mp3"
	}
	return ext
}
