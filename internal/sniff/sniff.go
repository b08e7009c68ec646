// Package sniff detects audio container formats from leading file bytes.
// Detection is best effort: unknown or truncated input yields FormatUnknown,
// never an error, because the transcoder performs its own probe anyway.
package sniff

import "bytes"

// Format is a detected container format tag.
type Format string

const (
	FormatMP3     Format = "mp3"
	FormatWAV     Format = "wav"
	FormatM4A     Format = "m4a"
	FormatMP4     Format = "mp4"
	FormatOGG     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatAAC     Format = "aac"
	FormatUnknown Format = "unknown"
)

// signatureWindow is how many leading bytes Detect wants to see.
const signatureWindow = 12

var m4aBrands = [][]byte{
	[]byte("M4A "),
	[]byte("mp41"),
	[]byte("mp42"),
}

// Detect returns the container format for the given leading bytes.
// Filename extensions are deliberately ignored.
func Detect(head []byte) Format {
	if len(head) < 4 {
		return FormatUnknown
	}

	switch {
	case bytes.HasPrefix(head, []byte("ID3")):
		return FormatMP3
	case bytes.HasPrefix(head, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(head, []byte("fLaC")):
		return FormatFLAC
	}

	if len(head) >= signatureWindow && bytes.HasPrefix(head, []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")) {
		return FormatWAV
	}

	// ISO base media: size(4) + "ftyp" + major brand(4).
	if len(head) >= signatureWindow && bytes.Equal(head[4:8], []byte("ftyp")) {
		brand := head[8:12]
		for _, b := range m4aBrands {
			if bytes.Equal(brand, b) {
				return FormatM4A
			}
		}
		return FormatMP4
	}

	if len(head) >= 2 && head[0] == 0xFF {
		// ADTS sync has layer bits 00; MPEG audio layer III does not.
		if head[1]&0xF6 == 0xF0 {
			return FormatAAC
		}
		if head[1]&0xE0 == 0xE0 {
			return FormatMP3
		}
	}

	return FormatUnknown
}
