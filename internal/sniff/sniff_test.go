package sniff

import "testing"

func sig(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		want Format
	}{
		{"id3", sig([]byte("ID3"), make([]byte, 9)), FormatMP3},
		{"mpeg frame sync", []byte{0xFF, 0xFB, 0x90, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}, FormatMP3},
		{"wav", sig([]byte("RIFF"), []byte{0x24, 0x08, 0x00, 0x00}, []byte("WAVE")), FormatWAV},
		{"m4a brand", sig([]byte{0, 0, 0, 0x20}, []byte("ftyp"), []byte("M4A ")), FormatM4A},
		{"mp41 brand", sig([]byte{0, 0, 0, 0x20}, []byte("ftyp"), []byte("mp41")), FormatM4A},
		{"generic mp4", sig([]byte{0, 0, 0, 0x20}, []byte("ftyp"), []byte("isom")), FormatMP4},
		{"ogg", sig([]byte("OggS"), make([]byte, 8)), FormatOGG},
		{"flac", sig([]byte("fLaC"), make([]byte, 8)), FormatFLAC},
		{"adts", []byte{0xFF, 0xF1, 0x50, 0x80, 0, 0, 0, 0, 0, 0, 0, 0}, FormatAAC},
		{"garbage", []byte("hello world!"), FormatUnknown},
		{"riff non-wave", sig([]byte("RIFF"), make([]byte, 4), []byte("AVI ")), FormatUnknown},
	}
	for _, c := range cases {
		if got := Detect(c.head); got != c.want {
			t.Fatalf("%s: Detect=%q want %q", c.name, got, c.want)
		}
	}
}

func TestDetectShortInput(t *testing.T) {
	for _, head := range [][]byte{nil, {}, {0xFF}, []byte("RI"), []byte("ID3")[:2]} {
		if got := Detect(head); got != FormatUnknown {
			t.Fatalf("short input %v: got %q want unknown", head, got)
		}
	}
}

func TestDetectIgnoresTrailingBytes(t *testing.T) {
	head := append(sig([]byte("ID3"), make([]byte, 9)), []byte("RIFF....WAVE")...)
	if got := Detect(head); got != FormatMP3 {
		t.Fatalf("leading signature must win, got %q", got)
	}
}
