package gemini

import (
	"encoding/binary"
	"testing"
)

func TestParseAudioMIME(t *testing.T) {
	tests := []struct {
		mime     string
		wantBits int
		wantRate int
	}{
		{"audio/L16;codec=pcm;rate=24000", 16, 24000},
		{"audio/L24;rate=48000", 24, 48000},
		{"", 16, 24000},
		{"audio/L16;rate=notanumber", 16, 24000},
	}

	for _, tt := range tests {
		bits, rate := parseAudioMIME(tt.mime)
		if bits != tt.wantBits || rate != tt.wantRate {
			t.Errorf("parseAudioMIME(%q) = (%d, %d), want (%d, %d)", tt.mime, bits, rate, tt.wantBits, tt.wantRate)
		}
	}
}

func TestPCMToWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := pcmToWAV(pcm, 1, 24000, 16)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF header: % x", wav[:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Errorf("sample rate = %d", rate)
	}
	if dataSize := binary.LittleEndian.Uint32(wav[40:44]); dataSize != uint32(len(pcm)) {
		t.Errorf("data size = %d", dataSize)
	}
}
