package gemini

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
)

// parseAudioMIME extracts bit depth and sample rate from a MIME like
// "audio/L16;codec=pcm;rate=24000". Unknown or missing values fall back to
// 16-bit / 24 kHz, which is what the TTS models emit.
func parseAudioMIME(mime string) (bits, rate int) {
	bits, rate = 16, 24000
	for _, part := range strings.Split(mime, ";") {
		p := strings.TrimSpace(strings.ToLower(part))
		if v, ok := strings.CutPrefix(p, "rate="); ok {
			if n, err := strconv.Atoi(v); err == nil {
				rate = n
			}
		}
		if v, ok := strings.CutPrefix(p, "audio/l"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				bits = n
			}
		}
	}
	return bits, rate
}

// pcmToWAV wraps raw PCM samples in a RIFF/WAVE header.
func pcmToWAV(pcm []byte, channels, rate, bits int) []byte {
	bytesPerSample := bits / 8
	blockAlign := channels * bytesPerSample
	byteRate := rate * blockAlign
	dataSize := len(pcm)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)
	return buf.Bytes()
}
