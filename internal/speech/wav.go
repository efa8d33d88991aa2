package speech

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Defaults matching the PCM stream the speech model emits.
const (
	DefaultSampleRate    = 24000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

// EncodeWAV wraps raw little-endian PCM samples in a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 0, 44+len(pcm))
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+len(pcm)))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16) // PCM fmt chunk size
	buf = binary.LittleEndian.AppendUint16(buf, 1)  // PCM format
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(bitsPerSample))
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(pcm)))
	buf = append(buf, pcm...)
	return buf
}

// WAVDataURI encodes PCM as a base64 WAV data URI suitable for direct
// playback in a browser audio element.
func WAVDataURI(pcm []byte, sampleRate, channels, bitsPerSample int) string {
	wav := EncodeWAV(pcm, sampleRate, channels, bitsPerSample)
	return "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav)
}

// ParseDataURI splits a data URI into its MIME type and decoded payload.
// Speech input arrives this way with an arbitrary embedded MIME type.
func ParseDataURI(uri string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, errors.New("not a data uri")
	}
	rest := uri[len("data:"):]
	sep := strings.Index(rest, ",")
	if sep < 0 {
		return "", nil, errors.New("malformed data uri")
	}
	meta := rest[:sep]
	payload := rest[sep+1:]

	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, errors.New("data uri payload must be base64")
	}
	mimeType = strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "text/plain"
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data uri: %w", err)
	}
	return mimeType, data, nil
}
