package audio

import "encoding/base64"

// BytesFromPCM16 serializes samples as little-endian 16-bit PCM.
func BytesFromPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// PCM16FromBytes parses little-endian 16-bit PCM. A trailing odd byte is
// dropped.
func PCM16FromBytes(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}

// Base64FromPCM16 is the JSON-protocol encoding of an audio chunk.
func Base64FromPCM16(samples []int16) string {
	return base64.StdEncoding.EncodeToString(BytesFromPCM16(samples))
}

// PCM16FromBase64 decodes a JSON-protocol audio chunk.
func PCM16FromBase64(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return PCM16FromBytes(raw), nil
}

// DurationSeconds reports the play time of a PCM16 chunk.
func DurationSeconds(sampleCount, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(sampleCount) / float64(sampleRate)
}
