package audio

import (
	"bytes"
	"fmt"
)

type Codec string

const (
	CodecPCM      Codec = "pcm"
	CodecWAV      Codec = "wav"
	CodecG711Ulaw Codec = "g711_ulaw"
	CodecG711Alaw Codec = "g711_alaw"
)

// decoder holds a codec's decode function and its fixed output sample rate.
// A rate of 0 means the caller-supplied sampleRate applies.
type decoder struct {
	fn   func([]byte) []float32
	rate int
}

var decoders = map[Codec]decoder{
	CodecPCM:      {fn: decodePCM, rate: 0},
	CodecG711Ulaw: {fn: decodeG711Ulaw, rate: 8000},
	CodecG711Alaw: {fn: decodeG711Alaw, rate: 8000},
}

// ParseCodec validates a codec name; empty means PCM.
func ParseCodec(name string) (Codec, error) {
	c := Codec(name)
	if c == "" {
		return CodecPCM, nil
	}
	if _, ok := decoders[c]; ok || c == CodecWAV {
		return c, nil
	}
	return "", fmt.Errorf("unsupported codec: %s", name)
}

// Decode converts encoded audio bytes to float32 samples normalized to
// [-1, 1] and returns them with their sample rate. WAV input carries its
// own rate; sampleRate is ignored for it.
func Decode(data []byte, codec Codec, sampleRate int) ([]float32, int, error) {
	if codec == CodecWAV {
		return ParseWAV(data)
	}
	dec, ok := decoders[codec]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported codec: %s", codec)
	}
	rate := dec.rate
	if rate == 0 {
		rate = sampleRate
	}
	if rate <= 0 {
		return nil, 0, fmt.Errorf("codec %s needs a sample rate", codec)
	}
	return dec.fn(data), rate, nil
}

// DecodeAny sniffs a RIFF header and otherwise treats data as raw PCM16 at
// sampleRate.
func DecodeAny(data []byte, sampleRate int) ([]float32, int, error) {
	if IsWAV(data) {
		return ParseWAV(data)
	}
	return Decode(data, CodecPCM, sampleRate)
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}
