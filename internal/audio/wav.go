package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

func writeWAVHeader(buf []byte, sampleRate, dataLen int) {
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
}

// SamplesToWAV encodes float32 PCM samples as a mono 16-bit WAV.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)
	writeWAVHeader(buf, sampleRate, dataLen)

	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		val := int16(clamped * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(val))
	}
	return buf
}

// SilenceWAV returns ms milliseconds of silence as a WAV file.
func SilenceWAV(ms, sampleRate int) []byte {
	dataLen := sampleRate * ms / 1000 * 2
	buf := make([]byte, 44+dataLen)
	writeWAVHeader(buf, sampleRate, dataLen)
	return buf
}

// ParseWAV reads a PCM WAV file (8/16-bit, any channel count) into mono
// float32 samples. Chunks other than fmt and data are skipped.
func ParseWAV(data []byte) ([]float32, int, error) {
	if !IsWAV(data) {
		return nil, 0, fmt.Errorf("wav: missing RIFF/WAVE header")
	}
	var (
		format, channels, bits uint16
		rate                   uint32
		haveFmt                bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("wav: short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			if format != 1 {
				return nil, 0, fmt.Errorf("wav: unsupported format %d", format)
			}
			samples, err := downmix(data[body:body+size], int(channels), int(bits))
			return samples, int(rate), err
		}
		off = body + size + size%2
	}
	return nil, 0, fmt.Errorf("wav: no data chunk")
}

func downmix(pcm []byte, channels, bits int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("wav: %d channels", channels)
	}
	width := bits / 8
	if width != 1 && width != 2 {
		return nil, fmt.Errorf("wav: unsupported bit depth %d", bits)
	}
	frame := width * channels
	n := len(pcm) / frame
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for c := range channels {
			p := pcm[i*frame+c*width:]
			if width == 1 {
				sum += (float32(p[0]) - 128) / 128
				continue
			}
			sum += float32(int16(binary.LittleEndian.Uint16(p))) / math.MaxInt16
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}
