package audio

import (
	"encoding/binary"
	"math"
)

// bytesPerSample is fixed at 2 for 16-bit signed little-endian PCM.
const bytesPerSample = 2

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, in raw sample units (0–32767). Returns 0 for buffers shorter
// than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// PCMDuration returns the duration in milliseconds of a mono PCM buffer at
// the given sample rate. Returns 0 for invalid inputs.
func PCMDuration(pcm []byte, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * bytesPerSample
	return len(pcm) * 1000 / bytesPerSec
}

// EncodeWAV wraps raw 16-bit signed little-endian mono PCM in a standard
// RIFF/WAV container, suitable for upload to the ASR and voiceprint
// collaborators.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels = 1
		bps      = 16
	)
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
