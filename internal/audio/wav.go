// Package audio holds the small amount of audio handling the service needs:
// container sniffing for synthesized clips and WAV encoding for the offline
// backend.
package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

const defaultSampleRate = 16000

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// ToneWAV renders a sine tone as a mono 16-bit WAV clip.
func ToneWAV(freqHz float64, d time.Duration, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	n := int(d.Seconds() * float64(sampleRate))
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.3 * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return EncodeWAVPCM16LE(pcm, sampleRate)
}
