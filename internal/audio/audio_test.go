package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav, err := EncodeWAVPCM16LE(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 8000 {
		t.Fatalf("sample rate = %d, want 8000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
}

func TestToneWAVIsDetectedAsWAV(t *testing.T) {
	wav, err := ToneWAV(440, 100*time.Millisecond, 16000)
	if err != nil {
		t.Fatalf("ToneWAV() error = %v", err)
	}
	if got := DetectFormat(wav); got != FormatWAV {
		t.Fatalf("DetectFormat() = %+v, want WAV", got)
	}
	if len(wav) != 44+1600*2 {
		t.Fatalf("len = %d, want %d", len(wav), 44+1600*2)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		in   []byte
		want Format
	}{
		{[]byte("OggS\x00\x02"), FormatOGG},
		{[]byte("fLaC\x00"), FormatFLAC},
		{[]byte("ID3\x04\x00"), FormatMP3},
		{nil, FormatMP3},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.in); got != tc.want {
			t.Fatalf("DetectFormat(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
	if f, ok := FormatForExt(".ogg"); !ok || f != FormatOGG {
		t.Fatalf("FormatForExt(.ogg) = %+v, %v", f, ok)
	}
}
