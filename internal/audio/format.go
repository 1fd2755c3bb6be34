package audio

import "bytes"

// Format describes the container of an encoded clip.
type Format struct {
	ContentType string
	Ext         string
}

var (
	FormatMP3  = Format{ContentType: "audio/mpeg", Ext: ".mp3"}
	FormatWAV  = Format{ContentType: "audio/wav", Ext: ".wav"}
	FormatOGG  = Format{ContentType: "audio/ogg", Ext: ".ogg"}
	FormatFLAC = Format{ContentType: "audio/flac", Ext: ".flac"}
)

// DetectFormat sniffs the container from magic bytes. Unknown data is
// reported as MP3, which is what the synthesis backend returns by default.
func DetectFormat(b []byte) Format {
	switch {
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(b, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(b, []byte("fLaC")):
		return FormatFLAC
	default:
		return FormatMP3
	}
}

// FormatForExt maps a file extension back to its format.
func FormatForExt(ext string) (Format, bool) {
	for _, f := range []Format{FormatMP3, FormatWAV, FormatOGG, FormatFLAC} {
		if f.Ext == ext {
			return f, true
		}
	}
	return Format{}, false
}
