// Package format defines the canonical stream format entity and the
// normalizer that builds it from loose upstream records.
package format

// CodecNone is the sentinel codec value for an absent track.
const CodecNone = "none"

// Format is the canonical description of one downloadable stream variant.
// Immutable after construction; it lives only for the duration of one
// request and is never persisted.
type Format struct {
	ID           string // opaque upstream format token (itag)
	Container    string // derived from the mime type
	MimeType     string // raw mime string, retained for diagnostics
	QualityLabel string // optional human label, e.g. "1080p60"
	Height       int
	Width        int
	FPS          int
	VideoBitrate int
	AudioBitrate int
	FileSize     int64 // 0 when upstream does not report it
	VideoCodec   string
	AudioCodec   string
	HasVideo     bool
	HasAudio     bool
	StreamURL    string
}

// IsCombined reports whether the format carries both video and audio tracks.
func (f *Format) IsCombined() bool {
	return f.HasVideo && f.HasAudio
}

// IsVideoOnly reports whether the format carries only a video track.
func (f *Format) IsVideoOnly() bool {
	return f.HasVideo && !f.HasAudio
}

// IsAudioOnly reports whether the format carries only an audio track.
func (f *Format) IsAudioOnly() bool {
	return f.HasAudio && !f.HasVideo
}
