package format

import (
	"strconv"
	"strings"
)

// Fallback tokens used when upstream omits explicit codec or container
// information but the mime type implies the track exists.
const (
	fallbackContainer  = "mp4"
	fallbackVideoCodec = "avc1.4d401e"
	fallbackAudioCodec = "mp4a.40.2"
)

// RawRecord is one unnormalized upstream format entry. No shape is
// guaranteed: any field may be absent, null, or type-mismatched. RawRecords
// are discarded immediately after normalization.
type RawRecord map[string]interface{}

// Normalize converts one raw upstream record into a canonical Format.
// Returns (nil, false) when the record must be dropped: no resolvable fetch
// URL, or neither a video nor an audio track can be inferred. Dropping is
// silent; many upstream records are placeholders.
func Normalize(rec RawRecord) (*Format, bool) {
	streamURL := stringField(rec, "url")
	if streamURL == "" {
		return nil, false
	}

	mime := stringField(rec, "mimeType")
	mimeLower := strings.ToLower(mime)

	f := &Format{
		ID:           tokenField(rec, "itag"),
		Container:    parseContainer(mime),
		MimeType:     mime,
		QualityLabel: stringField(rec, "qualityLabel"),
		Height:       coerceInt(rec["height"]),
		Width:        coerceInt(rec["width"]),
		FPS:          coerceInt(rec["fps"]),
		VideoBitrate: coerceInt(rec["bitrate"]),
		FileSize:     int64(coerceInt(rec["contentLength"])),
		StreamURL:    streamURL,
	}

	// Explicit codec fields win; mime type inference fills the gaps.
	videoCodec := stringField(rec, "videoCodec")
	audioCodec := stringField(rec, "audioCodec")

	hasVideo := videoCodec != "" && videoCodec != CodecNone
	hasAudio := audioCodec != "" && audioCodec != CodecNone
	if videoCodec == "" {
		hasVideo = strings.Contains(mimeLower, "video")
	}
	if audioCodec == "" {
		hasAudio = strings.Contains(mimeLower, "audio")
	}

	// A muxed video stream carries audio even though the mime type only
	// says "video": a two-segment codecs= parameter is the tell.
	mimeVideo, mimeAudio := parseCodecsParam(mime)
	if audioCodec == "" && mimeAudio != "" {
		hasAudio = true
	}

	if !hasVideo && !hasAudio {
		return nil, false
	}

	switch {
	case videoCodec != "":
		f.VideoCodec = videoCodec
	case !hasVideo:
		f.VideoCodec = CodecNone
	case mimeVideo != "":
		f.VideoCodec = mimeVideo
	default:
		f.VideoCodec = fallbackVideoCodec
	}

	switch {
	case audioCodec != "":
		f.AudioCodec = audioCodec
	case !hasAudio:
		f.AudioCodec = CodecNone
	case mimeAudio != "":
		f.AudioCodec = mimeAudio
	case !hasVideo && mimeVideo != "":
		// audio-only mime puts its codec in the first segment
		f.AudioCodec = mimeVideo
	default:
		f.AudioCodec = fallbackAudioCodec
	}

	f.HasVideo = f.VideoCodec != CodecNone
	f.HasAudio = f.AudioCodec != CodecNone

	f.AudioBitrate = coerceInt(rec["audioBitrate"])
	if f.AudioBitrate == 0 {
		f.AudioBitrate = coerceInt(rec["averageBitrate"])
	}
	if f.AudioBitrate == 0 && f.IsAudioOnly() {
		f.AudioBitrate = f.VideoBitrate
	}
	if f.IsAudioOnly() {
		f.VideoBitrate = 0
	}

	return f, true
}

// NormalizeAll runs Normalize over a slice of raw records, keeping input
// order and silently dropping invalid entries.
func NormalizeAll(recs []RawRecord) []*Format {
	formats := make([]*Format, 0, len(recs))
	for _, rec := range recs {
		if f, ok := Normalize(rec); ok {
			formats = append(formats, f)
		}
	}
	return formats
}

// parseContainer derives the container from a mime type by splitting on "/"
// then ";". Unparseable input yields the fallback container.
func parseContainer(mime string) string {
	if mime == "" {
		return fallbackContainer
	}
	parts := strings.SplitN(mime, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return fallbackContainer
	}
	container := strings.TrimSpace(strings.SplitN(parts[1], ";", 2)[0])
	if container == "" {
		return fallbackContainer
	}
	return container
}

// parseCodecsParam extracts codec tokens from the codecs= parameter of a
// mime type. With two comma-separated segments the first is the video codec
// and the last is the audio codec; with one segment only the first value is
// set and the caller decides which track it describes.
func parseCodecsParam(mime string) (first, second string) {
	idx := strings.Index(strings.ToLower(mime), "codecs=")
	if idx < 0 {
		return "", ""
	}
	val := mime[idx+len("codecs="):]
	val = strings.Trim(val, `"' `)
	if end := strings.IndexAny(val, `";`); end >= 0 {
		val = val[:end]
	}
	segs := strings.Split(val, ",")
	first = strings.TrimSpace(segs[0])
	if len(segs) > 1 {
		second = strings.TrimSpace(segs[len(segs)-1])
	}
	return first, second
}

// coerceInt tolerantly converts upstream numeric values. Accepts numbers,
// numeric strings, and numeric-looking floats (truncated). Anything else
// yields 0; coercion never fails.
func coerceInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if fl, err := strconv.ParseFloat(s, 64); err == nil {
			return int(fl)
		}
		return 0
	default:
		return 0
	}
}

// stringField reads a string-valued field, tolerating absence and non-string
// values.
func stringField(rec RawRecord, key string) string {
	if s, ok := rec[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// tokenField reads an opaque token that upstream may send as a string or a
// number (the itag often arrives as JSON number).
func tokenField(rec RawRecord, key string) string {
	switch v := rec[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.Itoa(int(v))
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
