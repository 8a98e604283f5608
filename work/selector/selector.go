// Package selector partitions normalized formats into combined, video-only,
// and audio-only sets, ranks them, and picks the best candidates for a
// requested quality tier.
package selector

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"ytgrab-proxy/work/format"
)

// ErrNoMatch is returned when no format satisfies the requested quality
// tier. Matching is exact by height: a requested tier either exists or the
// caller is told it does not, never silently substituted.
var ErrNoMatch = errors.New("no format matches the requested quality")

// ErrUnknownTier is returned for quality strings that name no known tier.
var ErrUnknownTier = errors.New("unknown quality tier")

// Classified holds the three disjoint format sets, each ranked best first.
type Classified struct {
	Combined  []*format.Format
	VideoOnly []*format.Format
	AudioOnly []*format.Format
}

// Selection is the outcome of quality selection: either a single muxed
// format, or an adaptive video/audio pair that needs remuxing.
type Selection struct {
	Muxed    *format.Format
	Video    *format.Format
	Audio    *format.Format
	SizeHint int64 // known bytes; missing sizes count as 0
}

// IsMuxed reports whether the selection is a single combined stream.
func (s *Selection) IsMuxed() bool { return s.Muxed != nil }

// ParseTier maps a quality tier name to its target pixel height. "4k" maps
// to 2160; other tiers are "<height>p".
func ParseTier(tier string) (int, error) {
	t := strings.ToLower(strings.TrimSpace(tier))
	if t == "4k" {
		return 2160, nil
	}
	if h, ok := strings.CutSuffix(t, "p"); ok {
		if height, err := strconv.Atoi(h); err == nil && height > 0 {
			return height, nil
		}
	}
	return 0, ErrUnknownTier
}

// Classify partitions formats into the three sets and ranks each. Formats
// with neither track are excluded entirely (the normalizer should have
// dropped them already).
//
// Combined and video-only sets rank by height, then fps, then file size,
// all descending with missing values treated as 0. The audio-only set ranks
// by audio bitrate then file size. Format ID breaks remaining ties so
// selection is reproducible across runs.
func Classify(formats []*format.Format) Classified {
	var c Classified
	for _, f := range formats {
		switch {
		case f.IsCombined():
			c.Combined = append(c.Combined, f)
		case f.IsVideoOnly():
			c.VideoOnly = append(c.VideoOnly, f)
		case f.IsAudioOnly():
			c.AudioOnly = append(c.AudioOnly, f)
		}
	}

	sortVideo(c.Combined)
	sortVideo(c.VideoOnly)
	sortAudio(c.AudioOnly)
	return c
}

func sortVideo(set []*format.Format) {
	sort.SliceStable(set, func(i, j int) bool {
		a, b := set[i], set[j]
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		if a.FPS != b.FPS {
			return a.FPS > b.FPS
		}
		if a.FileSize != b.FileSize {
			return a.FileSize > b.FileSize
		}
		return a.ID < b.ID
	})
}

func sortAudio(set []*format.Format) {
	sort.SliceStable(set, func(i, j int) bool {
		a, b := set[i], set[j]
		if a.AudioBitrate != b.AudioBitrate {
			return a.AudioBitrate > b.AudioBitrate
		}
		if a.FileSize != b.FileSize {
			return a.FileSize > b.FileSize
		}
		return a.ID < b.ID
	})
}

// Select picks the best candidate(s) for the target height.
//
//  1. A combined format at exactly the target height wins outright; the
//     largest known file size is preferred, ties broken by format ID.
//  2. Otherwise a video-only format at exactly the target height is paired
//     with the highest-bitrate audio-only format (any height).
//  3. Anything else is ErrNoMatch.
func Select(c Classified, height int) (*Selection, error) {
	if best := pickLargestAtHeight(c.Combined, height); best != nil {
		return &Selection{Muxed: best, SizeHint: best.FileSize}, nil
	}

	video := pickLargestAtHeight(c.VideoOnly, height)
	if video == nil {
		return nil, ErrNoMatch
	}

	if len(c.AudioOnly) == 0 {
		return nil, ErrNoMatch
	}
	audio := c.AudioOnly[0]

	return &Selection{
		Video:    video,
		Audio:    audio,
		SizeHint: video.FileSize + audio.FileSize,
	}, nil
}

// pickLargestAtHeight filters a ranked set to an exact height and returns
// the entry with the largest file size, preferring the lower format ID on
// ties. Returns nil when nothing matches.
func pickLargestAtHeight(set []*format.Format, height int) *format.Format {
	var best *format.Format
	for _, f := range set {
		if f.Height != height || f.StreamURL == "" {
			continue
		}
		if best == nil ||
			f.FileSize > best.FileSize ||
			(f.FileSize == best.FileSize && f.ID < best.ID) {
			best = f
		}
	}
	return best
}

// Option describes one downloadable quality choice, as presented to callers
// listing what is available before committing to a download.
type Option struct {
	Tier     string `json:"quality"`
	Height   int    `json:"height"`
	Kind     string `json:"kind"` // "muxed" or "adaptive"
	Label    string `json:"label,omitempty"`
	SizeHint int64  `json:"size_hint,omitempty"`
}

// Options enumerates the distinct selectable heights across the combined
// and video-only sets, best first, resolving each through Select so the
// listing matches what a subsequent download request would actually get.
func Options(c Classified) []Option {
	seen := make(map[int]bool)
	var heights []int
	for _, set := range [][]*format.Format{c.Combined, c.VideoOnly} {
		for _, f := range set {
			if f.Height > 0 && !seen[f.Height] {
				seen[f.Height] = true
				heights = append(heights, f.Height)
			}
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(heights)))

	opts := make([]Option, 0, len(heights))
	for _, h := range heights {
		sel, err := Select(c, h)
		if err != nil {
			continue
		}
		opt := Option{
			Tier:     tierName(h),
			Height:   h,
			SizeHint: sel.SizeHint,
		}
		if sel.IsMuxed() {
			opt.Kind = "muxed"
			opt.Label = sel.Muxed.QualityLabel
		} else {
			opt.Kind = "adaptive"
			opt.Label = sel.Video.QualityLabel
		}
		opts = append(opts, opt)
	}
	return opts
}

func tierName(height int) string {
	if height == 2160 {
		return "4k"
	}
	return strconv.Itoa(height) + "p"
}
