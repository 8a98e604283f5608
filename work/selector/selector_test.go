package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytgrab-proxy/work/format"
)

func muxed(id string, height int, size int64) *format.Format {
	return &format.Format{
		ID: id, Height: height, FileSize: size,
		HasVideo: true, HasAudio: true,
		VideoCodec: "avc1", AudioCodec: "mp4a",
		StreamURL: "https://media.example/" + id,
	}
}

func videoOnly(id string, height int, size int64) *format.Format {
	return &format.Format{
		ID: id, Height: height, FileSize: size,
		HasVideo: true, VideoCodec: "avc1", AudioCodec: format.CodecNone,
		StreamURL: "https://media.example/" + id,
	}
}

func audioOnly(id string, bitrate int, size int64) *format.Format {
	return &format.Format{
		ID: id, AudioBitrate: bitrate, FileSize: size,
		HasAudio: true, AudioCodec: "opus", VideoCodec: format.CodecNone,
		StreamURL: "https://media.example/" + id,
	}
}

func TestParseTier(t *testing.T) {
	for tier, want := range map[string]int{
		"720p":  720,
		"1080p": 1080,
		"4k":    2160,
		"4K":    2160,
		"2160p": 2160,
		"360p":  360,
	} {
		got, err := ParseTier(tier)
		require.NoError(t, err, tier)
		assert.Equal(t, want, got, tier)
	}

	for _, tier := range []string{"", "best", "p", "-1p", "hd"} {
		_, err := ParseTier(tier)
		assert.ErrorIs(t, err, ErrUnknownTier, tier)
	}
}

func TestClassifyDisjointSets(t *testing.T) {
	formats := []*format.Format{
		muxed("18", 360, 100),
		videoOnly("137", 1080, 900),
		audioOnly("251", 128000, 50),
		muxed("22", 720, 400),
	}

	c := Classify(formats)
	assert.Len(t, c.Combined, 2)
	assert.Len(t, c.VideoOnly, 1)
	assert.Len(t, c.AudioOnly, 1)
	assert.Equal(t, 4, len(c.Combined)+len(c.VideoOnly)+len(c.AudioOnly))
}

func TestClassifyRanking(t *testing.T) {
	c := Classify([]*format.Format{
		muxed("a", 720, 10),
		muxed("b", 1080, 5),
		muxed("c", 1080, 20),
		audioOnly("x", 64000, 10),
		audioOnly("y", 128000, 5),
	})

	// height first, then file size
	assert.Equal(t, "c", c.Combined[0].ID)
	assert.Equal(t, "b", c.Combined[1].ID)
	assert.Equal(t, "a", c.Combined[2].ID)

	// audio ranks by bitrate
	assert.Equal(t, "y", c.AudioOnly[0].ID)
}

func TestSelectMuxedPicksLargestAtExactHeight(t *testing.T) {
	// heights [720,1080,1080,480], sizes [10,20,5,1]: tier 1080p → size 20
	c := Classify([]*format.Format{
		muxed("a", 720, 10),
		muxed("b", 1080, 20),
		muxed("c", 1080, 5),
		muxed("d", 480, 1),
	})

	sel, err := Select(c, 1080)
	require.NoError(t, err)
	require.True(t, sel.IsMuxed())
	assert.Equal(t, "b", sel.Muxed.ID)
	assert.Equal(t, int64(20), sel.SizeHint)
}

func TestSelectTieBrokenByFormatID(t *testing.T) {
	c := Classify([]*format.Format{
		muxed("z9", 720, 50),
		muxed("a1", 720, 50),
	})

	sel, err := Select(c, 720)
	require.NoError(t, err)
	assert.Equal(t, "a1", sel.Muxed.ID)
}

func TestSelectAdaptivePairsVideoWithBestAudio(t *testing.T) {
	c := Classify([]*format.Format{
		muxed("18", 360, 100),
		videoOnly("137", 1080, 900),
		audioOnly("140", 96000, 40),
		audioOnly("251", 128000, 50),
	})

	sel, err := Select(c, 1080)
	require.NoError(t, err)
	require.False(t, sel.IsMuxed())
	assert.Equal(t, "137", sel.Video.ID)
	assert.Equal(t, "251", sel.Audio.ID)
	assert.Equal(t, int64(950), sel.SizeHint)
}

func TestSelectExactHeightOnly(t *testing.T) {
	c := Classify([]*format.Format{
		muxed("22", 720, 100),
		videoOnly("137", 1080, 900),
		audioOnly("251", 128000, 50),
	})

	// 1440p exists at no height: close alternatives are never substituted
	_, err := Select(c, 1440)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestSelectNoAudioForAdaptiveIsNoMatch(t *testing.T) {
	c := Classify([]*format.Format{
		videoOnly("137", 1080, 900),
	})

	_, err := Select(c, 1080)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestOptionsListsDistinctHeightsBestFirst(t *testing.T) {
	c := Classify([]*format.Format{
		muxed("18", 360, 100),
		muxed("22", 720, 400),
		videoOnly("137", 1080, 900),
		videoOnly("136", 720, 300),
		audioOnly("251", 128000, 50),
	})

	opts := Options(c)
	require.Len(t, opts, 3)

	assert.Equal(t, "1080p", opts[0].Tier)
	assert.Equal(t, "adaptive", opts[0].Kind)
	assert.Equal(t, int64(950), opts[0].SizeHint)

	assert.Equal(t, "720p", opts[1].Tier)
	assert.Equal(t, "muxed", opts[1].Kind)

	assert.Equal(t, "360p", opts[2].Tier)
	assert.Equal(t, "muxed", opts[2].Kind)
}

func TestOptionsOmitsUnservableHeights(t *testing.T) {
	// video-only with no audio counterpart cannot be served
	c := Classify([]*format.Format{
		muxed("18", 360, 100),
		videoOnly("137", 1080, 900),
	})

	opts := Options(c)
	require.Len(t, opts, 1)
	assert.Equal(t, "360p", opts[0].Tier)
}
