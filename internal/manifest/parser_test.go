package manifest

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder/internal/variant"
)

func TestSegmentURLsHLS(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4

#EXTINF:4.000000,
segment_720p_000.ts
#EXTINF:4.000000,
segment_720p_001.ts?token=abc
#EXTINF:4.000000,
/abs/path/part.m4s
#EXTINF:4.000000,
https://other.example.com/seg.ts
#EXT-X-MAP:URI="init.mp4"
not-a-segment.aac
#EXT-X-ENDLIST
`

	urls, err := SegmentURLs(playlist, "https://cdn.example.com/u/r/720p/output_720p.m3u8?sig=1", variant.HLS)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://cdn.example.com/u/r/720p/segment_720p_000.ts",
		"https://cdn.example.com/u/r/720p/segment_720p_001.ts?token=abc",
		"https://cdn.example.com/abs/path/part.m4s",
		"https://other.example.com/seg.ts",
	}, urls)
}

func TestSegmentURLsDASH(t *testing.T) {
	mpd := `<MPD><Period><AdaptationSet>
<SegmentTemplate initialization="init.m4s" media="chunk-$Number$.m4s"/>
<SegmentTemplate media="http://x.example.com/a.m4s"/>
</AdaptationSet></Period></MPD>`

	urls, err := SegmentURLs(mpd, "http://cdn.example.com/run/manifest.mpd", variant.DASH)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"http://cdn.example.com/run/chunk-$Number$.m4s",
		"http://x.example.com/a.m4s",
	}, urls)
}

func TestSegmentURLsHostOnlyBase(t *testing.T) {
	urls, err := SegmentURLs("a.ts\n", "https://cdn.example.com", variant.HLS)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/a.ts"}, urls)
}

func TestSegmentURLsParseError(t *testing.T) {
	var parseErr *ParseError

	_, err := SegmentURLs("a.ts", "relative/playlist.m3u8", variant.HLS)
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "relative/playlist.m3u8", parseErr.URL)

	_, err = SegmentURLs("a.ts", "http://[::1", variant.HLS)
	assert.True(t, errors.As(err, &parseErr))

	_, err = SegmentURLs("a.ts", "https://cdn.example.com/a.m3u8", variant.Format("SMOOTH"))
	assert.True(t, errors.As(err, &parseErr))
}

func TestSegmentURLsEmpty(t *testing.T) {
	urls, err := SegmentURLs("", "https://cdn.example.com/a.m3u8", variant.HLS)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestVariantURIs(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-VERSION:3\n\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=426x240\n240p/output_240p.m3u8\n\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\nhttps://other.example.com/360.m3u8\n"

	uris, err := VariantURIs(master, "https://cdn.example.com/u/r/master.m3u8")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://cdn.example.com/u/r/240p/output_240p.m3u8",
		"https://other.example.com/360.m3u8",
	}, uris)
}

func TestPlaylistEntries(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n\n#EXTINF:4.0,\nsegment_720p_999.ts\n#EXTINF:4.0,\n  segment_720p_1000.ts  \n#EXT-X-ENDLIST\n"

	assert.Equal(t, []string{"segment_720p_999.ts", "segment_720p_1000.ts"}, PlaylistEntries(playlist))
	assert.Empty(t, PlaylistEntries("#EXTM3U\n#EXT-X-ENDLIST\n"))
}
