package manifest

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder/internal/variant"
)

func rungMPD(name string, segments int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
	xmlns="urn:mpeg:dash:schema:mpd:2011"
	profiles="urn:mpeg:dash:profile:isoff-live:2011"
	type="static"
	mediaPresentationDuration="PT%d.0S"
	minBufferTime="PT4.0S">
	<Period id="0" start="PT0.0S">
		<AdaptationSet id="0" contentType="video" startWithSAP="1" segmentAlignment="true" bitstreamSwitching="true">
			<Representation id="0" mimeType="video/mp4" codecs="avc1.64001f" bandwidth="2412345" width="1280" height="720">
				<SegmentTemplate timescale="12800" initialization="init-%[2]s-$RepresentationID$.m4s" media="chunk-%[2]s-$RepresentationID$-$Number%%05d$.m4s" startNumber="1">
					<SegmentTimeline>
						<S t="0" d="51200" r="%[3]d" />
					</SegmentTimeline>
				</SegmentTemplate>
			</Representation>
		</AdaptationSet>
		<AdaptationSet id="1" contentType="audio" startWithSAP="1" segmentAlignment="true" bitstreamSwitching="true">
			<Representation id="1" mimeType="audio/mp4" codecs="mp4a.40.2" bandwidth="128000" audioSamplingRate="48000">
				<SegmentTemplate timescale="48000" initialization="init-%[2]s-$RepresentationID$.m4s" media="chunk-%[2]s-$RepresentationID$-$Number%%05d$.m4s" startNumber="1">
					<SegmentTimeline>
						<S t="0" d="192000" r="%[3]d" />
					</SegmentTimeline>
				</SegmentTemplate>
			</Representation>
		</AdaptationSet>
	</Period>
</MPD>
`, segments*4, name, segments-1)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "output_720p.m3u8", HLSPlaylistName("720p"))
	assert.Equal(t, "segment_720p_007.ts", HLSSegmentName("720p", 7))
	assert.Equal(t, "segment_720p_%03d.ts", HLSSegmentPattern("720p"))
	assert.Equal(t, "720p/output_720p.m3u8", HLSRenditionURI("720p"))
	assert.Equal(t, "output_720p.mpd", DASHRungManifestName("720p"))
	assert.Equal(t, "init-720p-$RepresentationID$.m4s", DASHInitPattern("720p"))
	assert.Equal(t, "chunk-720p-$RepresentationID$-$Number%05d$.m4s", DASHMediaPattern("720p"))
	assert.Equal(t, "*-720p-*.m4s", DASHSegmentGlob("720p"))
}

func TestBuildHLSMaster(t *testing.T) {
	plan := variant.PlanFor(variant.HLS)

	var renditions []Rendition

	for _, spec := range plan[:2] {
		renditions = append(renditions, Rendition{Spec: spec})
	}

	expected := "#EXTM3U\n#EXT-X-VERSION:3\n\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=426x240\n240p/output_240p.m3u8\n\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n360p/output_360p.m3u8\n\n"

	assert.Equal(t, expected, string(BuildHLSMaster(renditions)))
}

func TestBuildHLSMasterCustomURI(t *testing.T) {
	spec := variant.PlanFor(variant.HLS)[0]

	out := string(BuildHLSMaster([]Rendition{{Spec: spec, URI: "low.m3u8"}}))
	assert.Contains(t, out, "\nlow.m3u8\n")
}

func TestHLSBandwidthEqualsConfiguredBitrate(t *testing.T) {
	plan := variant.PlanFor(variant.HLS)

	var renditions []Rendition

	for _, spec := range plan {
		renditions = append(renditions, Rendition{Spec: spec})
	}

	re := regexp.MustCompile(`BANDWIDTH=(\d+),RESOLUTION=(\d+x\d+)`)
	matches := re.FindAllStringSubmatch(string(BuildHLSMaster(renditions)), -1)
	require.Len(t, matches, len(plan))

	for i, m := range matches {
		assert.Equal(t, strconv.Itoa(plan[i].VideoBitrate), m[1])
		assert.Equal(t, plan[i].Resolution(), m[2])
	}
}

func TestHLSRoundTrip(t *testing.T) {
	const base = "https://cdn.example.com/user/run/"

	plan := variant.PlanFor(variant.HLS)

	var renditions []Rendition
	var uploaded []string
	var recovered []string

	for _, spec := range plan {
		renditions = append(renditions, Rendition{Spec: spec})

		playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-PLAYLIST-TYPE:VOD\n"

		for i := 0; i < 3; i++ {
			name := HLSSegmentName(spec.Name, i)
			uploaded = append(uploaded, base+spec.Name+"/"+name)
			playlist += "#EXTINF:4.000000,\n" + name + "\n"
		}

		playlist += "#EXT-X-ENDLIST\n"

		urls, err := SegmentURLs(playlist, base+HLSRenditionURI(spec.Name), variant.HLS)
		require.NoError(t, err)

		recovered = append(recovered, urls...)
	}

	uris, err := VariantURIs(string(BuildHLSMaster(renditions)), base+MasterPlaylistName)
	require.NoError(t, err)
	require.Len(t, uris, len(plan))

	for i, spec := range plan {
		assert.Equal(t, base+HLSRenditionURI(spec.Name), uris[i])
	}

	assert.Equal(t, uploaded, recovered)
}

func TestBuildDASH(t *testing.T) {
	plan := variant.PlanFor(variant.DASH)[:2]

	out, err := BuildDASH([]DASHRendition{
		{Spec: plan[0], Manifest: []byte(rungMPD("240p", 3))},
		{Spec: plan[1], Manifest: []byte(rungMPD("360p", 5))},
	})
	require.NoError(t, err)

	text := string(out)

	assert.True(t, strings.HasPrefix(text, "<?xml"))
	assert.Contains(t, text, `xmlns="urn:mpeg:dash:schema:mpd:2011"`)
	assert.Contains(t, text, `type="static"`)
	assert.Contains(t, text, `mediaPresentationDuration="PT20.0S"`)
	assert.Contains(t, text, `initialization="init-$RepresentationID$.m4s"`)
	assert.Contains(t, text, `media="chunk-$RepresentationID$-$Number%05d$.m4s"`)

	var doc rungDocument
	require.NoError(t, xml.Unmarshal(out, &doc))
	require.Len(t, doc.Periods, 1)

	sets := doc.Periods[0].AdaptationSets
	require.Len(t, sets, 2)

	assert.Equal(t, "video", sets[0].ContentType)
	require.Len(t, sets[0].Representations, 2)
	assert.Equal(t, "240p-0", sets[0].Representations[0].ID)
	assert.Equal(t, "360p-0", sets[0].Representations[1].ID)
	assert.Equal(t, 640, sets[0].Representations[1].Width)
	assert.Equal(t, "avc1.64001f", sets[0].Representations[0].Codecs)

	timing := sets[0].Representations[1].Template
	require.NotNil(t, timing)
	assert.Equal(t, 12800, timing.Timescale)
	require.NotNil(t, timing.Timeline)
	assert.Equal(t, 4, timing.Timeline.S[0].R)

	assert.Equal(t, "audio", sets[1].ContentType)
	require.Len(t, sets[1].Representations, 2)
	assert.Equal(t, "240p-1", sets[1].Representations[0].ID)
	assert.Equal(t, 48000, sets[1].Representations[0].Template.Timescale)
}

func TestDASHBandwidthEqualsConfiguredBitrate(t *testing.T) {
	plan := variant.PlanFor(variant.DASH)

	var renditions []DASHRendition

	for _, spec := range plan {
		renditions = append(renditions, DASHRendition{Spec: spec, Manifest: []byte(rungMPD(spec.Name, 2))})
	}

	out, err := BuildDASH(renditions)
	require.NoError(t, err)

	var doc rungDocument
	require.NoError(t, xml.Unmarshal(out, &doc))

	sets := doc.Periods[0].AdaptationSets

	for i, spec := range plan {
		assert.Equal(t, spec.VideoBitrate, sets[0].Representations[i].Bandwidth)
		assert.Equal(t, spec.AudioBitrate, sets[1].Representations[i].Bandwidth)
	}
}

func TestBuildDASHFallbackTiming(t *testing.T) {
	spec := variant.PlanFor(variant.DASH)[0]

	out, err := BuildDASH([]DASHRendition{{Spec: spec}})
	require.NoError(t, err)

	var doc rungDocument
	require.NoError(t, xml.Unmarshal(out, &doc))

	rep := doc.Periods[0].AdaptationSets[0].Representations[0]
	require.NotNil(t, rep.Template)
	assert.Equal(t, 1000, rep.Template.Timescale)
	assert.Equal(t, 4000, rep.Template.Duration)
}

func TestBuildDASHVideoOnly(t *testing.T) {
	spec := variant.PlanFor(variant.DASH)[0]

	rung := `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static"><Period>
<AdaptationSet id="0" contentType="video"><Representation id="0" bandwidth="1"/></AdaptationSet>
</Period></MPD>`

	out, err := BuildDASH([]DASHRendition{{Spec: spec, Manifest: []byte(rung)}})
	require.NoError(t, err)

	var doc rungDocument
	require.NoError(t, xml.Unmarshal(out, &doc))
	assert.Len(t, doc.Periods[0].AdaptationSets, 1)
}

func TestBuildDASHInvalidRung(t *testing.T) {
	spec := variant.PlanFor(variant.DASH)[0]

	_, err := BuildDASH([]DASHRendition{{Spec: spec, Manifest: []byte("<MPD><Period>")}})
	assert.Error(t, err)

	_, err = BuildDASH([]DASHRendition{{Spec: spec, Manifest: []byte(`<MPD><Period></Period></MPD>`)}})
	assert.Error(t, err)
}

func TestIsoSeconds(t *testing.T) {
	assert.Equal(t, 0.0, isoSeconds(""))
	assert.Equal(t, 12.5, isoSeconds("PT12.5S"))
	assert.Equal(t, 3725.0, isoSeconds("PT1H2M5S"))
}
