package manifest

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"ladder/internal/variant"
)

const (
	dashProfile   = "urn:mpeg:dash:profile:isoff-live:2011"
	fallbackScale = 1000
)

type DASHRendition struct {
	Spec variant.Spec
	// Manifest is the MPD the encoder wrote for this rung alone.
	Manifest []byte
}

type mpdDocument struct {
	XMLName                   xml.Name `xml:"urn:mpeg:dash:schema:mpd:2011 MPD"`
	Profiles                  string   `xml:"profiles,attr"`
	Type                      string   `xml:"type,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr,omitempty"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	Periods                   []period `xml:"Period"`
}

type rungDocument struct {
	XMLName                   xml.Name `xml:"MPD"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	Periods                   []period `xml:"Period"`
}

type period struct {
	ID             string          `xml:"id,attr,omitempty"`
	Start          string          `xml:"start,attr,omitempty"`
	AdaptationSets []adaptationSet `xml:"AdaptationSet"`
}

type adaptationSet struct {
	ID               string           `xml:"id,attr"`
	ContentType      string           `xml:"contentType,attr,omitempty"`
	MimeType         string           `xml:"mimeType,attr,omitempty"`
	SegmentAlignment bool             `xml:"segmentAlignment,attr,omitempty"`
	Template         *segmentTemplate `xml:"SegmentTemplate"`
	Representations  []representation `xml:"Representation"`
}

type representation struct {
	ID        string           `xml:"id,attr"`
	MimeType  string           `xml:"mimeType,attr,omitempty"`
	Codecs    string           `xml:"codecs,attr,omitempty"`
	Bandwidth int              `xml:"bandwidth,attr"`
	Width     int              `xml:"width,attr,omitempty"`
	Height    int              `xml:"height,attr,omitempty"`
	Template  *segmentTemplate `xml:"SegmentTemplate"`
}

type segmentTemplate struct {
	Timescale      int              `xml:"timescale,attr,omitempty"`
	Duration       int              `xml:"duration,attr,omitempty"`
	Initialization string           `xml:"initialization,attr,omitempty"`
	Media          string           `xml:"media,attr,omitempty"`
	StartNumber    int              `xml:"startNumber,attr,omitempty"`
	Timeline       *segmentTimeline `xml:"SegmentTimeline"`
}

type segmentTimeline struct {
	S []timelineEntry `xml:"S"`
}

type timelineEntry struct {
	T *int64 `xml:"t,attr,omitempty"`
	D int64  `xml:"d,attr"`
	R int    `xml:"r,attr,omitempty"`
}

type rungStream struct {
	id       string
	codecs   string
	template *segmentTemplate
}

// BuildDASH composes one static MPD out of the per-rung MPDs: a video adaptation set and an audio
// adaptation set, each holding one representation per rung in plan order. Representation ids are
// "<variant>-<stream>" so the shared templates resolve to the segment names the rung wrote.
func BuildDASH(renditions []DASHRendition) ([]byte, error) {
	video := adaptationSet{
		ID:               "0",
		ContentType:      "video",
		MimeType:         "video/mp4",
		SegmentAlignment: true,
		Template:         sharedTemplate(),
	}

	audio := adaptationSet{
		ID:               "1",
		ContentType:      "audio",
		MimeType:         "audio/mp4",
		SegmentAlignment: true,
		Template:         sharedTemplate(),
	}

	var longest string
	var longestSec float64

	for _, r := range renditions {
		v, a, duration, err := parseRung(r.Manifest)

		if err != nil {
			return nil, errors.Wrapf(err, "unable to parse %s manifest", r.Spec.Name)
		}

		if sec := isoSeconds(duration); sec > longestSec {
			longest, longestSec = duration, sec
		}

		video.Representations = append(video.Representations, representation{
			ID:        r.Spec.Name + "-" + streamID(v, "0"),
			Codecs:    codecsOf(v),
			Bandwidth: r.Spec.VideoBitrate,
			Width:     r.Spec.Width,
			Height:    r.Spec.Height,
			Template:  timingOf(v),
		})

		if a != nil {
			audio.Representations = append(audio.Representations, representation{
				ID:        r.Spec.Name + "-" + a.id,
				Codecs:    a.codecs,
				Bandwidth: r.Spec.AudioBitrate,
				Template:  timingOf(a),
			})
		}
	}

	sets := []adaptationSet{video}

	if len(audio.Representations) > 0 {
		sets = append(sets, audio)
	}

	doc := mpdDocument{
		Profiles:                  dashProfile,
		Type:                      "static",
		MediaPresentationDuration: longest,
		MinBufferTime:             "PT" + strconv.Itoa(SegmentDuration) + "S",
		Periods:                   []period{{ID: "0", Start: "PT0S", AdaptationSets: sets}},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")

	if err != nil {
		return nil, errors.Wrap(err, "unable to encode manifest")
	}

	return append([]byte(xml.Header), append(out, '\n')...), nil
}

func sharedTemplate() *segmentTemplate {
	return &segmentTemplate{
		Initialization: "init-$RepresentationID$.m4s",
		Media:          "chunk-$RepresentationID$-$Number%05d$.m4s",
		StartNumber:    1,
	}
}

// parseRung finds the video and audio streams of a rung MPD. A rung without audio yields a nil
// audio stream; an empty manifest yields both streams without timing.
func parseRung(data []byte) (video, audio *rungStream, duration string, err error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return &rungStream{id: "0"}, &rungStream{id: "1"}, "", nil
	}

	var doc rungDocument

	if err = xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, "", err
	}

	for _, p := range doc.Periods {
		for _, set := range p.AdaptationSets {
			for _, rep := range set.Representations {
				stream := &rungStream{id: rep.ID, codecs: rep.Codecs, template: rep.Template}

				if stream.template == nil {
					stream.template = set.Template
				}

				switch kind := streamKind(set, rep); {
				case kind == "video" && video == nil:
					video = stream
				case kind == "audio" && audio == nil:
					audio = stream
				}
			}
		}
	}

	if video == nil {
		return nil, nil, "", errors.New("no video representation")
	}

	return video, audio, doc.MediaPresentationDuration, nil
}

func streamKind(set adaptationSet, rep representation) string {
	for _, s := range []string{set.ContentType, rep.MimeType, set.MimeType} {
		if strings.HasPrefix(s, "video") {
			return "video"
		}

		if strings.HasPrefix(s, "audio") {
			return "audio"
		}
	}

	// ffmpeg numbers streams in -adaptation_sets order: video first
	if rep.ID == "1" {
		return "audio"
	}

	return "video"
}

func streamID(s *rungStream, fallback string) string {
	if s == nil || s.id == "" {
		return fallback
	}

	return s.id
}

func codecsOf(s *rungStream) string {
	if s == nil {
		return ""
	}

	return s.codecs
}

func timingOf(s *rungStream) *segmentTemplate {
	if s != nil && s.template != nil && s.template.Timeline != nil && len(s.template.Timeline.S) > 0 {
		timescale := s.template.Timescale

		if timescale == 0 {
			timescale = 1
		}

		return &segmentTemplate{Timescale: timescale, Timeline: s.template.Timeline}
	}

	if s != nil && s.template != nil && s.template.Duration > 0 {
		return &segmentTemplate{Timescale: s.template.Timescale, Duration: s.template.Duration}
	}

	return &segmentTemplate{Timescale: fallbackScale, Duration: SegmentDuration * fallbackScale}
}

var isoDuration = regexp.MustCompile(`^PT(?:([\d.]+)H)?(?:([\d.]+)M)?(?:([\d.]+)S)?$`)

func isoSeconds(d string) float64 {
	m := isoDuration.FindStringSubmatch(d)

	if m == nil {
		return 0
	}

	var total float64

	for i, unit := range []float64{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}

		v, _ := strconv.ParseFloat(m[i+1], 64)
		total += v * unit
	}

	return total
}
