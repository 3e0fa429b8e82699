package manifest

import (
	"bytes"
	"fmt"

	"ladder/internal/variant"
)

type Rendition struct {
	Spec variant.Spec
	URI  string
}

// BuildHLSMaster lists every rendition in the given order. BANDWIDTH is the configured video
// bitrate of the rung.
func BuildHLSMaster(renditions []Rendition) []byte {
	var buf bytes.Buffer

	buf.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n\n")

	for _, r := range renditions {
		uri := r.URI

		if uri == "" {
			uri = HLSRenditionURI(r.Spec.Name)
		}

		fmt.Fprintf(&buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n%s\n\n", r.Spec.VideoBitrate, r.Spec.Resolution(), uri)
	}

	return buf.Bytes()
}
