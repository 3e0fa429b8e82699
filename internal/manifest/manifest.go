// Package manifest builds HLS master playlists and composed DASH MPDs, names the segments the
// encoder writes and extracts segment references back out of arbitrary manifests.
package manifest

import (
	"fmt"
	"path"
)

const (
	MasterPlaylistName = "master.m3u8"
	DASHManifestName   = "manifest.mpd"

	// SegmentDuration is the target segment length in seconds for both formats.
	SegmentDuration = 4
)

type Segment struct {
	Name string
	Data []byte
}

func HLSPlaylistName(variant string) string {
	return fmt.Sprintf("output_%s.m3u8", variant)
}

func HLSSegmentName(variant string, index int) string {
	return fmt.Sprintf("segment_%s_%03d.ts", variant, index)
}

// HLSSegmentPattern is the ffmpeg -hls_segment_filename template producing HLSSegmentName.
func HLSSegmentPattern(variant string) string {
	return fmt.Sprintf("segment_%s_%%03d.ts", variant)
}

// HLSRenditionURI locates a rendition playlist relative to the master playlist.
func HLSRenditionURI(variant string) string {
	return path.Join(variant, HLSPlaylistName(variant))
}

func DASHRungManifestName(variant string) string {
	return fmt.Sprintf("output_%s.mpd", variant)
}

func DASHInitPattern(variant string) string {
	return fmt.Sprintf("init-%s-$RepresentationID$.m4s", variant)
}

func DASHMediaPattern(variant string) string {
	return fmt.Sprintf("chunk-%s-$RepresentationID$-$Number%%05d$.m4s", variant)
}

// DASHSegmentGlob matches every init and media segment written for variant.
func DASHSegmentGlob(variant string) string {
	return fmt.Sprintf("*-%s-*.m4s", variant)
}
