package pipeline

import (
	"strconv"

	"ladder/internal/executor"
	"ladder/internal/manifest"
	"ladder/internal/variant"
)

const normalizedName = "normalized.mp4"

func normalizeCommand(input string) []string {
	cmd := &executor.Cmd{}
	cmd.Add("-i", input)
	cmd.Add("-c:v", "libx264", "-preset", "fast", "-crf", "23")
	cmd.Add("-c:a", "aac", "-b:a", "128k")
	cmd.Add("-movflags", "+faststart")
	cmd.Add(normalizedName)

	return cmd.Command()
}

func encodeCommand(format variant.Format, spec variant.Spec) []string {
	cmd := &executor.Cmd{}
	cmd.Add("-i", normalizedName)

	if format == variant.DASH {
		cmd.Add("-map", "0:v:0", "-map", "0:a:0?")
	}

	cmd.Add("-vf", "scale="+spec.Scale())
	cmd.Add("-c:v", "libx264", "-preset", "veryfast")
	cmd.Add("-b:v", strconv.Itoa(spec.VideoBitrate))
	cmd.Add("-maxrate", strconv.Itoa(spec.VideoBitrate))
	cmd.Add("-bufsize", strconv.Itoa(spec.BufSize()))
	cmd.Add("-c:a", "aac", "-b:a", strconv.Itoa(spec.AudioBitrate))

	segment := strconv.Itoa(manifest.SegmentDuration)

	switch format {
	case variant.DASH:
		cmd.Add("-seg_duration", segment)
		cmd.Add("-use_timeline", "1", "-use_template", "1")
		cmd.Add("-init_seg_name", manifest.DASHInitPattern(spec.Name))
		cmd.Add("-media_seg_name", manifest.DASHMediaPattern(spec.Name))
		cmd.Add("-adaptation_sets", "id=0,streams=v id=1,streams=a")
		cmd.Add("-f", "dash", manifest.DASHRungManifestName(spec.Name))
	default:
		cmd.Add("-hls_time", segment)
		cmd.Add("-hls_playlist_type", "vod")
		cmd.Add("-hls_segment_filename", manifest.HLSSegmentPattern(spec.Name))
		cmd.Add(manifest.HLSPlaylistName(spec.Name))
	}

	return cmd.Command()
}
