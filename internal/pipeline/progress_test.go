package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"ladder/internal/variant"
)

func TestNormalizeProgress(t *testing.T) {
	assert.Equal(t, 0, normalizeProgress(0))
	assert.Equal(t, 25, normalizeProgress(0.5))
	assert.Equal(t, 50, normalizeProgress(1))
	assert.Equal(t, 50, normalizeProgress(3))
	assert.Equal(t, 0, normalizeProgress(-1))
}

func TestEncodeProgress(t *testing.T) {
	assert.Equal(t, 50, encodeProgress(0, 5, 0))
	assert.Equal(t, 55, encodeProgress(0, 5, 0.5))
	assert.Equal(t, 60, encodeProgress(1, 5, 0))
	assert.Equal(t, 100, encodeProgress(4, 5, 1))
	assert.Equal(t, 66, encodeProgress(0, 3, 1))
	assert.Equal(t, 50, encodeProgress(0, 0, 1))
}

func TestProgressTracker(t *testing.T) {
	var emitted []int

	p := progress{emit: func(percent int) { emitted = append(emitted, percent) }}

	p.set(10)
	p.set(10)
	p.set(5)
	p.set(120)
	p.set(99)
	p.complete()
	p.complete()

	assert.Equal(t, []int{10, 99, 100}, emitted)
}

func TestNormalizeCommand(t *testing.T) {
	assert.Equal(t,
		"-i input -c:v libx264 -preset fast -crf 23 -c:a aac -b:a 128k -movflags +faststart normalized.mp4",
		strings.Join(normalizeCommand("input"), " "))
}

func TestEncodeCommand(t *testing.T) {
	spec := variant.PlanFor(variant.HLS)[3]

	assert.Equal(t,
		"-i normalized.mp4 -vf scale=1280:720 -c:v libx264 -preset veryfast -b:v 2500000 -maxrate 2500000 -bufsize 5000000 "+
			"-c:a aac -b:a 128000 -hls_time 4 -hls_playlist_type vod -hls_segment_filename segment_720p_%03d.ts output_720p.m3u8",
		strings.Join(encodeCommand(variant.HLS, spec), " "))

	dash := encodeCommand(variant.DASH, spec)
	assert.Equal(t, "output_720p.mpd", dash[len(dash)-1])
	assert.Contains(t, dash, "id=0,streams=v id=1,streams=a")
	assert.Contains(t, dash, "chunk-720p-$RepresentationID$-$Number%05d$.m4s")
}
