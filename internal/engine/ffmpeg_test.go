package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder/internal/media"
)

const fakeFFmpeg = `#!/bin/sh
if [ "$1" = "-version" ]; then echo "ffmpeg version fake"; exit 0; fi
for a in "$@"; do last="$a"; done
case "$last" in
fail*) echo "Invalid data found when processing input" >&2; exit 1;;
esac
printf 'frame=   10 fps=0.0 q=0.0 size=       0kB time=00:00:02.50 bitrate=   0.0kbits/s speed=5x\r' >&2
printf 'frame=   20 fps=0.0 q=0.0 size=       0kB time=00:00:05.00 bitrate=   0.0kbits/s speed=5x\r' >&2
printf 'frame=   15 fps=0.0 q=0.0 size=       0kB time=00:00:04.00 bitrate=   0.0kbits/s speed=5x\n' >&2
echo encoded > "$last"
`

const fakeFFprobe = `#!/bin/sh
if [ "$1" = "-version" ]; then echo "ffprobe version fake"; exit 0; fi
echo '{"format":{"duration":"10.000000"}}'
`

func writeScript(t *testing.T, dir, name, body string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))

	return path
}

func newFakeEngine(t *testing.T) *FFmpeg {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts unavailable")
	}

	bin := t.TempDir()

	f := NewFFmpeg(filepath.Join(t.TempDir(), "work"))
	f.FFmpegPath = writeScript(t, bin, "ffmpeg", fakeFFmpeg)
	f.FFprobePath = writeScript(t, bin, "ffprobe", fakeFFprobe)

	require.NoError(t, f.Initialize(context.Background()))

	return f
}

func TestInitializeUnavailable(t *testing.T) {
	f := NewFFmpeg(t.TempDir())
	f.FFmpegPath = "/nonexistent/ffmpeg"

	err := f.Initialize(context.Background())
	assert.True(t, errors.Is(err, ErrEngineUnavailable))

	_, err = f.Open("run")
	assert.True(t, errors.Is(err, ErrEngineUnavailable))
}

func TestInitializeIdempotent(t *testing.T) {
	f := newFakeEngine(t)

	assert.NoError(t, f.Initialize(context.Background()))
	assert.NoError(t, f.Initialize(context.Background()))
}

func TestOpenRejectsInvalidRunID(t *testing.T) {
	f := newFakeEngine(t)

	for _, id := range []string{"", "..", "a/b"} {
		_, err := f.Open(id)
		assert.Error(t, err, id)
	}
}

func TestOpenResetsWorkspace(t *testing.T) {
	f := newFakeEngine(t)

	ws, err := f.Open("run-1")
	require.NoError(t, err)

	_, err = ws.Ingest(context.Background(), media.FromBytes("in.mp4", []byte("data")))
	require.NoError(t, err)

	ws, err = f.Open("run-1")
	require.NoError(t, err)

	_, err = ws.ReadOutput(InputName)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIngest(t *testing.T) {
	f := newFakeEngine(t)

	ws, err := f.Open("run")
	require.NoError(t, err)
	defer ws.Close()

	name, err := ws.Ingest(context.Background(), media.FromBytes("in.mp4", []byte("movie")))
	require.NoError(t, err)
	assert.Equal(t, InputName, name)

	data, err := ws.ReadOutput(name)
	require.NoError(t, err)
	assert.Equal(t, "movie", string(data))
}

func TestIngestErrors(t *testing.T) {
	f := newFakeEngine(t)

	ws, err := f.Open("run")
	require.NoError(t, err)
	defer ws.Close()

	var ingestErr *IngestError

	_, err = ws.Ingest(context.Background(), media.FromBytes("empty.mp4", nil))
	require.True(t, errors.As(err, &ingestErr))
	assert.Equal(t, "empty.mp4", ingestErr.Source)

	_, err = ws.Ingest(context.Background(), media.FromFile("/nonexistent/clip.mp4"))
	assert.True(t, errors.As(err, &ingestErr))
}

func TestReadOutputConfined(t *testing.T) {
	f := newFakeEngine(t)

	ws, err := f.Open("run")
	require.NoError(t, err)
	defer ws.Close()

	for _, name := range []string{"", "../other", "/etc/passwd", "."} {
		_, err = ws.ReadOutput(name)
		assert.True(t, errors.Is(err, ErrNotFound), name)
	}

	_, err = ws.ListOutputs("../*")
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	f := newFakeEngine(t)

	ws, err := f.Open("run")
	require.NoError(t, err)
	defer ws.Close()

	_, err = ws.Ingest(context.Background(), media.FromBytes("in.mp4", []byte("movie")))
	require.NoError(t, err)

	var fractions []float64

	err = ws.Run(context.Background(), []string{"-i", InputName, "output_1.m3u8"}, func(f float64) {
		fractions = append(fractions, f)
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{0.25, 0.5, 1}, fractions)

	data, err := ws.ReadOutput("output_1.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "encoded\n", string(data))
}

func TestRunEncodeError(t *testing.T) {
	f := newFakeEngine(t)

	ws, err := f.Open("run")
	require.NoError(t, err)
	defer ws.Close()

	err = ws.Run(context.Background(), []string{"-i", InputName, "fail.mp4"}, nil)

	var encodeErr *EncodeError
	require.True(t, errors.As(err, &encodeErr))
	assert.Contains(t, encodeErr.ExitReason, "Invalid data found")
}

func TestRunCancelled(t *testing.T) {
	f := newFakeEngine(t)

	ws, err := f.Open("run")
	require.NoError(t, err)
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = ws.Run(ctx, []string{"-i", InputName, "out.mp4"}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestListOutputs(t *testing.T) {
	f := newFakeEngine(t)

	ws, err := f.Open("run")
	require.NoError(t, err)

	for _, name := range []string{"chunk-2-0-00002.m4s", "chunk-2-0-00001.m4s", "chunk-1-0-00001.m4s"} {
		require.NoError(t, ws.Run(context.Background(), []string{name}, nil))
	}

	names, err := ws.ListOutputs("chunk-2-*.m4s")
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-2-0-00001.m4s", "chunk-2-0-00002.m4s"}, names)

	require.NoError(t, ws.Close())

	_, err = os.Stat(filepath.Join(f.WorkDir, "run"))
	assert.True(t, os.IsNotExist(err))
}
