package job

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder/internal/media"
	"ladder/internal/pipeline"
	"ladder/internal/variant"
)

func TestReporterCompleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	job := New("user-1", "clip.mp4", variant.HLS, nil)
	require.NoError(t, store.Create(ctx, job))

	reporter := NewReporter(store, job.ID)

	reporter.OnProgress(30)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, Processing, got.Status)
	assert.Equal(t, 30, got.Progress)

	spec := variant.PlanFor(variant.HLS)[3]
	reporter.OnVariantComplete(spec, "https://cdn.test/720p/output_720p.m3u8")

	run := pipeline.NewRun(media.FromBytes("clip.mp4", nil), variant.HLS, nil)
	run.Status = pipeline.Completed
	run.Progress = 100
	run.SourceURL = "https://cdn.test/source.mp4"
	run.Output = &pipeline.HLSOutput{MasterURL: "https://cdn.test/master.m3u8"}

	reporter.OnTerminal(run)

	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, Completed, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "https://cdn.test/source.mp4", got.SourceURL)
	assert.Equal(t, "https://cdn.test/master.m3u8", got.ManifestURL)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)

	outputs, err := store.Outputs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, Output{
		JobID:          job.ID,
		QualityVariant: "720p",
		ManifestURL:    "https://cdn.test/720p/output_720p.m3u8",
		Bitrate:        2500000,
		Resolution:     "1280x720",
	}, outputs[0])
}

func TestReporterFailedRemovesOutputs(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	job := New("user-1", "clip.mp4", variant.HLS, nil)
	require.NoError(t, store.Create(ctx, job))

	reporter := NewReporter(store, job.ID)
	reporter.OnVariantComplete(variant.PlanFor(variant.HLS)[0], "https://cdn.test/240p.m3u8")

	run := pipeline.NewRun(media.FromBytes("clip.mp4", nil), variant.HLS, nil)
	run.Status = pipeline.Failed
	run.Progress = 60
	run.Err = errors.New("unable to upload 'x'")

	reporter.OnTerminal(run)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, Failed, got.Status)
	assert.Equal(t, "unable to upload 'x'", got.Error)
	assert.Empty(t, got.ManifestURL)

	outputs, err := store.Outputs(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestReporterMissingJob(t *testing.T) {
	reporter := NewReporter(NewMemory(), "missing")

	assert.NotPanics(t, func() {
		reporter.OnProgress(10)
		reporter.OnTerminal(&pipeline.Run{Status: pipeline.Failed, Err: errors.New("x")})
	})
}
