package job

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"ladder/internal/pipeline"
	"ladder/internal/variant"
)

const reportTimeout = 10 * time.Second

var _ pipeline.Reporter = (*Reporter)(nil)

// Reporter mirrors a pipeline run into its job record. Store failures are logged and never
// interrupt the run.
type Reporter struct {
	store  Store
	jobID  string
	logger *log.Entry
}

func NewReporter(store Store, jobID string) *Reporter {
	return &Reporter{
		store:  store,
		jobID:  jobID,
		logger: log.WithFields(log.Fields{"app": "job", "job_id": jobID}),
	}
}

func (r *Reporter) OnProgress(percent int) {
	r.update(func(job *Job) error {
		job.Status = Processing
		job.Progress = percent
		return nil
	})
}

func (r *Reporter) OnVariantComplete(spec variant.Spec, manifestURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	err := r.store.AddOutput(ctx, Output{
		JobID:          r.jobID,
		QualityVariant: spec.Name,
		ManifestURL:    manifestURL,
		Bitrate:        spec.VideoBitrate,
		Resolution:     spec.Resolution(),
	})

	if err != nil {
		r.logger.WithError(err).WithField("variant", spec.Name).Error("unable to record output")
	}
}

func (r *Reporter) OnTerminal(run *pipeline.Run) {
	r.update(func(job *Job) error {
		now := time.Now().UTC()

		job.Status = Status(run.Status)
		job.Progress = run.Progress
		job.SourceURL = run.SourceURL
		job.CompletedAt = &now

		if run.Output != nil {
			job.ManifestURL = run.Output.URL()
		}

		if run.Err != nil {
			job.Error = run.Err.Error()
		}

		return nil
	})

	if run.Status != pipeline.Failed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if err := r.store.DeleteOutputs(ctx, r.jobID); err != nil {
		r.logger.WithError(err).Error("unable to remove outputs of failed job")
	}
}

func (r *Reporter) update(fn func(job *Job) error) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	_, err := r.store.Update(ctx, r.jobID, func(job *Job) error {
		if err := fn(job); err != nil {
			return err
		}

		job.UpdatedAt = time.Now().UTC()

		return nil
	})

	if err != nil {
		r.logger.WithError(err).Error("unable to update job")
	}
}
