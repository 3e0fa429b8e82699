package worker

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"ladder/internal/command/root"
	"ladder/internal/engine"
	"ladder/internal/job"
	"ladder/internal/media"
	"ladder/internal/metric"
	"ladder/internal/pipeline"
	"ladder/internal/publish"
	"ladder/internal/queue"
	"ladder/internal/signal"
	"ladder/internal/storage"
	"ladder/internal/variant"
)

var (
	logger = log.WithFields(log.Fields{
		"app":     "worker",
		"version": "dev",
	})
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().Int("idle-exit", 0, "Stop after this many empty polls, 0 keeps polling forever")
	cmd.Flags().Duration("poll-interval", 5*time.Second, "Delay between polls of an empty queue")
	cmd.Flags().String("ffmpeg", "", "ffmpeg binary, looked up in PATH when empty")
	cmd.Flags().String("ffprobe", "", "ffprobe binary, looked up in PATH when empty")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		logger.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "worker",
	Short: "Transcode queued jobs",
	Long:  `Consumes transcode.request messages, runs the quality ladder and publishes transcode.response`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("starting worker")

		cmpt := root.GetComponent(true, true, true, true)
		defer cmpt.Close()

		ffmpeg := engine.NewFFmpeg(viper.GetString("work-dir"))

		if path := viper.GetString("ffmpeg"); path != "" {
			ffmpeg.FFmpegPath = path
		}

		if path := viper.GetString("ffprobe"); path != "" {
			ffmpeg.FFprobePath = path
		}

		w := &worker{
			channel:      cmpt.Channel,
			store:        cmpt.Store,
			bucket:       cmpt.Bucket,
			metric:       cmpt.Metric,
			orchestrator: pipeline.NewOrchestrator(ffmpeg, publish.NewPublisher(cmpt.Bucket)),
			pollInterval: viper.GetDuration("poll-interval"),
			idleExit:     viper.GetInt("idle-exit"),
		}

		ctx := signal.WatchInterrupt(context.Background(), 25*time.Second)

		if err := w.Run(ctx); err != nil {
			logger.WithError(err).Fatal("worker failed")
		}
	},
}

type worker struct {
	channel      queue.Channel
	store        job.Store
	bucket       storage.Bucket
	metric       metric.Client
	orchestrator *pipeline.Orchestrator
	client       *http.Client
	pollInterval time.Duration
	idleExit     int
}

func (w *worker) Run(ctx context.Context) error {
	if err := w.channel.CreateQueue(queue.RequestQueue); err != nil {
		return errors.Wrapf(err, "unable to declare '%s'", queue.RequestQueue)
	}

	if err := w.channel.CreateQueue(queue.ResponseQueue); err != nil {
		return errors.Wrapf(err, "unable to declare '%s'", queue.ResponseQueue)
	}

	tickerCtx, stopTicker := context.WithCancel(context.Background())

	g, gctx := errgroup.WithContext(tickerCtx)

	g.Go(func() error {
		w.metric.Ticker(gctx, time.Second)
		return nil
	})

	g.Go(func() error {
		defer stopTicker()
		w.loop(ctx)
		return nil
	})

	return g.Wait()
}

func (w *worker) loop(ctx context.Context) {
	logger.Info("worker started")

	hostname, _ := os.Hostname()

	counterMetric := &metric.CounterMetric{
		RowMetric: metric.RowMetric{Name: "ladder_worker_tasks_total", Tags: metric.Tags{"hostname": hostname}},
	}

	gaugeMetric := &metric.GaugeMetric{
		RowMetric: metric.RowMetric{Name: "ladder_worker_tasks_count", Tags: metric.Tags{"hostname": hostname}},
	}

	errorsMetric := &metric.CounterMetric{
		RowMetric: metric.RowMetric{Name: "ladder_worker_tasks_errors", Tags: metric.Tags{"hostname": hostname}},
	}

	w.metric.Add(counterMetric)
	w.metric.Add(gaugeMetric)
	w.metric.Add(errorsMetric)

	workerStarted := time.Now()
	noMessageCounter := 0

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		if w.idleExit > 0 && noMessageCounter >= w.idleExit {
			logger.Infof("no messages after %d retry, shutdown", noMessageCounter)
			break
		}

		var req queue.TranscodeRequest
		ok, delivery, err := w.channel.Consume(queue.RequestQueue, &req)

		if err != nil {
			logger.WithError(err).Errorf("unable to consume %s", queue.RequestQueue)
			w.sleep(ctx)
			continue
		}

		if !ok {
			noMessageCounter++
			gaugeMetric.Set(0)
			w.sleep(ctx)
			continue
		}

		noMessageCounter = 0

		counterMetric.Inc()
		gaugeMetric.Set(1)

		taskStarted := time.Now()
		status, err := w.handle(ctx, req)

		if ctx.Err() != nil {
			// interrupted mid-run, hand the job to another worker
			if err := delivery.Nack(true); err != nil {
				logger.WithError(err).Error("unable to requeue job")
			}

			logger.WithField("job_id", req.JobID).Info("requeue interrupted job")
			break
		}

		if err != nil {
			errorsMetric.Inc()
			logger.WithError(err).WithField("job_id", req.JobID).Error("error while handling transcode request")
		}

		if err = delivery.Ack(); err != nil {
			logger.WithError(err).Error("unable to ack transcode request")
		}

		gaugeMetric.Set(0)

		durationMetric := &metric.DurationMetric{
			RowMetric: metric.RowMetric{Name: "ladder_worker_tasks_duration", Tags: metric.Tags{"hostname": hostname, "status": string(status)}},
			Duration:  time.Since(taskStarted),
		}
		w.metric.Send(durationMetric.Metric())
	}

	logger.Info("worker stopped")

	durationMetric := &metric.DurationMetric{
		RowMetric: metric.RowMetric{Name: "ladder_worker_duration", Tags: metric.Tags{"hostname": hostname}},
		Duration:  time.Since(workerStarted),
	}
	w.metric.Send(durationMetric.Metric())
}

func (w *worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

// handle runs one request to completion and answers on the response queue. A malformed request
// is answered as failed without touching the engine.
func (w *worker) handle(ctx context.Context, req queue.TranscodeRequest) (pipeline.Status, error) {
	logger.WithFields(log.Fields{
		"job_id": req.JobID,
		"user":   req.UserID,
		"format": req.Format,
	}).Info("receive transcode request")

	run, err := w.prepare(ctx, req)

	if err != nil {
		w.fail(req, err)
		return pipeline.Failed, err
	}

	_, err = w.orchestrator.Execute(ctx, run)

	if ctx.Err() != nil {
		return run.Status, ctx.Err()
	}

	response := queue.TranscodeResponse{JobID: req.JobID, Status: string(run.Status)}

	if run.Output != nil {
		response.ManifestURL = run.Output.URL()
	}

	if err != nil {
		response.Error = err.Error()
	}

	if perr := w.channel.Publish(queue.ResponseQueue, response); perr != nil {
		logger.WithError(perr).WithField("job_id", req.JobID).Errorf("unable to publish in %s", queue.ResponseQueue)
	}

	logger.WithFields(log.Fields{
		"job_id": req.JobID,
		"status": run.Status,
		"url":    response.ManifestURL,
	}).Info("send transcode response")

	return run.Status, err
}

func (w *worker) prepare(ctx context.Context, req queue.TranscodeRequest) (*pipeline.Run, error) {
	if req.JobID == "" || req.UserID == "" || req.Source == "" {
		return nil, errors.New("request is missing job id, user id or source")
	}

	if err := job.CheckSource(req.UserID, req.Source); err != nil {
		return nil, err
	}

	format, err := variant.ParseFormat(req.Format)

	if err != nil {
		return nil, err
	}

	plan, err := variant.PlanFor(format).Select(req.Qualities)

	if err != nil {
		return nil, err
	}

	if err = w.ensureJob(ctx, req, format); err != nil {
		return nil, err
	}

	run := pipeline.NewRun(w.source(req), format, plan)
	run.ID = req.JobID
	run.Prefix = req.UserID
	run.Reporter = job.NewReporter(w.store, req.JobID)

	return run, nil
}

// ensureJob creates the job record for requests that were queued without going through the API.
func (w *worker) ensureJob(ctx context.Context, req queue.TranscodeRequest, format variant.Format) error {
	_, err := w.store.Get(ctx, req.JobID)

	if err == nil {
		return nil
	}

	if !errors.Is(err, job.ErrNotFound) {
		return errors.Wrap(err, "unable to read job")
	}

	j := job.New(req.UserID, req.FileName, format, req.Qualities)
	j.ID = req.JobID
	j.SourceURL = req.Source

	return w.store.Create(ctx, j)
}

func (w *worker) source(req queue.TranscodeRequest) media.Source {
	if strings.HasPrefix(req.Source, "http://") || strings.HasPrefix(req.Source, "https://") {
		return media.FromURL(w.client, req.Source)
	}

	return media.FromBucket(w.bucket, req.Source)
}

func (w *worker) fail(req queue.TranscodeRequest, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if req.JobID != "" {
		_, err := w.store.Update(ctx, req.JobID, func(j *job.Job) error {
			now := time.Now().UTC()
			j.Status = job.Failed
			j.Error = cause.Error()
			j.UpdatedAt = now
			j.CompletedAt = &now
			return nil
		})

		if err != nil && !errors.Is(err, job.ErrNotFound) {
			logger.WithError(err).WithField("job_id", req.JobID).Error("unable to mark job failed")
		}
	}

	err := w.channel.Publish(queue.ResponseQueue, queue.TranscodeResponse{
		JobID:  req.JobID,
		Status: string(pipeline.Failed),
		Error:  cause.Error(),
	})

	if err != nil {
		logger.WithError(err).Errorf("unable to publish in %s", queue.ResponseQueue)
	}
}
