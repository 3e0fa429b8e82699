package watcher

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"ladder/internal/command/root"
	"ladder/internal/job"
	"ladder/internal/queue"
	"ladder/internal/signal"
	"ladder/internal/storage"
	"ladder/internal/variant"
)

var logger = log.WithFields(log.Fields{"app": "watcher"})

var mediaExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().String("watch-dir", "./drop", "Directory watched for new media files")
	cmd.Flags().String("watch-user", "watcher", "Owner of the jobs created from the drop directory")
	cmd.Flags().String("watch-format", "HLS", "Streaming format of the created jobs")
	cmd.Flags().StringSlice("watch-qualities", nil, "Quality rungs of the created jobs, all rungs when empty")
	cmd.Flags().Duration("settle", 2*time.Second, "Quiet period before a dropped file is submitted")
	cmd.Flags().Bool("remove-source", false, "Delete dropped files once their job is finished")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		logger.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "watcher",
	Short: "Submit files dropped in a directory",
	Long:  `Watches a drop directory, uploads new media files and queues a transcode request for each of them`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("starting watcher")

		format, err := variant.ParseFormat(viper.GetString("watch-format"))

		if err != nil {
			return err
		}

		qualities := viper.GetStringSlice("watch-qualities")

		if _, err = variant.PlanFor(format).Select(qualities); err != nil {
			return err
		}

		cmpt := root.GetComponent(true, true, true, false)
		defer cmpt.Close()

		w := newWatcher(cmpt.Store, cmpt.Channel, cmpt.Bucket)
		w.dir = viper.GetString("watch-dir")
		w.user = viper.GetString("watch-user")
		w.format = format
		w.qualities = qualities
		w.settle = viper.GetDuration("settle")
		w.removeSource = viper.GetBool("remove-source")

		return w.Run(signal.WatchInterrupt(context.Background(), 10*time.Second))
	},
}

type watcher struct {
	store   job.Store
	channel queue.Channel
	bucket  storage.Bucket

	dir          string
	user         string
	format       variant.Format
	qualities    []string
	settle       time.Duration
	removeSource bool
	pollInterval time.Duration

	mu        sync.Mutex
	pending   map[string]time.Time
	submitted map[string]string
}

func newWatcher(store job.Store, channel queue.Channel, bucket storage.Bucket) *watcher {
	return &watcher{
		store:        store,
		channel:      channel,
		bucket:       bucket,
		format:       variant.HLS,
		settle:       2 * time.Second,
		pollInterval: 5 * time.Second,
		pending:      map[string]time.Time{},
		submitted:    map[string]string{},
	}
}

func (w *watcher) Run(ctx context.Context) error {
	for _, queueName := range []string{queue.RequestQueue, queue.ResponseQueue} {
		logger.Debugf("create queue '%s'", queueName)

		if err := w.channel.CreateQueue(queueName); err != nil {
			return errors.Wrapf(err, "unable to declare '%s'", queueName)
		}
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return errors.Wrapf(err, "unable to create '%s'", w.dir)
	}

	fsw, err := fsnotify.NewWatcher()

	if err != nil {
		return errors.Wrap(err, "unable to create file watcher")
	}

	defer fsw.Close()

	if err = fsw.Add(w.dir); err != nil {
		return errors.Wrapf(err, "unable to watch '%s'", w.dir)
	}

	logger.WithField("dir", w.dir).Info("watcher started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.watch(gctx, fsw)
	})

	g.Go(func() error {
		w.consumeResponses(gctx)
		return nil
	})

	err = g.Wait()

	logger.Info("watcher ended")

	return err
}

func (w *watcher) watch(ctx context.Context, fsw *fsnotify.Watcher) error {
	interval := w.settle / 2

	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.touch(event.Name, time.Now())
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			logger.WithError(err).Warn("file watcher error")
		case now := <-ticker.C:
			for _, file := range w.settled(now) {
				if err := w.submit(ctx, file); err != nil {
					logger.WithError(err).WithField("file", file).Error("unable to submit dropped file")
				}
			}
		}
	}
}

// touch records activity on a media file and postpones its submission.
func (w *watcher) touch(file string, at time.Time) {
	if !mediaExtensions[strings.ToLower(filepath.Ext(file))] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[file] = at
}

// settled returns the files that saw no activity for the settle period and forgets them.
func (w *watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var files []string

	for file, last := range w.pending {
		if now.Sub(last) >= w.settle {
			files = append(files, file)
			delete(w.pending, file)
		}
	}

	return files
}

func (w *watcher) submit(ctx context.Context, file string) error {
	info, err := os.Stat(file)

	if err != nil {
		return errors.Wrapf(err, "unable to read '%s'", file)
	}

	if info.IsDir() || info.Size() == 0 {
		return nil
	}

	name := filepath.Base(file)
	j := job.New(w.user, name, w.format, w.qualities)
	key := uploadKey(j)

	input, err := os.Open(file)

	if err != nil {
		return errors.Wrapf(err, "unable to open '%s'", file)
	}

	defer input.Close()

	if err = w.bucket.Write(ctx, key, input, storage.PrivateACL); err != nil {
		return errors.Wrapf(err, "unable to upload '%s'", file)
	}

	j.SourceURL = w.bucket.URL(key)

	if err = w.store.Create(ctx, j); err != nil {
		return errors.Wrap(err, "unable to create job")
	}

	if err = w.channel.Publish(queue.RequestQueue, queue.TranscodeRequest{
		JobID:     j.ID,
		UserID:    j.UserID,
		Source:    key,
		FileName:  name,
		Format:    string(w.format),
		Qualities: w.qualities,
	}); err != nil {
		return errors.Wrapf(err, "unable to publish in %s", queue.RequestQueue)
	}

	w.mu.Lock()
	w.submitted[j.ID] = file
	w.mu.Unlock()

	logger.WithFields(log.Fields{
		"job_id": j.ID,
		"file":   name,
		"format": w.format,
	}).Info("send transcode request")

	return nil
}

func (w *watcher) consumeResponses(ctx context.Context) {
	logger.Info("start watching transcode responses")

	for ctx.Err() == nil {
		var res queue.TranscodeResponse
		ok, delivery, err := w.channel.Consume(queue.ResponseQueue, &res)

		if err != nil {
			logger.WithError(err).Errorf("unable to consume %s", queue.ResponseQueue)
			w.sleep(ctx)
			continue
		}

		if !ok {
			w.sleep(ctx)
			continue
		}

		w.handleResponse(ctx, res)

		if err = delivery.Ack(); err != nil {
			logger.WithError(err).Error("unable to ack transcode response")
		}
	}
}

// handleResponse removes the uploaded copy of a finished job and, when asked, the dropped file.
func (w *watcher) handleResponse(ctx context.Context, res queue.TranscodeResponse) {
	entry := logger.WithFields(log.Fields{"job_id": res.JobID, "status": res.Status})

	if res.Error != "" {
		entry = entry.WithField("error", res.Error)
	}

	entry.Info("receive transcode response")

	j, err := w.store.Get(ctx, res.JobID)

	if err != nil {
		entry.WithError(err).Debug("job unknown to this watcher")
		return
	}

	if err = w.bucket.Delete(ctx, path.Dir(uploadKey(j))+"/"); err != nil {
		entry.WithError(err).Warn("unable to delete uploaded source")
	}

	w.mu.Lock()
	file, ok := w.submitted[res.JobID]
	delete(w.submitted, res.JobID)
	w.mu.Unlock()

	if ok && w.removeSource && res.Status == string(job.Completed) {
		if err = os.Remove(file); err != nil {
			entry.WithError(err).Warn("unable to remove dropped file")
		}
	}
}

func (w *watcher) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func uploadKey(j *job.Job) string {
	return job.UploadPrefix(j.UserID) + path.Join(j.ID, j.FileName)
}
