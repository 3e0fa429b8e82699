package engine

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ladder/internal/executor"
	"ladder/internal/media"
)

const InputName = "input"

type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string

	exec *executor.Executor

	initMu      sync.Mutex
	initialized bool

	// serializes commands across all workspaces
	runMu sync.Mutex
}

func NewFFmpeg(workDir string) *FFmpeg {
	return &FFmpeg{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		WorkDir:     workDir,
		exec:        executor.NewExecutor(nil),
	}
}

// Initialize verifies both binaries answer. It is idempotent and safe to call concurrently.
func (f *FFmpeg) Initialize(ctx context.Context) error {
	f.initMu.Lock()
	defer f.initMu.Unlock()

	if f.initialized {
		return nil
	}

	for _, binary := range []string{f.FFmpegPath, f.FFprobePath} {
		path, err := exec.LookPath(binary)

		if err != nil {
			return errors.Wrapf(ErrEngineUnavailable, "%s: %v", binary, err)
		}

		if _, err = f.exec.Run(ctx, (&executor.Cmd{Binary: path}).Add("-version")); err != nil {
			return errors.Wrapf(ErrEngineUnavailable, "%s: %v", binary, err)
		}
	}

	if err := os.MkdirAll(f.WorkDir, os.ModePerm); err != nil {
		return errors.Wrapf(ErrEngineUnavailable, "unable to create work dir: %v", err)
	}

	log.WithField("work_dir", f.WorkDir).Debug("encoding engine ready")

	f.initialized = true

	return nil
}

func (f *FFmpeg) Open(runID string) (Workspace, error) {
	f.initMu.Lock()
	ready := f.initialized
	f.initMu.Unlock()

	if !ready {
		return nil, errors.Wrap(ErrEngineUnavailable, "engine not initialized")
	}

	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return nil, errors.Errorf("invalid run id '%s'", runID)
	}

	dir := filepath.Join(f.WorkDir, runID)

	if err := os.RemoveAll(dir); err != nil {
		return nil, errors.Wrap(err, "unable to reset workspace")
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "unable to create workspace")
	}

	return &workspace{engine: f, dir: dir}, nil
}

type workspace struct {
	engine *FFmpeg
	dir    string
}

func (w *workspace) Ingest(ctx context.Context, source media.Source) (string, error) {
	reader, err := source.Open(ctx)

	if err != nil {
		return "", &IngestError{Source: source.Name, Err: err}
	}

	defer reader.Close()

	file, err := os.Create(filepath.Join(w.dir, InputName))

	if err != nil {
		return "", &IngestError{Source: source.Name, Err: err}
	}

	n, err := io.Copy(file, reader)

	if cerr := file.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return "", &IngestError{Source: source.Name, Err: err}
	}

	if n == 0 {
		return "", &IngestError{Source: source.Name, Err: errors.New("empty source")}
	}

	return InputName, nil
}

// Run executes ffmpeg with argv inside the workspace. Progress is reported monotonically and
// only when it increases; a successful command always ends at 1.
func (w *workspace) Run(ctx context.Context, argv []string, onProgress ProgressFunc) error {
	w.engine.runMu.Lock()
	defer w.engine.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	logger := log.WithFields(log.Fields{"workspace": filepath.Base(w.dir)})

	var duration float64

	if input := inputOf(argv); input != "" {
		d, err := probeDuration(ctx, w.engine.exec, w.engine.FFprobePath, w.dir, input)

		if err != nil {
			logger.WithError(err).Warn("unable to probe duration")
		} else {
			duration = d
		}
	}

	args := append([]string{"-hide_banner", "-nostdin", "-y"}, argv...)
	proc := newProcess(ctx, w.engine.FFmpegPath, w.dir, args, duration)

	logger.Debugf("ffmpeg %s", strings.Join(args, " "))

	if err := proc.Start(); err != nil {
		return &EncodeError{ExitReason: err.Error()}
	}

	last := 0.0

	report := func(f float64) {
		if onProgress != nil && f > last {
			last = f
			onProgress(f)
		}
	}

	for progress := range proc.Output() {
		logger.WithFields(log.Fields{
			"time":    progress.CurrentTime,
			"bitrate": progress.CurrentBitrate,
			"speed":   progress.Speed,
		}).Trace("progress")

		report(progress.Fraction)
	}

	if err := proc.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reason := err.Error()

		if tail := proc.Tail(); tail != "" {
			reason += ": " + tail
		}

		return &EncodeError{ExitReason: reason}
	}

	report(1)

	return nil
}

func (w *workspace) resolve(name string) (string, bool) {
	clean := filepath.Clean(name)

	if name == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}

	return filepath.Join(w.dir, clean), true
}

func (w *workspace) ReadOutput(name string) ([]byte, error) {
	path, ok := w.resolve(name)

	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "'%s' is outside the workspace", name)
	}

	data, err := os.ReadFile(path)

	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "'%s'", name)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "unable to read '%s'", name)
	}

	return data, nil
}

// ListOutputs returns the workspace-relative names matching a glob pattern, sorted.
func (w *workspace) ListOutputs(pattern string) ([]string, error) {
	if _, ok := w.resolve(pattern); !ok {
		return nil, errors.Errorf("invalid pattern '%s'", pattern)
	}

	matches, err := filepath.Glob(filepath.Join(w.dir, pattern))

	if err != nil {
		return nil, errors.Wrap(err, "invalid pattern")
	}

	names := make([]string, 0, len(matches))

	for _, match := range matches {
		rel, err := filepath.Rel(w.dir, match)

		if err != nil {
			continue
		}

		names = append(names, filepath.ToSlash(rel))
	}

	sort.Strings(names)

	return names, nil
}

func (w *workspace) Close() error {
	return os.RemoveAll(w.dir)
}

func inputOf(argv []string) string {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == "-i" {
			return argv[i+1]
		}
	}

	return ""
}
