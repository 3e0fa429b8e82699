// Package pipeline turns one source file into a published adaptive-bitrate package.
//
// A run moves through Normalizing, Encoding (one step per rung, in plan order), Assembling and
// Publishing before it is Done; any error moves it to Failed. Every rung is encoded before the
// first artifact is uploaded, so an encode failure never leaves anything published, and a
// failed upload removes whatever the run already stored.
package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ladder/internal/engine"
	"ladder/internal/manifest"
	"ladder/internal/variant"
)

const eventBuffer = 16

// Publisher stores artifacts and returns their public URL.
type Publisher interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
	Remove(prefix string) error
}

type Orchestrator struct {
	engine    engine.Engine
	publisher Publisher
}

func NewOrchestrator(eng engine.Engine, publisher Publisher) *Orchestrator {
	return &Orchestrator{engine: eng, publisher: publisher}
}

type EventKind int

const (
	EventProgress EventKind = iota
	EventVariantComplete
	EventTerminal
)

type Event struct {
	RunID       string
	Kind        EventKind
	State       State
	Progress    int
	Variant     *variant.Spec
	ManifestURL string
	Status      Status
	Err         error
}

// Task is a started run. Its event stream is finite: it is closed once the run is terminal and
// cannot be restarted.
type Task struct {
	run    *Run
	events chan Event
	cancel context.CancelFunc
	output Output
	err    error
}

func (t *Task) Run() *Run {
	return t.run
}

func (t *Task) Events() <-chan Event {
	return t.events
}

func (t *Task) Cancel() {
	t.cancel()
}

// Wait discards any unread event and returns the outcome of the run.
func (t *Task) Wait() (Output, error) {
	for range t.events {
	}

	return t.output, t.err
}

func (o *Orchestrator) Start(ctx context.Context, run *Run) *Task {
	ctx, cancel := context.WithCancel(ctx)

	task := &Task{
		run:    run,
		events: make(chan Event, eventBuffer),
		cancel: cancel,
	}

	go func() {
		defer close(task.events)
		defer cancel()

		task.output, task.err = o.process(ctx, run, task.events)
	}()

	return task
}

// Execute runs synchronously and returns the run outcome.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) (Output, error) {
	return o.Start(ctx, run).Wait()
}

type execution struct {
	run      *Run
	events   chan<- Event
	state    State
	progress progress
	logger   *log.Entry
}

func (e *execution) send(event Event) {
	event.RunID = e.run.ID
	event.State = e.state
	e.events <- event
}

func (e *execution) enter(state State) {
	e.state = state
	e.logger.WithField("state", state).Debug("state change")
}

func (o *Orchestrator) process(ctx context.Context, run *Run, events chan<- Event) (Output, error) {
	e := &execution{
		run:    run,
		events: events,
		state:  Idle,
		logger: log.WithFields(log.Fields{"app": "pipeline", "run": run.ID, "format": run.Format}),
	}

	e.progress.emit = func(percent int) {
		run.Progress = percent
		run.reporter().OnProgress(percent)
		e.send(Event{Kind: EventProgress, Progress: percent, Status: Processing})
	}

	if run.Status.Terminal() {
		err := errors.Errorf("run %s already %s", run.ID, run.Status)
		e.send(Event{Kind: EventTerminal, Progress: run.Progress, Status: run.Status, Err: err})

		return nil, err
	}

	started := time.Now()

	output, err := o.execute(ctx, e)

	if err != nil {
		e.enter(Aborted)

		run.Status = Failed
		run.Err = err

		e.logger.WithError(err).Error("run failed")
	} else {
		e.enter(Done)
		e.progress.complete()

		run.Status = Completed
		run.Output = output

		e.logger.WithFields(log.Fields{
			"duration": time.Since(started).String(),
			"url":      output.URL(),
		}).Info("run completed")
	}

	run.reporter().OnTerminal(run)
	e.send(Event{Kind: EventTerminal, Progress: run.Progress, Status: run.Status, Err: err})

	return output, err
}

func (o *Orchestrator) execute(ctx context.Context, e *execution) (Output, error) {
	run := e.run

	if len(run.Plan) == 0 {
		return nil, errors.New("empty variant plan")
	}

	run.Status = Processing
	run.Variants = nil

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := o.engine.Initialize(ctx); err != nil {
		return nil, err
	}

	ws, err := o.engine.Open(run.ID)

	if err != nil {
		return nil, err
	}

	defer func() {
		if err := ws.Close(); err != nil {
			e.logger.WithError(err).Warn("unable to remove workspace")
		}
	}()

	e.enter(Normalizing)

	input, err := ws.Ingest(ctx, run.Source)

	if err != nil {
		return nil, err
	}

	err = ws.Run(ctx, normalizeCommand(input), func(f float64) {
		e.progress.set(normalizeProgress(f))
	})

	if err != nil {
		return nil, errors.Wrap(err, "unable to normalize source")
	}

	e.progress.set(normalizeShare)

	variants := make([]EncodedVariant, 0, len(run.Plan))

	for i, spec := range run.Plan {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		e.enter(Encoding)
		e.logger.WithFields(log.Fields{"variant": spec.Name, "rung": i + 1, "rungs": len(run.Plan)}).Info("encoding variant")

		index := i

		err = ws.Run(ctx, encodeCommand(run.Format, spec), func(f float64) {
			e.progress.set(encodeProgress(index, len(run.Plan), f))
		})

		if err != nil {
			return nil, errors.Wrapf(err, "unable to encode %s", spec.Name)
		}

		encoded, err := collect(ws, run.Format, spec)

		if err != nil {
			return nil, err
		}

		variants = append(variants, encoded)
		e.progress.set(encodeProgress(i+1, len(run.Plan), 0))
	}

	e.enter(Assembling)

	output, err := assemble(run.Format, variants)

	if err != nil {
		return nil, err
	}

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	e.enter(Publishing)

	if err = o.publish(ctx, e, ws, output); err != nil {
		if rerr := o.publisher.Remove(run.StoragePrefix() + "/"); rerr != nil {
			e.logger.WithError(rerr).Error("unable to remove partially published run")
		}

		return nil, err
	}

	run.Variants = output.Renditions()

	return output, nil
}

// collect reads back everything the encoder wrote for one rung. HLS segments are the ones its own
// playlist references, so the published playlist never points at an object that was not uploaded.
func collect(ws engine.Workspace, format variant.Format, spec variant.Spec) (EncodedVariant, error) {
	encoded := EncodedVariant{Spec: spec}

	if format == variant.DASH {
		encoded.ManifestName = manifest.DASHRungManifestName(spec.Name)
	} else {
		encoded.ManifestName = manifest.HLSPlaylistName(spec.Name)
	}

	data, err := ws.ReadOutput(encoded.ManifestName)

	if err != nil {
		return encoded, &engine.EncodeError{ExitReason: "missing manifest " + encoded.ManifestName}
	}

	encoded.Manifest = data

	var names []string

	if format == variant.DASH {
		if names, err = ws.ListOutputs(manifest.DASHSegmentGlob(spec.Name)); err != nil {
			return encoded, err
		}
	} else {
		names = manifest.PlaylistEntries(string(data))
	}

	for _, name := range names {
		segment, err := ws.ReadOutput(name)

		if errors.Is(err, engine.ErrNotFound) {
			return encoded, &engine.EncodeError{ExitReason: "missing segment " + name}
		}

		if err != nil {
			return encoded, errors.Wrapf(err, "unable to read segment %s", name)
		}

		encoded.Segments = append(encoded.Segments, manifest.Segment{Name: name, Data: segment})
	}

	if len(encoded.Segments) == 0 {
		return encoded, &engine.EncodeError{ExitReason: "no segment produced for " + spec.Name}
	}

	return encoded, nil
}

func assemble(format variant.Format, variants []EncodedVariant) (Output, error) {
	if format == variant.DASH {
		renditions := make([]manifest.DASHRendition, len(variants))
		var segments []manifest.Segment

		for i, v := range variants {
			renditions[i] = manifest.DASHRendition{Spec: v.Spec, Manifest: v.Manifest}
			segments = append(segments, v.Segments...)
		}

		data, err := manifest.BuildDASH(renditions)

		if err != nil {
			return nil, errors.Wrap(err, "unable to build dash manifest")
		}

		return &DASHOutput{Manifest: data, Segments: segments, Variants: variants}, nil
	}

	renditions := make([]manifest.Rendition, len(variants))

	for i, v := range variants {
		renditions[i] = manifest.Rendition{Spec: v.Spec, URI: manifest.HLSRenditionURI(v.Name)}
	}

	return &HLSOutput{MasterManifest: manifest.BuildHLSMaster(renditions), Variants: variants}, nil
}

// publish uploads the normalized source, then each rung in plan order, then the top-level manifest.
func (o *Orchestrator) publish(ctx context.Context, e *execution, ws engine.Workspace, output Output) error {
	run := e.run

	source, err := ws.ReadOutput(normalizedName)

	if err != nil {
		return errors.Wrap(err, "unable to read normalized source")
	}

	if run.SourceURL, err = o.publisher.Upload(ctx, run.key("source.mp4"), source); err != nil {
		return err
	}

	variants := output.Renditions()

	for i := range variants {
		v := &variants[i]
		dir := ""

		if run.Format == variant.HLS {
			dir = v.Name
		}

		for _, segment := range v.Segments {
			if _, err = o.publisher.Upload(ctx, run.key(dir, segment.Name), segment.Data); err != nil {
				return err
			}
		}

		if v.ManifestURL, err = o.publisher.Upload(ctx, run.key(dir, v.ManifestName), v.Manifest); err != nil {
			return err
		}

		spec := v.Spec

		run.reporter().OnVariantComplete(spec, v.ManifestURL)
		e.send(Event{Kind: EventVariantComplete, Progress: run.Progress, Variant: &spec, ManifestURL: v.ManifestURL, Status: Processing})
	}

	switch out := output.(type) {
	case *HLSOutput:
		out.MasterURL, err = o.publisher.Upload(ctx, run.key(manifest.MasterPlaylistName), out.MasterManifest)
	case *DASHOutput:
		out.ManifestURL, err = o.publisher.Upload(ctx, run.key(manifest.DASHManifestName), out.Manifest)
	}

	return err
}
