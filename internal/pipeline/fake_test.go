package pipeline

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"ladder/internal/engine"
	"ladder/internal/media"
	"ladder/internal/variant"
)

// fakeEngine writes plausible outputs for every command instead of encoding.
type fakeEngine struct {
	mu       sync.Mutex
	initErr  error
	failOn   string
	segments int
	// missing names a segment listed in the playlist but never written.
	missing  string
	block    bool
	reads    map[string]int
	commands [][]string
	opened   []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{segments: 3, reads: map[string]int{}}
}

func (f *fakeEngine) Initialize(ctx context.Context) error {
	return f.initErr
}

func (f *fakeEngine) Open(runID string) (engine.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = append(f.opened, runID)

	return &fakeWorkspace{engine: f, files: map[string][]byte{}}, nil
}

func (f *fakeEngine) Reads(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.reads[name]
}

func (f *fakeEngine) Commands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]string(nil), f.commands...)
}

type fakeWorkspace struct {
	engine *fakeEngine
	files  map[string][]byte
	closed bool
}

func (w *fakeWorkspace) Ingest(ctx context.Context, source media.Source) (string, error) {
	reader, err := source.Open(ctx)

	if err != nil {
		return "", &engine.IngestError{Source: source.Name, Err: err}
	}

	defer reader.Close()

	w.files[engine.InputName] = []byte(source.Name)

	return engine.InputName, nil
}

func (w *fakeWorkspace) Run(ctx context.Context, argv []string, onProgress engine.ProgressFunc) error {
	w.engine.mu.Lock()
	w.engine.commands = append(w.engine.commands, argv)
	w.engine.mu.Unlock()

	if w.engine.block {
		<-ctx.Done()
		return ctx.Err()
	}

	output := argv[len(argv)-1]

	if w.engine.failOn != "" && strings.Contains(output, "_"+w.engine.failOn+".") {
		return &engine.EncodeError{ExitReason: "exit status 1: Conversion failed!"}
	}

	onProgress(0.5)
	onProgress(1)

	switch {
	case output == normalizedName:
		w.files[output] = []byte("normalized")
	case strings.HasSuffix(output, ".m3u8"):
		name := strings.TrimSuffix(strings.TrimPrefix(output, "output_"), ".m3u8")
		playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n"

		for i := 0; i < w.engine.segments; i++ {
			segment := fmt.Sprintf("segment_%s_%03d.ts", name, i)

			if segment != w.engine.missing {
				w.files[segment] = []byte(segment)
			}

			playlist += "#EXTINF:4.000000,\n" + segment + "\n"
		}

		w.files[output] = []byte(playlist + "#EXT-X-ENDLIST\n")
	case strings.HasSuffix(output, ".mpd"):
		name := strings.TrimSuffix(strings.TrimPrefix(output, "output_"), ".mpd")

		for stream := 0; stream < 2; stream++ {
			w.files[fmt.Sprintf("init-%s-%d.m4s", name, stream)] = []byte("init")

			for i := 1; i <= w.engine.segments; i++ {
				w.files[fmt.Sprintf("chunk-%s-%d-%05d.m4s", name, stream, i)] = []byte("chunk")
			}
		}

		w.files[output] = []byte(fmt.Sprintf(`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT12.0S"><Period>
<AdaptationSet id="0" contentType="video"><Representation id="0" mimeType="video/mp4" bandwidth="1">
<SegmentTemplate timescale="12800" initialization="init-%[1]s-$RepresentationID$.m4s" media="chunk-%[1]s-$RepresentationID$-$Number%%05d$.m4s" startNumber="1">
<SegmentTimeline><S t="0" d="51200" r="2"/></SegmentTimeline></SegmentTemplate></Representation></AdaptationSet>
<AdaptationSet id="1" contentType="audio"><Representation id="1" mimeType="audio/mp4" bandwidth="1">
<SegmentTemplate timescale="48000" initialization="init-%[1]s-$RepresentationID$.m4s" media="chunk-%[1]s-$RepresentationID$-$Number%%05d$.m4s" startNumber="1">
<SegmentTimeline><S t="0" d="192000" r="2"/></SegmentTimeline></SegmentTemplate></Representation></AdaptationSet>
</Period></MPD>`, name))
	}

	return nil
}

func (w *fakeWorkspace) ReadOutput(name string) ([]byte, error) {
	w.engine.mu.Lock()
	w.engine.reads[name]++
	w.engine.mu.Unlock()

	data, ok := w.files[name]

	if !ok {
		return nil, errors.Wrap(engine.ErrNotFound, name)
	}

	return data, nil
}

func (w *fakeWorkspace) ListOutputs(pattern string) ([]string, error) {
	var names []string

	for name := range w.files {
		if ok, _ := path.Match(pattern, name); ok {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names, nil
}

func (w *fakeWorkspace) Close() error {
	w.closed = true
	return nil
}

type memoryPublisher struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads []string
	removed []string
	failKey string
}

func newMemoryPublisher() *memoryPublisher {
	return &memoryPublisher{objects: map[string][]byte{}}
}

func (p *memoryPublisher) Upload(ctx context.Context, key string, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failKey != "" && strings.HasSuffix(key, p.failKey) {
		return "", errors.Errorf("unable to upload '%s'", key)
	}

	p.objects[key] = data
	p.uploads = append(p.uploads, key)

	return "https://cdn.test/" + key, nil
}

func (p *memoryPublisher) Remove(prefix string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removed = append(p.removed, prefix)

	for key := range p.objects {
		if strings.HasPrefix(key, prefix) {
			delete(p.objects, key)
		}
	}

	return nil
}

type recordingReporter struct {
	progress  []int
	variants  []string
	urls      []string
	terminals []Status
}

func (r *recordingReporter) OnProgress(percent int) {
	r.progress = append(r.progress, percent)
}

func (r *recordingReporter) OnVariantComplete(spec variant.Spec, manifestURL string) {
	r.variants = append(r.variants, spec.Name)
	r.urls = append(r.urls, manifestURL)
}

func (r *recordingReporter) OnTerminal(run *Run) {
	r.terminals = append(r.terminals, run.Status)
}
