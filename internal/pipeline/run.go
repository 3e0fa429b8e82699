package pipeline

import (
	"path"

	"github.com/google/uuid"

	"ladder/internal/manifest"
	"ladder/internal/media"
	"ladder/internal/variant"
)

type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

type State string

const (
	Idle        State = "idle"
	Normalizing State = "normalizing"
	Encoding    State = "encoding"
	Assembling  State = "assembling"
	Publishing  State = "publishing"
	Done        State = "done"
	Aborted     State = "failed"
)

// EncodedVariant is one rung after encoding. ManifestURL is only set once the rung is published.
type EncodedVariant struct {
	variant.Spec

	ManifestName string
	Manifest     []byte
	Segments     []manifest.Segment
	ManifestURL  string
}

func (v EncodedVariant) SegmentCount() int {
	return len(v.Segments)
}

// Run is one source file going through the pipeline. Only the orchestrator mutates a run,
// and never again once its status is terminal.
type Run struct {
	ID       string
	Prefix   string
	Source   media.Source
	Format   variant.Format
	Plan     variant.Plan
	Reporter Reporter

	Status    Status
	Progress  int
	Variants  []EncodedVariant
	Output    Output
	SourceURL string
	Err       error
}

func NewRun(source media.Source, format variant.Format, plan variant.Plan) *Run {
	if plan == nil {
		plan = variant.PlanFor(format)
	}

	return &Run{
		ID:     uuid.New().String(),
		Source: source,
		Format: format,
		Plan:   plan,
		Status: Queued,
	}
}

// StoragePrefix is the bucket directory holding every artifact of the run.
func (r *Run) StoragePrefix() string {
	return path.Join(r.Prefix, r.ID)
}

func (r *Run) key(elem ...string) string {
	return path.Join(append([]string{r.StoragePrefix()}, elem...)...)
}

func (r *Run) reporter() Reporter {
	if r.Reporter == nil {
		return NopReporter{}
	}

	return r.Reporter
}

// Output is either *HLSOutput or *DASHOutput.
type Output interface {
	Format() variant.Format
	URL() string
	Renditions() []EncodedVariant
}

type HLSOutput struct {
	MasterManifest []byte
	MasterURL      string
	Variants       []EncodedVariant
}

func (o *HLSOutput) Format() variant.Format       { return variant.HLS }
func (o *HLSOutput) URL() string                  { return o.MasterURL }
func (o *HLSOutput) Renditions() []EncodedVariant { return o.Variants }

type DASHOutput struct {
	Manifest    []byte
	ManifestURL string
	Segments    []manifest.Segment
	Variants    []EncodedVariant
}

func (o *DASHOutput) Format() variant.Format       { return variant.DASH }
func (o *DASHOutput) URL() string                  { return o.ManifestURL }
func (o *DASHOutput) Renditions() []EncodedVariant { return o.Variants }
