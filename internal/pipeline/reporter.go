package pipeline

import "ladder/internal/variant"

// Reporter receives the lifecycle of a run as it happens. Calls are made from the goroutine
// processing the run, in order.
type Reporter interface {
	OnProgress(percent int)
	OnVariantComplete(spec variant.Spec, manifestURL string)
	OnTerminal(run *Run)
}

type NopReporter struct{}

func (NopReporter) OnProgress(int)                         {}
func (NopReporter) OnVariantComplete(variant.Spec, string) {}
func (NopReporter) OnTerminal(*Run)                        {}
