package pipeline

import (
	"context"

	log "github.com/sirupsen/logrus"
)

type Policy int

const (
	// StopOnError leaves every run after the first failure queued.
	StopOnError Policy = iota
	ContinueOnError
)

type Result struct {
	Run     *Run
	Output  Output
	Err     error
	Skipped bool
}

// Batch processes runs one after the other on a single orchestrator.
type Batch struct {
	Orchestrator *Orchestrator
	Policy       Policy
	// OnEvent, when set, observes the events of every run in order.
	OnEvent func(Event)
}

func (b *Batch) Run(ctx context.Context, runs []*Run) []Result {
	results := make([]Result, len(runs))
	stopped := false

	for i, run := range runs {
		results[i].Run = run

		if stopped || ctx.Err() != nil {
			results[i].Skipped = true
			continue
		}

		task := b.Orchestrator.Start(ctx, run)

		if b.OnEvent != nil {
			for event := range task.Events() {
				b.OnEvent(event)
			}
		}

		results[i].Output, results[i].Err = task.Wait()

		if results[i].Err != nil && b.Policy == StopOnError {
			log.WithFields(log.Fields{
				"run":       run.ID,
				"remaining": len(runs) - i - 1,
			}).Warn("batch stopped on failed run")

			stopped = true
		}
	}

	return results
}
