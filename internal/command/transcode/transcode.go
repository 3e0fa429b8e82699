package transcode

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ladder/internal/command/root"
	"ladder/internal/engine"
	"ladder/internal/media"
	"ladder/internal/pipeline"
	"ladder/internal/publish"
	"ladder/internal/signal"
	"ladder/internal/variant"
)

var logger = log.WithFields(log.Fields{"app": "transcode"})

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().String("format", "HLS", "Streaming format (HLS, DASH)")
	cmd.Flags().StringSlice("qualities", nil, "Quality rungs to produce, all rungs when empty")
	cmd.Flags().Bool("continue-on-error", false, "Keep going after a failed file")
	cmd.Flags().String("prefix", "local", "Storage prefix of the published runs")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		logger.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "transcode FILE...",
	Short: "Transcode local files",
	Long:  `Runs the quality ladder on local files one after the other and publishes the results`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, plan, policy, err := options()

		if err != nil {
			return err
		}

		cmpt := root.GetComponent(false, false, true, false)
		defer cmpt.Close()

		prefix := viper.GetString("prefix")
		runs := make([]*pipeline.Run, 0, len(args))

		for _, file := range args {
			if _, err := os.Stat(file); err != nil {
				return errors.Wrapf(err, "unable to read '%s'", file)
			}

			run := pipeline.NewRun(media.FromFile(file), format, plan)
			run.Prefix = prefix
			runs = append(runs, run)
		}

		batch := &pipeline.Batch{
			Orchestrator: pipeline.NewOrchestrator(
				engine.NewFFmpeg(viper.GetString("work-dir")),
				publish.NewPublisher(cmpt.Bucket),
			),
			Policy:  policy,
			OnEvent: logEvent,
		}

		ctx := signal.WatchInterrupt(context.Background(), 10*time.Second)
		started := time.Now()

		results := batch.Run(ctx, runs)

		return summarize(results, args, time.Since(started))
	},
}

func options() (variant.Format, variant.Plan, pipeline.Policy, error) {
	format, err := variant.ParseFormat(viper.GetString("format"))

	if err != nil {
		return "", nil, 0, err
	}

	plan, err := variant.PlanFor(format).Select(viper.GetStringSlice("qualities"))

	if err != nil {
		return "", nil, 0, err
	}

	policy := pipeline.StopOnError

	if viper.GetBool("continue-on-error") {
		policy = pipeline.ContinueOnError
	}

	return format, plan, policy, nil
}

func logEvent(event pipeline.Event) {
	entry := logger.WithFields(log.Fields{"run": event.RunID, "progress": event.Progress})

	switch event.Kind {
	case pipeline.EventProgress:
		entry.Debug("progress")
	case pipeline.EventVariantComplete:
		entry.WithField("variant", event.Variant.Name).Info(event.ManifestURL)
	case pipeline.EventTerminal:
		if event.Err != nil {
			entry.WithError(event.Err).Error(event.Status)
			return
		}

		entry.Info(event.Status)
	}
}

func summarize(results []pipeline.Result, files []string, elapsed time.Duration) error {
	failed := 0

	for i, res := range results {
		switch {
		case res.Skipped:
			fmt.Printf("%s\tskipped\n", files[i])
		case res.Err != nil:
			failed++
			fmt.Printf("%s\tfailed\t%v\n", files[i], res.Err)
		default:
			names := make([]string, 0, len(res.Output.Renditions()))

			for _, v := range res.Output.Renditions() {
				names = append(names, v.Name)
			}

			fmt.Printf("%s\t%s\t%s\t%s\n", files[i], res.Output.Format(), strings.Join(names, ","), res.Output.URL())
		}
	}

	logger.WithField("duration", elapsed.String()).Infof("%d file(s) transcoded", len(results)-failed)

	if failed > 0 {
		return errors.Errorf("%d file(s) failed", failed)
	}

	return nil
}
