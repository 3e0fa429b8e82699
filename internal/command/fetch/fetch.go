package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ladder/internal/command/root"
	"ladder/internal/download"
	"ladder/internal/job"
	"ladder/internal/signal"
	"ladder/internal/variant"
)

var logger = log.WithFields(log.Fields{"app": "fetch"})

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().StringSlice("qualities", nil, "Qualities to download, every output when empty")
	cmd.Flags().StringArray("manifest", nil, "QUALITY=URL pair, used instead of a job id")
	cmd.Flags().String("format", "HLS", "Streaming format of --manifest URLs")
	cmd.Flags().String("dir", ".", "Destination directory")
	cmd.Flags().Int("concurrency", 4, "Parallel segment downloads per quality")
}

var cmd = &cobra.Command{
	Use:   "fetch [JOB_ID]",
	Short: "Download published renditions",
	Long:  `Downloads the manifest and segments of the selected qualities of a job, or of explicit manifest URLs`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := signal.WatchInterrupt(context.Background(), 5*time.Second)

		wanted, _ := cmd.Flags().GetStringSlice("qualities")
		manifests, _ := cmd.Flags().GetStringArray("manifest")
		dir, _ := cmd.Flags().GetString("dir")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		var (
			qualities []download.Quality
			format    variant.Format
			err       error
		)

		switch {
		case len(args) == 1:
			cmpt := root.GetComponent(true, false, false, false)
			defer cmpt.Close()

			qualities, format, err = fromJob(ctx, cmpt.Store, args[0])
		case len(manifests) > 0:
			rawFormat, _ := cmd.Flags().GetString("format")
			qualities, format, err = fromFlags(manifests, rawFormat)
		default:
			return errors.New("a job id or at least one --manifest is required")
		}

		if err != nil {
			return err
		}

		qualities = filter(qualities, wanted)

		if len(qualities) == 0 {
			return errors.New("nothing to download")
		}

		fetcher := download.NewFetcher(&http.Client{Timeout: 5 * time.Minute}, concurrency)
		results, err := fetcher.Fetch(ctx, qualities, format, dir)

		if err != nil {
			return err
		}

		failed := 0

		for _, res := range results {
			if res.Err != nil {
				failed++
				fmt.Printf("%s\tfailed\t%v\n", res.Quality.Name, res.Err)
				continue
			}

			fmt.Printf("%s\t%d segment(s)\t%s\n", res.Quality.Name, res.Segments, res.Dir)
		}

		logger.Infof("%d/%d quality(ies) downloaded", len(results)-failed, len(results))

		return nil
	},
}

func fromJob(ctx context.Context, store job.Store, id string) ([]download.Quality, variant.Format, error) {
	j, err := store.Get(ctx, id)

	if err != nil {
		return nil, "", errors.Wrapf(err, "unable to read job '%s'", id)
	}

	outputs, err := store.Outputs(ctx, id)

	if err != nil {
		return nil, "", errors.Wrapf(err, "unable to read outputs of '%s'", id)
	}

	qualities := make([]download.Quality, 0, len(outputs))

	for _, output := range outputs {
		qualities = append(qualities, download.Quality{Name: output.QualityVariant, ManifestURL: output.ManifestURL})
	}

	return qualities, j.Format, nil
}

func fromFlags(pairs []string, rawFormat string) ([]download.Quality, variant.Format, error) {
	format, err := variant.ParseFormat(rawFormat)

	if err != nil {
		return nil, "", err
	}

	qualities := make([]download.Quality, 0, len(pairs))

	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)

		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, "", errors.Errorf("invalid manifest '%s', expected QUALITY=URL", pair)
		}

		qualities = append(qualities, download.Quality{Name: parts[0], ManifestURL: parts[1]})
	}

	return qualities, format, nil
}

func filter(qualities []download.Quality, wanted []string) []download.Quality {
	if len(wanted) == 0 {
		return qualities
	}

	keep := make(map[string]bool, len(wanted))

	for _, name := range wanted {
		keep[strings.ToLower(name)] = true
	}

	var selected []download.Quality

	for _, q := range qualities {
		if keep[strings.ToLower(q.Name)] {
			selected = append(selected, q)
		}
	}

	return selected
}
