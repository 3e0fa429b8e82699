package engine

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"ladder/internal/executor"
)

type metadata struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeDuration returns the container duration of input in seconds.
func probeDuration(ctx context.Context, exec *executor.Executor, ffprobe, dir, input string) (float64, error) {
	cmd := &executor.Cmd{Binary: ffprobe, Dir: dir}
	cmd.Add("-v", "error", "-print_format", "json", "-show_format", "-i", input)

	out, err := exec.Run(ctx, cmd)

	if err != nil {
		return 0, errors.Wrap(err, "ffprobe")
	}

	var m metadata

	if err = json.Unmarshal(out, &m); err != nil {
		return 0, errors.Wrap(err, "unable to decode ffprobe output")
	}

	if m.Format.Duration == "" {
		return 0, nil
	}

	return strconv.ParseFloat(m.Format.Duration, 64)
}
