package engine

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const tailSize = 8

type Progress struct {
	FramesProcessed  string
	CurrentTime      string
	CurrentDuration  time.Duration
	CompleteDuration time.Duration
	CurrentBitrate   string
	Fraction         float64
	Speed            string
}

// process is one ffmpeg invocation whose stderr statistics are turned into Progress values.
type process struct {
	cmd      *exec.Cmd
	stderr   io.ReadCloser
	duration float64
	tail     []string
}

func newProcess(ctx context.Context, binary, dir string, argv []string, duration float64) *process {
	cmd := exec.CommandContext(ctx, binary, argv...)
	cmd.Dir = dir

	return &process{cmd: cmd, duration: duration}
}

func (p *process) Start() error {
	stderr, err := p.cmd.StderrPipe()

	if err != nil {
		return err
	}

	p.stderr = stderr

	return p.cmd.Start()
}

// Output streams progress until stderr is closed. Wait must only be called once the
// channel is drained.
func (p *process) Output() <-chan Progress {
	out := make(chan Progress)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(p.stderr)
		scanner.Split(scanLines)
		scanner.Buffer(make([]byte, 0, 4096), bufio.MaxScanTokenSize)

		for scanner.Scan() {
			line := scanner.Text()

			if progress, ok := parseProgress(line, p.duration); ok {
				out <- progress
				continue
			}

			if strings.TrimSpace(line) != "" {
				p.tail = append(p.tail, line)

				if len(p.tail) > tailSize {
					p.tail = p.tail[1:]
				}
			}
		}
	}()

	return out
}

func (p *process) Wait() error {
	return p.cmd.Wait()
}

func (p *process) Tail() string {
	return strings.Join(p.tail, "\n")
}

// scanLines splits on both '\n' and '\r': ffmpeg rewrites its statistics line in place.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

var spacesAfterEqual = regexp.MustCompile(`=\s+`)

func parseProgress(line string, duration float64) (Progress, bool) {
	var progress Progress

	if !strings.Contains(line, "frame=") && !strings.Contains(line, "size=") {
		return progress, false
	}

	if !strings.Contains(line, "time=") || !strings.Contains(line, "bitrate=") {
		return progress, false
	}

	for _, field := range strings.Fields(spacesAfterEqual.ReplaceAllString(line, "=")) {
		kv := strings.SplitN(field, "=", 2)

		if len(kv) != 2 {
			continue
		}

		switch kv[0] {
		case "frame":
			progress.FramesProcessed = kv[1]
		case "time":
			progress.CurrentTime = kv[1]
		case "bitrate":
			progress.CurrentBitrate = kv[1]
		case "speed":
			progress.Speed = kv[1]
		}
	}

	current := DurationToSec(progress.CurrentTime)

	// zero duration: unknown length, fraction stays 0
	if duration > 0 {
		progress.Fraction = clamp(current / duration)
	}

	progress.CurrentDuration = time.Duration(current * float64(time.Second))
	progress.CompleteDuration = time.Duration(duration * float64(time.Second))

	return progress, true
}

// DurationToSec converts ffmpeg "HH:MM:SS.ms" timestamps to seconds. Unparsable values give 0.
func DurationToSec(ts string) float64 {
	parts := strings.Split(strings.TrimPrefix(ts, "-"), ":")

	if len(parts) != 3 {
		return 0
	}

	var total float64

	for i, unit := range []float64{3600, 60, 1} {
		v, err := strconv.ParseFloat(parts[i], 64)

		if err != nil {
			return 0
		}

		total += v * unit
	}

	if strings.HasPrefix(ts, "-") {
		return 0
	}

	return total
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}

	if f > 1 {
		return 1
	}

	return f
}
