package variant

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Format string

const (
	HLS  Format = "HLS"
	DASH Format = "DASH"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(HLS):
		return HLS, nil
	case string(DASH):
		return DASH, nil
	}

	return "", errors.Errorf("unknown streaming format '%s'", s)
}

// Spec is one rung of the quality ladder. Bitrates are expressed in bits per second.
type Spec struct {
	Name         string `yaml:"name" json:"name"`
	Width        int    `yaml:"width" json:"width"`
	Height       int    `yaml:"height" json:"height"`
	VideoBitrate int    `yaml:"videoBitrate" json:"video_bitrate"`
	AudioBitrate int    `yaml:"audioBitrate" json:"audio_bitrate"`
}

// Scale returns the ffmpeg scale filter argument.
func (s Spec) Scale() string {
	return fmt.Sprintf("%d:%d", s.Width, s.Height)
}

func (s Spec) Resolution() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// BufSize is twice the video bitrate.
func (s Spec) BufSize() int {
	return 2 * s.VideoBitrate
}

// Rank is the numeric part of names like "720p", or -1 when the name carries none.
func Rank(name string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(name), "p"))

	if err != nil {
		return -1
	}

	return n
}

type Plan []Spec

var ladder = Plan{
	{Name: "240p", Width: 426, Height: 240, VideoBitrate: 400000, AudioBitrate: 64000},
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: 800000, AudioBitrate: 96000},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: 1400000, AudioBitrate: 128000},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 2500000, AudioBitrate: 128000},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5000000, AudioBitrate: 192000},
}

// PlanFor returns the ladder used for format. Both formats share the same rungs so their
// outputs stay comparable; the returned plan is a copy and may be modified by the caller.
func PlanFor(format Format) Plan {
	plan := make(Plan, len(ladder))
	copy(plan, ladder)
	return plan
}

func (p Plan) Names() []string {
	names := make([]string, len(p))

	for i, spec := range p {
		names[i] = spec.Name
	}

	return names
}

// Select keeps the named rungs, in plan order. An empty selection keeps the whole plan.
func (p Plan) Select(names []string) (Plan, error) {
	if len(names) == 0 {
		return p, nil
	}

	wanted := make(map[string]bool, len(names))

	for _, name := range names {
		wanted[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var selected Plan

	for _, spec := range p {
		if wanted[strings.ToLower(spec.Name)] {
			selected = append(selected, spec)
			delete(wanted, strings.ToLower(spec.Name))
		}
	}

	if len(wanted) > 0 {
		var unknown []string

		for name := range wanted {
			unknown = append(unknown, name)
		}

		return nil, errors.Errorf("unknown quality profiles %v", unknown)
	}

	return selected, nil
}

func (p Plan) Validate() error {
	if len(p) == 0 {
		return errors.New("empty variant plan")
	}

	seen := make(map[string]bool, len(p))

	for i, spec := range p {
		if spec.Name == "" {
			return errors.Errorf("variant #%d has no name", i)
		}

		if seen[spec.Name] {
			return errors.Errorf("duplicate variant '%s'", spec.Name)
		}

		seen[spec.Name] = true

		if spec.Width <= 0 || spec.Height <= 0 || spec.VideoBitrate <= 0 || spec.AudioBitrate <= 0 {
			return errors.Errorf("variant '%s' has non positive dimensions or bitrates", spec.Name)
		}

		if i == 0 {
			continue
		}

		prev := p[i-1]

		if Rank(spec.Name) < Rank(prev.Name) {
			return errors.Errorf("variant '%s' is ranked below '%s'", spec.Name, prev.Name)
		}

		if spec.Width < prev.Width || spec.Height < prev.Height ||
			spec.VideoBitrate < prev.VideoBitrate || spec.AudioBitrate < prev.AudioBitrate {
			return errors.Errorf("variant '%s' decreases resolution or bitrate after '%s'", spec.Name, prev.Name)
		}
	}

	return nil
}
