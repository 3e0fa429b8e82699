package pipeline

import "math"

// normalizeShare is the part of the progress bar owned by normalization; rungs share the rest.
const normalizeShare = 50

func normalizeProgress(fraction float64) int {
	return int(math.Round(normalizeShare * clamp(fraction)))
}

// encodeProgress maps the fraction of rung index (0-based) out of total onto the encoding share.
func encodeProgress(index, total int, fraction float64) int {
	if total <= 0 {
		return normalizeShare
	}

	return normalizeShare + int(math.Floor((100-normalizeShare)*(float64(index)+clamp(fraction))/float64(total)))
}

func clamp(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}

	if f > 1 {
		return 1
	}

	return f
}

// progress keeps a run's percentage non-decreasing. 100 is reserved for a completed run.
type progress struct {
	current int
	emit    func(int)
}

func (p *progress) set(percent int) {
	if percent > 99 {
		percent = 99
	}

	if percent <= p.current {
		return
	}

	p.current = percent
	p.emit(percent)
}

func (p *progress) complete() {
	if p.current < 100 {
		p.current = 100
		p.emit(100)
	}
}
