package statistic

import (
	"errors"
	"math"

	"github.com/codahale/hdrhistogram"
)

// ErrNoSample is returned by every query on a metric that has no samples yet.
// It is never conflated with a measured value of 0.
var ErrNoSample = errors.New("no sample")

// Histogram bounds for the median estimate, in microseconds. With two
// significant digits a reported median is at most 1% (plus 1µs) above the
// ceil(n/2)-th smallest sample; samples beyond the range are clamped.
const (
	histMinMicros   = 1
	histMaxMicros   = 60 * 1000 * 1000
	histSigFigures  = 2
	secondsToMicros = 1e6
)

// Summary is a point-in-time copy of an accumulator.
type Summary struct {
	Count    uint64  `json:"count"`
	Mean     float64 `json:"average"`
	Variance float64 `json:"variance"`
	Median   float64 `json:"median"`
	Last     float64 `json:"last"`
}

// Accumulator keeps running mean and population variance (Welford) and an
// approximate median for one latency metric. Values are seconds.
// It is not safe for concurrent use; callers guard it.
type Accumulator struct {
	count uint64
	mean  float64
	m2    float64
	last  float64
	hist  *hdrhistogram.Histogram
}

// New creates an empty accumulator.
func New() *Accumulator {
	return &Accumulator{
		hist: hdrhistogram.New(histMinMicros, histMaxMicros, histSigFigures),
	}
}

// Add folds one sample in and returns the updated summary.
func (a *Accumulator) Add(sample float64) Summary {
	a.count++
	delta := sample - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (sample - a.mean)
	a.last = sample

	micros := int64(math.Round(sample * secondsToMicros))
	if micros < 0 {
		micros = 0
	} else if micros > histMaxMicros {
		micros = histMaxMicros
	}
	// Cannot fail after clamping.
	_ = a.hist.RecordValue(micros)

	return a.Summary()
}

// Count returns the number of samples seen.
func (a *Accumulator) Count() uint64 {
	return a.count
}

// Summary returns the current statistics. Mean, Variance and Median are only
// meaningful when Count > 0.
func (a *Accumulator) Summary() Summary {
	if a.count == 0 {
		return Summary{}
	}
	return Summary{
		Count:    a.count,
		Mean:     a.mean,
		Variance: a.variance(),
		Median:   float64(a.hist.ValueAtQuantile(50)) / secondsToMicros,
		Last:     a.last,
	}
}

func (a *Accumulator) variance() float64 {
	if a.count < 2 {
		return 0
	}
	return a.m2 / float64(a.count)
}

// Check returns ErrNoSample for an empty summary.
func (s Summary) Check() error {
	if s.Count == 0 {
		return ErrNoSample
	}
	return nil
}
