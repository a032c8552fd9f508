package presence

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/vocalis/internal/types"
)

// ErrEmptyDetection is returned when the target was never detected.
var ErrEmptyDetection = errors.New("no detection samples: target never detected")

// Reduce collapses ascending detection samples taken every stride units into
// maximal runs. Two consecutive samples exactly one stride apart belong to the same run.
func Reduce(samples []int, stride int) ([]types.Span, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDetection
	}
	if stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", stride)
	}

	var spans []types.Span
	t0 := samples[0]
	for i := 1; i < len(samples); i++ {
		if samples[i] <= samples[i-1] {
			return nil, fmt.Errorf("detection samples must be strictly increasing: %d follows %d", samples[i], samples[i-1])
		}
		if samples[i] != samples[i-1]+stride {
			spans = append(spans, types.Span{Start: t0, End: samples[i-1]})
			t0 = samples[i]
		}
	}
	spans = append(spans, types.Span{Start: t0, End: samples[len(samples)-1]})
	return spans, nil
}

// ToPeriods converts clock-unit spans into periods in seconds, numbered in order.
func ToPeriods(spans []types.Span, clockRate float64) []types.PresencePeriod {
	periods := make([]types.PresencePeriod, len(spans))
	for i, s := range spans {
		periods[i] = types.PresencePeriod{
			ID:    i,
			Start: float64(s.Start) / clockRate,
			End:   float64(s.End) / clockRate,
		}
	}
	return periods
}
