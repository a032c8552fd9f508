package pipeline

import "github.com/andresmejia3/vocalis/internal/types"

// MapSegment places a period-local segment on the recording timeline by
// offsetting it with the period start. Index is left to the caller.
func MapSegment(seg types.SpeechSegment, period types.PresencePeriod) types.Clip {
	return types.Clip{
		PeriodID:      period.ID,
		AbsoluteStart: period.Start + seg.LocalStart,
		AbsoluteEnd:   period.Start + seg.LocalEnd,
	}
}
