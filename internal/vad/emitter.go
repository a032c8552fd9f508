package vad

import "github.com/andresmejia3/vocalis/internal/types"

// Emit joins the payloads of a triggered run, in arrival order, into one owned buffer.
func Emit(periodID int, frames []types.Frame, start, end float64) types.SpeechSegment {
	size := 0
	for _, f := range frames {
		size += len(f.Bytes)
	}
	pcm := make([]byte, 0, size)
	for _, f := range frames {
		pcm = append(pcm, f.Bytes...)
	}
	return types.SpeechSegment{
		PeriodID:   periodID,
		LocalStart: start,
		LocalEnd:   end,
		PCM:        pcm,
	}
}
