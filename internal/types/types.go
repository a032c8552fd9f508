package types

// Frame is a fixed-duration slice of mono 16-bit little-endian PCM.
// Timestamp is relative to the start of the enclosing presence period.
type Frame struct {
	Bytes     []byte
	Timestamp float64 // seconds
	Duration  float64 // seconds
}

// End returns the timestamp at which the frame stops.
func (f Frame) End() float64 {
	return f.Timestamp + f.Duration
}

// Span is a run of detection samples in the sampled clock unit (e.g. 30fps frame numbers).
type Span struct {
	Start int
	End   int
}

// PresencePeriod is an interval of absolute recording time where the target was visible.
type PresencePeriod struct {
	ID    int
	Start float64 // seconds
	End   float64 // seconds
}

// Duration returns the length of the period in seconds.
func (p PresencePeriod) Duration() float64 {
	return p.End - p.Start
}

// SpeechSegment is a contiguous triggered run of frames, timed relative to its period.
type SpeechSegment struct {
	PeriodID   int
	LocalStart float64
	LocalEnd   float64
	PCM        []byte
}

// Clip is a speech segment placed on the global recording timeline.
type Clip struct {
	PeriodID      int     `json:"period_id"`
	Index         int     `json:"index"` // position among the clips of the same period
	AbsoluteStart float64 `json:"absolute_start"`
	AbsoluteEnd   float64 `json:"absolute_end"`
	Path          string  `json:"path,omitempty"`
}

// FaceResult is a single face returned by the feature worker.
type FaceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec []float64 `json:"vec"` // face descriptor
}

