package audio

import (
	"fmt"

	"github.com/andresmejia3/vocalis/internal/types"
)

// Slicer cuts a PCM buffer into non-overlapping frames of a fixed duration.
// A trailing remainder shorter than one frame is dropped.
type Slicer struct {
	pcm        []byte
	sampleRate int
	frameBytes int
	duration   float64
}

// NewSlicer prepares frames of frameMs milliseconds over pcm.
func NewSlicer(pcm []byte, sampleRate, frameMs int) (*Slicer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if frameMs <= 0 {
		return nil, fmt.Errorf("frame duration must be positive, got %dms", frameMs)
	}

	n := sampleRate * frameMs / 1000 * BytesPerSample
	if n <= 0 {
		return nil, fmt.Errorf("frame of %dms at %dHz holds no samples", frameMs, sampleRate)
	}

	return &Slicer{
		pcm:        pcm,
		sampleRate: sampleRate,
		frameBytes: n,
		// Derived from the byte length, not the nominal ms
		duration: float64(n) / float64(sampleRate) / BytesPerSample,
	}, nil
}

// FrameBytes returns the byte length of every frame.
func (s *Slicer) FrameBytes() int { return s.frameBytes }

// FrameDuration returns the duration of every frame in seconds.
func (s *Slicer) FrameDuration() float64 { return s.duration }

// Count returns how many full frames the buffer holds.
func (s *Slicer) Count() int { return len(s.pcm) / s.frameBytes }

// Frames starts a new pass over the buffer. Every call yields the same sequence.
func (s *Slicer) Frames() *FrameStream {
	return &FrameStream{slicer: s}
}

// FrameStream is a pull iterator over the frames of one Slicer.
type FrameStream struct {
	slicer *Slicer
	offset int
	index  int
}

// Next returns the next frame, or false once the buffer is exhausted.
func (fs *FrameStream) Next() (types.Frame, bool) {
	s := fs.slicer
	if fs.offset+s.frameBytes > len(s.pcm) {
		return types.Frame{}, false
	}

	f := types.Frame{
		Bytes:     s.pcm[fs.offset : fs.offset+s.frameBytes : fs.offset+s.frameBytes],
		Timestamp: float64(fs.index) * s.duration,
		Duration:  s.duration,
	}
	fs.offset += s.frameBytes
	fs.index++
	return f, true
}

// Collect drains the stream into a slice.
func (fs *FrameStream) Collect() []types.Frame {
	var frames []types.Frame
	for {
		f, ok := fs.Next()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}
