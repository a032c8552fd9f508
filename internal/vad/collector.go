package vad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/andresmejia3/vocalis/internal/types"
)

// ErrShortRun marks a triggered run dropped for lasting less than the minimum duration.
// It is a filtering outcome and is never returned by Collector.Next.
var ErrShortRun = errors.New("speech run shorter than minimum duration")

// ShortRunError describes one discarded run.
type ShortRunError struct {
	PeriodID   int
	LocalStart float64
	LocalEnd   float64
	Min        float64
}

func (e *ShortRunError) Error() string {
	return fmt.Sprintf("period %d: run %.3fs-%.3fs lasts %.3fs, need %.3fs",
		e.PeriodID, e.LocalStart, e.LocalEnd, e.LocalEnd-e.LocalStart, e.Min)
}

func (e *ShortRunError) Unwrap() error { return ErrShortRun }

// PredicateError wraps a classifier failure with the frame it happened on.
type PredicateError struct {
	PeriodID   int
	FrameIndex int
	Err        error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("period %d: voice classifier failed on frame %d: %v", e.PeriodID, e.FrameIndex, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

// State is the hysteresis state of a Collector.
type State int

const (
	NotTriggered State = iota
	Triggered
)

func (s State) String() string {
	if s == Triggered {
		return "triggered"
	}
	return "not-triggered"
}

// FrameSource yields frames in arrival order. *audio.FrameStream satisfies it.
type FrameSource interface {
	Next() (types.Frame, bool)
}

// Observer receives collector events. observe.Metrics implements it.
type Observer interface {
	FrameClassified(voiced bool)
	SegmentEmitted(seconds float64)
	RunDiscarded(seconds float64)
}

// Options configures a Collector.
type Options struct {
	PeriodID      int
	SampleRate    int
	PaddingFrames int     // ring window capacity
	TriggerRatio  float64 // share of the window needed to trigger or detrigger
	MinDuration   float64 // seconds
	Logger        *slog.Logger
	Observer      Observer
}

// Collector is the hysteresis trigger state machine for one presence period.
// It pulls frames from its source and hands out speech segments one at a time.
// A Collector is not safe for concurrent use.
type Collector struct {
	opts   Options
	pred   Predicate
	frames FrameSource
	log    *slog.Logger

	window   *RingWindow
	state    State
	start    float64
	lastEnd  float64
	pending  []types.Frame
	index    int
	discards []ShortRunError
	done     bool
	err      error
	voicing  *strings.Builder
}

// NewCollector builds a collector in the NotTriggered state.
func NewCollector(opts Options, pred Predicate, frames FrameSource) *Collector {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("period", opts.PeriodID)

	c := &Collector{
		opts:   opts,
		pred:   pred,
		frames: frames,
		log:    log,
		window: NewRingWindow(opts.PaddingFrames),
	}
	if log.Enabled(context.Background(), slog.LevelDebug) {
		c.voicing = &strings.Builder{}
	}
	return c
}

// State returns the current hysteresis state.
func (c *Collector) State() State { return c.state }

// Discards returns the runs dropped so far for being too short.
func (c *Collector) Discards() []ShortRunError { return c.discards }

// Next returns the next speech segment. It returns false once the frames are
// exhausted or after a classifier failure, which is reported through the error.
func (c *Collector) Next() (types.SpeechSegment, bool, error) {
	if c.done || c.err != nil {
		return types.SpeechSegment{}, false, c.err
	}

	for {
		frame, ok := c.frames.Next()
		if !ok {
			c.done = true
			seg, emitted := c.flush()
			return seg, emitted, nil
		}

		seg, emitted, err := c.step(frame)
		if err != nil {
			c.err = err
			return types.SpeechSegment{}, false, err
		}
		if emitted {
			return seg, true, nil
		}
	}
}

// All drains the collector.
func (c *Collector) All() ([]types.SpeechSegment, error) {
	var segs []types.SpeechSegment
	for {
		seg, ok, err := c.Next()
		if err != nil {
			return segs, err
		}
		if !ok {
			return segs, nil
		}
		segs = append(segs, seg)
	}
}

func (c *Collector) step(frame types.Frame) (types.SpeechSegment, bool, error) {
	speech, err := c.pred.IsSpeech(frame.Bytes, c.opts.SampleRate)
	if err != nil {
		return types.SpeechSegment{}, false, &PredicateError{PeriodID: c.opts.PeriodID, FrameIndex: c.index, Err: err}
	}
	c.index++
	c.lastEnd = frame.End()
	if c.opts.Observer != nil {
		c.opts.Observer.FrameClassified(speech)
	}
	if c.voicing != nil {
		if speech {
			c.voicing.WriteByte('1')
		} else {
			c.voicing.WriteByte('0')
		}
	}

	threshold := c.opts.TriggerRatio * float64(c.window.Cap())

	if c.state == NotTriggered {
		c.window.Push(Entry{Frame: frame, IsSpeech: speech})
		if float64(c.window.Voiced()) > threshold {
			oldest, _ := c.window.Oldest()
			c.state = Triggered
			// Back-date to the start of the look-ahead padding
			c.start = oldest.Frame.Timestamp
			c.pending = append(c.pending[:0], c.window.Frames()...)
			c.window.Clear()
			c.log.Debug("speech triggered", "at", c.start)
		}
		return types.SpeechSegment{}, false, nil
	}

	c.pending = append(c.pending, frame)
	c.window.Push(Entry{Frame: frame, IsSpeech: speech})
	if float64(c.window.Unvoiced()) <= threshold {
		return types.SpeechSegment{}, false, nil
	}

	end := frame.End()
	if end-c.start >= c.opts.MinDuration {
		seg := c.emit(end)
		c.log.Debug("speech detriggered", "at", end, "duration", end-c.start)
		c.reset()
		return seg, true, nil
	}

	c.discard(end)
	c.reset()
	return types.SpeechSegment{}, false, nil
}

// flush closes a run still open when the frames run out.
func (c *Collector) flush() (types.SpeechSegment, bool) {
	defer c.logVoicing()

	if c.state != Triggered {
		return types.SpeechSegment{}, false
	}

	end := c.lastEnd
	if end-c.start >= c.opts.MinDuration {
		seg := c.emit(end)
		c.log.Debug("speech closed at end of stream", "at", end, "duration", end-c.start)
		c.reset()
		return seg, true
	}

	c.discard(end)
	c.reset()
	return types.SpeechSegment{}, false
}

func (c *Collector) emit(end float64) types.SpeechSegment {
	seg := Emit(c.opts.PeriodID, c.pending, c.start, end)
	if c.opts.Observer != nil {
		c.opts.Observer.SegmentEmitted(end - c.start)
	}
	return seg
}

func (c *Collector) discard(end float64) {
	d := ShortRunError{PeriodID: c.opts.PeriodID, LocalStart: c.start, LocalEnd: end, Min: c.opts.MinDuration}
	c.discards = append(c.discards, d)
	if c.opts.Observer != nil {
		c.opts.Observer.RunDiscarded(end - c.start)
	}
	c.log.Debug("speech run discarded", "start", c.start, "end", end, "reason", d.Error())
}

// reset returns to NotTriggered with an empty window and no pending frames.
func (c *Collector) reset() {
	c.state = NotTriggered
	c.start = 0
	c.pending = nil
	c.window.Clear()
}

func (c *Collector) logVoicing() {
	if c.voicing == nil {
		return
	}
	c.log.Debug("voicing trace", "frames", c.index, "trace", c.voicing.String())
}
