package vad

import (
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/vocalis/internal/types"
)

// markerPredicate treats a frame as speech when its first byte is 1.
var markerPredicate = PredicateFunc(func(frame []byte, sampleRate int) (bool, error) {
	return frame[0] == 1, nil
})

// sliceSource replays a fixed list of frames.
type sliceSource struct {
	frames []types.Frame
	pos    int
}

func (s *sliceSource) Next() (types.Frame, bool) {
	if s.pos >= len(s.frames) {
		return types.Frame{}, false
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true
}

// makeFrames builds one frame per pattern rune: 'T' voiced, 'F' unvoiced.
// Frame i carries its own index in the second byte so payloads can be traced.
func makeFrames(pattern string, dur float64) []types.Frame {
	frames := make([]types.Frame, len(pattern))
	for i, r := range pattern {
		var v byte
		if r == 'T' {
			v = 1
		}
		frames[i] = types.Frame{
			Bytes:     []byte{v, byte(i)},
			Timestamp: float64(i) * dur,
			Duration:  dur,
		}
	}
	return frames
}

func newTestCollector(pattern string, capacity int, minDur float64) *Collector {
	opts := Options{
		PeriodID:      7,
		SampleRate:    16000,
		PaddingFrames: capacity,
		TriggerRatio:  0.9,
		MinDuration:   minDur,
	}
	return NewCollector(opts, markerPredicate, &sliceSource{frames: makeFrames(pattern, 1.0)})
}

func payloadIndexes(seg types.SpeechSegment) []int {
	var idx []int
	for i := 1; i < len(seg.PCM); i += 2 {
		idx = append(idx, int(seg.PCM[i]))
	}
	return idx
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTriggerBackDating(t *testing.T) {
	c := newTestCollector("FFTTTFFF", 3, 0)

	segs, err := c.All()
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}

	seg := segs[0]
	// Trigger fires on frame 4 but is back-dated to the oldest frame in the window
	if seg.LocalStart != 2 {
		t.Errorf("LocalStart = %v, want 2", seg.LocalStart)
	}
	if seg.LocalEnd != 8 {
		t.Errorf("LocalEnd = %v, want 8", seg.LocalEnd)
	}
	if seg.PeriodID != 7 {
		t.Errorf("PeriodID = %d, want 7", seg.PeriodID)
	}
	if got := payloadIndexes(seg); !equalInts(got, []int{2, 3, 4, 5, 6, 7}) {
		t.Errorf("segment frames = %v, want [2 3 4 5 6 7]", got)
	}
}

func TestNoTriggerBelowRatio(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"Two voiced of three", "FFTT"},
		{"Alternating", "TFTFTFTFTF"},
		{"Silence", "FFFFFFFF"},
		{"Empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(tt.pattern, 3, 0)
			segs, err := c.All()
			if err != nil {
				t.Fatal(err)
			}
			if len(segs) != 0 {
				t.Errorf("expected no segments, got %d", len(segs))
			}
			if len(c.Discards()) != 0 {
				t.Errorf("expected no discards, got %d", len(c.Discards()))
			}
			if c.State() != NotTriggered {
				t.Errorf("State() = %s, want not-triggered", c.State())
			}
		})
	}
}

func TestStateTransitions(t *testing.T) {
	src := &sliceSource{frames: makeFrames("TTTTFFF", 1.0)}
	c := NewCollector(Options{SampleRate: 16000, PaddingFrames: 3, TriggerRatio: 0.9}, markerPredicate, src)

	for i, want := range []State{NotTriggered, NotTriggered, Triggered, Triggered, Triggered, Triggered} {
		f, _ := src.Next()
		if _, _, err := c.step(f); err != nil {
			t.Fatal(err)
		}
		if c.State() != want {
			t.Errorf("after frame %d State() = %s, want %s", i, c.State(), want)
		}
	}

	f, _ := src.Next()
	seg, emitted, err := c.step(f)
	if err != nil {
		t.Fatal(err)
	}
	if !emitted || c.State() != NotTriggered {
		t.Fatalf("expected detrigger on last frame, emitted=%v state=%s", emitted, c.State())
	}
	if seg.LocalStart != 0 || seg.LocalEnd != 7 {
		t.Errorf("segment = %v-%v, want 0-7", seg.LocalStart, seg.LocalEnd)
	}
}

func TestMinimumDurationFilter(t *testing.T) {
	// First run lasts 6s and is dropped; second lasts 11s and is kept
	c := newTestCollector("TTTFFF"+"TTTTTTTTFFF", 3, 7)

	segs, err := c.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].LocalStart != 6 || segs[0].LocalEnd != 17 {
		t.Errorf("segment = %v-%v, want 6-17", segs[0].LocalStart, segs[0].LocalEnd)
	}
	if got := len(payloadIndexes(segs[0])); got != 11 {
		t.Errorf("segment holds %d frames, want 11", got)
	}

	discards := c.Discards()
	if len(discards) != 1 {
		t.Fatalf("expected 1 discard, got %d", len(discards))
	}
	d := discards[0]
	if d.LocalStart != 0 || d.LocalEnd != 6 {
		t.Errorf("discard = %v-%v, want 0-6", d.LocalStart, d.LocalEnd)
	}
	if !errors.Is(&d, ErrShortRun) {
		t.Error("discard should match ErrShortRun")
	}
}

func TestShortRunNeverEmitted(t *testing.T) {
	// Detrigger condition met repeatedly but no run reaches 7s
	c := newTestCollector("TTTFFFTTTFFFTTTFFF", 3, 7)
	segs, err := c.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 0 {
		t.Errorf("expected no segments, got %d", len(segs))
	}
	if len(c.Discards()) != 3 {
		t.Errorf("expected 3 discards, got %d", len(c.Discards()))
	}
	for _, d := range c.Discards() {
		if d.LocalEnd-d.LocalStart >= 7 {
			t.Errorf("discarded run %v-%v is not short", d.LocalStart, d.LocalEnd)
		}
	}
}

func TestEndOfStreamFlush(t *testing.T) {
	tests := []struct {
		name        string
		pattern     string
		wantSegs    int
		wantEnd     float64
		wantFrames  int
		wantDiscard int
	}{
		{"Long open run is emitted", "TTTTTTTTTT", 1, 10, 10, 0},
		{"Exactly minimum is emitted", "TTTTTTT", 1, 7, 7, 0},
		{"Short open run is dropped", "TTTTT", 0, 0, 0, 1},
		{"Open run with trailing silence", "TTTTTTTTFF", 1, 10, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(tt.pattern, 3, 7)
			segs, err := c.All()
			if err != nil {
				t.Fatal(err)
			}
			if len(segs) != tt.wantSegs {
				t.Fatalf("got %d segments, want %d", len(segs), tt.wantSegs)
			}
			if len(c.Discards()) != tt.wantDiscard {
				t.Errorf("got %d discards, want %d", len(c.Discards()), tt.wantDiscard)
			}
			if tt.wantSegs == 1 {
				if segs[0].LocalStart != 0 || segs[0].LocalEnd != tt.wantEnd {
					t.Errorf("segment = %v-%v, want 0-%v", segs[0].LocalStart, segs[0].LocalEnd, tt.wantEnd)
				}
				if got := len(payloadIndexes(segs[0])); got != tt.wantFrames {
					t.Errorf("segment holds %d frames, want %d", got, tt.wantFrames)
				}
			}
		})
	}
}

func TestSegmentsDoNotOverlap(t *testing.T) {
	pattern := "FFTTTTTTTTTFFFF" + "FTTTTTTTTTTTFFF" + "TTTTTTTTT"
	c := newTestCollector(pattern, 3, 2)

	segs, err := c.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	for i, s := range segs {
		if s.LocalStart >= s.LocalEnd {
			t.Errorf("segment %d is empty: %v-%v", i, s.LocalStart, s.LocalEnd)
		}
		if i > 0 && s.LocalStart < segs[i-1].LocalEnd {
			t.Errorf("segment %d starts at %v before previous end %v", i, s.LocalStart, segs[i-1].LocalEnd)
		}
	}
}

func TestNextAfterExhaustion(t *testing.T) {
	c := newTestCollector("TTTTTTTT", 3, 1)
	if _, ok, _ := c.Next(); !ok {
		t.Fatal("expected one segment")
	}
	for i := 0; i < 2; i++ {
		if _, ok, err := c.Next(); ok || err != nil {
			t.Errorf("Next() after exhaustion = %v, %v", ok, err)
		}
	}
}

func TestPredicateError(t *testing.T) {
	boom := errors.New("classifier exploded")
	calls := 0
	pred := PredicateFunc(func(frame []byte, sampleRate int) (bool, error) {
		calls++
		if calls == 4 {
			return false, boom
		}
		return true, nil
	})

	c := NewCollector(Options{PeriodID: 2, SampleRate: 16000, PaddingFrames: 3, TriggerRatio: 0.9},
		pred, &sliceSource{frames: makeFrames("TTTTTTTT", 1)})

	_, ok, err := c.Next()
	if ok {
		t.Fatal("expected no segment")
	}
	var predErr *PredicateError
	if !errors.As(err, &predErr) {
		t.Fatalf("expected PredicateError, got %v", err)
	}
	if predErr.FrameIndex != 3 || predErr.PeriodID != 2 {
		t.Errorf("PredicateError = %+v", predErr)
	}
	if !errors.Is(err, boom) {
		t.Error("PredicateError should unwrap to the classifier error")
	}
	if errors.Is(err, ErrShortRun) {
		t.Error("classifier failure must not look like a filtered run")
	}

	// The failure is sticky and the predicate is not called again
	if _, _, err2 := c.Next(); err2 != err {
		t.Errorf("second Next() error = %v, want %v", err2, err)
	}
	if calls != 4 {
		t.Errorf("predicate called %d times, want 4", calls)
	}
}

type countingObserver struct {
	frames, voiced, emitted, discarded int
	emittedSeconds                     float64
}

func (o *countingObserver) FrameClassified(voiced bool) {
	o.frames++
	if voiced {
		o.voiced++
	}
}
func (o *countingObserver) SegmentEmitted(seconds float64) { o.emitted++; o.emittedSeconds += seconds }
func (o *countingObserver) RunDiscarded(seconds float64) { o.discarded++ }

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	opts := Options{SampleRate: 16000, PaddingFrames: 3, TriggerRatio: 0.9, MinDuration: 7, Observer: obs}
	c := NewCollector(opts, markerPredicate, &sliceSource{frames: makeFrames("TTTFFF"+"TTTTTTTTFFF", 1)})

	if _, err := c.All(); err != nil {
		t.Fatal(err)
	}
	if obs.frames != 17 || obs.voiced != 11 {
		t.Errorf("frames=%d voiced=%d, want 17 and 11", obs.frames, obs.voiced)
	}
	if obs.emitted != 1 || obs.discarded != 1 {
		t.Errorf("emitted=%d discarded=%d, want 1 and 1", obs.emitted, obs.discarded)
	}
	if math.Abs(obs.emittedSeconds-11) > 1e-9 {
		t.Errorf("emitted seconds = %v, want 11", obs.emittedSeconds)
	}
}

func TestEmit(t *testing.T) {
	frames := []types.Frame{
		{Bytes: []byte{1, 2}, Timestamp: 0, Duration: 0.5},
		{Bytes: []byte{3, 4}, Timestamp: 0.5, Duration: 0.5},
		{Bytes: []byte{5, 6}, Timestamp: 1.0, Duration: 0.5},
	}
	seg := Emit(3, frames, 0, 1.5)
	want := []byte{1, 2, 3, 4, 5, 6}
	if string(seg.PCM) != string(want) {
		t.Errorf("PCM = %v, want %v", seg.PCM, want)
	}
	if seg.PeriodID != 3 || seg.LocalStart != 0 || seg.LocalEnd != 1.5 {
		t.Errorf("segment = %+v", seg)
	}

	// The segment owns its buffer
	frames[0].Bytes[0] = 9
	if seg.PCM[0] != 1 {
		t.Error("segment PCM aliases frame memory")
	}
}
