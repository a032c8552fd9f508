package vad

import "github.com/andresmejia3/vocalis/internal/types"

// Entry is a frame together with its speech decision.
type Entry struct {
	Frame    types.Frame
	IsSpeech bool
}

// RingWindow is a bounded FIFO of entries. Pushing into a full window evicts the oldest entry.
type RingWindow struct {
	buf   []Entry
	head  int // index of the oldest entry
	count int
}

// NewRingWindow creates a window holding at most capacity entries.
func NewRingWindow(capacity int) *RingWindow {
	if capacity < 0 {
		capacity = 0
	}
	return &RingWindow{buf: make([]Entry, capacity)}
}

// Cap returns the maximum number of entries.
func (r *RingWindow) Cap() int { return len(r.buf) }

// Len returns the current number of entries.
func (r *RingWindow) Len() int { return r.count }

// Push appends an entry, evicting the oldest one when full.
func (r *RingWindow) Push(e Entry) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

// Voiced returns the number of entries classified as speech.
func (r *RingWindow) Voiced() int {
	n := 0
	for i := 0; i < r.count; i++ {
		if r.at(i).IsSpeech {
			n++
		}
	}
	return n
}

// Unvoiced returns the number of entries classified as non-speech.
func (r *RingWindow) Unvoiced() int {
	return r.count - r.Voiced()
}

// Oldest returns the entry that has been in the window the longest.
func (r *RingWindow) Oldest() (Entry, bool) {
	if r.count == 0 {
		return Entry{}, false
	}
	return r.at(0), true
}

// Frames returns the buffered frames from oldest to newest.
func (r *RingWindow) Frames() []types.Frame {
	frames := make([]types.Frame, r.count)
	for i := range frames {
		frames[i] = r.at(i).Frame
	}
	return frames
}

// Clear empties the window without changing its capacity.
func (r *RingWindow) Clear() {
	for i := range r.buf {
		r.buf[i] = Entry{}
	}
	r.head = 0
	r.count = 0
}

func (r *RingWindow) at(i int) Entry {
	return r.buf[(r.head+i)%len(r.buf)]
}
