// Package vad segments a stream of PCM frames into speech runs.
//
// Each frame is classified by a Predicate. A Collector keeps a bounded ring
// window of recent decisions and switches between a NotTriggered and a
// Triggered state with a ratio based hysteresis: it triggers once the voiced
// share of the window exceeds the trigger ratio and detriggers once the
// unvoiced share does. A run only becomes a SpeechSegment when it lasts at
// least the configured minimum duration.
package vad

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/andresmejia3/vocalis/internal/config"
)

// Predicate classifies a single frame of mono 16-bit PCM as speech or not.
// Implementations must be synchronous and free of side effects per frame.
type Predicate interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// PredicateFunc adapts a plain function to the Predicate interface.
type PredicateFunc func(frame []byte, sampleRate int) (bool, error)

// IsSpeech calls f.
func (f PredicateFunc) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	return f(frame, sampleRate)
}

// ValidateFrame checks that a frame has a length the classifier accepts at this rate.
func ValidateFrame(frame []byte, sampleRate int) error {
	if !config.IsSupportedSampleRate(sampleRate) {
		return fmt.Errorf("unsupported sample rate %d", sampleRate)
	}
	for _, ms := range config.SupportedFrameDurations {
		if len(frame) == sampleRate*ms/1000*2 {
			return nil
		}
	}
	return fmt.Errorf("frame of %d bytes is not 10, 20 or 30ms at %dHz", len(frame), sampleRate)
}

// energyThresholds maps an aggressiveness mode to the RMS level (full scale = 1.0)
// a frame must reach to count as speech.
var energyThresholds = [4]float64{0.005, 0.01, 0.02, 0.03}

// EnergyPredicate is a pure-Go classifier based on frame RMS energy.
type EnergyPredicate struct {
	mode      int
	threshold float64
}

// NewEnergyPredicate returns a classifier for aggressiveness mode 0 (permissive) to 3 (strict).
func NewEnergyPredicate(mode int) (*EnergyPredicate, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("aggressiveness must be between 0 and 3, got %d", mode)
	}
	return &EnergyPredicate{mode: mode, threshold: energyThresholds[mode]}, nil
}

// Mode returns the aggressiveness mode.
func (p *EnergyPredicate) Mode() int { return p.mode }

// IsSpeech reports whether the frame RMS reaches the mode threshold.
func (p *EnergyPredicate) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	if err := ValidateFrame(frame, sampleRate); err != nil {
		return false, err
	}
	return RMS(frame) >= p.threshold, nil
}

// RMS returns the root-mean-square level of little-endian 16-bit PCM, scaled to [0, 1].
func RMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
