package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/vocalis/internal/audio"
	"github.com/andresmejia3/vocalis/internal/types"
)

// ClipSink stores the audio of an emitted clip and returns where it went.
// Runs with more than one engine call it from several goroutines.
type ClipSink interface {
	WriteClip(clip types.Clip, pcm []byte, sampleRate int) (string, error)
}

// WAVSink writes each clip as a mono 16-bit WAV into Dir, named by
// Pattern applied to (period id, clip index).
type WAVSink struct {
	Dir     string
	Pattern string
}

// NewWAVSink creates dir if needed.
func NewWAVSink(dir, pattern string) (*WAVSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &WAVSink{Dir: dir, Pattern: pattern}, nil
}

// ClipName returns the file name of a clip.
func (s *WAVSink) ClipName(periodID, index int) string {
	return fmt.Sprintf(s.Pattern, periodID, index)
}

func (s *WAVSink) WriteClip(clip types.Clip, pcm []byte, sampleRate int) (string, error) {
	path := filepath.Join(s.Dir, s.ClipName(clip.PeriodID, clip.Index))
	if err := audio.WriteWAV(path, pcm, sampleRate); err != nil {
		return "", fmt.Errorf("failed to write clip %s: %w", path, err)
	}
	return path, nil
}
