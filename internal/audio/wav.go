// Package audio reads and writes mono 16-bit PCM containers and cuts PCM
// buffers into the fixed-duration frames consumed by the voice segmenter.
package audio

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/andresmejia3/vocalis/internal/config"
)

// BytesPerSample is the width of one mono 16-bit PCM sample.
const BytesPerSample = 2

// InputFormatError reports an audio container the pipeline cannot process.
type InputFormatError struct {
	Field string
	Got   int
}

func (e *InputFormatError) Error() string {
	switch e.Field {
	case "channels":
		return fmt.Sprintf("unsupported channel count: %d (only mono is supported)", e.Got)
	case "bit_depth":
		return fmt.Sprintf("unsupported bit depth: %d (only 16-bit is supported)", e.Got)
	case "sample_rate":
		return fmt.Sprintf("unsupported sample rate: %d (expected one of %v)", e.Got, config.SupportedSampleRates)
	}
	return fmt.Sprintf("unsupported %s: %d", e.Field, e.Got)
}

// PCM is a whole recording held in memory as little-endian 16-bit samples.
type PCM struct {
	Data       []byte
	SampleRate int
}

// Duration returns the length of the recording in seconds.
func (p *PCM) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Data)) / float64(p.SampleRate) / BytesPerSample
}

// ValidateFormat rejects anything but mono 16-bit audio at a supported rate.
func ValidateFormat(channels, bitDepth, sampleRate int) error {
	if channels != 1 {
		return &InputFormatError{Field: "channels", Got: channels}
	}
	if bitDepth != 16 {
		return &InputFormatError{Field: "bit_depth", Got: bitDepth}
	}
	if !config.IsSupportedSampleRate(sampleRate) {
		return &InputFormatError{Field: "sample_rate", Got: sampleRate}
	}
	return nil
}

// ReadWAV loads a WAV file and returns its PCM payload.
// The file handle is released on every return path.
func ReadWAV(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}

	if err := ValidateFormat(int(d.NumChans), int(d.BitDepth), int(d.SampleRate)); err != nil {
		return nil, err
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}

	return &PCM{
		Data:       samplesToBytes(buf.Data),
		SampleRate: int(d.SampleRate),
	}, nil
}

// WriteWAV stores PCM bytes as a mono 16-bit WAV file.
func WriteWAV(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           bytesToSamples(pcm),
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}
	return f.Close()
}

// SlicePeriod returns the PCM between start and end (seconds), cut on sample boundaries
// and clamped to the buffer. The returned slice shares memory with pcm.
func SlicePeriod(pcm []byte, sampleRate int, start, end float64) []byte {
	from := int(float64(sampleRate)*start) * BytesPerSample
	to := int(float64(sampleRate)*end) * BytesPerSample

	if from < 0 {
		from = 0
	}
	if to > len(pcm) {
		to = len(pcm) - len(pcm)%BytesPerSample
	}
	if from >= to {
		return nil
	}
	return pcm[from:to]
}

func samplesToBytes(samples []int) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(s)))
	}
	return out
}

func bytesToSamples(pcm []byte) []int {
	samples := make([]int, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
	}
	return samples
}
