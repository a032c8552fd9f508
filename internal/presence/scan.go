package presence

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/andresmejia3/vocalis/internal/utils"
)

const megabyte = 1024 * 1024

// ErrNoReferenceFace is returned when the reference image holds no detectable face.
var ErrNoReferenceFace = errors.New("no face found in reference image")

// FeatureExtractor returns one descriptor per face found in an encoded image.
type FeatureExtractor interface {
	Features(image []byte) ([][]float64, error)
}

// Image is one sampled frame. Sample is its position in clock units.
type Image struct {
	Name   string
	Sample int
	Data   []byte
}

// ImageSource yields sampled frames in increasing Sample order and io.EOF when done.
type ImageSource interface {
	Next() (Image, error)
}

// ScanOptions configures a detection scan. Source takes precedence over Dir.
type ScanOptions struct {
	Dir       string
	Source    ImageSource
	Reference []float64
	Stride    int     // clock units between two sampled frames
	Threshold float64 // see Match
	Logger    *slog.Logger
	// Progress, when set, is called once per frame examined.
	Progress func()
}

// Frame is a sampled image on disk and its position in the sampled sequence.
type Frame struct {
	Path  string
	Index int
}

// ParseFrameIndex extracts the index from names like "frame_000123.jpg".
func ParseFrameIndex(name string) (int, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	i := strings.LastIndex(base, "_")
	if i < 0 || i == len(base)-1 {
		return 0, fmt.Errorf("%q has no _<index> suffix", name)
	}
	return strconv.Atoi(base[i+1:])
}

// ListFrames returns the frames of dir ordered by index. Entries without an index are skipped.
func ListFrames(dir string, log *slog.Logger) ([]Frame, error) {
	if log == nil {
		log = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, err := ParseFrameIndex(e.Name())
		if err != nil {
			log.Warn("skipping file without frame index", "file", e.Name())
			continue
		}
		frames = append(frames, Frame{Path: filepath.Join(dir, e.Name()), Index: idx})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })
	return frames, nil
}

// DirSource reads the frames of a directory written by an external sampler
// (one image every Stride clock units).
type DirSource struct {
	frames []Frame
	stride int
	pos    int
}

// NewDirSource lists dir and prepares to read it in index order.
func NewDirSource(dir string, stride int, log *slog.Logger) (*DirSource, error) {
	frames, err := ListFrames(dir, log)
	if err != nil {
		return nil, err
	}
	return &DirSource{frames: frames, stride: stride}, nil
}

// Len returns the number of frames found.
func (d *DirSource) Len() int { return len(d.frames) }

func (d *DirSource) Next() (Image, error) {
	if d.pos >= len(d.frames) {
		return Image{}, io.EOF
	}
	f := d.frames[d.pos]
	d.pos++
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	return Image{Name: filepath.Base(f.Path), Sample: f.Index * d.stride, Data: data}, nil
}

// StreamSource splits a concatenated MJPEG stream (as produced by ffmpeg's
// image2pipe) and keeps every Stride-th frame. The clock is the frame counter.
type StreamSource struct {
	scanner *bufio.Scanner
	stride  int
	frame   int
	// OnFrame, when set, is called for every frame read, kept or not.
	OnFrame func()
}

// NewStreamSource wraps r. The stream must be at the clock rate the periods are read with.
func NewStreamSource(r io.Reader, stride int) *StreamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &StreamSource{scanner: scanner, stride: stride}
}

func (s *StreamSource) Next() (Image, error) {
	for s.scanner.Scan() {
		n := s.frame
		s.frame++
		if s.OnFrame != nil {
			s.OnFrame()
		}
		if s.stride <= 0 || n%s.stride != 0 {
			continue
		}
		// The scanner reuses its buffer
		data := make([]byte, len(s.scanner.Bytes()))
		copy(data, s.scanner.Bytes())
		return Image{Name: fmt.Sprintf("frame_%06d", n), Sample: n, Data: data}, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Image{}, fmt.Errorf("frame splitter failed: %w", err)
	}
	return Image{}, io.EOF
}

// Frames returns the number of frames read so far.
func (s *StreamSource) Frames() int { return s.frame }

// ReferenceVector returns the descriptor of the first face in the reference image.
func ReferenceVector(x FeatureExtractor, path string) ([]float64, error) {
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference image: %w", err)
	}
	faces, err := x.Features(img)
	if err != nil {
		return nil, fmt.Errorf("failed to extract reference face: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoReferenceFace
	}
	return faces[0], nil
}

// Scan examines every sampled frame and returns the detection samples of
// frames where any face matches the reference.
func Scan(ctx context.Context, opts ScanOptions, x FeatureExtractor) ([]int, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", opts.Stride)
	}
	if len(opts.Reference) == 0 {
		return nil, ErrNoReferenceFace
	}

	src := opts.Source
	if src == nil {
		dir, err := NewDirSource(opts.Dir, opts.Stride, log)
		if err != nil {
			return nil, fmt.Errorf("failed to list frames: %w", err)
		}
		src = dir
	}

	var samples []int
	for {
		if err := ctx.Err(); err != nil {
			return samples, err
		}

		img, err := src.Next()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}

		faces, err := x.Features(img.Data)
		if err != nil {
			return samples, fmt.Errorf("feature extraction failed on %s: %w", img.Name, err)
		}

		for _, vec := range faces {
			if Match(vec, opts.Reference, opts.Threshold) {
				samples = append(samples, img.Sample)
				break
			}
		}
		log.Debug("frame examined", "frame", img.Name, "faces", len(faces))

		if opts.Progress != nil {
			opts.Progress()
		}
	}
}
