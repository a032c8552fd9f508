package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// NewSafeCommandContext is NewSafeCommand bound to ctx. The process is killed when ctx is done.
func NewSafeCommandContext(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps subprocess logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 VOCALIS ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nSUBPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for Vocalis.
// It prints the error box through ShowError and exits with status 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Media Engine (Shared by Detect & Segment) ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// EstimateFrames uses ffprobe to predict how many frames ffmpeg emits at fps, for the progress bar.
// It returns 0 if the probe fails, allowing the caller to fallback to a spinner.
func EstimateFrames(path string, fps int) int {
	// 0. Check dependency
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	cmd := exec.Command("ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}
	return framesFromProbe(out, fps)
}

func framesFromProbe(out []byte, fps int) int {
	// Helper struct for structured JSON parsing
	var res struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe JSON parse error: %v\n", err)
		return 0
	}
	seconds, err := strconv.ParseFloat(res.Format.Duration, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return int(seconds * float64(fps))
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd creates a standard decoder pipe
// It configures FFmpeg to output raw MJPEG frames to Stdout for ingestion,
// resampled to fps so the frame counter is a clock at that rate.
func NewFFmpegCmd(ctx context.Context, inputPath string, fps int) *SafeCommand {
	// Using -vcodec mjpeg ensures we get JPEGs Go can split
	// Added -hide_banner and -loglevel error to prevent memory bloat in stderr buffer
	return NewSafeCommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-i", inputPath,
		"-vf", fmt.Sprintf("fps=%d", fps), "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// FFmpegAudioArgs returns the arguments that extract the first audio stream of
// inputPath into a mono 16-bit WAV at sampleRate.
func FFmpegAudioArgs(inputPath, outputPath string, sampleRate int) []string {
	return []string{"-hide_banner", "-loglevel", "error", "-y", "-i", inputPath,
		"-vn", "-ac", "1", "-ar", strconv.Itoa(sampleRate), "-c:a", "pcm_s16le", outputPath}
}

// ExtractAudio runs ffmpeg to produce a WAV the segmenter accepts.
func ExtractAudio(ctx context.Context, inputPath, outputPath string, sampleRate int) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	cmd := NewSafeCommandContext(ctx, "ffmpeg", FFmpegAudioArgs(inputPath, outputPath, sampleRate)...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio extraction failed: %w: %s", err, bytes.TrimSpace(cmd.Stderr.Bytes()))
	}
	return nil
}

// GenerateRecordingID creates a deterministic hash for the input file
// based on its path, size, and modification time.
func GenerateRecordingID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
