package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/vocalis/internal/audio"
	"github.com/andresmejia3/vocalis/internal/config"
	"github.com/andresmejia3/vocalis/internal/store"
	"github.com/andresmejia3/vocalis/internal/types"
)

func TestResolveDBURL(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  map[string]string
		want string
	}{
		{"Nothing configured", "", nil, ""},
		{"Flag wins", "postgres://flag/db", map[string]string{"POSTGRES_HOST": "envhost"}, "postgres://flag/db"},
		{
			"Built from env",
			"",
			map[string]string{"POSTGRES_HOST": "db", "POSTGRES_USER": "u", "POSTGRES_PASSWORD": "p", "POSTGRES_DB": "vocalis"},
			"postgres://u:p@db:5432/vocalis",
		},
		{
			"Custom port",
			"",
			map[string]string{"POSTGRES_HOST": "db", "POSTGRES_PORT": "6543"},
			"postgres://:@db:6543/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_PORT"} {
				t.Setenv(k, tt.env[k])
			}
			orig := dbURL
			dbURL = tt.flag
			t.Cleanup(func() { dbURL = orig })

			if got := resolveDBURL(); got != tt.want {
				t.Errorf("resolveDBURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSegmentConfig(t *testing.T) {
	opts := SegmentOptions{OutputDir: "clips", Aggressiveness: 1, Engines: 4, MinSegment: 5 * time.Second, FrameMs: 10}

	// Only flags the user touched override the base configuration
	changed := func(names ...string) func(string) bool {
		return func(name string) bool {
			for _, n := range names {
				if n == name {
					return true
				}
			}
			return false
		}
	}

	cfg, err := segmentConfig(opts, config.Default(), changed("output", "aggressiveness", "engines", "min-segment"))
	if err != nil {
		t.Fatalf("segmentConfig() error: %v", err)
	}
	if cfg.Output.Dir != "clips" || cfg.Audio.Aggressiveness != 1 || cfg.Run.Engines != 4 || cfg.Audio.MinSegment != 5*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Audio.FrameMs != 30 {
		t.Errorf("untouched frame-ms changed to %d", cfg.Audio.FrameMs)
	}

	base := config.Default()
	if _, err := segmentConfig(opts, base, changed("output")); err != nil {
		t.Fatal(err)
	}
	if base.Output.Dir != "output" {
		t.Error("segmentConfig() modified the base configuration")
	}

	bad := opts
	bad.Aggressiveness = 7
	if _, err := segmentConfig(bad, config.Default(), changed("aggressiveness")); err == nil {
		t.Error("expected validation error for aggressiveness 7")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Drop?")
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Drop? [y/N]") {
			t.Errorf("prompt not shown: %q", out.String())
		}
	}
}

func TestPrintClips(t *testing.T) {
	var buf bytes.Buffer
	printClips(&buf, []types.Clip{{PeriodID: 2, Index: 1, AbsoluteStart: 102, AbsoluteEnd: 109.5, Path: "output/clip-02-01.wav"}})

	out := buf.String()
	for _, want := range []string{"PERIOD", "01:42.0000", "01:49.5000", "7.50s", "clip-02-01.wav"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printClips(&buf, nil)
	if !strings.Contains(buf.String(), "No clips found") {
		t.Errorf("empty listing = %q", buf.String())
	}
}

// fakeRecorder records what a segmentation run stores.
type fakeRecorder struct {
	recording store.Recording
	params    store.RunParams
	periods   []types.PresencePeriod
	clips     []types.Clip
	status    string
	discards  int
	failOn    string
}

func (f *fakeRecorder) EnsureRecording(ctx context.Context, rec store.Recording) error {
	f.recording = rec
	return nil
}

func (f *fakeRecorder) CreateRun(ctx context.Context, recordingID string, p store.RunParams) (uuid.UUID, error) {
	if f.failOn == "run" {
		return uuid.Nil, errors.New("connection reset")
	}
	f.params = p
	return uuid.New(), nil
}

func (f *fakeRecorder) InsertPeriods(ctx context.Context, runID uuid.UUID, periods []types.PresencePeriod) error {
	f.periods = periods
	return nil
}

func (f *fakeRecorder) InsertClips(ctx context.Context, runID uuid.UUID, clips []types.Clip) error {
	f.clips = clips
	return nil
}

func (f *fakeRecorder) FinishRun(ctx context.Context, runID uuid.UUID, status string, clips, discards int) error {
	f.status = status
	f.discards = discards
	return nil
}

// writeTestRecording writes 30s of 8kHz silence with speech over 2.1-12.0s.
func writeTestRecording(t *testing.T, dir string) string {
	t.Helper()
	const rate = 8000
	data := make([]byte, 30*rate*2)
	for i := 21 * rate / 10; i < 12*rate; i++ {
		v := int16(8000)
		if i%2 == 1 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	path := filepath.Join(dir, "apple.wav")
	if err := audio.WriteWAV(path, data, rate); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunSegment(t *testing.T) {
	dir := t.TempDir()
	input := writeTestRecording(t, dir)

	// Clock units at 30 per second: 0.9s-20s and 21s-25s
	periodsPath := filepath.Join(dir, "face_period.txt")
	if err := os.WriteFile(periodsPath, []byte("27 600\n630 750\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(dir, "output")
	cfg.Output.Report = filepath.Join(dir, "speech_seg")
	metricsPath := filepath.Join(dir, "vocalis.prom")

	rec := &fakeRecorder{}
	res, err := runSegment(context.Background(), SegmentOptions{
		InputPath:   input,
		PeriodsPath: periodsPath,
		MetricsOut:  metricsPath,
	}, cfg, rec)
	if err != nil {
		t.Fatalf("runSegment() error: %v", err)
	}

	if len(res.Clips) != 1 || len(res.Skipped) != 1 {
		t.Fatalf("result = %+v, want one clip and one skipped period", res)
	}

	reportData, err := os.ReadFile(cfg.Output.Report)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(reportData), "0 00:02.1000--00:12.3000\n"; got != want {
		t.Errorf("report = %q, want %q", got, want)
	}

	clipPath := filepath.Join(cfg.Output.Dir, "clip-00-00.wav")
	if _, err := os.Stat(clipPath); err != nil {
		t.Errorf("clip not written: %v", err)
	}

	metrics, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("metrics not written: %v", err)
	}
	if !strings.Contains(string(metrics), "vocalis_segments_emitted_total 1") {
		t.Errorf("metrics missing segment count:\n%s", metrics)
	}

	if rec.status != store.StatusDone || len(rec.clips) != 1 || len(rec.periods) != 2 {
		t.Errorf("stored run = %+v", rec)
	}
	if rec.recording.SampleRate != 8000 || rec.recording.Duration != 30 {
		t.Errorf("stored recording = %+v", rec.recording)
	}
	if rec.params.Aggressiveness != 3 || rec.params.MinSegment != 7 {
		t.Errorf("stored params = %+v", rec.params)
	}
}

func TestRunSegmentErrors(t *testing.T) {
	dir := t.TempDir()
	input := writeTestRecording(t, dir)
	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(dir, "output")
	cfg.Output.Report = filepath.Join(dir, "speech_seg")

	// Missing period file
	if _, err := runSegment(context.Background(), SegmentOptions{InputPath: input, PeriodsPath: filepath.Join(dir, "none")}, cfg, nil); err == nil {
		t.Error("expected error for missing period file")
	}

	// Unsupported audio format
	stereo := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(stereo, []byte("not a wav"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := runSegment(context.Background(), SegmentOptions{InputPath: stereo, PeriodsPath: "x"}, cfg, nil); err == nil {
		t.Error("expected error for invalid WAV")
	}

	// A failing store does not fail the run
	periodsPath := filepath.Join(dir, "face_period.txt")
	os.WriteFile(periodsPath, []byte("27 600\n"), 0644)
	res, err := runSegment(context.Background(), SegmentOptions{InputPath: input, PeriodsPath: periodsPath}, cfg, &fakeRecorder{failOn: "run"})
	if err != nil || len(res.Clips) != 1 {
		t.Errorf("runSegment() with failing store = %v, %v", res, err)
	}
}
