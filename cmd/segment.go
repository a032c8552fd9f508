package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/andresmejia3/vocalis/internal/audio"
	"github.com/andresmejia3/vocalis/internal/config"
	"github.com/andresmejia3/vocalis/internal/observe"
	"github.com/andresmejia3/vocalis/internal/pipeline"
	"github.com/andresmejia3/vocalis/internal/presence"
	"github.com/andresmejia3/vocalis/internal/report"
	"github.com/andresmejia3/vocalis/internal/store"
	"github.com/andresmejia3/vocalis/internal/types"
	"github.com/andresmejia3/vocalis/internal/utils"
	"github.com/andresmejia3/vocalis/internal/vad"
)

// extractRate is the sample rate used when audio has to be pulled out of a video.
const extractRate = 16000

// SegmentOptions holds the flags of the segment command.
type SegmentOptions struct {
	InputPath      string
	PeriodsPath    string
	OutputDir      string
	ReportPath     string
	FrameMs        int
	PaddingMs      int
	MinSegment     time.Duration
	TriggerRatio   float64
	Aggressiveness int
	Engines        int
	MetricsOut     string
}

var segmentOpts SegmentOptions

var segmentCmd = &cobra.Command{
	Use:   "segment",
	Short: "Cut speech clips out of the presence periods of a recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := segmentConfig(segmentOpts, Cfg, cmd.Flags().Changed)
		if err != nil {
			return err
		}
		if err := connectDB(cmd.Context(), false); err != nil {
			// Persistence is optional, the clips still get written
			utils.ShowError("Database unavailable, results will not be stored", err, nil)
		}
		var recorder runRecorder
		if DB != nil {
			recorder = DB
		}
		_, err = runSegment(cmd.Context(), segmentOpts, cfg, recorder)
		return err
	},
}

func init() {
	def := config.Default()
	s := segmentCmd.Flags()
	s.StringVarP(&segmentOpts.InputPath, "input", "i", "", "Recording to segment (mono 16-bit WAV, or any file ffmpeg can read)")
	s.StringVarP(&segmentOpts.PeriodsPath, "periods", "p", "face_period.txt", "Presence periods written by detect")
	s.StringVarP(&segmentOpts.OutputDir, "output", "o", def.Output.Dir, "Directory for the clip files")
	s.StringVar(&segmentOpts.ReportPath, "report", def.Output.Report, "Where to write the clip report")
	s.IntVar(&segmentOpts.FrameMs, "frame-ms", def.Audio.FrameMs, "Classifier frame duration (10, 20 or 30)")
	s.IntVar(&segmentOpts.PaddingMs, "padding-ms", def.Audio.PaddingMs, "Hysteresis window length")
	s.DurationVarP(&segmentOpts.MinSegment, "min-segment", "m", def.Audio.MinSegment, "Shortest speech run kept as a clip")
	s.Float64Var(&segmentOpts.TriggerRatio, "trigger-ratio", def.Audio.TriggerRatio, "Share of the window needed to trigger or detrigger")
	s.IntVarP(&segmentOpts.Aggressiveness, "aggressiveness", "a", def.Audio.Aggressiveness, "Voice classifier aggressiveness (0-3)")
	s.IntVarP(&segmentOpts.Engines, "engines", "e", def.Run.Engines, "Number of periods segmented in parallel")
	s.StringVar(&segmentOpts.MetricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile")

	segmentCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(segmentCmd)
}

// segmentConfig layers the flags the user set over base and validates the result.
func segmentConfig(opts SegmentOptions, base *config.Config, changed func(string) bool) (*config.Config, error) {
	if base == nil {
		base = config.Default()
	}
	cfg := *base

	if changed("output") {
		cfg.Output.Dir = opts.OutputDir
	}
	if changed("report") {
		cfg.Output.Report = opts.ReportPath
	}
	if changed("frame-ms") {
		cfg.Audio.FrameMs = opts.FrameMs
	}
	if changed("padding-ms") {
		cfg.Audio.PaddingMs = opts.PaddingMs
	}
	if changed("min-segment") {
		cfg.Audio.MinSegment = opts.MinSegment
	}
	if changed("trigger-ratio") {
		cfg.Audio.TriggerRatio = opts.TriggerRatio
	}
	if changed("aggressiveness") {
		cfg.Audio.Aggressiveness = opts.Aggressiveness
	}
	if changed("engines") {
		cfg.Run.Engines = opts.Engines
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// runRecorder is the part of the store a segmentation run writes to.
type runRecorder interface {
	EnsureRecording(ctx context.Context, rec store.Recording) error
	CreateRun(ctx context.Context, recordingID string, p store.RunParams) (uuid.UUID, error)
	InsertPeriods(ctx context.Context, runID uuid.UUID, periods []types.PresencePeriod) error
	InsertClips(ctx context.Context, runID uuid.UUID, clips []types.Clip) error
	FinishRun(ctx context.Context, runID uuid.UUID, status string, clips, discards int) error
}

// runSegment reads the recording and its periods, runs the pipeline, then writes
// the report, the metrics and the database rows. A run stopped by a failing
// period still writes what the earlier periods produced.
func runSegment(ctx context.Context, opts SegmentOptions, cfg *config.Config, recorder runRecorder) (*pipeline.Result, error) {
	started := time.Now()

	ctx, span := observe.StartSpan(ctx, "segment")
	defer span.End()

	wavPath := opts.InputPath
	if !strings.EqualFold(filepath.Ext(wavPath), ".wav") {
		wavPath = filepath.Join(os.TempDir(), fmt.Sprintf("vocalis-%s.wav", uuid.NewString()))
		fmt.Fprintf(os.Stderr, "🎞️  Extracting audio from %s...\n", opts.InputPath)
		if err := utils.ExtractAudio(ctx, opts.InputPath, wavPath, extractRate); err != nil {
			return nil, err
		}
		defer os.Remove(wavPath)
	}

	pcm, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, err
	}
	periods, err := presence.LoadPeriods(opts.PeriodsPath, cfg.Presence.ClockRate)
	if err != nil {
		return nil, fmt.Errorf("failed to load presence periods: %w", err)
	}
	span.SetAttributes(attribute.Int("periods", len(periods)), attribute.Float64("audio.seconds", pcm.Duration()))
	fmt.Fprintf(os.Stderr, "📼 %.1fs of audio at %dHz, %d presence periods\n", pcm.Duration(), pcm.SampleRate, len(periods))

	pred, err := vad.NewEnergyPredicate(cfg.Audio.Aggressiveness)
	if err != nil {
		return nil, err
	}
	sink, err := pipeline.NewWAVSink(cfg.Output.Dir, cfg.Output.ClipPattern)
	if err != nil {
		return nil, err
	}
	metrics := observe.NewMetrics()

	bar := progressbar.NewOptions(len(periods),
		progressbar.OptionSetDescription("🎙️  Vocalis Segmenting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	runner, err := pipeline.NewRunner(pipeline.Options{
		Config:    cfg,
		Predicate: pred,
		Sink:      sink,
		Logger:    Logger,
		Metrics:   metrics,
		OnPeriod:  func(types.PresencePeriod) { bar.Add(1) },
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "⚙️  Segmenting with %d engine(s), aggressiveness %d\n", cfg.Run.Engines, cfg.Audio.Aggressiveness)
	res, runErr := runner.Run(ctx, pcm, periods)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if res == nil {
		return nil, runErr
	}

	status := store.StatusDone
	var pe *pipeline.PeriodError
	switch {
	case errors.As(runErr, &pe):
		status = store.StatusPartial
		utils.ShowError(fmt.Sprintf("Segmentation stopped at period %d, keeping earlier results", pe.PeriodID), runErr, nil)
	case runErr != nil:
		status = store.StatusFailed
	}

	for _, c := range res.Clips {
		fmt.Fprintf(os.Stderr, " Writing %s\n", c.Path)
	}

	if err := report.Save(cfg.Output.Report, res.Clips); err != nil {
		return res, fmt.Errorf("failed to write report: %w", err)
	}

	if recorder != nil {
		if err := persistRun(ctx, recorder, opts.InputPath, pcm, cfg, periods, res, status); err != nil {
			utils.ShowError("Failed to store run", err, nil)
		}
	}

	if opts.MetricsOut != "" {
		if err := metrics.WriteTextfile(opts.MetricsOut); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to write metrics: %v\n", err)
		}
	}

	fmt.Fprintf(os.Stderr, "🏁 Segmentation Complete. %d clips from %d periods (%d skipped, %d short runs discarded).\n",
		len(res.Clips), res.Processed, len(res.Skipped), len(res.Discards))
	fmt.Fprintf(os.Stderr, "📄 Report written to %s\n", cfg.Output.Report)
	fmt.Fprintf(os.Stderr, "⏱️  Cost %s to get clips.\n", time.Since(started).Round(time.Millisecond))
	return res, runErr
}

// persistRun stores the recording, the run settings, its periods and its clips.
func persistRun(ctx context.Context, rec runRecorder, inputPath string, pcm *audio.PCM, cfg *config.Config,
	periods []types.PresencePeriod, res *pipeline.Result, status string) error {
	recordingID, err := utils.GenerateRecordingID(inputPath)
	if err != nil {
		return fmt.Errorf("failed to generate recording ID: %w", err)
	}
	absPath, err := filepath.Abs(inputPath)
	if err != nil {
		absPath = inputPath
	}

	if err := rec.EnsureRecording(ctx, store.Recording{
		ID:         recordingID,
		Path:       absPath,
		SampleRate: pcm.SampleRate,
		Duration:   pcm.Duration(),
	}); err != nil {
		return fmt.Errorf("failed to register recording: %w", err)
	}

	runID, err := rec.CreateRun(ctx, recordingID, store.RunParams{
		FrameMs:        cfg.Audio.FrameMs,
		PaddingMs:      cfg.Audio.PaddingMs,
		MinSegment:     cfg.Audio.MinSegment.Seconds(),
		TriggerRatio:   cfg.Audio.TriggerRatio,
		Aggressiveness: cfg.Audio.Aggressiveness,
	})
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	if err := rec.InsertPeriods(ctx, runID, periods); err != nil {
		return fmt.Errorf("failed to store periods: %w", err)
	}
	if err := rec.InsertClips(ctx, runID, res.Clips); err != nil {
		return fmt.Errorf("failed to store clips: %w", err)
	}
	if err := rec.FinishRun(ctx, runID, status, len(res.Clips), len(res.Discards)); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "💾 Stored run %s for recording %s\n", runID, recordingID[:12])
	return nil
}
