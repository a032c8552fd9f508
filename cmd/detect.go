package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/vocalis/internal/presence"
	"github.com/andresmejia3/vocalis/internal/utils"
	"github.com/andresmejia3/vocalis/internal/worker"
)

// DetectOptions holds the flags of the detect command.
type DetectOptions struct {
	FramesDir   string
	VideoPath   string
	Reference   string
	Output      string
	Stride      int
	Threshold   float64
	Worker      string
	DebugWorker bool
}

var detectOpts DetectOptions

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Find the presence periods of a reference face",
	Long: "Samples frames (a directory of <prefix>_<index> images or a video decoded through ffmpeg), " +
		"matches every face against the reference face and writes the merged presence periods.",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := detectOpts
		if err := applyDetectFlags(cmd, &opts); err != nil {
			return err
		}
		return runDetect(cmd, opts)
	},
}

func init() {
	d := detectCmd.Flags()
	d.StringVarP(&detectOpts.FramesDir, "frames", "f", "", "Directory of sampled frames named <prefix>_<index>.<ext>")
	d.StringVarP(&detectOpts.VideoPath, "video", "i", "", "Video to sample directly through ffmpeg (instead of --frames)")
	d.StringVarP(&detectOpts.Reference, "reference", "r", "", "Image holding the face to look for")
	d.StringVarP(&detectOpts.Output, "output", "o", "face_period.txt", "Where to write the presence periods")
	d.IntVarP(&detectOpts.Stride, "stride", "n", 15, "Clock units between two sampled frames")
	d.Float64VarP(&detectOpts.Threshold, "threshold", "t", 0.09, "Face distance threshold (lower is stricter)")
	d.StringVar(&detectOpts.Worker, "worker", strings.Join(worker.DefaultCommand, " "), "Command that starts the face feature worker")
	d.BoolVar(&detectOpts.DebugWorker, "debug-worker", false, "Ask the worker to log every request")

	detectCmd.MarkFlagRequired("reference")
	detectCmd.MarkFlagsMutuallyExclusive("frames", "video")
	detectCmd.MarkFlagsOneRequired("frames", "video")
	rootCmd.AddCommand(detectCmd)
}

// applyDetectFlags fills unset flags from the loaded configuration and validates the result.
func applyDetectFlags(cmd *cobra.Command, opts *DetectOptions) error {
	if !cmd.Flags().Changed("stride") {
		opts.Stride = Cfg.Presence.Stride
	}
	if !cmd.Flags().Changed("threshold") {
		opts.Threshold = Cfg.Presence.MatchThreshold
	}
	if opts.Stride <= 0 {
		return fmt.Errorf("--stride must be positive, got %d", opts.Stride)
	}
	if opts.Threshold <= 0 {
		return fmt.Errorf("--threshold must be positive, got %f", opts.Threshold)
	}
	if len(strings.Fields(opts.Worker)) == 0 {
		return errors.New("--worker cannot be empty")
	}
	return nil
}

// runDetect orchestrates the detection: worker startup, reference encoding, frame scan, period reduction.
func runDetect(cmd *cobra.Command, opts DetectOptions) error {
	ctx := cmd.Context()

	fmt.Fprintf(os.Stderr, "⚙️  Spawning face worker...\n")
	fw, err := worker.NewFaceWorker(ctx, 0, worker.Config{
		Command: strings.Fields(opts.Worker),
		Debug:   opts.DebugWorker,
	})
	if err != nil {
		return fmt.Errorf("worker startup failed: %w", err)
	}
	defer fw.Close()

	ref, err := presence.ReferenceVector(fw, opts.Reference)
	if err != nil {
		// DRAIN: Wait for process to exit and capture final stderr logs
		fw.Close()
		utils.ShowError("Reference face could not be encoded", err, fw.Cmd)
		return err
	}

	scan := presence.ScanOptions{
		Dir:       opts.FramesDir,
		Reference: ref,
		Stride:    opts.Stride,
		Threshold: opts.Threshold,
		Logger:    Logger,
	}

	var bar *progressbar.ProgressBar
	var ffmpeg *utils.SafeCommand

	if opts.VideoPath != "" {
		fps := int(Cfg.Presence.ClockRate)
		total := utils.EstimateFrames(opts.VideoPath, fps)
		if total <= 0 {
			// Fallback to a spinner if ffprobe fails
			total = -1
		}
		bar = newDetectBar(total)

		ffmpeg = utils.NewFFmpegCmd(ctx, opts.VideoPath, fps)
		out, err := ffmpeg.StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
		}
		if err := ffmpeg.Start(); err != nil {
			return fmt.Errorf("failed to start FFmpeg: %w", err)
		}
		src := presence.NewStreamSource(out, opts.Stride)
		src.OnFrame = func() { bar.Add(1) }
		scan.Source = src
	} else {
		dir, err := presence.NewDirSource(opts.FramesDir, opts.Stride, Logger)
		if err != nil {
			return fmt.Errorf("failed to list frames: %w", err)
		}
		bar = newDetectBar(dir.Len())
		scan.Source = dir
		scan.Progress = func() { bar.Add(1) }
	}

	samples, err := presence.Scan(ctx, scan, fw)
	if ffmpeg != nil {
		if err != nil {
			// Nobody drains the pipe anymore
			ffmpeg.Process.Kill()
		}
		if waitErr := ffmpeg.Wait(); waitErr != nil && err == nil {
			utils.ShowError("FFmpeg execution failed", waitErr, ffmpeg)
			return waitErr
		}
	}
	if err != nil {
		fw.Close()
		utils.ShowError("Detection scan failed", err, fw.Cmd)
		return err
	}
	bar.Finish()

	spans, err := presence.Reduce(samples, opts.Stride)
	if errors.Is(err, presence.ErrEmptyDetection) {
		return fmt.Errorf("the reference face never appears: %w", err)
	}
	if err != nil {
		return err
	}

	if err := presence.SaveSpans(opts.Output, spans); err != nil {
		return fmt.Errorf("failed to write presence periods: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Detection Complete. %d matching frames merged into %d presence periods.\n", len(samples), len(spans))
	for i, p := range presence.ToPeriods(spans, Cfg.Presence.ClockRate) {
		fmt.Fprintf(os.Stderr, "   %d: %.2fs - %.2fs\n", i, p.Start, p.End)
	}
	fmt.Fprintf(os.Stderr, "📄 Periods written to %s\n", opts.Output)
	return nil
}

func newDetectBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 Vocalis Detecting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
}
