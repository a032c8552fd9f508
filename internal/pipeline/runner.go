// Package pipeline runs voice activity segmentation over every presence period
// of a recording and maps the resulting segments onto the recording timeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/vocalis/internal/audio"
	"github.com/andresmejia3/vocalis/internal/config"
	"github.com/andresmejia3/vocalis/internal/observe"
	"github.com/andresmejia3/vocalis/internal/types"
	"github.com/andresmejia3/vocalis/internal/vad"
)

// PeriodError reports the period a run stopped on.
type PeriodError struct {
	PeriodID int
	Err      error
}

func (e *PeriodError) Error() string {
	return fmt.Sprintf("period %d: %v", e.PeriodID, e.Err)
}

func (e *PeriodError) Unwrap() error { return e.Err }

// Result accumulates the output of a run in period order, then arrival order.
type Result struct {
	Clips    []types.Clip
	Discards []vad.ShortRunError
	// Skipped lists periods too short to hold a segment, or outside the audio.
	Skipped []types.PresencePeriod
	// Processed counts periods that went through the collector.
	Processed int
}

// Options configures a Runner.
type Options struct {
	Config    *config.Config
	Predicate vad.Predicate
	// Sink, when set, receives the audio of every clip.
	Sink    ClipSink
	Logger  *slog.Logger
	Metrics *observe.Metrics
	// OnPeriod, when set, is called after each period finishes, successfully or not.
	OnPeriod func(types.PresencePeriod)
}

// Runner segments presence periods. It is safe to call Run more than once.
type Runner struct {
	opts Options
	log  *slog.Logger
}

// NewRunner validates opts.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if err := opts.Config.Audio.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.Predicate == nil {
		return nil, errors.New("pipeline: predicate is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{opts: opts, log: log}, nil
}

type periodResult struct {
	done     bool
	skipped  bool
	clips    []types.Clip
	discards []vad.ShortRunError
}

// Run segments every period of pcm. Periods are processed by up to
// Config.Run.Engines goroutines but results always come back in period order.
// When a period fails the returned Result holds every period before it and
// the error is a *PeriodError.
func (r *Runner) Run(ctx context.Context, pcm *audio.PCM, periods []types.PresencePeriod) (*Result, error) {
	if pcm == nil {
		return nil, errors.New("pipeline: no audio")
	}
	if !config.IsSupportedSampleRate(pcm.SampleRate) {
		return nil, &audio.InputFormatError{Field: "sample_rate", Got: pcm.SampleRate}
	}

	results := make([]periodResult, len(periods))
	var runErr error

	engines := 1
	if r.opts.Config.Run.Engines > 1 {
		engines = r.opts.Config.Run.Engines
	}

	if engines == 1 {
		for i, p := range periods {
			res, err := r.runPeriod(ctx, pcm, p)
			if err != nil {
				runErr = err
				break
			}
			results[i] = res
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(engines)
		for i, p := range periods {
			g.Go(func() error {
				res, err := r.runPeriod(gctx, pcm, p)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		runErr = g.Wait()
	}

	out := &Result{}
	for i, res := range results {
		if !res.done {
			break
		}
		if res.skipped {
			out.Skipped = append(out.Skipped, periods[i])
			continue
		}
		out.Processed++
		out.Clips = append(out.Clips, res.clips...)
		out.Discards = append(out.Discards, res.discards...)
	}
	return out, runErr
}

func (r *Runner) runPeriod(ctx context.Context, pcm *audio.PCM, p types.PresencePeriod) (res periodResult, err error) {
	if err := ctx.Err(); err != nil {
		return res, &PeriodError{PeriodID: p.ID, Err: err}
	}

	ctx, span := observe.StartSpan(ctx, "segment.period")
	span.SetAttributes(
		attribute.Int("period.id", p.ID),
		attribute.Float64("period.start", p.Start),
		attribute.Float64("period.end", p.End),
	)
	started := time.Now()
	log := r.log.With("period", p.ID)

	defer func() {
		outcome := observe.OutcomeProcessed
		switch {
		case err != nil:
			outcome = observe.OutcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.skipped:
			outcome = observe.OutcomeSkipped
		}
		span.SetAttributes(attribute.Int("clips", len(res.clips)))
		span.End()
		if r.opts.Metrics != nil {
			r.opts.Metrics.PeriodDone(outcome, time.Since(started))
		}
		if r.opts.OnPeriod != nil {
			r.opts.OnPeriod(p)
		}
	}()

	cfg := r.opts.Config.Audio
	minDuration := cfg.MinSegment.Seconds()

	// A segment never outlasts its period
	if p.Duration() < minDuration {
		log.Info("skipping short period", "start", p.Start, "end", p.End, "min", minDuration)
		return periodResult{done: true, skipped: true}, nil
	}
	local := audio.SlicePeriod(pcm.Data, pcm.SampleRate, p.Start, p.End)
	if len(local) == 0 {
		log.Warn("period lies outside the audio", "start", p.Start, "end", p.End, "audio", pcm.Duration())
		return periodResult{done: true, skipped: true}, nil
	}

	slicer, err := audio.NewSlicer(local, pcm.SampleRate, cfg.FrameMs)
	if err != nil {
		return res, &PeriodError{PeriodID: p.ID, Err: err}
	}

	opts := vad.Options{
		PeriodID:      p.ID,
		SampleRate:    pcm.SampleRate,
		PaddingFrames: cfg.PaddingFrames(),
		TriggerRatio:  cfg.TriggerRatio,
		MinDuration:   minDuration,
		Logger:        r.log,
	}
	if r.opts.Metrics != nil {
		opts.Observer = r.opts.Metrics
	}
	collector := vad.NewCollector(opts, r.opts.Predicate, slicer.Frames())

	for {
		seg, ok, err := collector.Next()
		if err != nil {
			return res, &PeriodError{PeriodID: p.ID, Err: err}
		}
		if !ok {
			break
		}

		clip := MapSegment(seg, p)
		clip.Index = len(res.clips)
		if r.opts.Sink != nil {
			path, err := r.opts.Sink.WriteClip(clip, seg.PCM, pcm.SampleRate)
			if err != nil {
				return res, &PeriodError{PeriodID: p.ID, Err: err}
			}
			clip.Path = path
			if r.opts.Metrics != nil {
				r.opts.Metrics.ClipWritten()
			}
		}
		log.Debug("clip emitted", "index", clip.Index, "start", clip.AbsoluteStart, "end", clip.AbsoluteEnd)
		res.clips = append(res.clips, clip)

		if err := ctx.Err(); err != nil {
			return res, &PeriodError{PeriodID: p.ID, Err: err}
		}
	}

	res.discards = collector.Discards()
	res.done = true
	log.Info("period segmented", "clips", len(res.clips), "discarded", len(res.discards), "took", time.Since(started))
	return res, nil
}
