// Package stitch concatenates single-track audio containers into one
// container on a continuous timeline.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/container"
	"github.com/book-expert/voice-service/internal/core"
)

// Stitch errors.
var (
	ErrNoInputs       = errors.New("no input files")
	ErrFormatMismatch = errors.New("input formats differ")
	ErrTrackTruncated = errors.New("track ended before its declared duration")
	ErrTrackOverrun   = errors.New("track ran past its declared duration")
)

const (
	logFmtStitchStarted  = "Stitching %d file(s) into %s"
	logFmtStitchFinished = "Stitched %s (%s, %d file(s))"
	logFmtStitchAborted  = "Stitch of %s aborted: %v"
)

// PlanEntry places one input on the output timeline. Offset and Duration
// are in frames of the plan format.
type PlanEntry struct {
	Path     string
	Offset   int64
	Duration int64
}

// Plan is the ordered layout of the output timeline.
type Plan struct {
	Entries []PlanEntry
	Format  container.Format
}

// TotalFrames is the length of the output track in frames.
func (p Plan) TotalFrames() int64 {
	if len(p.Entries) == 0 {
		return 0
	}

	last := p.Entries[len(p.Entries)-1]

	return last.Offset + last.Duration
}

// Duration is the length of the output track.
func (p Plan) Duration() time.Duration {
	return p.Format.Time(p.TotalFrames())
}

// Result describes a finished stitch.
type Result struct {
	OutputPath string
	Duration   time.Duration
	Plan       Plan
}

// Stitcher copies audio samples from ordered inputs into one output.
type Stitcher struct {
	open   container.OpenFunc
	create container.CreateFunc
	log    *logger.Logger
}

// Option configures a Stitcher.
type Option func(*Stitcher)

// WithDemuxer replaces the container reader factory.
func WithDemuxer(open container.OpenFunc) Option {
	return func(s *Stitcher) { s.open = open }
}

// WithMuxer replaces the container writer factory.
func WithMuxer(create container.CreateFunc) Option {
	return func(s *Stitcher) { s.create = create }
}

// New creates a Stitcher reading and writing WAV unless overridden.
func New(log *logger.Logger, opts ...Option) *Stitcher {
	stitcher := &Stitcher{
		open:   container.OpenWAV,
		create: container.CreateWAV,
		log:    log,
	}

	for _, opt := range opts {
		opt(stitcher)
	}

	return stitcher
}

// Plan opens every input, selects its first audio track and lays the tracks
// end to end. All inputs must share one format.
func (s *Stitcher) Plan(paths []string) (Plan, error) {
	if len(paths) == 0 {
		return Plan{}, &core.StitchError{Reason: "plan", Err: ErrNoInputs}
	}

	plan := Plan{Entries: make([]PlanEntry, 0, len(paths))}

	var offset int64

	for index, path := range paths {
		track, err := s.inspect(path)
		if err != nil {
			return Plan{}, &core.StitchError{Reason: fmt.Sprintf("plan input %d", index), Err: err}
		}

		if index == 0 {
			plan.Format = track.Format
		} else if track.Format != plan.Format {
			return Plan{}, &core.StitchError{
				Reason: fmt.Sprintf("plan input %d", index),
				Err:    fmt.Errorf("%w: %s has %s, expected %s", ErrFormatMismatch, path, track.Format, plan.Format),
			}
		}

		plan.Entries = append(plan.Entries, PlanEntry{Path: path, Offset: offset, Duration: track.Duration})
		offset += track.Duration
	}

	return plan, nil
}

func (s *Stitcher) inspect(path string) (container.Track, error) {
	demuxer, err := s.open(path)
	if err != nil {
		return container.Track{}, err
	}

	track, trackErr := container.FirstAudioTrack(demuxer)
	closeErr := demuxer.Close()

	if trackErr != nil {
		return container.Track{}, fmt.Errorf("%s: %w", path, trackErr)
	}

	if closeErr != nil {
		return container.Track{}, closeErr
	}

	return track, nil
}

// Stitch writes the inputs, in order, into a new container at outputPath.
// Each sample's timestamp is rebased by the total duration of the inputs
// before it. On any failure or cancellation the output file is removed.
func (s *Stitcher) Stitch(ctx context.Context, paths []string, outputPath string) (Result, error) {
	plan, err := s.Plan(paths)
	if err != nil {
		return Result{}, err
	}

	return s.Execute(ctx, plan, outputPath)
}

// Execute performs the copy pass of a plan.
func (s *Stitcher) Execute(ctx context.Context, plan Plan, outputPath string) (Result, error) {
	if len(plan.Entries) == 0 {
		return Result{}, &core.StitchError{Reason: "execute", Err: ErrNoInputs}
	}

	s.log.Info(logFmtStitchStarted, len(plan.Entries), outputPath)

	muxer, err := s.create(outputPath)
	if err != nil {
		return Result{}, &core.StitchError{Reason: "create output", Err: err}
	}

	copyErr := s.copyAll(ctx, plan, muxer)
	if copyErr != nil {
		abortErr := muxer.Abort()
		if abortErr != nil {
			s.log.Warn("Failed to discard partial output '%s': %v", outputPath, abortErr)
		}

		s.log.Warn(logFmtStitchAborted, outputPath, copyErr)

		return Result{}, copyErr
	}

	finishErr := muxer.Finish()
	if finishErr != nil {
		return Result{}, &core.StitchError{Reason: "finish output", Err: finishErr}
	}

	s.log.Info(logFmtStitchFinished, outputPath, plan.Duration(), len(plan.Entries))

	return Result{OutputPath: outputPath, Duration: plan.Duration(), Plan: plan}, nil
}

func (s *Stitcher) copyAll(ctx context.Context, plan Plan, muxer container.Muxer) error {
	outputTrack := -1

	for index, entry := range plan.Entries {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}

		demuxer, err := s.open(entry.Path)
		if err != nil {
			return &core.StitchError{Reason: fmt.Sprintf("open input %d", index), Err: err}
		}

		copyErr := s.copyTrack(ctx, demuxer, muxer, entry, plan.Format, &outputTrack)
		closeErr := demuxer.Close()

		if copyErr != nil {
			if errors.Is(copyErr, core.ErrCancelledByUser) {
				return copyErr
			}

			return &core.StitchError{Reason: fmt.Sprintf("copy input %d", index), Err: copyErr}
		}

		if closeErr != nil {
			return &core.StitchError{Reason: fmt.Sprintf("close input %d", index), Err: closeErr}
		}
	}

	return nil
}

func (s *Stitcher) copyTrack(
	ctx context.Context,
	demuxer container.Demuxer,
	muxer container.Muxer,
	entry PlanEntry,
	format container.Format,
	outputTrack *int,
) error {
	track, err := container.FirstAudioTrack(demuxer)
	if err != nil {
		return fmt.Errorf("%s: %w", entry.Path, err)
	}

	if track.Format != format {
		return fmt.Errorf("%w: %s changed to %s", ErrFormatMismatch, entry.Path, track.Format)
	}

	selectErr := demuxer.SelectTrack(track.Index)
	if selectErr != nil {
		return selectErr
	}

	// The output track is registered once, on first use.
	if *outputTrack < 0 {
		added, addErr := muxer.AddTrack(format)
		if addErr != nil {
			return addErr
		}

		*outputTrack = added
	}

	var copied int64

	for {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}

		sample, readErr := demuxer.ReadSample()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return readErr
		}

		frames := sample.FrameCount(format.Channels)
		if sample.PTS+frames > entry.Duration {
			return fmt.Errorf("%w: %s at pts %d", ErrTrackOverrun, entry.Path, sample.PTS)
		}

		sample.PTS += entry.Offset

		writeErr := muxer.WriteSample(*outputTrack, sample)
		if writeErr != nil {
			return writeErr
		}

		copied += frames
	}

	if copied != entry.Duration {
		return fmt.Errorf("%w: %s has %d of %d frames", ErrTrackTruncated, entry.Path, copied, entry.Duration)
	}

	return nil
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", core.ErrCancelledByUser, context.Cause(ctx))
}
