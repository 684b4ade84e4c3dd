// Package pipeline coordinates one synthesis request from text to a single
// audio artifact: chunking, concurrent synthesis and stitching.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/chunker"
	"github.com/book-expert/voice-service/internal/container"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/metrics"
	"github.com/book-expert/voice-service/internal/orchestrator"
	"github.com/book-expert/voice-service/internal/stitch"
	"github.com/google/uuid"
)

const (
	outputExtension    = "wav"
	outputPermissions  = 0o600
	logFmtStateChanged = "Job %s: %s -> %s"
	logFmtJobChunked   = "Job %s: %d chunk(s) from %d character(s)"
	logFmtJobSkipped   = "Job %s: skipping %d failed chunk(s) %v"
	logFmtJobDone      = "Job %s: produced %s (%s, %d chunk(s))"
	logFmtJobAborted   = "Job %s aborted: %v"
	logFmtCleanup      = "Job %s: failed to remove workspace: %v"
)

// Controller errors.
var (
	ErrControllerReused  = errors.New("controller already ran; create a new one per request")
	ErrMissingDependency = errors.New("missing pipeline dependency")
)

// Deps are the collaborators of a Controller.
type Deps struct {
	Provider core.SynthesisProvider
	Storage  core.Storage
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithProgress registers a progress callback. It is invoked from the
// goroutine running the controller and from synthesis workers, one call at
// a time.
func WithProgress(report func(Progress)) Option {
	return func(c *Controller) { c.report = report }
}

// WithPolicy sets the failure policy.
func WithPolicy(policy Policy) Option {
	return func(c *Controller) { c.policy = policy }
}

// WithWorkers bounds concurrent provider calls.
func WithWorkers(workers int) Option {
	return func(c *Controller) { c.workers = workers }
}

// WithCallTimeout bounds each provider call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Controller) { c.callTimeout = timeout }
}

// WithJobTimeout bounds the whole run. Exceeding it aborts the run as
// cancelled.
func WithJobTimeout(timeout time.Duration) Option {
	return func(c *Controller) { c.jobTimeout = timeout }
}

// WithNormalizer rewrites the text before chunking.
func WithNormalizer(normalizer *chunker.Normalizer) Option {
	return func(c *Controller) { c.normalizer = normalizer }
}

// WithJobID names the run in logs and in its scratch workspace.
func WithJobID(jobID string) Option {
	return func(c *Controller) { c.jobID = jobID }
}

// Controller runs exactly one request through the pipeline.
type Controller struct {
	deps        Deps
	stitcher    *stitch.Stitcher
	normalizer  *chunker.Normalizer
	report      func(Progress)
	policy      Policy
	workers     int
	callTimeout time.Duration
	jobTimeout  time.Duration
	jobID       string
	started     atomic.Bool
	reportMu    sync.Mutex

	mutex     sync.Mutex
	state     State
	completed int
	total     int
	outcome   Outcome
}

// New creates a Controller in the Idle state.
func New(deps Deps, opts ...Option) (*Controller, error) {
	if deps.Provider == nil || deps.Storage == nil || deps.Log == nil {
		return nil, fmt.Errorf("%w: provider, storage and logger are required", ErrMissingDependency)
	}

	controller := &Controller{
		deps:    deps,
		workers: orchestrator.DefaultWorkers,
		jobID:   uuid.NewString(),
		state:   StateIdle,
	}

	for _, opt := range opts {
		opt(controller)
	}

	controller.stitcher = stitch.New(deps.Log)

	controller.outcome.State = StateIdle

	return controller, nil
}

// JobID returns the identifier of this run.
func (c *Controller) JobID() string {
	return c.jobID
}

// State returns the current state.
func (c *Controller) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.state
}

// Outcome returns the terminal result, or the current state while running.
func (c *Controller) Outcome() Outcome {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.outcome
}

// Run drives req to a terminal state and returns the produced artifact. It
// may be called once per Controller.
func (c *Controller) Run(ctx context.Context, req core.SynthesisRequest) (core.GeneratedArtifact, error) {
	if !c.started.CompareAndSwap(false, true) {
		return core.GeneratedArtifact{}, ErrControllerReused
	}

	if c.jobTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.jobTimeout)
		defer cancel()
	}

	started := time.Now()

	c.deps.Metrics.JobStarted()

	artifact, err := c.run(ctx, req)
	if err != nil {
		c.abort(err)
		c.deps.Metrics.JobFinished(c.Outcome().Reason(), time.Since(started))

		return core.GeneratedArtifact{}, err
	}

	c.finish(artifact)
	c.deps.Metrics.JobFinished(metrics.StatusSuccess, time.Since(started))

	return artifact, nil
}

func (c *Controller) run(ctx context.Context, req core.SynthesisRequest) (core.GeneratedArtifact, error) {
	c.transition(StateChunking)

	text := req.Text()
	if c.normalizer != nil {
		text = c.normalizer.Normalize(text)
	}

	chunks, err := chunker.Chunk(text, req.MaxChunkLength())
	if err != nil {
		return core.GeneratedArtifact{}, err
	}

	if len(chunks) == 0 {
		return core.GeneratedArtifact{}, core.ErrEmptyInput
	}

	c.deps.Log.Info(logFmtJobChunked, c.jobID, len(chunks), len([]rune(text)))

	if ctx.Err() != nil {
		return core.GeneratedArtifact{}, cancelled(ctx)
	}

	workspace, err := c.deps.Storage.NewWorkspace(c.jobID)
	if err != nil {
		return core.GeneratedArtifact{}, fmt.Errorf("failed to create workspace: %w", err)
	}

	defer func() {
		removeErr := workspace.Remove()
		if removeErr != nil {
			c.deps.Log.Warn(logFmtCleanup, c.jobID, removeErr)
		}
	}()

	paths, skipped, err := c.synthesize(ctx, chunks, req.ReferenceVoice(), workspace)
	if err != nil {
		return core.GeneratedArtifact{}, err
	}

	output, err := c.deps.Storage.NewGeneratedLocation(outputExtension)
	if err != nil {
		return core.GeneratedArtifact{}, fmt.Errorf("failed to allocate output location: %w", err)
	}

	var duration time.Duration

	if len(paths) == 1 {
		duration, err = c.adopt(paths[0], output)
	} else {
		duration, err = c.stitch(ctx, paths, output)
	}

	if err != nil {
		return core.GeneratedArtifact{}, err
	}

	return core.GeneratedArtifact{
		OutputPath:    output,
		TotalDuration: duration,
		ChunkCount:    len(chunks),
		SkippedChunks: skipped,
	}, nil
}

func (c *Controller) synthesize(
	ctx context.Context,
	chunks []core.TextChunk,
	voice string,
	workspace core.Workspace,
) ([]string, []int, error) {
	c.mutex.Lock()
	c.total = len(chunks)
	c.mutex.Unlock()

	c.transition(StateSynthesizing)

	results := orchestrator.New(c.deps.Provider, c.deps.Log,
		orchestrator.WithWorkers(c.workers),
		orchestrator.WithCallTimeout(c.callTimeout),
		orchestrator.WithMetrics(c.deps.Metrics),
		orchestrator.WithResultHook(c.chunkFinished),
	).SynthesizeAll(ctx, chunks, voice, workspace)

	if ctx.Err() != nil {
		return nil, nil, cancelled(ctx)
	}

	var (
		paths  []string
		failed []*core.ProviderError
	)

	for _, result := range results {
		if result.Succeeded() {
			paths = append(paths, result.AudioPath)

			continue
		}

		failed = append(failed, core.ClassifyProviderError(result.Index, result.Err))
	}

	if len(failed) == 0 {
		return paths, nil, nil
	}

	if c.policy == FailFast || len(paths) == 0 {
		return nil, nil, &core.SynthesisFailure{Failed: failed}
	}

	skipped := make([]int, 0, len(failed))
	for _, failure := range failed {
		skipped = append(skipped, failure.Index)
	}

	c.deps.Log.Warn(logFmtJobSkipped, c.jobID, len(skipped), skipped)

	return paths, skipped, nil
}

func (c *Controller) stitch(ctx context.Context, paths []string, output string) (time.Duration, error) {
	c.transition(StateStitching)

	started := time.Now()

	result, err := c.stitcher.Stitch(ctx, paths, output)
	if err != nil {
		return 0, err
	}

	c.deps.Metrics.ObserveStitch(time.Since(started), result.Duration)

	return result.Duration, nil
}

// adopt moves the only chunk file to the output location.
func (c *Controller) adopt(path, output string) (time.Duration, error) {
	_, duration, err := container.Probe(path)
	if err != nil {
		return 0, &core.StitchError{Reason: "single chunk is not a readable audio container", Err: err}
	}

	moveErr := moveFile(path, output)
	if moveErr != nil {
		return 0, &core.StitchError{Reason: "move single chunk", Err: moveErr}
	}

	c.deps.Metrics.ObserveArtifact(duration)

	return duration, nil
}

func (c *Controller) chunkFinished(core.ChunkResult) {
	c.mutex.Lock()
	c.completed++
	progress := Progress{State: c.state, Completed: c.completed, Total: c.total}
	c.mutex.Unlock()

	c.emit(progress)
}

func (c *Controller) transition(next State) {
	c.settle(Outcome{State: next})
}

// settle moves to outcome.State and publishes outcome in one step.
func (c *Controller) settle(outcome Outcome) {
	c.mutex.Lock()
	previous := c.state
	c.state = outcome.State
	c.outcome = outcome
	progress := Progress{State: outcome.State, Completed: c.completed, Total: c.total}
	c.mutex.Unlock()

	c.deps.Log.Info(logFmtStateChanged, c.jobID, previous, outcome.State)
	c.emit(progress)
}

func (c *Controller) abort(reason error) {
	c.settle(Outcome{State: StateAborted, Err: reason})
	c.deps.Log.Error(logFmtJobAborted, c.jobID, reason)
}

func (c *Controller) finish(artifact core.GeneratedArtifact) {
	c.settle(Outcome{State: StateDone, Artifact: &artifact})
	c.deps.Log.Info(logFmtJobDone, c.jobID, artifact.OutputPath, artifact.TotalDuration, artifact.ChunkCount)
}

func (c *Controller) emit(progress Progress) {
	if c.report == nil {
		return
	}

	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	c.report(progress)
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", core.ErrCancelledByUser, context.Cause(ctx))
}

// moveFile renames src to dst, copying when the rename crosses devices. dst
// must not exist.
func moveFile(src, dst string) error {
	_, statErr := os.Lstat(dst)
	if statErr == nil {
		return fmt.Errorf("%s: %w", dst, os.ErrExist)
	}

	renameErr := os.Rename(src, dst)
	if renameErr == nil {
		return nil
	}

	copyErr := copyFile(src, dst)
	if copyErr != nil {
		return errors.Join(renameErr, copyErr)
	}

	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}

	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, outputPermissions)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		return errors.Join(copyErr, closeErr, os.Remove(dst))
	}

	return nil
}
