// Package orchestrator drives bounded-concurrency synthesis of text chunks.
// Every chunk yields exactly one result, in chunk order, whatever the order
// in which the provider calls complete.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers is the number of concurrent provider calls when unset.
	DefaultWorkers = 4

	logFmtChunkSynthesized = "Synthesized chunk %d (%d/%d)"
	logFmtChunkFailed      = "Failed to synthesize chunk %d (%s): %v"
	logFmtDispatchStopped  = "Stopped dispatching after %d of %d chunk(s): %v"
	logFmtDiscardFailed    = "Failed to remove partial chunk file '%s': %v"
)

// ErrNotDispatched is the cause reported for chunks that were never sent to
// the provider because the run was cancelled first.
var ErrNotDispatched = errors.New("chunk was not dispatched")

// Orchestrator fans chunk synthesis out to a SynthesisProvider.
type Orchestrator struct {
	provider core.SynthesisProvider
	workers  int
	timeout  time.Duration
	log      *logger.Logger
	metrics  *metrics.Metrics
	onResult func(core.ChunkResult)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds the number of concurrent provider calls.
func WithWorkers(workers int) Option {
	return func(o *Orchestrator) {
		if workers > 0 {
			o.workers = workers
		}
	}
}

// WithCallTimeout bounds every provider call. Zero disables the bound.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = timeout }
}

// WithMetrics records per-chunk outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithResultHook is called once per finished chunk. Calls are serialized.
func WithResultHook(hook func(core.ChunkResult)) Option {
	return func(o *Orchestrator) { o.onResult = hook }
}

// New creates an Orchestrator for provider.
func New(provider core.SynthesisProvider, log *logger.Logger, opts ...Option) *Orchestrator {
	orchestrator := &Orchestrator{
		provider: provider,
		workers:  DefaultWorkers,
		log:      log,
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// SynthesizeAll synthesizes every chunk and returns one result per chunk in
// input order. Failed chunks never stop the others. Cancelling ctx stops
// dispatch and cancels in-flight calls; chunks that never started report
// a ProviderCancelled error.
func (o *Orchestrator) SynthesizeAll(
	ctx context.Context,
	chunks []core.TextChunk,
	voice string,
	locator core.ChunkLocator,
) []core.ChunkResult {
	results := make([]core.ChunkResult, len(chunks))

	var (
		group     errgroup.Group
		mutex     sync.Mutex
		completed int
	)

	group.SetLimit(o.workers)

	finish := func(position int, result core.ChunkResult) {
		mutex.Lock()
		defer mutex.Unlock()

		results[position] = result
		completed++

		if result.Succeeded() {
			o.log.Info(logFmtChunkSynthesized, result.Index, completed, len(chunks))
		}

		if o.onResult != nil {
			o.onResult(result)
		}
	}

	dispatched := 0

	for position, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}

		dispatched++

		group.Go(func() error {
			finish(position, o.synthesize(ctx, chunk, voice, locator))

			return nil
		})
	}

	_ = group.Wait()

	if dispatched < len(chunks) {
		o.log.Warn(logFmtDispatchStopped, dispatched, len(chunks), context.Cause(ctx))

		for position := dispatched; position < len(chunks); position++ {
			finish(position, notDispatched(ctx, chunks[position].Index))
		}
	}

	return results
}

func (o *Orchestrator) synthesize(
	ctx context.Context,
	chunk core.TextChunk,
	voice string,
	locator core.ChunkLocator,
) core.ChunkResult {
	// A slot may free up only after the run was cancelled.
	if ctx.Err() != nil {
		return notDispatched(ctx, chunk.Index)
	}

	started := time.Now()

	path, err := o.call(ctx, chunk, voice, locator)
	elapsed := time.Since(started)

	if err != nil {
		providerErr := core.ClassifyProviderError(chunk.Index, err)
		o.metrics.ObserveChunk(providerErr.Kind.String(), elapsed)
		o.log.Error(logFmtChunkFailed, chunk.Index, providerErr.Kind, providerErr.Err)

		return core.ChunkResult{Index: chunk.Index, Err: providerErr}
	}

	o.metrics.ObserveChunk(metrics.StatusSuccess, elapsed)

	return core.ChunkResult{Index: chunk.Index, AudioPath: path}
}

func (o *Orchestrator) call(
	ctx context.Context,
	chunk core.TextChunk,
	voice string,
	locator core.ChunkLocator,
) (string, error) {
	path, err := locator.ChunkLocation(chunk.Index)
	if err != nil {
		return "", fmt.Errorf("%w: no location for chunk: %w", core.ErrProviderIO, err)
	}

	callCtx := ctx

	if o.timeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	synthErr := o.provider.Synthesize(callCtx, core.SynthesisCall{
		Text:           chunk.Content,
		ReferenceVoice: voice,
		OutputPath:     path,
	})
	if synthErr != nil {
		o.discard(path)

		if callCtx.Err() != nil && !errors.Is(synthErr, callCtx.Err()) {
			synthErr = fmt.Errorf("%w: %w", callCtx.Err(), synthErr)
		}

		return "", synthErr
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return "", fmt.Errorf("%w: provider reported success without output: %w", core.ErrProviderIO, statErr)
	}

	if info.Size() == 0 {
		o.discard(path)

		return "", fmt.Errorf("%w: provider wrote an empty file %s", core.ErrProviderIO, path)
	}

	return path, nil
}

func notDispatched(ctx context.Context, index int) core.ChunkResult {
	return core.ChunkResult{
		Index: index,
		Err: &core.ProviderError{
			Index: index,
			Kind:  core.ProviderCancelled,
			Err:   fmt.Errorf("%w: %w", ErrNotDispatched, context.Cause(ctx)),
		},
	}
}

// discard removes a partial chunk file left behind by a failed call.
func (o *Orchestrator) discard(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		o.log.Warn(logFmtDiscardFailed, path, err)
	}
}
