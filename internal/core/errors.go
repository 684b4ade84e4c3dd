package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// Pipeline level failures.
var (
	// ErrNoAudioTrackFound indicates a container without an audio track.
	ErrNoAudioTrackFound = errors.New("no audio track found")
	// ErrStitchFailed indicates that the stitched output could not be produced.
	ErrStitchFailed = errors.New("stitch failed")
	// ErrCancelledByUser indicates the request was cancelled before completion.
	ErrCancelledByUser = errors.New("cancelled by user")
	// ErrPartialSynthesisFailure indicates that at least one chunk failed to synthesize.
	ErrPartialSynthesisFailure = errors.New("partial synthesis failure")
	// ErrEmptyInput indicates that the text contained nothing to synthesize.
	ErrEmptyInput = errors.New("input text contains no sentences")
	// ErrProviderIO marks provider failures caused by local file I/O.
	ErrProviderIO = errors.New("provider i/o failure")
	// ErrProviderRejected marks provider failures reported by the provider itself.
	ErrProviderRejected = errors.New("provider rejected request")
)

// ProviderErrorKind classifies a per-chunk synthesis failure.
type ProviderErrorKind int

const (
	// ProviderRejected is an error reported by the provider.
	ProviderRejected ProviderErrorKind = iota
	// ProviderTimeout is a call that exceeded its deadline.
	ProviderTimeout
	// ProviderIOFailure is a failure writing or reading the chunk's audio file.
	ProviderIOFailure
	// ProviderCancelled is a call that was cancelled or never dispatched.
	ProviderCancelled
)

func (k ProviderErrorKind) String() string {
	switch k {
	case ProviderRejected:
		return "rejected"
	case ProviderTimeout:
		return "timeout"
	case ProviderIOFailure:
		return "io_failure"
	case ProviderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProviderError is a classified failure of one chunk's synthesis.
type ProviderError struct {
	Index int
	Kind  ProviderErrorKind
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("chunk %d: provider %s: %v", e.Index, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ClassifyProviderError wraps err into a ProviderError for the given chunk.
// Errors that are already classified keep their kind.
func ClassifyProviderError(index int, err error) *ProviderError {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return &ProviderError{Index: index, Kind: providerErr.Kind, Err: providerErr.Err}
	}

	kind := ProviderRejected

	var pathErr *fs.PathError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ProviderTimeout
	case errors.Is(err, context.Canceled):
		kind = ProviderCancelled
	case errors.Is(err, ErrProviderIO), errors.As(err, &pathErr):
		kind = ProviderIOFailure
	}

	return &ProviderError{Index: index, Kind: kind, Err: err}
}

// StitchError carries the reason a stitch was abandoned.
type StitchError struct {
	Reason string
	Err    error
}

func (e *StitchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrStitchFailed, e.Reason)
	}

	return fmt.Sprintf("%v: %s: %v", ErrStitchFailed, e.Reason, e.Err)
}

// Is makes every StitchError match ErrStitchFailed.
func (e *StitchError) Is(target error) bool {
	return target == ErrStitchFailed
}

func (e *StitchError) Unwrap() error {
	return e.Err
}

// SynthesisFailure aggregates the chunk failures of one request.
type SynthesisFailure struct {
	Failed []*ProviderError
}

func (e *SynthesisFailure) Error() string {
	indexes := make([]string, 0, len(e.Failed))
	for _, failed := range e.Failed {
		indexes = append(indexes, strconv.Itoa(failed.Index))
	}

	return fmt.Sprintf("%v: %d chunk(s) failed [%s]",
		ErrPartialSynthesisFailure, len(e.Failed), strings.Join(indexes, ", "))
}

// Is makes every SynthesisFailure match ErrPartialSynthesisFailure.
func (e *SynthesisFailure) Is(target error) bool {
	return target == ErrPartialSynthesisFailure
}

// Unwrap exposes the individual chunk failures to errors.Is and errors.As.
func (e *SynthesisFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, failed := range e.Failed {
		errs = append(errs, failed)
	}

	return errs
}
