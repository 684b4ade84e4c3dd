package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMaxChunkLength indicates a non-positive chunk length limit.
var ErrInvalidMaxChunkLength = errors.New("max chunk length must be positive")

// SynthesisRequest is the immutable input of a pipeline run.
type SynthesisRequest struct {
	text           string
	referenceVoice string
	maxChunkLength int
}

// NewSynthesisRequest validates and builds a SynthesisRequest. The reference
// voice is optional and may be empty.
func NewSynthesisRequest(text, referenceVoice string, maxChunkLength int) (SynthesisRequest, error) {
	if maxChunkLength <= 0 {
		return SynthesisRequest{}, fmt.Errorf("%w: got %d", ErrInvalidMaxChunkLength, maxChunkLength)
	}

	return SynthesisRequest{
		text:           text,
		referenceVoice: referenceVoice,
		maxChunkLength: maxChunkLength,
	}, nil
}

// Text returns the input text.
func (r SynthesisRequest) Text() string { return r.text }

// ReferenceVoice returns the path of the reference voice sample, or "".
func (r SynthesisRequest) ReferenceVoice() string { return r.referenceVoice }

// MaxChunkLength returns the chunk length limit in runes.
func (r SynthesisRequest) MaxChunkLength() int { return r.maxChunkLength }

// TextChunk is a bounded unit of text sent to one synthesis call.
type TextChunk struct {
	Index   int
	Content string
	IsFinal bool
}

// ChunkResult is the outcome of synthesizing one chunk. Exactly one of
// AudioPath and Err is set.
type ChunkResult struct {
	Index     int
	AudioPath string
	Err       error
}

// Succeeded reports whether the chunk produced audio.
func (r ChunkResult) Succeeded() bool {
	return r.Err == nil && r.AudioPath != ""
}

// GeneratedArtifact is the terminal product of a successful run. Its file is
// owned by the Storage layer once returned.
type GeneratedArtifact struct {
	OutputPath    string
	TotalDuration time.Duration
	ChunkCount    int
	SkippedChunks []int
}
