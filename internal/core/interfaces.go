// Package core defines the shared types, contracts and error taxonomy of the
// voice synthesis pipeline.
package core

import (
	"context"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SynthesisCall is a single request to a SynthesisProvider. The provider must
// write a single-track audio container to OutputPath on success.
type SynthesisCall struct {
	Text           string
	ReferenceVoice string
	OutputPath     string
}

// SynthesisProvider turns text, optionally conditioned on a reference voice
// sample, into an audio file.
type SynthesisProvider interface {
	Synthesize(ctx context.Context, call SynthesisCall) error
}

// HealthChecker is implemented by providers that can report their availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ChunkLocator hands out fresh writable locations for per-chunk audio.
type ChunkLocator interface {
	ChunkLocation(index int) (string, error)
}

// Workspace is a per-job scratch area. Remove deletes everything in it.
type Workspace interface {
	ChunkLocator
	Dir() string
	Remove() error
}

// Storage supplies output locations and enumerates finished artifacts.
type Storage interface {
	NewRecordingLocation() (string, error)
	NewGeneratedLocation(extension string) (string, error)
	NewWorkspace(jobID string) (Workspace, error)
	ListGenerated() ([]ArtifactMetadata, error)
	ListRecordings() ([]ArtifactMetadata, error)
	Delete(path string) error
}

// ArtifactMetadata describes a stored audio file for listing and playback.
type ArtifactMetadata struct {
	ID        string
	Title     string
	Path      string
	Duration  time.Duration
	Size      int64
	CreatedAt time.Time
}
