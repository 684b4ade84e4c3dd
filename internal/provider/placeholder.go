package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/voice-service/internal/container"
	"github.com/book-expert/voice-service/internal/core"
)

// Placeholder simulates synthesis latency and writes silence in the
// placeholder format (mono, 16-bit, 44100 Hz PCM).
type Placeholder struct {
	delay    time.Duration
	duration time.Duration
}

// NewPlaceholder creates a placeholder provider. Each call sleeps for delay
// and produces duration worth of silence.
func NewPlaceholder(delay, duration time.Duration) *Placeholder {
	return &Placeholder{delay: delay, duration: duration}
}

// Synthesize waits for the configured delay, then writes the silent file.
func (p *Placeholder) Synthesize(ctx context.Context, call core.SynthesisCall) error {
	if call.OutputPath == "" {
		return fmt.Errorf("%w: %w", core.ErrProviderIO, ErrOutputPathEmpty)
	}

	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("placeholder synthesis interrupted: %w", ctx.Err())
	case <-timer.C:
	}

	dirErr := os.MkdirAll(filepath.Dir(call.OutputPath), dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("%w: failed to create output directory: %w", core.ErrProviderIO, dirErr)
	}

	format := container.PlaceholderFormat()
	silence := make([]int, format.Frames(p.duration)*int64(format.Channels))

	writeErr := container.WritePCM(call.OutputPath, format, silence)
	if writeErr != nil {
		return fmt.Errorf("%w: %w", core.ErrProviderIO, writeErr)
	}

	return nil
}

// HealthCheck always succeeds.
func (p *Placeholder) HealthCheck(context.Context) error {
	return nil
}
