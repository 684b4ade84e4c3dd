package provider_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/container"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholder_WritesSilence(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "silence.wav")

	err := provider.NewPlaceholder(time.Millisecond, time.Second).
		Synthesize(context.Background(), core.SynthesisCall{Text: "anything", OutputPath: output})
	require.NoError(t, err)

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Equal(t, int64(44+44100*2), info.Size())

	format, duration, err := container.Probe(output)
	require.NoError(t, err)
	assert.Equal(t, container.PlaceholderFormat(), format)
	assert.Equal(t, time.Second, duration)
}

func TestPlaceholder_HonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	output := filepath.Join(t.TempDir(), "never.wav")

	err := provider.NewPlaceholder(time.Hour, time.Second).
		Synthesize(ctx, core.SynthesisCall{Text: "anything", OutputPath: output})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.ProviderCancelled, core.ClassifyProviderError(0, err).Kind)
	assert.NoFileExists(t, output)
}

func TestNew_SelectsProvider(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	tests := []struct {
		name     string
		mutate   func(*config.SynthesisConfig)
		expected any
	}{
		{
			name:     "placeholder",
			mutate:   func(*config.SynthesisConfig) {},
			expected: &provider.Placeholder{},
		},
		{
			name: "http",
			mutate: func(s *config.SynthesisConfig) {
				s.Provider = config.ProviderHTTP
				s.ServiceURL = "http://localhost:8000"
			},
			expected: &provider.HTTP{},
		},
		{
			name: "exec",
			mutate: func(s *config.SynthesisConfig) {
				s.Provider = config.ProviderExec
				s.Command = "synth --out {output} {text}"
			},
			expected: &provider.Exec{},
		},
	}

	for _, testCase := range tests {
		cfg := config.Default().Synthesis
		testCase.mutate(&cfg)

		synth, err := provider.New(cfg, log)
		require.NoError(t, err, testCase.name)
		assert.IsType(t, testCase.expected, synth, testCase.name)
	}

	cfg := config.Default().Synthesis
	cfg.Provider = "cloud"

	_, err := provider.New(cfg, log)
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
}
