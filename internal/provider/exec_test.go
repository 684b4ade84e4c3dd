package provider_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExec_ParsesCommand(t *testing.T) {
	t.Parallel()

	_, err := provider.NewExec("", newTestLogger(t))
	require.ErrorIs(t, err, provider.ErrCommandEmpty)

	_, err = provider.NewExec(`synth --text "unterminated`, newTestLogger(t))
	require.Error(t, err)

	_, err = provider.NewExec(`synth --voice {voice} --out {output} --text {text}`, newTestLogger(t))
	require.NoError(t, err)
}

func TestExec_SubstitutesPlaceholders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	output := filepath.Join(dir, "chunk.wav")

	synth, err := provider.NewExec(`sh -c 'printf "%s|%s" "$1" "$2" > "$3"' synth {text} {voice} {output}`, newTestLogger(t))
	require.NoError(t, err)

	err = synth.Synthesize(context.Background(), core.SynthesisCall{
		Text:           "It's a test; rm -rf /",
		ReferenceVoice: "/voices/a b.wav",
		OutputPath:     output,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "It's a test; rm -rf /|/voices/a b.wav", string(data))
}

func TestExec_CapturesStdoutWithoutOutputPlaceholder(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "nested", "chunk.wav")

	synth, err := provider.NewExec(`sh -c 'printf RIFFDATA'`, newTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, synth.Synthesize(context.Background(), core.SynthesisCall{Text: "hello", OutputPath: output}))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "RIFFDATA", string(data))
}

func TestExec_FailureIsRejected(t *testing.T) {
	t.Parallel()

	synth, err := provider.NewExec(`sh -c 'echo model exploded >&2; exit 3'`, newTestLogger(t))
	require.NoError(t, err)

	err = synth.Synthesize(context.Background(), core.SynthesisCall{
		Text:       "hello",
		OutputPath: filepath.Join(t.TempDir(), "a.wav"),
	})
	require.ErrorIs(t, err, core.ErrProviderRejected)
	assert.Contains(t, err.Error(), "model exploded")
	assert.Equal(t, core.ProviderRejected, core.ClassifyProviderError(0, err).Kind)
}

func TestExec_LongStderrKeepsWholeRunes(t *testing.T) {
	t.Parallel()

	// 2047 ASCII bytes followed by two-byte runes put the cut inside a rune.
	synth, err := provider.NewExec(
		`sh -c 'printf "%2047s" "" | tr " " a >&2; printf "\303\251\303\251" >&2; exit 1'`,
		newTestLogger(t),
	)
	require.NoError(t, err)

	err = synth.Synthesize(context.Background(), core.SynthesisCall{
		Text:       "hello",
		OutputPath: filepath.Join(t.TempDir(), "a.wav"),
	})
	require.ErrorIs(t, err, core.ErrProviderRejected)
	assert.True(t, utf8.ValidString(err.Error()), "stderr must be cut on a rune boundary")
	assert.Contains(t, err.Error(), "aaa...")
}

func TestExec_NoAudioIsIOFailure(t *testing.T) {
	t.Parallel()

	synth, err := provider.NewExec(`true {output}`, newTestLogger(t))
	require.NoError(t, err)

	err = synth.Synthesize(context.Background(), core.SynthesisCall{
		Text:       "hello",
		OutputPath: filepath.Join(t.TempDir(), "a.wav"),
	})
	require.ErrorIs(t, err, provider.ErrNoAudioOutput)
	assert.Equal(t, core.ProviderIOFailure, core.ClassifyProviderError(0, err).Kind)
}

func TestExec_Timeout(t *testing.T) {
	t.Parallel()

	synth, err := provider.NewExec(`sleep 10`, newTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = synth.Synthesize(ctx, core.SynthesisCall{Text: "hello", OutputPath: filepath.Join(t.TempDir(), "a.wav")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.ProviderTimeout, core.ClassifyProviderError(0, err).Kind)
}
