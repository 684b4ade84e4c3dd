package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/voice-service/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const placeholderConfig = `
[synthesis]
provider = "placeholder"
placeholder_delay_ms = 1
placeholder_seconds = 0.5

[pipeline]
max_chunk_length = 200

[paths]
storage_dir = %q
`

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	storageDir := filepath.Join(dir, "storage")
	path := filepath.Join(dir, "voice.toml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(body, storageDir)), 0o600))

	return path, storageDir
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{
		"--text", "Hello, world!",
		"--voice", "/voices/me.wav",
		"--max-chunk", "42",
		"--verbose",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, world!", flags.text)
	assert.Equal(t, "/voices/me.wav", flags.voice)
	assert.Equal(t, 42, flags.maxChunk)
	assert.True(t, flags.verbose)
	assert.False(t, flags.list)

	_, err = parseFlags([]string{"--max-chunk", "many"})
	require.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   appFlags
		wantErr error
	}{
		{name: "text only", flags: appFlags{text: "some text"}},
		{name: "file only", flags: appFlags{file: "chapter.txt"}},
		{name: "list needs no input", flags: appFlags{list: true}},
		{name: "health needs no input", flags: appFlags{health: true}},
		{name: "no input", flags: appFlags{}, wantErr: ErrEitherTextOrFile},
		{name: "both inputs", flags: appFlags{text: "a", file: "b"}, wantErr: ErrCannotSpecifyAll},
		{name: "negative chunk", flags: appFlags{text: "a", maxChunk: -1}, wantErr: ErrNegativeMaxChunk},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateFlags(testCase.flags)
			if testCase.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestRun_SynthesizesAndLists(t *testing.T) {
	t.Parallel()

	configPath, storageDir := writeConfig(t, placeholderConfig)

	var out bytes.Buffer

	err := run(context.Background(), []string{
		"--config", configPath,
		"--text", "Hello world. How are you? I am fine!",
		"--max-chunk", "15",
		"--verbose",
	}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "[SYNTHESIZING] 3/3")
	assert.Contains(t, out.String(), "[DONE]")
	assert.Contains(t, out.String(), "(0:01.5, 3 chunk(s))")

	entries, err := os.ReadDir(filepath.Join(storageDir, "generated"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out.Reset()

	require.NoError(t, run(context.Background(), []string{"--config", configPath, "--list"}, &out))
	assert.Contains(t, out.String(), "Generated:")
	assert.Contains(t, out.String(), entries[0].Name())
	assert.Contains(t, out.String(), "0:01.5")
	assert.Contains(t, out.String(), "Recordings:\n  (none)")
}

func TestRun_ReadsInputFile(t *testing.T) {
	t.Parallel()

	configPath, _ := writeConfig(t, placeholderConfig)
	input := filepath.Join(t.TempDir(), "chapter.txt")
	require.NoError(t, os.WriteFile(input, []byte("A single sentence"), 0o600))

	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"--config", configPath, "--file", input}, &out))
	assert.Contains(t, out.String(), "(0:00.5, 1 chunk(s))")
	assert.NotContains(t, out.String(), "[DONE]", "progress is only printed when verbose")
}

func TestRun_EmptyTextFails(t *testing.T) {
	t.Parallel()

	configPath, _ := writeConfig(t, placeholderConfig)
	input := filepath.Join(t.TempDir(), "blank.txt")
	require.NoError(t, os.WriteFile(input, []byte(" \n "), 0o600))

	err := run(context.Background(), []string{"--config", configPath, "--file", input}, &bytes.Buffer{})
	require.ErrorContains(t, err, "empty_input")
}

func TestRun_HealthCheck(t *testing.T) {
	t.Parallel()

	configPath, _ := writeConfig(t, placeholderConfig)

	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"--config", configPath, "--health"}, &out))
	assert.Contains(t, out.String(), msgServiceHealthy)

	execPath, _ := writeConfig(t, `
[synthesis]
provider = "exec"
command = "true {output}"

[paths]
storage_dir = %q
`)

	out.Reset()

	require.NoError(t, run(context.Background(), []string{"--config", execPath, "--health"}, &out))
	assert.Contains(t, out.String(), `Provider "exec" has no health check`)
}

func TestFormatting(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0:03.0", formatDuration(3*time.Second))
	assert.Equal(t, "1:05.3", formatDuration(65*time.Second+250*time.Millisecond))
	assert.Equal(t, "[STITCHING] 2/4\n", formatProgress(pipeline.Progress{
		State:     pipeline.StateStitching,
		Completed: 2,
		Total:     4,
	}))
}
