// Package provider_test tests the synthesis providers.
package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHelloWorld       = "Hello, world!"
	testWAVHeaderMinimal = "RIFF....WAVE"
	testVoiceSample      = "/voices/narrator.wav"
	testErrInvalidVoice  = "Invalid speaker reference path"
	testErrCodeVoice     = "INVALID_SPEAKER_PATH"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "provider-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func newHTTPProvider(t *testing.T, url string, timeout time.Duration) *provider.HTTP {
	t.Helper()

	return provider.NewHTTP(provider.HTTPOptions{
		BaseURL:     url,
		Language:    "en",
		Temperature: 0.8,
		Timeout:     timeout,
	}, newTestLogger(t))
}

func TestHTTP_Synthesize_WritesAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

		var req provider.SpeechRequest

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testHelloWorld, req.Text)
		assert.Equal(t, testVoiceSample, req.SpeakerRefPath)
		assert.Equal(t, "en", req.Language)
		assert.InEpsilon(t, 0.8, req.Temperature, 0.001)

		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(testWAVHeaderMinimal))
	}))
	defer server.Close()

	output := filepath.Join(t.TempDir(), "chunks", "chunk_0000.wav")

	err := newHTTPProvider(t, server.URL, 10*time.Second).Synthesize(context.Background(), core.SynthesisCall{
		Text:           testHelloWorld,
		ReferenceVoice: testVoiceSample,
		OutputPath:     output,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, testWAVHeaderMinimal, string(data))
}

func TestHTTP_Synthesize_EmptyTextIsRejected(t *testing.T) {
	t.Parallel()

	err := newHTTPProvider(t, "http://localhost:8000", time.Second).Synthesize(context.Background(),
		core.SynthesisCall{Text: "   ", OutputPath: filepath.Join(t.TempDir(), "a.wav")})
	require.ErrorIs(t, err, provider.ErrTextEmpty)
	assert.Equal(t, core.ProviderRejected, core.ClassifyProviderError(0, err).Kind)
}

func TestHTTP_Synthesize_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(provider.ErrorResponse{
			Detail:    testErrInvalidVoice,
			ErrorCode: testErrCodeVoice,
		})
	}))
	defer server.Close()

	output := filepath.Join(t.TempDir(), "a.wav")

	err := newHTTPProvider(t, server.URL, 10*time.Second).Synthesize(context.Background(), core.SynthesisCall{
		Text:           testHelloWorld,
		ReferenceVoice: "/invalid/path.wav",
		OutputPath:     output,
	})
	require.ErrorIs(t, err, core.ErrProviderRejected)
	assert.Contains(t, err.Error(), testErrInvalidVoice)
	assert.Contains(t, err.Error(), testErrCodeVoice)
	assert.Equal(t, core.ProviderRejected, core.ClassifyProviderError(3, err).Kind)
	assert.NoFileExists(t, output)
}

func TestHTTP_Synthesize_PlainTextServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newHTTPProvider(t, server.URL, 10*time.Second).Synthesize(context.Background(),
		core.SynthesisCall{Text: testHelloWorld, OutputPath: filepath.Join(t.TempDir(), "a.wav")})
	require.ErrorIs(t, err, core.ErrProviderRejected)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestHTTP_Synthesize_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Not audio data"))
	}))
	defer server.Close()

	err := newHTTPProvider(t, server.URL, 10*time.Second).Synthesize(context.Background(),
		core.SynthesisCall{Text: testHelloWorld, OutputPath: filepath.Join(t.TempDir(), "a.wav")})
	require.ErrorIs(t, err, provider.ErrUnexpectedContentType)
}

func TestHTTP_Synthesize_EmptyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newHTTPProvider(t, server.URL, 10*time.Second).Synthesize(context.Background(),
		core.SynthesisCall{Text: testHelloWorld, OutputPath: filepath.Join(t.TempDir(), "a.wav")})
	require.ErrorIs(t, err, provider.ErrEmptyAudio)
}

func TestHTTP_Synthesize_WriteFailureIsIO(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testWAVHeaderMinimal))
	}))
	defer server.Close()

	// The output's parent is a regular file, so the directory cannot be created.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	err := newHTTPProvider(t, server.URL, 10*time.Second).Synthesize(context.Background(),
		core.SynthesisCall{Text: testHelloWorld, OutputPath: filepath.Join(blocker, "a.wav")})
	require.ErrorIs(t, err, core.ErrProviderIO)
	assert.Equal(t, core.ProviderIOFailure, core.ClassifyProviderError(0, err).Kind)
}

func TestHTTP_Synthesize_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := newHTTPProvider(t, server.URL, 10*time.Second).Synthesize(ctx,
		core.SynthesisCall{Text: testHelloWorld, OutputPath: filepath.Join(t.TempDir(), "a.wav")})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.ProviderTimeout, core.ClassifyProviderError(0, err).Kind)
}

func TestHTTP_HealthCheck(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool

	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)

		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "model_loaded": true})
	}))
	defer server.Close()

	client := newHTTPProvider(t, server.URL+"/", 5*time.Second)
	require.NoError(t, client.HealthCheck(context.Background()))

	healthy.Store(false)

	err := client.HealthCheck(context.Background())
	require.ErrorIs(t, err, provider.ErrServiceUnhealthy)
}

func TestHTTP_HealthCheck_ServiceDown(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := newHTTPProvider(t, url, time.Second).HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, provider.ErrServiceUnhealthy))
}
