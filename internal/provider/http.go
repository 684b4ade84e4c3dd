package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Default values.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
	maxErrorBodyBytes  = 4096
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "synthesis service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "synthesis service returned non-OK status: %s, body: %s"
	logFmtSpeechWritten        = "Wrote %d bytes of speech to %s"
)

// Static errors.
var (
	ErrTextEmpty             = errors.New("text cannot be empty")
	ErrOutputPathEmpty       = errors.New("output path cannot be empty")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrEmptyAudio            = errors.New("received empty audio data")
	ErrServiceUnhealthy      = errors.New("synthesis service is unhealthy")
)

// SpeechRequest defines the JSON payload of a speech generation request.
type SpeechRequest struct {
	// Text contains the input text to convert to speech.
	Text string `json:"text"`

	// SpeakerRefPath optionally names a reference voice sample for voice
	// cloning. If empty, the default speaker is used.
	SpeakerRefPath string `json:"speaker_ref_path,omitempty"`

	// Language specifies the target language code (e.g., "en", "es").
	Language string `json:"language"`

	// Temperature controls randomness in speech generation, 0.0 to 2.0.
	Temperature float64 `json:"temperature"`
}

// ErrorResponse is a structured error returned by the synthesis service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPOptions configures an HTTP provider.
type HTTPOptions struct {
	BaseURL     string
	Language    string
	Temperature float64
	Timeout     time.Duration
}

// HTTP is a SynthesisProvider backed by a standalone speech synthesis
// service. Generated audio is written to the call's output path.
type HTTP struct {
	httpClient  *http.Client
	baseURL     string
	language    string
	temperature float64
	log         *logger.Logger
}

// NewHTTP creates an HTTP provider. The timeout applies to every request on
// top of any deadline carried by the call's context.
func NewHTTP(opts HTTPOptions, log *logger.Logger) *HTTP {
	language := opts.Language
	if language == "" {
		language = defaultLanguage
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	return &HTTP{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		language:    language,
		temperature: temperature,
		log:         log,
	}
}

// Synthesize requests speech for call.Text and writes the returned WAV data
// to call.OutputPath.
func (p *HTTP) Synthesize(ctx context.Context, call core.SynthesisCall) error {
	if call.OutputPath == "" {
		return fmt.Errorf("%w: %w", core.ErrProviderIO, ErrOutputPathEmpty)
	}

	audioData, err := p.GenerateSpeech(ctx, SpeechRequest{
		Text:           call.Text,
		SpeakerRefPath: call.ReferenceVoice,
		Language:       p.language,
		Temperature:    p.temperature,
	})
	if err != nil {
		return err
	}

	dirErr := os.MkdirAll(filepath.Dir(call.OutputPath), dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("%w: failed to create output directory: %w", core.ErrProviderIO, dirErr)
	}

	writeErr := os.WriteFile(call.OutputPath, audioData, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("%w: failed to write audio file: %w", core.ErrProviderIO, writeErr)
	}

	p.log.Info(logFmtSpeechWritten, len(audioData), call.OutputPath)

	return nil
}

// GenerateSpeech sends a generation request and returns the raw WAV data.
// Failures reported by the service wrap core.ErrProviderRejected; requests
// that run out of time wrap context.DeadlineExceeded.
func (p *HTTP) GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderRejected, ErrTextEmpty)
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(p.baseURL, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderRejected, parseErrorResponse(resp))
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: %w: expected %s, got %q",
			core.ErrProviderRejected, ErrUnexpectedContentType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(p.baseURL, err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderRejected, ErrEmptyAudio)
	}

	return audioData, nil
}

// HealthCheck verifies that the synthesis service is running.
func (p *HTTP) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", p.baseURL, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %s", ErrServiceUnhealthy, resp.Status)
	}

	return nil
}

// transportError keeps timeouts recognisable as deadline failures and
// reports everything else as a rejection by the remote service.
func transportError(baseURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("request to synthesis service at %s: %w", baseURL, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request to synthesis service at %s: %w: %w", baseURL, context.DeadlineExceeded, err)
	}

	return fmt.Errorf("%w: request to synthesis service at %s: %w", core.ErrProviderRejected, baseURL, err)
}

// parseErrorResponse decodes a structured JSON error from the service,
// falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if readErr != nil {
		return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, readErr.Error())
	}

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
