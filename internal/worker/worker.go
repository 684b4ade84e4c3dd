// Package worker serves synthesis jobs received over NATS.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/voice-service/internal/chunker"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/pipeline"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	voicePermissions = 0o600
	audioKeySuffix   = ".wav"

	logFmtListening     = "Listening for synthesis jobs on '%s'"
	logFmtJobReceived   = "Received job for workflow %s (text '%s', page %d/%d)"
	logFmtJobReplied    = "Workflow %s: job %s uploaded '%s' (%s)"
	logFmtJobDropped    = "Dropping job received during shutdown on '%s'"
	logFmtStopped       = "Stopped listening on '%s'; in-flight jobs finished"
	logFmtParseFailed   = "Failed to parse job event: %v"
	logFmtJobFailed     = "Failed to process job for workflow %s: %v"
	logFmtReplyFailed   = "Failed to publish reply for workflow %s: %v"
	logFmtCleanupFailed = "Workflow %s: failed to remove local file: %v"
)

// Worker errors.
var (
	ErrSubjectEmpty  = errors.New("job subject cannot be empty")
	ErrTextKeyEmpty  = errors.New("event has no text key")
	ErrEmptyDocument = errors.New("downloaded text is empty")
)

// Settings carry the per-job pipeline configuration.
type Settings struct {
	Subject        string
	MaxChunkLength int
	Policy         pipeline.Policy
	Workers        int
	CallTimeout    time.Duration
	JobTimeout     time.Duration
	Normalize      bool
}

// NatsWorker listens for synthesis jobs on a NATS subject. Each message runs a
// fresh pipeline controller.
type NatsWorker struct {
	natsConnection *nats.Conn
	texts          core.ObjectStore
	audio          core.ObjectStore
	deps           pipeline.Deps
	settings       Settings
	normalizer     *chunker.Normalizer

	inFlight sync.WaitGroup
	mutex    sync.Mutex
	stopping bool
}

// NewNatsWorker creates a worker. Input text is read from texts; reference
// voices are read from and artifacts uploaded to audio.
func NewNatsWorker(
	natsConnection *nats.Conn,
	texts core.ObjectStore,
	audio core.ObjectStore,
	deps pipeline.Deps,
	settings Settings,
) (*NatsWorker, error) {
	if settings.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if natsConnection == nil || texts == nil || audio == nil {
		return nil, fmt.Errorf("%w: connection and object stores are required", pipeline.ErrMissingDependency)
	}

	worker := &NatsWorker{
		natsConnection: natsConnection,
		texts:          texts,
		audio:          audio,
		deps:           deps,
		settings:       settings,
	}

	if settings.Normalize {
		worker.normalizer = chunker.NewNormalizer()
	}

	return worker, nil
}

// Run subscribes and blocks until ctx is cancelled. Jobs run under ctx, so
// cancelling it aborts them; Run returns only after every started job has
// finished cleaning up.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.settings.Subject, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.settings.Subject, err)
	}

	w.deps.Log.Info(logFmtListening, w.settings.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()

	w.mutex.Lock()
	w.stopping = true
	w.mutex.Unlock()

	w.inFlight.Wait()
	w.deps.Log.Info(logFmtStopped, w.settings.Subject)

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// begin registers a job unless Run is shutting down.
func (w *NatsWorker) begin() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.stopping {
		return false
	}

	w.inFlight.Add(1)

	return true
}

func (w *NatsWorker) handleMessage(ctx context.Context, msg *nats.Msg) {
	if !w.begin() {
		w.deps.Log.Warn(logFmtJobDropped, w.settings.Subject)

		return
	}

	defer w.inFlight.Done()

	event, err := parseEvent(msg)
	if err != nil {
		w.deps.Log.Error(logFmtParseFailed, err)

		return
	}

	w.deps.Log.Info(logFmtJobReceived, event.Header.WorkflowID, event.TextKey, event.PageNumber, event.TotalPages)

	audioKey, err := w.processJob(ctx, event)
	if err != nil {
		w.deps.Log.Error(logFmtJobFailed, event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReply(msg, replyEvent)
	if err != nil {
		w.deps.Log.Error(logFmtReplyFailed, event.Header.WorkflowID, err)
	}
}

// processJob downloads the text and optional voice, synthesizes them and
// uploads the artifact. It returns the key of the uploaded audio.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	if event.TextKey == "" {
		return "", ErrTextKeyEmpty
	}

	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	if len(textData) == 0 {
		return "", fmt.Errorf("%w: key '%s'", ErrEmptyDocument, event.TextKey)
	}

	voicePath, err := w.fetchVoice(ctx, event.Voice)
	if err != nil {
		return "", err
	}

	if voicePath != "" {
		defer w.remove(event.Header.WorkflowID, voicePath)
	}

	req, err := core.NewSynthesisRequest(string(textData), voicePath, w.settings.MaxChunkLength)
	if err != nil {
		return "", fmt.Errorf("invalid synthesis request: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithPolicy(w.settings.Policy),
		pipeline.WithWorkers(w.settings.Workers),
		pipeline.WithCallTimeout(w.settings.CallTimeout),
		pipeline.WithJobTimeout(w.settings.JobTimeout),
	}

	if w.normalizer != nil {
		opts = append(opts, pipeline.WithNormalizer(w.normalizer))
	}

	controller, err := pipeline.New(w.deps, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create pipeline: %w", err)
	}

	artifact, err := controller.Run(ctx, req)
	if err != nil {
		return "", fmt.Errorf("pipeline aborted (%s): %w", controller.Outcome().Reason(), err)
	}

	defer w.remove(event.Header.WorkflowID, artifact.OutputPath)

	audioData, err := os.ReadFile(artifact.OutputPath)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.audio.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.deps.Log.Info(logFmtJobReplied, event.Header.WorkflowID, controller.JobID(), audioKey, artifact.TotalDuration)

	return audioKey, nil
}

// fetchVoice downloads the reference voice object to a fresh recording
// location. An empty key means no reference voice.
func (w *NatsWorker) fetchVoice(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	voiceData, err := w.audio.Download(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to download reference voice '%s': %w", key, err)
	}

	path, err := w.deps.Storage.NewRecordingLocation()
	if err != nil {
		return "", fmt.Errorf("failed to allocate recording location: %w", err)
	}

	err = os.WriteFile(path, voiceData, voicePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to save reference voice: %w", err)
	}

	return path, nil
}

func (w *NatsWorker) remove(workflowID, path string) {
	err := w.deps.Storage.Delete(path)
	if err != nil {
		w.deps.Log.Warn(logFmtCleanupFailed, workflowID, err)
	}
}

func publishReply(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
