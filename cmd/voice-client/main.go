// main package for the voice-client, a local front end of the synthesis
// pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/chunker"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/pipeline"
	"github.com/book-expert/voice-service/internal/provider"
	"github.com/book-expert/voice-service/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Flag names.
const (
	flagText     = "text"
	flagFile     = "file"
	flagVoice    = "voice"
	flagMaxChunk = "max-chunk"
	flagConfig   = "config"
	flagList     = "list"
	flagHealth   = "health"
	flagVerbose  = "verbose"
)

// Flag descriptions.
const (
	flagTextDesc     = "Text to convert to speech"
	flagFileDesc     = "Path of a UTF-8 text file to convert to speech"
	flagVoiceDesc    = "Reference voice sample (.wav) to clone"
	flagMaxChunkDesc = "Maximum chunk length in characters (defaults to the configured value)"
	flagConfigDesc   = "Path to a TOML configuration file (defaults to project.toml discovery)"
	flagListDesc     = "List generated audio and recordings, then exit"
	flagHealthDesc   = "Check the synthesis provider health and exit"
	flagVerboseDesc  = "Print progress and write a verbose log"
)

// Output messages.
const (
	msgServiceHealthy   = "Synthesis provider is healthy"
	msgServiceUnhealthy = "Synthesis provider is not healthy: %v\n"
	msgNoHealthCheck    = "Provider %q has no health check\n"
	msgGenerated        = "Generated: %s (%s, %d chunk(s))\n"
	msgSkipped          = "Skipped chunk(s): %v\n"
	msgProgress         = "[%s] %d/%d\n"
	msgNoArtifacts      = "  (none)"
	msgListHeader       = "%s:\n"
	msgListRow          = "  %-32s %8s %10s  %s\n"
)

const (
	logFileNameDefault = "voice-client.log"
	logFileNameVerbose = "voice-client-verbose.log"
	healthTimeout      = 10 * time.Second
)

// Usage errors.
var (
	ErrEitherTextOrFile = errors.New("either --text or --file must be provided")
	ErrCannotSpecifyAll = errors.New("cannot specify both --text and --file")
	ErrNegativeMaxChunk = errors.New("--max-chunk must not be negative")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text     string
	file     string
	voice    string
	config   string
	maxChunk int
	list     bool
	health   bool
	verbose  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:], os.Stdout)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application entry point, returning an error on failure.
func run(ctx context.Context, args []string, out io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(flags.config)
	if err != nil {
		return err
	}

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() { _ = log.Close() }()

	synthesizer, err := provider.New(cfg.Synthesis, log)
	if err != nil {
		return err
	}

	store, err := storage.NewLocal(cfg.Paths.StorageDir, log)
	if err != nil {
		return err
	}

	switch {
	case flags.health:
		return handleHealthCheck(ctx, cfg.Synthesis.Provider, synthesizer, out)
	case flags.list:
		return handleList(store, out)
	default:
		return handleSynthesis(ctx, cfg, pipeline.Deps{Provider: synthesizer, Storage: store, Log: log}, flags, out)
	}
}

// parseFlags parses args into appFlags.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("voice-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.file, flagFile, "", flagFileDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.IntVar(&flags.maxChunk, flagMaxChunk, 0, flagMaxChunkDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.BoolVar(&flags.list, flagList, false, flagListDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("invalid arguments: %w", err)
	}

	return flags, nil
}

// validateFlags checks required and conflicting arguments.
func validateFlags(flags appFlags) error {
	if flags.maxChunk < 0 {
		return ErrNegativeMaxChunk
	}

	if flags.list || flags.health {
		return nil
	}

	if flags.text == "" && flags.file == "" {
		return ErrEitherTextOrFile
	}

	if flags.text != "" && flags.file != "" {
		return ErrCannotSpecifyAll
	}

	return nil
}

// loadConfig reads path when given, otherwise discovers project.toml and
// falls back to defaults when none is found.
func loadConfig(path string) (*config.Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if path != "" {
		return config.LoadFile(path)
	}

	bootstrapLog, err := logger.New(os.TempDir(), "voice-client-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Warn("No usable project configuration, using defaults: %v", err)

		return config.Default(), nil
	}

	return cfg, nil
}

// readInput returns the text to synthesize from --text or --file.
func readInput(flags appFlags) (string, error) {
	if flags.text != "" {
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.file)
	if err != nil {
		return "", fmt.Errorf("failed to read input file: %w", err)
	}

	return string(data), nil
}

// handleHealthCheck reports the provider health.
func handleHealthCheck(ctx context.Context, name string, synthesizer core.SynthesisProvider, out io.Writer) error {
	checker, ok := synthesizer.(core.HealthChecker)
	if !ok {
		fmt.Fprintf(out, msgNoHealthCheck, name)

		return nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	err := checker.HealthCheck(checkCtx)
	if err != nil {
		fmt.Fprintf(out, msgServiceUnhealthy, err)

		return err
	}

	fmt.Fprintln(out, msgServiceHealthy)

	return nil
}

// handleList prints generated audio and recordings, newest first.
func handleList(store core.Storage, out io.Writer) error {
	generated, err := store.ListGenerated()
	if err != nil {
		return fmt.Errorf("failed to list generated audio: %w", err)
	}

	recordings, err := store.ListRecordings()
	if err != nil {
		return fmt.Errorf("failed to list recordings: %w", err)
	}

	printArtifacts(out, "Generated", generated)
	printArtifacts(out, "Recordings", recordings)

	return nil
}

func printArtifacts(out io.Writer, title string, artifacts []core.ArtifactMetadata) {
	fmt.Fprintf(out, msgListHeader, title)

	if len(artifacts) == 0 {
		fmt.Fprintln(out, msgNoArtifacts)

		return
	}

	for _, artifact := range artifacts {
		fmt.Fprintf(out, msgListRow,
			artifact.Title,
			formatDuration(artifact.Duration),
			humanize.Bytes(uint64(max(artifact.Size, 0))),
			humanize.Time(artifact.CreatedAt),
		)
	}
}

// handleSynthesis runs one request through a fresh pipeline controller.
func handleSynthesis(
	ctx context.Context,
	cfg *config.Config,
	deps pipeline.Deps,
	flags appFlags,
	out io.Writer,
) error {
	text, err := readInput(flags)
	if err != nil {
		return err
	}

	maxChunk := cfg.Pipeline.MaxChunkLength
	if flags.maxChunk > 0 {
		maxChunk = flags.maxChunk
	}

	req, err := core.NewSynthesisRequest(text, flags.voice, maxChunk)
	if err != nil {
		return err
	}

	policy, err := pipeline.ParsePolicy(cfg.Pipeline.FailurePolicy)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithPolicy(policy),
		pipeline.WithWorkers(cfg.Synthesis.Workers),
		pipeline.WithCallTimeout(cfg.Synthesis.Timeout()),
		pipeline.WithJobTimeout(cfg.Pipeline.JobTimeout()),
	}

	if cfg.Pipeline.NormalizeText {
		opts = append(opts, pipeline.WithNormalizer(chunker.NewNormalizer()))
	}

	if flags.verbose {
		opts = append(opts, pipeline.WithProgress(func(progress pipeline.Progress) {
			fmt.Fprint(out, formatProgress(progress))
		}))
	}

	controller, err := pipeline.New(deps, opts...)
	if err != nil {
		return err
	}

	artifact, err := controller.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("synthesis %s: %w", controller.Outcome().Reason(), err)
	}

	fmt.Fprintf(out, msgGenerated, artifact.OutputPath, formatDuration(artifact.TotalDuration), artifact.ChunkCount)

	if len(artifact.SkippedChunks) > 0 {
		fmt.Fprintf(out, msgSkipped, artifact.SkippedChunks)
	}

	return nil
}

func formatProgress(progress pipeline.Progress) string {
	return fmt.Sprintf(msgProgress, strings.ToUpper(progress.State.String()), progress.Completed, progress.Total)
}

// formatDuration renders d as m:ss.t.
func formatDuration(d time.Duration) string {
	tenths := int64(d.Round(100*time.Millisecond) / (100 * time.Millisecond))

	return fmt.Sprintf("%d:%02d.%d", tenths/600, (tenths/10)%60, tenths%10)
}
