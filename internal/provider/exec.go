package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/mattn/go-shellwords"
)

// Placeholders substituted into every argument of an exec command.
const (
	PlaceholderText   = "{text}"
	PlaceholderVoice  = "{voice}"
	PlaceholderOutput = "{output}"
)

const (
	maxCommandOutput    = 2048
	logFmtExecSucceeded = "Command %s synthesized %d bytes into %s"
)

// Exec errors.
var (
	ErrCommandEmpty  = errors.New("synthesis command is empty")
	ErrNoAudioOutput = errors.New("command produced no audio")
)

// Exec is a SynthesisProvider that runs a local synthesis binary once per
// call. When the command template contains {output} the binary writes the
// WAV file itself; otherwise its standard output is saved as the WAV file.
type Exec struct {
	args []string
	log  *logger.Logger
}

// NewExec parses a shell-style command template.
func NewExec(command string, log *logger.Logger) (*Exec, error) {
	parser := shellwords.NewParser()

	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}

	if len(args) == 0 {
		return nil, ErrCommandEmpty
	}

	return &Exec{args: args, log: log}, nil
}

// Synthesize runs the command for one call.
func (p *Exec) Synthesize(ctx context.Context, call core.SynthesisCall) error {
	if strings.TrimSpace(call.Text) == "" {
		return fmt.Errorf("%w: %w", core.ErrProviderRejected, ErrTextEmpty)
	}

	if call.OutputPath == "" {
		return fmt.Errorf("%w: %w", core.ErrProviderIO, ErrOutputPathEmpty)
	}

	dirErr := os.MkdirAll(filepath.Dir(call.OutputPath), dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("%w: failed to create output directory: %w", core.ErrProviderIO, dirErr)
	}

	args, writesFile := p.expand(call)

	// #nosec G204 -- the binary comes from operator configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("command %s interrupted: %w", args[0], ctxErr)
		}

		return fmt.Errorf("%w: command %s failed: %w - output: %s",
			core.ErrProviderRejected, args[0], runErr, truncate(stderr.String()))
	}

	if !writesFile {
		writeErr := os.WriteFile(call.OutputPath, stdout.Bytes(), filePermissions)
		if writeErr != nil {
			return fmt.Errorf("%w: failed to save command output: %w", core.ErrProviderIO, writeErr)
		}
	}

	info, statErr := os.Stat(call.OutputPath)
	if statErr != nil {
		return fmt.Errorf("%w: %w: %w", core.ErrProviderIO, ErrNoAudioOutput, statErr)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%w: %w: %s is empty", core.ErrProviderIO, ErrNoAudioOutput, call.OutputPath)
	}

	p.log.Info(logFmtExecSucceeded, args[0], info.Size(), call.OutputPath)

	return nil
}

func (p *Exec) expand(call core.SynthesisCall) ([]string, bool) {
	replacer := strings.NewReplacer(
		PlaceholderText, call.Text,
		PlaceholderVoice, call.ReferenceVoice,
		PlaceholderOutput, call.OutputPath,
	)

	writesFile := false
	args := make([]string, len(p.args))

	for index, arg := range p.args {
		if strings.Contains(arg, PlaceholderOutput) {
			writesFile = true
		}

		args[index] = replacer.Replace(arg)
	}

	return args, writesFile
}

func truncate(output string) string {
	output = strings.TrimSpace(output)
	if len(output) <= maxCommandOutput {
		return output
	}

	cut := maxCommandOutput
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}

	return output[:cut] + "..."
}
