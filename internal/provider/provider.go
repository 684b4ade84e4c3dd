// Package provider implements the synthesis providers that turn one chunk of
// text into one audio file: a remote HTTP synthesis service, a local command
// and a placeholder that writes silence.
package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown synthesis provider")

// New builds the provider selected by cfg.Provider.
func New(cfg config.SynthesisConfig, log *logger.Logger) (core.SynthesisProvider, error) {
	switch cfg.Provider {
	case config.ProviderHTTP:
		return NewHTTP(HTTPOptions{
			BaseURL:     cfg.ServiceURL,
			Language:    cfg.Language,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout(),
		}, log), nil
	case config.ProviderExec:
		return NewExec(cfg.Command, log)
	case config.ProviderPlaceholder:
		seconds := time.Duration(cfg.PlaceholderSeconds * float64(time.Second))

		return NewPlaceholder(cfg.PlaceholderDelay(), seconds), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
