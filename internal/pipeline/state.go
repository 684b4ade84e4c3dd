package pipeline

import (
	"errors"
	"fmt"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
)

// State is a step of the pipeline state machine.
type State int

// Pipeline states. Done and Aborted are terminal.
const (
	StateIdle State = iota
	StateChunking
	StateSynthesizing
	StateStitching
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChunking:
		return "chunking"
	case StateSynthesizing:
		return "synthesizing"
	case StateStitching:
		return "stitching"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Progress is reported on every state change and every finished chunk.
type Progress struct {
	State     State
	Completed int
	Total     int
}

// Outcome is the terminal result handed to the presentation layer. Exactly
// one of Artifact and Err is set once State is terminal.
type Outcome struct {
	State    State
	Artifact *core.GeneratedArtifact
	Err      error
}

// Reason returns a short classification of an aborted run.
func (o Outcome) Reason() string {
	switch {
	case o.Err == nil:
		return ""
	case errors.Is(o.Err, core.ErrCancelledByUser):
		return "cancelled_by_user"
	case errors.Is(o.Err, core.ErrPartialSynthesisFailure):
		return "partial_synthesis_failure"
	case errors.Is(o.Err, core.ErrNoAudioTrackFound):
		return "no_audio_track_found"
	case errors.Is(o.Err, core.ErrStitchFailed):
		return "stitch_failed"
	case errors.Is(o.Err, core.ErrEmptyInput):
		return "empty_input"
	default:
		return "internal_error"
	}
}

// Policy decides what happens when some chunks fail to synthesize.
type Policy int

const (
	// FailFast aborts the run when any chunk fails.
	FailFast Policy = iota
	// BestEffort stitches the chunks that succeeded and reports the rest as
	// skipped. A run in which every chunk fails still aborts.
	BestEffort
)

// ErrUnknownPolicy is returned by ParsePolicy.
var ErrUnknownPolicy = errors.New("unknown failure policy")

// ParsePolicy maps a configured policy name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case config.PolicyFailFast, "":
		return FailFast, nil
	case config.PolicyBestEffort:
		return BestEffort, nil
	default:
		return FailFast, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

func (p Policy) String() string {
	if p == BestEffort {
		return config.PolicyBestEffort
	}

	return config.PolicyFailFast
}
