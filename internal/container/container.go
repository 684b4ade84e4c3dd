package container

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/voice-service/internal/core"
)

// Errors reported by demuxers and muxers.
var (
	ErrInvalidContainer   = errors.New("invalid container")
	ErrNoTrackSelected    = errors.New("no track selected")
	ErrUnknownTrack       = errors.New("unknown track")
	ErrTrackAlreadyAdded  = errors.New("muxer already has a track")
	ErrNoTracks           = errors.New("muxer has no tracks")
	ErrPartialFrame       = errors.New("sample does not contain whole frames")
	ErrTimestampOverlap   = errors.New("sample timestamp overlaps previous sample")
	ErrTimestampGap       = errors.New("sample timestamp leaves a gap after previous sample")
	ErrMuxerClosed        = errors.New("muxer is closed")
	ErrFormatNotSupported = errors.New("format not supported by muxer")
)

// Demuxer reads the samples of one selected track from a container.
// ReadSample returns io.EOF once the track is exhausted.
type Demuxer interface {
	Tracks() []Track
	SelectTrack(index int) error
	ReadSample() (Sample, error)
	Close() error
}

// Muxer writes timestamped samples into a new container. Finish completes
// the file; Abort closes and deletes it. Either may be called after the
// other without effect.
type Muxer interface {
	AddTrack(format Format) (int, error)
	WriteSample(track int, sample Sample) error
	Finish() error
	Abort() error
}

// OpenFunc opens a Demuxer for a path.
type OpenFunc func(path string) (Demuxer, error)

// CreateFunc creates a Muxer writing to a path.
type CreateFunc func(path string) (Muxer, error)

// FirstAudioTrack returns the first track whose media type is audio.
func FirstAudioTrack(demuxer Demuxer) (Track, error) {
	for _, track := range demuxer.Tracks() {
		if track.IsAudio() {
			return track, nil
		}
	}

	return Track{}, core.ErrNoAudioTrackFound
}

// Probe returns the format and duration of the first audio track of a WAV file.
func Probe(path string) (Format, time.Duration, error) {
	demuxer, err := OpenWAV(path)
	if err != nil {
		return Format{}, 0, err
	}

	track, trackErr := FirstAudioTrack(demuxer)
	closeErr := demuxer.Close()

	if trackErr != nil {
		return Format{}, 0, fmt.Errorf("probe %s: %w", path, trackErr)
	}

	if closeErr != nil {
		return Format{}, 0, fmt.Errorf("close %s: %w", path, closeErr)
	}

	return track.Format, track.Format.Time(track.Duration), nil
}
