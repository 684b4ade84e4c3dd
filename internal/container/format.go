// Package container reads and writes single-track audio containers as
// timestamped sample streams.
//
// A Demuxer exposes the tracks of a container and yields samples of the
// selected track; a Muxer accepts samples with explicit presentation
// timestamps and refuses timelines with gaps or overlaps. Timestamps are
// counted in frames of the track's sample rate so that re-basing them is
// exact integer arithmetic.
package container

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format limits.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Supported bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// AudioFormatPCM is the WAVE format tag of integer PCM.
const AudioFormatPCM = 1

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
	errFmtAudioFormat     = "%w: only PCM (format tag %d) is supported, got %d"
	bitsPerByte           = 8
)

// ErrInvalidFormat is returned for track formats outside the supported range.
var ErrInvalidFormat = errors.New("invalid audio format")

// Format describes the elementary stream of an audio track.
type Format struct {
	SampleRate  int
	Channels    int
	BitDepth    int
	AudioFormat int
}

// PlaceholderFormat is the fixture format: mono, 16-bit, 44100 Hz PCM.
func PlaceholderFormat() Format {
	return Format{
		SampleRate:  44100,
		Channels:    1,
		BitDepth:    BitDepth16,
		AudioFormat: AudioFormatPCM,
	}
}

// Validate checks that the format is one the WAV muxer can write.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, MaxSampleRate, f.SampleRate)
	}

	switch f.BitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidFormat, f.BitDepth)
	}

	if f.Channels <= 0 || f.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, MaxChannels, f.Channels)
	}

	if f.AudioFormat != AudioFormatPCM {
		return fmt.Errorf(errFmtAudioFormat, ErrInvalidFormat, AudioFormatPCM, f.AudioFormat)
	}

	return nil
}

// BlockAlign is the size in bytes of one frame.
func (f Format) BlockAlign() int {
	return f.Channels * ((f.BitDepth + bitsPerByte - 1) / bitsPerByte)
}

// Time converts a frame count into a duration.
func (f Format) Time(frames int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}

	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Frames converts a duration into a frame count, rounding down.
func (f Format) Frames(duration time.Duration) int64 {
	return int64(duration) * int64(f.SampleRate) / int64(time.Second)
}

func (f Format) String() string {
	return fmt.Sprintf("pcm %d Hz, %d ch, %d bit", f.SampleRate, f.Channels, f.BitDepth)
}

// Track describes one stream of a container.
type Track struct {
	Index     int
	MediaType string
	Format    Format
	// Duration is the track length in frames.
	Duration int64
}

// IsAudio reports whether the track carries audio.
func (t Track) IsAudio() bool {
	return strings.HasPrefix(t.MediaType, "audio/")
}

// Sample is one block of interleaved frames with its presentation timestamp.
type Sample struct {
	Data []int
	// PTS is the presentation timestamp in frames since track start.
	PTS  int64
	Sync bool
}

// FrameCount returns the number of whole frames in the sample.
func (s Sample) FrameCount(channels int) int64 {
	if channels <= 0 {
		return 0
	}

	return int64(len(s.Data) / channels)
}
