package container

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// MediaTypeWAV is the media type reported for WAV audio tracks.
	MediaTypeWAV = "audio/wav"
	// SampleFrames is the maximum number of frames per demuxed sample.
	SampleFrames = 4096

	filePermissions = 0o600
)

type wavDemuxer struct {
	file      *os.File
	decoder   *wav.Decoder
	tracks    []Track
	selected  bool
	buffer    *audio.IntBuffer
	pending   []int
	remaining int64
	position  int64
	exhausted bool
}

// OpenWAV opens a RIFF/WAVE file as a Demuxer. A file whose fmt chunk does
// not describe any audio channels is reported with no tracks.
func OpenWAV(path string) (Demuxer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	demuxer, err := newWAVDemuxer(file)
	if err != nil {
		closeErr := file.Close()

		return nil, errors.Join(fmt.Errorf("%s: %w", path, err), closeErr)
	}

	return demuxer, nil
}

func newWAVDemuxer(file *os.File) (*wavDemuxer, error) {
	decoder := wav.NewDecoder(file)

	decoder.ReadInfo()

	infoErr := decoder.Err()
	if infoErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContainer, infoErr)
	}

	demuxer := &wavDemuxer{file: file, decoder: decoder}

	if decoder.NumChans == 0 || decoder.SampleRate == 0 || decoder.BitDepth == 0 {
		return demuxer, nil
	}

	fwdErr := decoder.FwdToPCM()
	if fwdErr != nil {
		return nil, fmt.Errorf("%w: locate data chunk: %v", ErrInvalidContainer, fwdErr)
	}

	format := Format{
		SampleRate:  int(decoder.SampleRate),
		Channels:    int(decoder.NumChans),
		BitDepth:    int(decoder.BitDepth),
		AudioFormat: int(decoder.WavAudioFormat),
	}

	duration := int64(0)
	if blockAlign := format.BlockAlign(); blockAlign > 0 {
		duration = int64(decoder.PCMSize / blockAlign)
	}

	demuxer.tracks = []Track{{
		Index:     0,
		MediaType: MediaTypeWAV,
		Format:    format,
		Duration:  duration,
	}}

	return demuxer, nil
}

func (d *wavDemuxer) Tracks() []Track {
	return d.tracks
}

func (d *wavDemuxer) SelectTrack(index int) error {
	if index < 0 || index >= len(d.tracks) {
		return fmt.Errorf("%w: %d", ErrUnknownTrack, index)
	}

	track := d.tracks[index]
	d.selected = true
	d.remaining = track.Duration * int64(track.Format.Channels)
	d.buffer = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: track.Format.Channels,
			SampleRate:  track.Format.SampleRate,
		},
		Data:           make([]int, SampleFrames*track.Format.Channels),
		SourceBitDepth: track.Format.BitDepth,
	}

	return nil
}

// ReadSample returns the next block of whole frames. Trailing bytes that do
// not form a whole frame are dropped.
func (d *wavDemuxer) ReadSample() (Sample, error) {
	if !d.selected {
		return Sample{}, ErrNoTrackSelected
	}

	channels := d.tracks[0].Format.Channels
	want := SampleFrames * channels

	fillErr := d.fill(want)
	if fillErr != nil {
		return Sample{}, fillErr
	}

	whole := (len(d.pending) / channels) * channels
	if whole == 0 {
		return Sample{}, io.EOF
	}

	take := min(whole, want)
	data := make([]int, take)
	copy(data, d.pending[:take])
	d.pending = append(d.pending[:0], d.pending[take:]...)

	sample := Sample{Data: data, PTS: d.position, Sync: true}
	d.position += int64(take / channels)

	return sample, nil
}

func (d *wavDemuxer) fill(want int) error {
	for len(d.pending) < want && !d.exhausted {
		if d.remaining <= 0 {
			d.exhausted = true

			break
		}

		read, err := d.decoder.PCMBuffer(d.buffer)
		if err != nil {
			return fmt.Errorf("read pcm data: %w", err)
		}

		if read == 0 {
			d.exhausted = true

			break
		}

		if int64(read) >= d.remaining {
			read = int(d.remaining)
			d.exhausted = true
		}

		d.remaining -= int64(read)
		d.pending = append(d.pending, d.buffer.Data[:read]...)
	}

	return nil
}

func (d *wavDemuxer) Close() error {
	if d.file == nil {
		return nil
	}

	err := d.file.Close()
	d.file = nil

	if err != nil {
		return fmt.Errorf("close wav reader: %w", err)
	}

	return nil
}

type wavMuxer struct {
	path     string
	file     *os.File
	encoder  *wav.Encoder
	format   Format
	hasTrack bool
	next     int64
	closed   bool
}

// CreateWAV creates a new WAV file at path and returns a Muxer for it. The
// path must not exist yet; the muxer owns the file exclusively.
func CreateWAV(path string) (Muxer, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	return &wavMuxer{path: path, file: file}, nil
}

func (m *wavMuxer) AddTrack(format Format) (int, error) {
	if m.closed {
		return 0, ErrMuxerClosed
	}

	if m.hasTrack {
		return 0, ErrTrackAlreadyAdded
	}

	validateErr := format.Validate()
	if validateErr != nil {
		return 0, fmt.Errorf("%w: %w", ErrFormatNotSupported, validateErr)
	}

	m.format = format
	m.hasTrack = true
	m.encoder = wav.NewEncoder(m.file, format.SampleRate, format.BitDepth, format.Channels, format.AudioFormat)

	return 0, nil
}

func (m *wavMuxer) WriteSample(track int, sample Sample) error {
	if m.closed {
		return ErrMuxerClosed
	}

	if !m.hasTrack || track != 0 {
		return fmt.Errorf("%w: %d", ErrUnknownTrack, track)
	}

	if len(sample.Data)%m.format.Channels != 0 {
		return fmt.Errorf("%w: %d values for %d channels", ErrPartialFrame, len(sample.Data), m.format.Channels)
	}

	switch {
	case sample.PTS < m.next:
		return fmt.Errorf("%w: pts %d, expected %d", ErrTimestampOverlap, sample.PTS, m.next)
	case sample.PTS > m.next:
		return fmt.Errorf("%w: pts %d, expected %d", ErrTimestampGap, sample.PTS, m.next)
	}

	if len(sample.Data) == 0 {
		return nil
	}

	writeErr := m.encoder.Write(&audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: m.format.Channels,
			SampleRate:  m.format.SampleRate,
		},
		Data:           sample.Data,
		SourceBitDepth: m.format.BitDepth,
	})
	if writeErr != nil {
		return fmt.Errorf("write samples at pts %d: %w", sample.PTS, writeErr)
	}

	m.next += sample.FrameCount(m.format.Channels)

	return nil
}

// Finish writes the final header sizes and closes the file. On failure the
// file is removed.
func (m *wavMuxer) Finish() error {
	if m.closed {
		return nil
	}

	if !m.hasTrack {
		return errors.Join(ErrNoTracks, m.Abort())
	}

	if m.next == 0 {
		// The encoder writes its header lazily; force it for an empty track.
		headerErr := m.encoder.Write(&audio.IntBuffer{
			Format:         &audio.Format{NumChannels: m.format.Channels, SampleRate: m.format.SampleRate},
			SourceBitDepth: m.format.BitDepth,
		})
		if headerErr != nil {
			return errors.Join(fmt.Errorf("write wav header: %w", headerErr), m.Abort())
		}
	}

	encodeErr := m.encoder.Close()
	if encodeErr != nil {
		return errors.Join(fmt.Errorf("finalize wav header: %w", encodeErr), m.Abort())
	}

	m.closed = true

	closeErr := m.file.Close()
	if closeErr != nil {
		removeErr := os.Remove(m.path)

		return errors.Join(fmt.Errorf("close %s: %w", m.path, closeErr), removeErr)
	}

	return nil
}

// Abort closes and deletes the partially written file.
func (m *wavMuxer) Abort() error {
	if m.closed {
		return nil
	}

	m.closed = true

	closeErr := m.file.Close()
	removeErr := os.Remove(m.path)

	if removeErr != nil && errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}

	return errors.Join(closeErr, removeErr)
}

// WritePCM writes interleaved integer samples to a new PCM WAV file with the
// standard 44-byte header.
func WritePCM(path string, format Format, samples []int) error {
	validateErr := format.Validate()
	if validateErr != nil {
		return validateErr
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	encoder := wav.NewEncoder(file, format.SampleRate, format.BitDepth, format.Channels, format.AudioFormat)

	writeErr := encoder.Write(&audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           samples,
		SourceBitDepth: format.BitDepth,
	})
	if writeErr != nil {
		return errors.Join(fmt.Errorf("write %s: %w", path, writeErr), file.Close())
	}

	encodeErr := encoder.Close()
	closeErr := file.Close()

	if encodeErr != nil {
		return fmt.Errorf("finalize %s: %w", path, encodeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", path, closeErr)
	}

	return nil
}
