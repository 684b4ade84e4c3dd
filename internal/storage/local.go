// Package storage keeps recorded voice samples, generated artifacts and
// per-job scratch workspaces on the local filesystem.
package storage

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/container"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/google/uuid"
)

// Directory layout below the storage root.
const (
	RecordingsDirName = "recordings"
	GeneratedDirName  = "generated"
	WorkDirName       = "work"
)

const (
	recordingPrefix        = "REC_"
	generatedPrefix        = "GEN_"
	timestampLayout        = "20060102_150405"
	idLength               = 8
	extWAV                 = "wav"
	extMP3                 = "mp3"
	dirPermissions         = 0o750
	invalidCharReplacement = "_"
	logFmtProbeFailed      = "Could not read duration of '%s': %v"
	logFmtDeleted          = "Deleted artifact %s"
)

// Storage errors.
var (
	ErrUnsupportedExtension = errors.New("unsupported artifact extension")
	ErrOutsideStorage       = errors.New("path is outside the managed directories")
	ErrArtifactNotFound     = errors.New("artifact not found")
	ErrInvalidJobID         = errors.New("invalid job id")
)

// Local is a core.Storage rooted in one directory.
type Local struct {
	root       string
	recordings string
	generated  string
	work       string
	now        func() time.Time
	log        *logger.Logger
}

// Option configures a Local store.
type Option func(*Local)

// WithClock replaces the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(l *Local) { l.now = now }
}

// NewLocal creates the directory layout below root.
func NewLocal(root string, log *logger.Logger, opts ...Option) (*Local, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve storage root %q: %w", root, err)
	}

	local := &Local{
		root:       absRoot,
		recordings: filepath.Join(absRoot, RecordingsDirName),
		generated:  filepath.Join(absRoot, GeneratedDirName),
		work:       filepath.Join(absRoot, WorkDirName),
		now:        time.Now,
		log:        log,
	}

	for _, opt := range opts {
		opt(local)
	}

	for _, dir := range []string{local.recordings, local.generated, local.work} {
		mkdirErr := os.MkdirAll(dir, dirPermissions)
		if mkdirErr != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, mkdirErr)
		}
	}

	return local, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string {
	return l.root
}

// NewRecordingLocation returns a fresh path for a recorded voice sample.
func (l *Local) NewRecordingLocation() (string, error) {
	return filepath.Join(l.recordings, l.fileName(recordingPrefix, extWAV)), nil
}

// NewGeneratedLocation returns a fresh path for a generated artifact with
// the given extension.
func (l *Local) NewGeneratedLocation(extension string) (string, error) {
	extension = strings.ToLower(strings.TrimPrefix(extension, "."))
	if extension == "" {
		extension = extWAV
	}

	if extension != extWAV && extension != extMP3 {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, extension)
	}

	return filepath.Join(l.generated, l.fileName(generatedPrefix, extension)), nil
}

func (l *Local) fileName(prefix, extension string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]

	return fmt.Sprintf("%s%s_%s.%s", prefix, l.now().Format(timestampLayout), id, extension)
}

// NewWorkspace creates an empty scratch directory for one job.
func (l *Local) NewWorkspace(jobID string) (core.Workspace, error) {
	name := SanitizeFilename(strings.TrimSpace(jobID))
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}

	dir := filepath.Join(l.work, name)

	mkdirErr := os.Mkdir(dir, dirPermissions)
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", dir, mkdirErr)
	}

	return &Workspace{dir: dir}, nil
}

// ListRecordings lists recorded WAV samples, newest first.
func (l *Local) ListRecordings() ([]core.ArtifactMetadata, error) {
	return l.list(l.recordings, extWAV)
}

// ListGenerated lists generated WAV and MP3 artifacts, newest first.
func (l *Local) ListGenerated() ([]core.ArtifactMetadata, error) {
	return l.list(l.generated, extWAV, extMP3)
}

func (l *Local) list(dir string, extensions ...string) ([]core.ArtifactMetadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	artifacts := make([]core.ArtifactMetadata, 0, len(entries))

	for _, entry := range entries {
		extension := strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.Name()), "."))
		if entry.IsDir() || !slices.Contains(extensions, extension) {
			continue
		}

		info, infoErr := entry.Info()
		if errors.Is(infoErr, fs.ErrNotExist) {
			continue
		}

		if infoErr != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), infoErr)
		}

		artifacts = append(artifacts, l.describe(filepath.Join(dir, entry.Name()), extension, info))
	}

	slices.SortFunc(artifacts, func(a, b core.ArtifactMetadata) int {
		if byTime := b.CreatedAt.Compare(a.CreatedAt); byTime != 0 {
			return byTime
		}

		return cmp.Compare(b.Title, a.Title)
	})

	return artifacts, nil
}

func (l *Local) describe(path, extension string, info fs.FileInfo) core.ArtifactMetadata {
	name := info.Name()
	artifact := core.ArtifactMetadata{
		ID:        strings.TrimSuffix(name, filepath.Ext(name)),
		Title:     name,
		Path:      path,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}

	if extension != extWAV {
		return artifact
	}

	_, duration, probeErr := container.Probe(path)
	if probeErr != nil {
		l.log.Warn(logFmtProbeFailed, path, probeErr)

		return artifact
	}

	artifact.Duration = duration

	return artifact
}

// Delete removes a recorded or generated file.
func (l *Local) Delete(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("could not resolve %q: %w", path, err)
	}

	parent := filepath.Dir(absPath)
	if parent != l.recordings && parent != l.generated {
		return fmt.Errorf("%w: %s", ErrOutsideStorage, path)
	}

	removeErr := os.Remove(absPath)
	if errors.Is(removeErr, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrArtifactNotFound, path, removeErr)
	}

	if removeErr != nil {
		return fmt.Errorf("failed to delete %s: %w", path, removeErr)
	}

	l.log.Info(logFmtDeleted, absPath)

	return nil
}

// SanitizeFilename replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
