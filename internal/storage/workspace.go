package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const chunkFileFormat = "chunk_%04d.wav"

// ErrNegativeChunkIndex is returned for chunk indexes below zero.
var ErrNegativeChunkIndex = errors.New("chunk index must not be negative")

// Workspace is a scratch directory holding one job's chunk files.
type Workspace struct {
	dir string
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// ChunkLocation returns the path for the audio of chunk index. Paths are
// distinct per index and sort in chunk order.
func (w *Workspace) ChunkLocation(index int) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("%w: %d", ErrNegativeChunkIndex, index)
	}

	return filepath.Join(w.dir, fmt.Sprintf(chunkFileFormat, index)), nil
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	err := os.RemoveAll(w.dir)
	if err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.dir, err)
	}

	return nil
}
