// Package artifact stores generated images as WebP sidecar files next to the
// task database. The database row carries only the file name; the bytes live
// on disk so the queue stays small and artifacts stream straight from the
// filesystem.
package artifact

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/HugoSmits86/nativewebp"
)

// ErrBadImage reports a payload that could not be decoded as an image.
var ErrBadImage = errors.New("unrecognized image data")

// FileSink writes one WebP file per task under a single directory.
//
// Writes are atomic: the encoded image goes to a temp file in the same
// directory, is fsynced, then renamed over the final name. Readers either see
// the old artifact or the new one, never a partial write.
type FileSink struct {
	dir string
}

// NewFileSink creates the artifact directory if needed and returns a sink
// rooted there.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	return &FileSink{dir: abs}, nil
}

// Dir returns the absolute artifact directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Put decodes the uploaded image, re-encodes it as lossless WebP, and stores
// it as <taskID>.webp. Returns the reference to record in the task row.
// Decode failures wrap ErrBadImage so callers can reject the upload rather
// than fail the task.
func (s *FileSink) Put(taskID string, r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	ref := taskID + ".webp"
	final := filepath.Join(s.dir, ref)

	tmp, err := os.CreateTemp(s.dir, ref+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after successful rename

	if err := nativewebp.Encode(tmp, img, nil); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode webp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return ref, nil
}

// Path resolves a stored reference to an absolute file path. The reference is
// reduced to its base name so a corrupted row cannot escape the artifact
// directory.
func (s *FileSink) Path(ref string) string {
	return filepath.Join(s.dir, filepath.Base(ref))
}

// Remove deletes a stored artifact. Missing files are not an error; the
// reference may belong to an artifact that was already cleaned up.
func (s *FileSink) Remove(ref string) error {
	if ref == "" {
		return nil
	}
	err := os.Remove(s.Path(ref))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
