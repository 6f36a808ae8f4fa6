package camview

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	// SnapshotSubdir is the directory under $HOME that receives snapshots.
	SnapshotSubdir = "DCIM"

	// maxSnapshotsPerSecond bounds the NNN suffix of snapshot names.
	maxSnapshotsPerSecond = 64

	snapshotTimeLayout = "20060102-150405"
)

// SnapshotWriter names and encodes snapshot files. The zero value uses the
// wall clock.
type SnapshotWriter struct {
	// Now overrides the clock used for file names.
	Now func() time.Time
}

func (w *SnapshotWriter) now() time.Time {
	if w != nil && w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// SnapshotDir returns $HOME/DCIM.
func SnapshotDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, SnapshotSubdir), nil
}

// HomeDir returns $HOME, falling back to the user database.
func HomeDir() (string, error) {
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("camview: home directory: %w", err)
	}
	return home, nil
}

// EnsureOutputDirectory creates base/sub if it does not exist yet.
func (w *SnapshotWriter) EnsureOutputDirectory(base, sub string) error {
	dir := filepath.Join(base, sub)
	err := os.Mkdir(dir, 0o777)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		if fi, serr := os.Stat(dir); serr == nil && fi.IsDir() {
			return nil
		}
		return fmt.Errorf("camview: %s exists and is not a directory", dir)
	}
	return fmt.Errorf("camview: create %s: %w", dir, err)
}

// GenerateUniquePath returns base/sub/YYYYMMDD-HHMMSS-NNN.ext for the
// current UTC second with the first free NNN in 001..064.
func (w *SnapshotWriter) GenerateUniquePath(base, sub, ext string) (string, error) {
	stamp := w.now().UTC().Format(snapshotTimeLayout)
	dir := filepath.Join(base, sub)
	for i := 1; i <= maxSnapshotsPerSecond; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%s-%03d.%s", stamp, i, ext))
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("camview: probe %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w: %s-NNN.%s in %s", ErrPathExhausted, stamp, ext, dir)
}

// Save encodes img to path. Quality applies to JPEG only.
func (w *SnapshotWriter) Save(img image.Image, path string, format SnapshotFormat, quality int) (err error) {
	if frame, ok := img.(*RGBFrame); ok {
		if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pix) != frame.Width*frame.Height*3 {
			return &EncodeError{Path: path, Err: errors.New("invalid frame data")}
		}
		img = frame.NRGBA()
	}

	f, err := os.Create(path)
	if err != nil {
		return &EncodeError{Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &EncodeError{Path: path, Err: cerr}
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	switch format {
	case SnapshotJPEG:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: clampQuality(quality)})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		return &EncodeError{Path: path, Err: err}
	}
	return nil
}

// Write ensures the output directory, picks a unique name and saves img.
func (w *SnapshotWriter) Write(img image.Image, base, sub string, format SnapshotFormat, quality int) (string, error) {
	if err := w.EnsureOutputDirectory(base, sub); err != nil {
		return "", err
	}
	path, err := w.GenerateUniquePath(base, sub, format.Extension())
	if err != nil {
		return "", err
	}
	if err := w.Save(img, path, format, quality); err != nil {
		return "", err
	}
	return path, nil
}

func clampQuality(q int) int {
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}
