package camview

import (
	"fmt"
	"os/exec"
	"path/filepath"
)

// GalleryBrowser is the file browser launched on the snapshot directory.
var GalleryBrowser = "browser"

// GalleryCommand builds the command that shows dir in the gallery browser.
func GalleryCommand(dir string) *exec.Cmd {
	return exec.Command(GalleryBrowser, "-T", "--", dir)
}

// OpenGallery creates the snapshot directory if needed and launches the
// gallery browser on it without waiting for it to exit.
func OpenGallery(base, sub string) error {
	var w SnapshotWriter
	if err := w.EnsureOutputDirectory(base, sub); err != nil {
		return err
	}
	cmd := GalleryCommand(filepath.Join(base, sub))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("camview: gallery: %w", err)
	}
	camLog.Debugf("gallery started pid=%d", cmd.Process.Pid)
	go func() {
		if err := cmd.Wait(); err != nil {
			camLog.Debugf("gallery exited: %v", err)
		}
	}()
	return nil
}
