package camera

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

var (
	// ErrNotActivated is returned by CaptureFrame before Activate succeeded.
	ErrNotActivated = errors.New("camera not activated")
	// ErrNoCamera is returned by Discover when no device matches.
	ErrNoCamera = errors.New("no camera found")
	// ErrStreamFailed is matched by errors reported by a running stream.
	ErrStreamFailed = errors.New("camera stream failed")
	// ErrCaptureTimeout is returned when no frame arrives in time.
	ErrCaptureTimeout = errors.New("camera capture timed out")
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract still camera, regardless of how it's driven
// (libcamera, V4L2, synthetic, etc.).
type Camera interface {
	// Activate brings the hardware to a ready state. Called once.
	Activate() error
	// CaptureFrame performs one blocking exposure and returns the
	// encoded image (JPEG).
	CaptureFrame() ([]byte, error)
	// Close releases the hardware.
	Close() error
}

// Info identifies a physical camera discovered at startup.
type Info struct {
	ID     string // stable short name, e.g. "video0"
	Device string // device node, e.g. "/dev/video0"
	Driver string // implementation that will open it
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s via %s)", i.ID, i.Device, i.Driver)
}

// Discover lists the device nodes matching pattern (e.g. "/dev/video*")
// as cameras for driver. Results are sorted by device path.
func Discover(pattern, driver string) ([]Info, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("discover cameras %q: %w", pattern, err)
	}
	sort.Strings(matches)

	infos := make([]Info, 0, len(matches))
	for _, m := range matches {
		infos = append(infos, Info{
			ID:     filepath.Base(m),
			Device: m,
			Driver: driver,
		})
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w matching %q", ErrNoCamera, pattern)
	}
	return infos, nil
}
