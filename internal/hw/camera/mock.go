package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/cjeanneret/RaspiCam/internal/debug"
)

// MockInfo is the single camera reported in mock mode.
var MockInfo = Info{ID: "mock0", Device: "mock", Driver: "mock"}

// Mock is a synthetic camera for development hosts. Each frame is a small
// JPEG gradient whose hue shifts with the frame counter.
type Mock struct {
	Width, Height int

	mu     sync.Mutex
	active bool
	frames int
}

// NewMock returns a synthetic camera producing width x height frames.
func NewMock(width, height int) *Mock {
	return &Mock{Width: width, Height: height}
}

func (m *Mock) Activate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("mock camera: invalid size %dx%d", m.Width, m.Height)
	}
	m.active = true
	debug.Info("Using MOCK camera %dx%d (development mode)", m.Width, m.Height)
	return nil
}

func (m *Mock) CaptureFrame() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil, ErrNotActivated
	}
	m.frames++

	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	shift := uint8(m.frames * 40)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*255/m.Width) + shift,
				G: uint8(y * 255 / m.Height),
				B: 128 + shift,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("mock camera: encode: %w", err)
	}
	debug.Verbose("Camera: mock frame %d (%d bytes)", m.frames, buf.Len())
	return buf.Bytes(), nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	return nil
}
