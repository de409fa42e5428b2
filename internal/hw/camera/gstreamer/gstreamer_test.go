package gstreamer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/RaspiCam/internal/hw/camera"
)

func TestPipelineDescription_Libcamera(t *testing.T) {
	desc := PipelineDescription(camera.Info{ID: "video0", Device: "/dev/video0"}, Config{
		Source: "libcamerasrc", Width: 1920, Height: 1080, JPEGQuality: 85, Framerate: 2,
	})
	if !strings.HasPrefix(desc, "libcamerasrc ! ") {
		t.Errorf("expected libcamerasrc source, got %q", desc)
	}
	for _, want := range []string{
		"video/x-raw,width=1920,height=1080,framerate=2/1",
		"jpegenc quality=85",
		"appsink name=" + sinkName,
		"drop=true",
	} {
		if !strings.Contains(desc, want) {
			t.Errorf("description missing %q: %q", want, desc)
		}
	}
}

func TestPipelineDescription_V4L2UsesDevice(t *testing.T) {
	desc := PipelineDescription(camera.Info{ID: "video2", Device: "/dev/video2"}, Config{
		Source: "v4l2src", Width: 640, Height: 480, JPEGQuality: 80,
	})
	if !strings.HasPrefix(desc, "v4l2src device=/dev/video2 ! ") {
		t.Errorf("expected v4l2src bound to device, got %q", desc)
	}
	if !strings.Contains(desc, "framerate=2/1") {
		t.Errorf("expected default framerate, got %q", desc)
	}
}

func TestPipelineDescription_DefaultSource(t *testing.T) {
	desc := PipelineDescription(camera.Info{}, Config{Width: 1, Height: 1, JPEGQuality: 1})
	if !strings.HasPrefix(desc, "libcamerasrc") {
		t.Errorf("default source should be libcamerasrc, got %q", desc)
	}
}

func TestCaptureBeforeActivate(t *testing.T) {
	cam := New(camera.Info{ID: "video0"}, Config{})
	if _, err := cam.CaptureFrame(); !errors.Is(err, camera.ErrNotActivated) {
		t.Errorf("expected ErrNotActivated, got %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Close on inactive camera: %v", err)
	}
}

func TestImplementsCamera(t *testing.T) {
	var _ camera.Camera = New(camera.Info{}, Config{}) // compile-time check
}

func TestPipelineError_MatchesStreamFailed(t *testing.T) {
	err := &PipelineError{Camera: "video0", Element: "source", Msg: "Device is busy", Debug: "v4l2src0: open failed"}
	if !errors.Is(err, camera.ErrStreamFailed) {
		t.Error("PipelineError should match camera.ErrStreamFailed")
	}
	for _, want := range []string{"video0", "source", "Device is busy", "(v4l2src0: open failed)"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
	if eos := (&PipelineError{Camera: "video0", Element: sinkName, Msg: "end of stream"}); strings.Contains(eos.Error(), "(") {
		t.Errorf("no debug detail expected: %q", eos.Error())
	}
}

func TestConfigTimeouts(t *testing.T) {
	cases := []struct {
		name     string
		cfg      Config
		activate time.Duration
		capture  time.Duration
	}{
		{"defaults", Config{}, 5 * time.Second, 5 * time.Second},
		{"explicit", Config{ActivateTimeout: time.Second, CaptureTimeout: 3 * time.Second, Framerate: 2}, time.Second, 3 * time.Second},
		{"slow_framerate_floor", Config{CaptureTimeout: time.Second, Framerate: 1}, 5 * time.Second, 2 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.activateTimeout(); got != tc.activate {
				t.Errorf("activateTimeout = %v, want %v", got, tc.activate)
			}
			if got := tc.cfg.captureTimeout(); got != tc.capture {
				t.Errorf("captureTimeout = %v, want %v", got, tc.capture)
			}
		})
	}
}

func TestActivate_MissingDeviceFails(t *testing.T) {
	cam := New(camera.Info{ID: "missing", Device: "/dev/raspicam-missing-video"}, Config{
		Source: "v4l2src", Width: 640, Height: 480, JPEGQuality: 80, ActivateTimeout: time.Second,
	})
	if err := cam.Activate(); err == nil {
		t.Fatal("Activate should fail for a missing device")
	}
	// A failed activation leaves the camera unusable, not half-open.
	if _, err := cam.CaptureFrame(); !errors.Is(err, camera.ErrNotActivated) {
		t.Errorf("CaptureFrame after failed Activate: %v", err)
	}
}
