package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cjeanneret/RaspiCam/internal/config"
	"github.com/cjeanneret/RaspiCam/internal/hw/camera"
	"github.com/cjeanneret/RaspiCam/internal/hw/camera/gstreamer"
)

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}


// ---------- applyModeFlag ----------

func TestApplyModeFlag(t *testing.T) {
	cases := []struct {
		flag    string
		start   string
		want    string
		wantErr bool
	}{
		{"", config.ModeMotion, config.ModeMotion, false},
		{"oneshot", config.ModeMotion, config.ModeOneShot, false},
		{" Motion ", config.ModeOneShot, config.ModeMotion, false},
		{"timelapse", config.ModeOneShot, config.ModeOneShot, true},
	}
	for _, tc := range cases {
		t.Run(tc.flag, func(t *testing.T) {
			cfg := &config.Config{Mode: tc.start}
			err := applyModeFlag(cfg, tc.flag)
			if tc.wantErr != (err != nil) {
				t.Fatalf("applyModeFlag(%q) error = %v, wantErr %v", tc.flag, err, tc.wantErr)
			}
			if cfg.Mode != tc.want {
				t.Errorf("mode = %q, want %q", cfg.Mode, tc.want)
			}
		})
	}
}

// ---------- camera selection ----------

func TestDiscoverCameras_Mock(t *testing.T) {
	cfg := &config.Config{Camera: config.CameraConfig{Type: config.CameraMock, DeviceGlob: "/nonexistent/video*"}}
	infos, err := discoverCameras(cfg)
	if err != nil {
		t.Fatalf("discoverCameras: %v", err)
	}
	if len(infos) != 1 || infos[0] != camera.MockInfo {
		t.Errorf("infos = %+v, want [MockInfo]", infos)
	}
}

func TestDiscoverCameras_NoneFound(t *testing.T) {
	cfg := &config.Config{Camera: config.CameraConfig{
		Type:       config.CameraGStreamer,
		Source:     "v4l2src",
		DeviceGlob: filepath.Join(t.TempDir(), "video*"),
	}}
	_, err := discoverCameras(cfg)
	if !errors.Is(err, camera.ErrNoCamera) {
		t.Errorf("expected ErrNoCamera, got %v", err)
	}
}

func TestNewCameraFromConfig(t *testing.T) {
	info := camera.Info{ID: "video0", Device: "/dev/video0", Driver: "v4l2src"}

	cam, err := newCameraFromConfig(info, &config.Config{Camera: config.CameraConfig{Type: config.CameraGStreamer, Source: "v4l2src"}})
	if err != nil {
		t.Fatalf("gstreamer: %v", err)
	}
	if _, ok := cam.(*gstreamer.Camera); !ok {
		t.Errorf("gstreamer type gave %T", cam)
	}

	cam, err = newCameraFromConfig(camera.MockInfo, &config.Config{Camera: config.CameraConfig{Type: config.CameraMock, Width: 64, Height: 48}})
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, ok := cam.(*camera.Mock); !ok {
		t.Errorf("mock type gave %T", cam)
	}

	if _, err := newCameraFromConfig(info, &config.Config{Camera: config.CameraConfig{Type: "nikon_d90_gpio"}}); err == nil {
		t.Error("expected error for unsupported camera type")
	}
}

// ---------- webhookLabel ----------

func TestWebhookLabel(t *testing.T) {
	cases := map[string]string{
		"": "(none, notifications skipped)",
		"https://discord.com/api/webhooks/123/s3cr3t": "https://discord.com/api/webhooks/123/***",
		"nourl": "***",
	}
	for in, want := range cases {
		if got := webhookLabel(in); got != want {
			t.Errorf("webhookLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShutdownRequested(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	live := context.Background()

	cases := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"signal during warmup", cancelled, context.Canceled, true},
		{"wrapped cancellation", cancelled, fmt.Errorf("capture: %w", context.Canceled), true},
		{"capture failure after signal", cancelled, errors.New("no frame"), false},
		{"cancelled error without signal", live, context.Canceled, false},
		{"success", cancelled, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shutdownRequested(tc.ctx, tc.err); got != tc.want {
				t.Errorf("shutdownRequested = %v, want %v", got, tc.want)
			}
		})
	}
}
