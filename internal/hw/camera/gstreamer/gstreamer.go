// Package gstreamer drives a camera through a GStreamer pipeline ending in
// an appsink. On Raspberry Pi OS the libcamera stack is reached through
// libcamerasrc; USB webcams and legacy stacks go through v4l2src.
package gstreamer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/cjeanneret/RaspiCam/internal/debug"
	"github.com/cjeanneret/RaspiCam/internal/hw/camera"
)

const sinkName = "snapsink"

// Config selects the source element and the output image.
type Config struct {
	Source      string // "libcamerasrc" or "v4l2src"
	Width       int
	Height      int
	JPEGQuality int // 1-100
	Framerate   int // frames per second kept flowing while idle

	// Zero means 5s.
	ActivateTimeout time.Duration
	CaptureTimeout  time.Duration
}

const defaultTimeout = 5 * time.Second

func (c Config) activateTimeout() time.Duration {
	if c.ActivateTimeout > 0 {
		return c.ActivateTimeout
	}
	return defaultTimeout
}

// captureTimeout never drops below two frame intervals.
func (c Config) captureTimeout() time.Duration {
	t := c.CaptureTimeout
	if t <= 0 {
		t = defaultTimeout
	}
	if c.Framerate > 0 {
		if floor := 2 * time.Second / time.Duration(c.Framerate); t < floor {
			t = floor
		}
	}
	return t
}

// PipelineError is an ERROR or EOS reported by the pipeline. It matches
// camera.ErrStreamFailed.
type PipelineError struct {
	Camera  string
	Element string
	Msg     string
	Debug   string
}

func (e *PipelineError) Error() string {
	s := fmt.Sprintf("gstreamer: camera %s: %s: %s", e.Camera, e.Element, e.Msg)
	if e.Debug != "" {
		s += " (" + e.Debug + ")"
	}
	return s
}

func (e *PipelineError) Unwrap() error { return camera.ErrStreamFailed }

// Camera keeps a pipeline PLAYING after Activate so that the sensor's
// auto-exposure is settled; CaptureFrame pulls the newest JPEG sample.
type Camera struct {
	info camera.Info
	cfg  Config

	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
}

// New returns an inactive camera for info.
func New(info camera.Info, cfg Config) *Camera {
	return &Camera{info: info, cfg: cfg}
}

// PipelineDescription renders the gst-launch description used for info.
func PipelineDescription(info camera.Info, cfg Config) string {
	src := cfg.Source
	if src == "" {
		src = "libcamerasrc"
	}
	if src == "v4l2src" && info.Device != "" {
		src = fmt.Sprintf("v4l2src device=%s", info.Device)
	}
	fps := cfg.Framerate
	if fps <= 0 {
		fps = 2
	}

	parts := []string{
		src,
		"videoconvert",
		"videoscale",
		"videorate",
		fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", cfg.Width, cfg.Height, fps),
		fmt.Sprintf("jpegenc quality=%d", cfg.JPEGQuality),
		fmt.Sprintf("appsink name=%s sync=false max-buffers=1 drop=true", sinkName),
	}
	return strings.Join(parts, " ! ")
}

// Activate builds and starts the pipeline, then waits until it reports
// PLAYING. An error or EOS posted by the source before that fails
// activation.
func (c *Camera) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline != nil {
		return fmt.Errorf("gstreamer: camera %s already activated", c.info.ID)
	}

	gst.Init(nil)

	desc := PipelineDescription(c.info, c.cfg)
	debug.Verbose("Camera: pipeline %q", desc)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("gstreamer: create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return fmt.Errorf("gstreamer: find appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		// Sources post the reason on the bus before failing the state change.
		if berr := c.drainBus(pipeline); berr != nil {
			err = berr
		}
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("gstreamer: start pipeline: %w", err)
	}

	if err := c.waitPlaying(pipeline, c.cfg.activateTimeout()); err != nil {
		pipeline.SetState(gst.StateNull)
		return err
	}

	c.pipeline = pipeline
	c.sink = sink
	debug.Info("Camera %s activated (%dx%d, quality %d)", c.info.ID, c.cfg.Width, c.cfg.Height, c.cfg.JPEGQuality)
	return nil
}

func (c *Camera) waitPlaying(pipeline *gst.Pipeline, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		if err := c.busError(msg); err != nil {
			return err
		}
		if msg.Type() == gst.MessageStateChanged && msg.Source() == pipeline.GetName() {
			old, state := msg.ParseStateChanged()
			debug.Verbose("Camera: pipeline state %s -> %s", old, state)
			if state == gst.StatePlaying {
				return nil
			}
		}
	}
	return fmt.Errorf("gstreamer: camera %s did not reach PLAYING within %v: %w", c.info.ID, timeout, camera.ErrCaptureTimeout)
}

// drainBus pops every queued message and returns the first error or EOS.
func (c *Camera) drainBus(pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	var first error
	for msg := bus.Pop(); msg != nil; msg = bus.Pop() {
		if err := c.busError(msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// busError converts ERROR and EOS messages into a *PipelineError and logs
// warnings. Other messages yield nil.
func (c *Camera) busError(msg *gst.Message) error {
	switch msg.Type() {
	case gst.MessageError:
		gerr := msg.ParseError()
		perr := &PipelineError{Camera: c.info.ID, Element: msg.Source(), Msg: gerr.Error(), Debug: gerr.DebugString()}
		debug.Error(perr, "camera pipeline error")
		return perr
	case gst.MessageEOS:
		perr := &PipelineError{Camera: c.info.ID, Element: msg.Source(), Msg: "end of stream"}
		debug.Error(perr, "camera pipeline stopped")
		return perr
	case gst.MessageWarning:
		gwarn := msg.ParseWarning()
		debug.Warn("Camera %s: %s: %s", c.info.ID, msg.Source(), gwarn.Error())
	}
	return nil
}

// CaptureFrame waits up to the capture timeout for the appsink to deliver a
// sample and returns a copy of its JPEG bytes. GStreamer reuses the mapped
// buffer. Errors queued on the pipeline bus are returned as *PipelineError.
func (c *Camera) CaptureFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == nil {
		return nil, camera.ErrNotActivated
	}

	if err := c.drainBus(c.pipeline); err != nil {
		return nil, err
	}

	timeout := c.cfg.captureTimeout()
	sample := c.sink.TryPullSample(timeout)
	if sample == nil {
		if err := c.drainBus(c.pipeline); err != nil {
			return nil, err
		}
		if c.sink.IsEOS() {
			return nil, &PipelineError{Camera: c.info.ID, Element: sinkName, Msg: "end of stream"}
		}
		return nil, fmt.Errorf("gstreamer: camera %s returned no sample within %v: %w", c.info.ID, timeout, camera.ErrCaptureTimeout)
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("gstreamer: camera %s sample has no buffer", c.info.ID)
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, fmt.Errorf("gstreamer: camera %s returned an empty buffer", c.info.ID)
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	debug.Verbose("Camera: captured %d bytes from %s", len(frame), c.info.ID)
	return frame, nil
}

// Close stops the pipeline.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline == nil {
		return nil
	}
	err := c.pipeline.SetState(gst.StateNull)
	c.pipeline = nil
	c.sink = nil
	if err != nil {
		return fmt.Errorf("gstreamer: stop pipeline: %w", err)
	}
	return nil
}
