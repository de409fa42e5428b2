package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/RaspiCam/internal/config"
	"github.com/cjeanneret/RaspiCam/internal/debug"
	"github.com/cjeanneret/RaspiCam/internal/emitter"
	"github.com/cjeanneret/RaspiCam/internal/hw/camera"
	"github.com/cjeanneret/RaspiCam/internal/hw/camera/gstreamer"
	"github.com/cjeanneret/RaspiCam/internal/hw/gpio"
	"github.com/cjeanneret/RaspiCam/internal/hw/sensor"
	"github.com/cjeanneret/RaspiCam/internal/ledger"
	"github.com/cjeanneret/RaspiCam/internal/logic/capture"
	"github.com/cjeanneret/RaspiCam/internal/notify"
	"github.com/cjeanneret/RaspiCam/internal/store"
	"github.com/cjeanneret/RaspiCam/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port (motion mode); -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	modeFlag := flag.String("mode", "", "override mode: oneshot or motion")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// .env is optional, as is DISCORD_URL inside it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		debug.Error(err, "load .env failed")
	}

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		debug.Fatal(err, "invalid config path")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		debug.Fatal(err, "load config failed")
	}
	cfg.ApplyEnv(os.Getenv)
	if err := applyModeFlag(cfg, *modeFlag); err != nil {
		debug.Fatal(err, "invalid -mode")
	}
	if err := cfg.Validate(); err != nil {
		debug.Fatal(err, "invalid configuration")
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Summary(fmt.Sprintf("RaspiCam (%s mode)", cfg.Mode))
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Mode", cfg.Mode)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Static dir", cfg.Capture.StaticDir)
	debug.Value("Webhook", webhookLabel(cfg.Notify.URL))

	// Discover and activate the camera
	debug.Step(1, "Discovering cameras")
	cameras, err := discoverCameras(cfg)
	if errors.Is(err, camera.ErrNoCamera) {
		debug.Fatal(err, "Found 0 cameras. Exiting")
	}
	if err != nil {
		debug.Fatal(err, "camera discovery failed")
	}
	debug.Info("Found %d cameras", len(cameras))
	for _, info := range cameras {
		debug.Info("Found camera %s", info)
	}

	debug.Step(2, "Activating camera")
	cam, err := newCameraFromConfig(cameras[0], cfg)
	if err != nil {
		debug.Fatal(err, "init camera failed")
	}
	if err := cam.Activate(); err != nil {
		debug.Fatal(err, "activate camera %s failed", cameras[0].ID)
	}
	defer func() {
		if err := cam.Close(); err != nil {
			debug.Error(err, "closing camera failed")
		}
	}()

	debug.Step(3, "Preparing storage and notifier")
	frames, err := store.New(cfg.Capture.StaticDir)
	if err != nil {
		debug.Fatal(err, "init frame store failed")
	}
	if err := frames.Check(); err != nil {
		debug.Fatal(err, "static directory unusable")
	}
	webhook := notify.NewWebhook(cfg.Notify.URL, cfg.NotifyTimeout())
	if !webhook.Enabled() {
		debug.Warn("DISCORD_URL not set, captures will be stored without notification")
	}

	// Optional sinks: failures are logged and the sink is skipped.
	var sinks []capture.Sink
	var history web.CaptureLister
	var mqttEmitter *emitter.MQTT
	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			debug.Error(err, "capture ledger disabled")
		} else {
			defer l.Close()
			debug.Value("Ledger", l.Path())
			sinks = append(sinks, l)
			history = l
		}
	}
	if cfg.MQTT.Broker != "" {
		em, err := connectEmitter(ctx, cfg)
		if err != nil {
			debug.Error(err, "MQTT emitter disabled")
		} else {
			defer em.Disconnect()
			sinks = append(sinks, em)
			mqttEmitter = em
		}
	}

	ctrlCfg := capture.Config{
		Cooldown:     cfg.Cooldown(),
		PollInterval: cfg.PollInterval(),
		StartupDelay: cfg.Warmup(),
		Caption:      cfg.Capture.Caption,
	}

	if cfg.Mode == config.ModeOneShot {
		debug.Section("One-shot capture")
		ctrl := capture.NewController(cam, frames, webhook, ctrlCfg, capture.WithSinks(sinks...))
		ev, err := ctrl.RunOnce(ctx)
		if shutdownRequested(ctx, err) {
			debug.Info("Shutdown complete")
			return
		}
		if err != nil {
			debug.Fatal(err, "capture failed")
		}
		debug.Info("Capture %s stored as %s, notification %s", ev.ID, ev.Image.Path, ev.Notification)
		return
	}

	// Motion mode
	debug.Step(4, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		debug.Fatal(err, "init GPIO failed")
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			debug.Error(err, "closing GPIO driver failed")
		}
	}()

	pin, _ := cfg.SensorPin()
	pull, _ := gpio.ParsePull(cfg.Sensor.Pull)
	sensorCfg := sensor.Config{
		Pin:       pin,
		Pull:      pull,
		ActiveLow: cfg.Sensor.ActiveLow,
	}
	debug.PrintStruct("Sensor config", sensorCfg)
	pir, err := sensor.NewReader(gpioDriver, sensorCfg)
	if err != nil {
		debug.Fatal(err, "init sensor failed")
	}

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		sinks = append(sinks, broadcaster)
	}

	ctrl := capture.NewController(cam, frames, webhook, ctrlCfg,
		capture.WithSensor(pir),
		capture.WithSinks(sinks...),
	)

	debug.Section("Motion loop")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	if port := webPort.port(); port > 0 {
		if !debug.IsEnabled(debug.LevelVerbose) {
			gin.SetMode(gin.ReleaseMode)
		}
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), frames.Dir(), broadcaster, ctrl, history)
		if err != nil {
			debug.Fatal(err, "init web server failed")
		}
		if mqttEmitter != nil {
			srv.SetEmitter(mqttEmitter)
		}
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		debug.Fatal(err, "motion loop stopped")
	}
	debug.Info("Shutdown complete")
}

// shutdownRequested reports whether err only reflects a signal-driven
// cancellation of ctx.
func shutdownRequested(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled)
}

// applyModeFlag overrides cfg.Mode when -mode was given.
func applyModeFlag(cfg *config.Config, mode string) error {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "":
		return nil
	case config.ModeOneShot, config.ModeMotion:
		cfg.Mode = mode
		return nil
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", config.ModeOneShot, config.ModeMotion, mode)
	}
}

// discoverCameras lists usable cameras. The mock type always yields one.
func discoverCameras(cfg *config.Config) ([]camera.Info, error) {
	if cfg.Camera.Type == config.CameraMock {
		return []camera.Info{camera.MockInfo}, nil
	}
	return camera.Discover(cfg.Camera.DeviceGlob, cfg.Camera.Source)
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(info camera.Info, cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case config.CameraGStreamer:
		return gstreamer.New(info, gstreamer.Config{
			Source:      cfg.Camera.Source,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			JPEGQuality: cfg.Camera.JPEGQuality,
			Framerate:   cfg.Camera.Framerate,
		}), nil
	case config.CameraMock:
		return camera.NewMock(cfg.Camera.Width, cfg.Camera.Height), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

func connectEmitter(ctx context.Context, cfg *config.Config) (*emitter.MQTT, error) {
	em, err := emitter.NewMQTT(emitter.Config{
		Broker:   cfg.MQTT.Broker,
		Topic:    cfg.MQTT.Topic,
		ClientID: cfg.MQTT.ClientID,
		QoS:      byte(cfg.MQTT.QoS),
		Format:   cfg.MQTT.PayloadFormat,
	})
	if err != nil {
		return nil, err
	}
	if err := em.Connect(ctx); err != nil {
		return nil, err
	}
	return em, nil
}

// webhookLabel hides the webhook token in logs.
func webhookLabel(url string) string {
	if url == "" {
		return "(none, notifications skipped)"
	}
	if i := strings.LastIndex(url, "/"); i > 0 && i < len(url)-1 {
		return url[:i+1] + "***"
	}
	return "***"
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
