package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/RaspiCam/internal/debug"
	"github.com/cjeanneret/RaspiCam/internal/logic/motion"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	// sinkTimeout bounds all sinks together for one event.
	sinkTimeout = 3 * time.Second
)

// Controller sequences Camera -> FrameStore -> Notifier, either once at
// startup (RunOnce) or whenever the sensor is active and the cooldown
// window is open (Run). A single goroutine drives the pipeline; two cycles
// never overlap.
type Controller struct {
	sensor   Sensor
	camera   Camera
	store    FrameStore
	notifier Notifier
	sinks    []Sink
	cfg      Config
	now      func() time.Time

	// owned by the loop goroutine
	window *motion.Window

	trigger chan struct{}

	mu     sync.Mutex
	state  State
	status Status
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSensor sets the presence sensor used by Run.
func WithSensor(s Sensor) Option {
	return func(c *Controller) { c.sensor = s }
}

// WithSinks adds event sinks (ledger, emitter, broadcaster).
func WithSinks(sinks ...Sink) Option {
	return func(c *Controller) { c.sinks = append(c.sinks, sinks...) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController builds a controller. The cooldown window starts open.
func NewController(cam Camera, fs FrameStore, n Notifier, cfg Config, opts ...Option) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	c := &Controller{
		camera:   cam,
		store:    fs,
		notifier: n,
		cfg:      cfg,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.window = motion.NewWindow(cfg.Cooldown, c.now())
	c.status = Status{
		State:        StateIdle.String(),
		Cooldown:     cfg.Cooldown.String(),
		PollInterval: cfg.PollInterval.String(),
	}
	return c
}

// RunOnce waits StartupDelay, then runs one capture cycle. Capture and
// persistence failures are returned as *StageError; notification failures
// are not.
func (c *Controller) RunOnce(ctx context.Context) (Event, error) {
	if c.cfg.StartupDelay > 0 {
		debug.Info("Waiting %v for the camera to settle", c.cfg.StartupDelay)
		timer := time.NewTimer(c.cfg.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Event{}, ctx.Err()
		case <-timer.C:
		}
	}

	now := c.now()
	c.window.Accept(now)
	c.noteAccepted(now)
	return c.cycle(ctx, now, TriggerStartup)
}

// Run polls the sensor every PollInterval until ctx is cancelled (returns
// nil) or the sensor fails (returns the error). Per-cycle capture and
// persistence failures are logged and the loop continues.
func (c *Controller) Run(ctx context.Context) error {
	if c.sensor == nil {
		return ErrNoSensor
	}

	debug.Info("Motion loop started (poll %v, cooldown %v)", c.cfg.PollInterval, c.cfg.Cooldown)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Poll(ctx, c.now()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			debug.Info("Motion loop stopped")
			return nil
		case <-c.trigger:
			c.attempt(ctx, c.now(), TriggerManual)
		case <-ticker.C:
		}
	}
}

// Poll performs one loop iteration at now: read the sensor and, if it is
// active and the window is open, run a full cycle. The only error returned
// is a sensor failure, or ErrNoSensor without WithSensor.
func (c *Controller) Poll(ctx context.Context, now time.Time) (Outcome, error) {
	if c.sensor == nil {
		return OutcomeIdle, ErrNoSensor
	}
	active, err := c.sensor.IsActive()
	if err != nil {
		return OutcomeIdle, &StageError{Stage: StageSense, Err: err}
	}

	c.mu.Lock()
	c.status.Counters.Polls++
	c.status.SensorActive = active
	c.mu.Unlock()

	if !active {
		return OutcomeIdle, nil
	}
	return c.attempt(ctx, now, TriggerSensor), nil
}

// Trigger requests a manual capture, executed by Run on its goroutine and
// still subject to the cooldown. It returns false if a request is
// already pending.
func (c *Controller) Trigger() bool {
	select {
	case c.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a copy of the current state and counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.State = c.state.String()
	if st.LastAccepted != nil {
		t := *st.LastAccepted
		st.LastAccepted = &t
	}
	return st
}

func (c *Controller) attempt(ctx context.Context, now time.Time, trig Trigger) Outcome {
	if !c.window.Accept(now) {
		c.mu.Lock()
		c.status.Counters.Suppressed++
		c.mu.Unlock()
		debug.Live("Trigger (%s) suppressed, cooldown %v left", trig, c.window.Remaining(now))
		return OutcomeSuppressed
	}
	c.noteAccepted(now)
	ev, _ := c.cycle(ctx, now, trig)
	return ev.Outcome
}

// cycle runs capture -> persist -> notify for an accepted trigger.
func (c *Controller) cycle(ctx context.Context, acceptedAt time.Time, trig Trigger) (Event, error) {
	ev := Event{
		ID:         uuid.NewString(),
		Trigger:    trig,
		AcceptedAt: acceptedAt,
	}
	log := debug.Logger().With().Str("capture_id", ev.ID).Str("trigger", string(trig)).Logger()
	start := time.Now()
	defer c.setState(StateIdle)

	c.setState(StateCapturing)
	frame, err := c.camera.CaptureFrame()
	if err != nil {
		ev.Outcome = OutcomeCaptureFailed
		ev.Err = &StageError{Stage: StageCapture, Err: err}
		log.Error().Err(err).Msg("capture failed")
		return c.finish(ctx, ev, start)
	}

	c.setState(StatePersisting)
	img, err := c.store.Save(frame)
	if err != nil {
		ev.Outcome = OutcomePersistFailed
		ev.Err = &StageError{Stage: StagePersist, Err: err}
		log.Error().Err(err).Int("bytes", len(frame)).Msg("persist failed")
		return c.finish(ctx, ev, start)
	}
	ev.Outcome = OutcomeStored
	ev.Image = img
	log.Info().Str("path", img.Path).Int64("bytes", img.Size).Msg("capture stored")

	c.setState(StateNotifying)
	ev.Notification = c.notifier.Send(ctx, img, c.cfg.Caption)

	return c.finish(ctx, ev, start)
}

// finish updates counters, fans the event out to sinks and returns the
// cycle's stage error, if any.
func (c *Controller) finish(ctx context.Context, ev Event, start time.Time) (Event, error) {
	ev.Duration = time.Since(start)

	c.mu.Lock()
	counters := &c.status.Counters
	switch ev.Outcome {
	case OutcomeCaptureFailed:
		counters.CaptureFailures++
	case OutcomePersistFailed:
		counters.PersistFailures++
	case OutcomeStored:
		counters.Stored++
		c.status.LastImage = ev.Image.Name
		switch n := ev.Notification; {
		case n.Skipped:
			counters.NotifySkipped++
		case n.OK():
			counters.Notified++
		default:
			counters.NotifyFailures++
		}
	}
	c.mu.Unlock()

	// The event is recorded even when shutdown has begun.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, s := range c.sinks {
		if err := s.Record(sinkCtx, ev); err != nil {
			debug.Error(err, "capture %s: event sink %T failed", ev.ID, s)
		}
	}
	return ev, ev.Err
}

func (c *Controller) noteAccepted(now time.Time) {
	c.mu.Lock()
	c.status.Counters.Accepted++
	t := now
	c.status.LastAccepted = &t
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	debug.Verbose("Controller: state %s", s)
}
