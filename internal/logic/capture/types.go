package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/RaspiCam/internal/notify"
	"github.com/cjeanneret/RaspiCam/internal/store"
)

// ErrNoSensor is returned by Run when the controller was built without a sensor.
var ErrNoSensor = errors.New("capture: motion mode requires a sensor")

// State is the controller's position in the capture pipeline.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StatePersisting
	StateNotifying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StatePersisting:
		return "persisting"
	case StateNotifying:
		return "notifying"
	default:
		return "unknown"
	}
}

// Trigger says what started a capture cycle.
type Trigger string

const (
	TriggerSensor  Trigger = "sensor"
	TriggerManual  Trigger = "manual"
	TriggerStartup Trigger = "startup"
)

// Stage names a pipeline step, used to attribute failures.
type Stage string

const (
	StageSense   Stage = "sense"
	StageCapture Stage = "capture"
	StagePersist Stage = "persist"
	StageNotify  Stage = "notify"
)

// StageError wraps a collaborator failure with the stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Outcome is the result of one poll or one accepted cycle.
type Outcome int

const (
	OutcomeIdle Outcome = iota // sensor inactive
	OutcomeSuppressed          // active, but inside the cooldown
	OutcomeStored              // frame persisted (notification is best effort)
	OutcomeCaptureFailed
	OutcomePersistFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeStored:
		return "stored"
	case OutcomeCaptureFailed:
		return "capture_failed"
	case OutcomePersistFailed:
		return "persist_failed"
	default:
		return "unknown"
	}
}

// Event describes one accepted cycle, successful or not.
type Event struct {
	ID           string
	Trigger      Trigger
	AcceptedAt   time.Time
	Outcome      Outcome
	Image        store.StoredImage // zero unless Outcome == OutcomeStored
	Notification notify.Result     // zero unless Outcome == OutcomeStored
	Err          error
	Duration     time.Duration
}

// Stored reports whether the cycle produced a file.
func (e Event) Stored() bool { return e.Outcome == OutcomeStored }

// Collaborators, as seen by the controller.
type (
	Sensor interface {
		IsActive() (bool, error)
	}
	Camera interface {
		CaptureFrame() ([]byte, error)
	}
	FrameStore interface {
		Save(frame []byte) (store.StoredImage, error)
	}
	Notifier interface {
		Send(ctx context.Context, image store.StoredImage, caption string) notify.Result
	}
	// Sink receives every Event. Errors are logged and otherwise ignored.
	Sink interface {
		Record(ctx context.Context, ev Event) error
	}
)

// Config holds the controller timing and caption.
type Config struct {
	Cooldown     time.Duration // minimum time between accepted captures
	PollInterval time.Duration // sensor polling period
	StartupDelay time.Duration // one-shot: wait after activation
	Caption      string
}

// Counters are cumulative since start.
type Counters struct {
	Polls           uint64 `json:"polls"`
	Accepted        uint64 `json:"accepted"`
	Suppressed      uint64 `json:"suppressed"`
	Stored          uint64 `json:"stored"`
	CaptureFailures uint64 `json:"capture_failures"`
	PersistFailures uint64 `json:"persist_failures"`
	Notified        uint64 `json:"notified"`
	NotifySkipped   uint64 `json:"notify_skipped"`
	NotifyFailures  uint64 `json:"notify_failures"`
}

// Status is a point-in-time copy of the controller's state.
type Status struct {
	State        string     `json:"state"`
	SensorActive bool       `json:"sensor_active"`
	Cooldown     string     `json:"cooldown"`
	PollInterval string     `json:"poll_interval"`
	LastAccepted *time.Time `json:"last_accepted,omitempty"`
	LastImage    string     `json:"last_image,omitempty"`
	Counters     Counters   `json:"counters"`
}
