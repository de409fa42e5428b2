package sensor

import (
	"errors"
	"testing"

	"github.com/cjeanneret/RaspiCam/internal/hw/gpio"
)

// recordingDriver records setup calls and fails reads on demand.
type recordingDriver struct {
	gpio.MockDriver
	setups  []int
	pulls   []gpio.Pull
	readErr error
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	if mode == gpio.Input {
		d.setups = append(d.setups, pin)
	}
	return nil
}

func (d *recordingDriver) SetPull(pin int, pull gpio.Pull) error {
	d.pulls = append(d.pulls, pull)
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	if d.readErr != nil {
		return gpio.Low, d.readErr
	}
	return d.MockDriver.ReadPin(pin)
}

func TestNewReader_ConfiguresInput(t *testing.T) {
	drv := &recordingDriver{}
	if _, err := NewReader(drv, Config{Pin: 17, Pull: gpio.PullDown}); err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(drv.setups) != 1 || drv.setups[0] != 17 {
		t.Errorf("expected pin 17 set up as input, got %v", drv.setups)
	}
	if len(drv.pulls) != 1 || drv.pulls[0] != gpio.PullDown {
		t.Errorf("expected pull-down, got %v", drv.pulls)
	}
}

func TestNewReader_NilDriver(t *testing.T) {
	if _, err := NewReader(nil, Config{Pin: 17}); err == nil {
		t.Error("expected error for missing GPIO driver")
	}
}

func TestIsActive(t *testing.T) {
	cases := []struct {
		name      string
		level     gpio.Level
		activeLow bool
		want      bool
	}{
		{"high_active_high", gpio.High, false, true},
		{"low_active_high", gpio.Low, false, false},
		{"high_active_low", gpio.High, true, false},
		{"low_active_low", gpio.Low, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drv := &recordingDriver{}
			drv.SetLevel(17, tc.level)
			r, err := NewReader(drv, Config{Pin: 17, ActiveLow: tc.activeLow})
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			got, err := r.IsActive()
			if err != nil {
				t.Fatalf("IsActive: %v", err)
			}
			if got != tc.want {
				t.Errorf("IsActive = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsActive_ReadError(t *testing.T) {
	drv := &recordingDriver{readErr: errors.New("gpio closed")}
	r, err := NewReader(drv, Config{Pin: 4})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r.IsActive(); err == nil {
		t.Error("expected read error to propagate")
	}
}
