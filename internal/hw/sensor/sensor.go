package sensor

import (
	"fmt"

	"github.com/cjeanneret/RaspiCam/internal/debug"
	"github.com/cjeanneret/RaspiCam/internal/hw/gpio"
)

// Reader reports whether a digital presence sensor (PIR or similar)
// wired to a single GPIO input is currently active.
type Reader struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool
	last      bool
	seen      bool
}

// Config describes the sensor wiring.
type Config struct {
	Pin       int
	Pull      gpio.Pull
	ActiveLow bool // sensor pulls the line LOW when it detects motion
}

// NewReader configures pin as an input with the requested pull resistor.
// A nil driver means GPIO was never acquired; that is a startup fault.
func NewReader(g gpio.Driver, cfg Config) (*Reader, error) {
	if g == nil {
		return nil, fmt.Errorf("sensor: GPIO driver not available")
	}
	if err := g.SetupPin(cfg.Pin, gpio.Input); err != nil {
		return nil, fmt.Errorf("sensor: setup pin %d: %w", cfg.Pin, err)
	}
	if err := g.SetPull(cfg.Pin, cfg.Pull); err != nil {
		return nil, fmt.Errorf("sensor: set pull on pin %d: %w", cfg.Pin, err)
	}
	debug.Verbose("Sensor: pin %d configured (pull=%d, active_low=%v)", cfg.Pin, cfg.Pull, cfg.ActiveLow)
	return &Reader{
		gpio:      g,
		pin:       cfg.Pin,
		activeLow: cfg.ActiveLow,
	}, nil
}

// Pin returns the BCM pin number being read.
func (r *Reader) Pin() int { return r.pin }

// IsActive reads the current pin level. It does not block.
func (r *Reader) IsActive() (bool, error) {
	level, err := r.gpio.ReadPin(r.pin)
	if err != nil {
		return false, fmt.Errorf("sensor: read pin %d: %w", r.pin, err)
	}
	active := level == gpio.High
	if r.activeLow {
		active = !active
	}
	if !r.seen || active != r.last {
		debug.Sensor(r.pin, active)
		r.last, r.seen = active, true
	}
	return active, nil
}
