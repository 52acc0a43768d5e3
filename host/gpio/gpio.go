// Package gpio drives the auxiliary lines of a Driver Validation server
// through the Linux GPIO character device: the DCD and RI outputs of the
// USART server and the activity LEDs.
package gpio

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/warthog618/gpiod"

	"dvserver/core"
)

// NoLine marks an unwired line in a pin map
const NoLine = -1

// PinMap assigns chip line offsets; NoLine leaves a signal unwired
type PinMap struct {
	Chip string // e.g. "gpiochip0"
	DCD  int
	RI   int
	LEDs [3]int // receive, send, transfer
}

// line is the subset of *gpiod.Line the drivers use
type line interface {
	SetValue(value int) error
	Close() error
}

// Pins is a core.PinDriver on GPIO lines
type Pins struct {
	dcd, ri line
}

// OpenPins requests the DCD and RI lines of m as outputs, inactive
func OpenPins(m PinMap) (*Pins, error) {
	chip, err := gpiod.NewChip(m.Chip, gpiod.WithConsumer("dv-server"))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.Chip, err)
	}
	defer chip.Close()

	p := &Pins{}
	if p.dcd, err = requestOutput(chip, m.DCD); err != nil {
		return nil, fmt.Errorf("request DCD: %w", err)
	}
	if p.ri, err = requestOutput(chip, m.RI); err != nil {
		p.Close()
		return nil, fmt.Errorf("request RI: %w", err)
	}
	return p, nil
}

func requestOutput(chip *gpiod.Chip, offset int) (line, error) {
	if offset == NoLine {
		return nil, nil
	}
	l, err := chip.RequestLine(offset, gpiod.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (p *Pins) Lines() (dcd, ri bool) {
	return p.dcd != nil, p.ri != nil
}

func (p *Pins) SetDCD(active bool) error { return set(p.dcd, active) }
func (p *Pins) SetRI(active bool) error  { return set(p.ri, active) }

func (p *Pins) Close() error {
	var errs []error
	for _, l := range []line{p.dcd, p.ri} {
		if l != nil {
			errs = append(errs, l.Close())
		}
	}
	return errors.Join(errs...)
}

func set(l line, active bool) error {
	if l == nil {
		return nil
	}
	v := 0
	if active {
		v = 1
	}
	return l.SetValue(v)
}

// LEDs is a core.Indicator on GPIO lines
type LEDs struct {
	log   logr.Logger
	lines [3]line
}

// OpenLEDs requests the LED lines of m as outputs, off
func OpenLEDs(m PinMap, log logr.Logger) (*LEDs, error) {
	chip, err := gpiod.NewChip(m.Chip, gpiod.WithConsumer("dv-server"))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.Chip, err)
	}
	defer chip.Close()

	leds := &LEDs{log: log.WithName("leds")}
	for i, offset := range m.LEDs {
		if leds.lines[i], err = requestOutput(chip, offset); err != nil {
			leds.Close()
			return nil, fmt.Errorf("request LED%d: %w", i, err)
		}
	}
	return leds, nil
}

func (l *LEDs) Set(led core.LED, on bool) {
	if int(led) >= len(l.lines) {
		return
	}
	if err := set(l.lines[led], on); err != nil {
		l.log.V(2).Info("LED update failed", "led", int(led), "err", err.Error())
	}
}

func (l *LEDs) Close() error {
	var errs []error
	for _, ln := range l.lines {
		if ln != nil {
			errs = append(errs, ln.Close())
		}
	}
	return errors.Join(errs...)
}
