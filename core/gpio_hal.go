package core

// PinDriver drives the DCD and RI outputs of the USART server. Those lines
// are inputs on a USART, so the server toggles them through spare GPIOs
// wired to the client's DCD and RI.
type PinDriver interface {
	// Lines reports which of the two outputs are wired
	Lines() (dcd, ri bool)
	SetDCD(active bool) error
	SetRI(active bool) error
	Close() error
}

// NopPins is used when no DCD/RI pins are wired; GET CAP then reports
// neither line.
type NopPins struct{}

func (NopPins) Lines() (dcd, ri bool) { return false, false }
func (NopPins) SetDCD(bool) error     { return nil }
func (NopPins) SetRI(bool) error      { return nil }
func (NopPins) Close() error          { return nil }
