package core

// LED names an activity signal of a command server.
type LED uint8

const (
	LEDReceive  LED = iota // LED0, on while receiving
	LEDSend                // LED1, on while sending
	LEDTransfer            // LED2, on during a transfer
)

// Indicator shows transport activity, typically on board LEDs.
type Indicator interface {
	Set(led LED, on bool)
}

// NopIndicator discards activity signals
type NopIndicator struct{}

func (NopIndicator) Set(LED, bool) {}

// activity switches led on and returns the function switching it off
func activity(ind Indicator, led LED) func() {
	ind.Set(led, true)
	return func() { ind.Set(led, false) }
}
