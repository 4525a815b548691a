package radio

import (
	"time"

	"periph.io/x/periph/conn/gpio"
)

// ModePins is the small hardware surface the link layer needs from the
// LoRa module besides the UART itself: two mode-select output pins and
// one AUX "ready" input pin. A real deployment wires these to
// periph.io host pins (e.g. via periph.io/x/periph/host + rpi); tests
// and hosts without the radio attached use the in-memory SimPins below.
type ModePins struct {
	M0  gpio.PinOut
	M1  gpio.PinOut
	Aux gpio.PinIn
}

// simPin is a minimal in-memory gpio.PinIO good enough to satisfy
// PinOut/PinIn for the simulated backing; it is not a general-purpose
// periph.io pin implementation.
type simPin struct {
	name  string
	level gpio.Level
}

func (p *simPin) String() string        { return p.name }
func (p *simPin) Halt() error           { return nil }
func (p *simPin) Name() string          { return p.name }
func (p *simPin) Number() int           { return -1 }
func (p *simPin) Function() string      { return "sim" }
func (p *simPin) Out(l gpio.Level) error { p.level = l; return nil }
func (p *simPin) Read() gpio.Level       { return p.level }
func (p *simPin) WaitForEdge(timeout time.Duration) bool { return false }
func (p *simPin) Pull() gpio.Pull                        { return gpio.PullNoChange }
func (p *simPin) DefaultPull() gpio.Pull                 { return gpio.PullNoChange }
func (p *simPin) In(pull gpio.Pull, edge gpio.Edge) error { return nil }

// NewSimPins returns an in-memory ModePins whose AUX pin is always
// high (radio immediately "ready"), suitable for tests and for running
// NodeLink/GatewayLink logic on hosts with no radio attached.
func NewSimPins() ModePins {
	aux := &simPin{name: "sim-aux", level: gpio.High}
	return ModePins{
		M0:  &simPin{name: "sim-m0"},
		M1:  &simPin{name: "sim-m1"},
		Aux: aux,
	}
}
