// Package radio drives the UART-attached LoRa module: mode pins,
// AUX-ready polling, and blocking send/receive with small sleep
// polling, as described in §4.2. It deliberately does not speak the
// framing protocol itself (see package frame) — only bytes in, bytes
// out, and the module's sleep/active mode pins.
package radio

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"
	"periph.io/x/periph/conn/gpio"
)

// Mode values accepted by SetMode, named per the E220-series module
// this link targets: 0 is normal operation, 3 is deep sleep.
const (
	ModeNormal    = 0
	ModeWorSend   = 1
	ModeWorRecv   = 2
	ModeDeepSleep = 3
)

const auxPollInterval = 200 * time.Millisecond

// Config describes how to open the serial port underlying a Link.
type Config struct {
	Port     string
	BaudRate int
}

// Link is the UART + mode-pin driver for one LoRa module.
type Link struct {
	port serial.Port
	pins ModePins
	log  *log.Logger
}

// Open opens the serial port at cfg.Port/cfg.BaudRate and pairs it
// with pins for mode control and AUX polling.
func Open(cfg Config, pins ModePins, logger *log.Logger) (*Link, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("radio: open %s: %w", cfg.Port, err)
	}
	// A short read timeout turns Read into a poll primitive: it
	// returns (0, nil) rather than blocking indefinitely when no bytes
	// have arrived, which is what RecvExact/RecvAvailable's own
	// sleep-and-retry loops expect.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("radio: set read timeout: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Link{port: port, pins: pins, log: logger}, nil
}

// Close releases the underlying serial port.
func (l *Link) Close() error {
	return l.port.Close()
}

// SetMode drives the two mode-select pins. Nodes set ModeNormal before
// any radio activity and ModeDeepSleep once ACK handling concludes.
func (l *Link) SetMode(mode int) error {
	if mode < 0 || mode > 3 {
		return fmt.Errorf("radio: invalid mode %d", mode)
	}
	m0 := gpio.Low
	m1 := gpio.Low
	if mode&0x1 != 0 {
		m0 = gpio.High
	}
	if mode&0x2 != 0 {
		m1 = gpio.High
	}
	if err := l.pins.M0.Out(m0); err != nil {
		return fmt.Errorf("radio: set M0: %w", err)
	}
	if err := l.pins.M1.Out(m1); err != nil {
		return fmt.Errorf("radio: set M1: %w", err)
	}
	return nil
}

// WaitReady blocks, polling the AUX pin every 200ms, until the module
// reports it can accept a new command or frame.
func (l *Link) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(auxPollInterval)
	defer ticker.Stop()
	for {
		if l.pins.Aux.Read() == gpio.High {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Send waits for the module to be ready, writes buf, and flushes the
// OS transmit buffer before returning.
func (l *Link) Send(ctx context.Context, buf []byte) error {
	if err := l.WaitReady(ctx); err != nil {
		return fmt.Errorf("radio: send: %w", err)
	}
	if _, err := l.port.Write(buf); err != nil {
		return fmt.Errorf("radio: write: %w", err)
	}
	if err := l.port.Drain(); err != nil {
		return fmt.Errorf("radio: drain: %w", err)
	}
	return nil
}

// RecvExact blocks, polling with small sleeps, until exactly n bytes
// have been read or ctx is done.
func (l *Link) RecvExact(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		read, err := l.port.Read(buf[:n-len(out)])
		if err != nil {
			return out, fmt.Errorf("radio: read: %w", err)
		}
		if read == 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		out = append(out, buf[:read]...)
	}
	return out, nil
}

// RecvAvailable drains whatever bytes are currently buffered without
// blocking for more to arrive; used by the Node's single post-send ACK
// drain (§4.4 step 4).
func (l *Link) RecvAvailable(ctx context.Context) ([]byte, error) {
	var out []byte
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		n, err := l.port.Read(buf)
		if err != nil {
			return out, fmt.Errorf("radio: read: %w", err)
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}
