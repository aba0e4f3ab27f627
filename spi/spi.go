// Package spi implements the sdcard bus transport on the Raspberry
// Pi's SPI0 controller using go-rpio.
//
// The card's chip select is driven manually from a GPIO pin rather
// than the controller's CE lines, so that one bus acquisition can span
// several byte transfers (a framed command followed by response
// polling) the way the card protocol requires. Wire the card's CS to
// the chosen GPIO and leave CE0/CE1 unconnected.
package spi

import (
	rpio "github.com/stianeikeland/go-rpio/v4"

	"github.com/rabidaudio/sdspi/sdcard"
)

// BaseClock is the core clock feeding the SPI divider. The effective
// bus clock is BaseClock/(divisor+1): divisor 1023 gives the ~244kHz
// bootstrap clock the card requires during its handshake, divisor 24
// gives a 10MHz operating clock.
const BaseClock = 250_000_000

// Transport drives an SD card over SPI0.
type Transport struct {
	dev rpio.SpiDev
	cs  rpio.Pin
}

// ensure interface conformation
var _ sdcard.Transport = (*Transport)(nil)

// Open claims the SPI0 controller and the chip-select GPIO. The pin is
// left high (card deselected). Be sure to Close() the Transport after
// use.
func Open(csPin uint8) (*Transport, error) {
	if err := rpio.Open(); err != nil {
		return nil, err
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return nil, err
	}
	cs := rpio.Pin(csPin)
	cs.Output()
	cs.High()
	return &Transport{dev: rpio.Spi0, cs: cs}, nil
}

// Configure sets the bus clock divisor and clock mode. SPI0 only
// shifts MSB-first; the order argument is accepted for contract
// completeness.
func (t *Transport) Configure(clockDivisor uint16, order sdcard.BitOrder, mode sdcard.Mode) {
	rpio.SpiSpeed(BaseClock / (int(clockDivisor) + 1))
	switch mode {
	case sdcard.Mode1:
		rpio.SpiMode(0, 1)
	case sdcard.Mode2:
		rpio.SpiMode(1, 0)
	case sdcard.Mode3:
		rpio.SpiMode(1, 1)
	default:
		rpio.SpiMode(0, 0)
	}
}

func (t *Transport) Begin() {
	t.cs.Low()
}

func (t *Transport) End() {
	t.cs.High()
}

func (t *Transport) IdleClocks(n int) {
	for i := 0; i < n; i++ {
		rpio.SpiTransmit(0xFF)
	}
}

func (t *Transport) Send(p []byte) {
	rpio.SpiTransmit(p...)
}

func (t *Transport) Receive(p []byte) {
	// the bus shifts both ways at once: clock out filler, keep what
	// comes back
	for i := range p {
		p[i] = 0xFF
	}
	rpio.SpiExchange(p)
}

func (t *Transport) ReceiveByte() byte {
	buf := []byte{0xFF}
	rpio.SpiExchange(buf)
	return buf[0]
}

// Close releases the SPI controller and GPIO mapping.
func (t *Transport) Close() error {
	rpio.SpiEnd(t.dev)
	return rpio.Close()
}
