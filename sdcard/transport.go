package sdcard

// BitOrder selects the order bits are shifted onto the bus.
type BitOrder int

const (
	MSBFirst BitOrder = iota // most significant bit first
	LSBFirst                 // least significant bit first
)

// Mode is the SPI clock polarity/phase mode (CPOL/CPHA). SD cards in
// SPI mode always use [Mode0].
type Mode int

const (
	Mode0 Mode = iota // CPOL=0 CPHA=0
	Mode1             // CPOL=0 CPHA=1
	Mode2             // CPOL=1 CPHA=0
	Mode3             // CPOL=1 CPHA=1
)

// Transport is the half-duplex synchronous serial bus the driver runs
// over. Each transmitted byte is paired with a simultaneously shifted-in
// byte; Send discards the shifted-in bytes and Receive/ReceiveByte
// shift out idle filler (0xFF) while reading.
//
// Begin and End bracket one bus acquisition (chip select asserted for
// the whole span, which may cover several Send/Receive calls). The
// driver balances them 1:1 on every path, including errors.
//
// Transports do not report per-byte errors: the card protocol has no
// way to recover mid-frame, so transfer problems surface as protocol
// timeouts instead.
type Transport interface {
	// Configure sets the bus clock divisor, bit order, and clock mode.
	// Called with the bootstrap divisor before the handshake and the
	// operating divisor once the card is ready.
	Configure(clockDivisor uint16, order BitOrder, mode Mode)

	// Begin acquires the bus for one transaction.
	Begin()
	// End releases the bus.
	End()

	// IdleClocks emits n idle filler bytes (eight clock pulses each)
	// with nothing addressed on the bus.
	IdleClocks(n int)

	// Send transmits p.
	Send(p []byte)
	// Receive fills p with shifted-in bytes.
	Receive(p []byte)
	// ReceiveByte shifts in a single byte.
	ReceiveByte() byte
}
