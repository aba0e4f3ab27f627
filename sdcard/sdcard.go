package sdcard

import (
	"fmt"
	"io"
	"log"
	"os"
)

// LogMode configures the destination for debug logs.
type LogMode int

const (
	LogModeSilent LogMode = 0 // disable logs
	LogModeStdErr LogMode = 1 // log to stderr
	LogModeLogger LogMode = 2 // log to the supplied log.Logger instance
)

// Card is one session with an SDHC/SDXC card in SPI mode. The zero
// value plus a Transport is ready for [Card.Init], which must complete
// successfully before any other operation.
//
// BootstrapDivisor is the conservative bus clock divisor used during
// the power-up handshake (the card requires a slow clock until it
// reports ready); OperatingDivisor is switched to afterwards. Timeout
// is the response poll budget in receive attempts, not wall time; if
// 0, [DefaultTimeout] is used.
//
// Debug logging can be enabled by specifying LogMode. For
// [LogModeLogger], supply a [log.Logger] instance to Logger. Logging is
// advisory only and never affects control flow or poll budgets.
//
// A Card is not safe for concurrent use; callers must serialize access.
type Card struct {
	Transport        Transport
	BootstrapDivisor uint16
	OperatingDivisor uint16
	Timeout          uint16      // R1 poll budget in receive attempts
	LogMode          LogMode     // direct the library logs
	Logger           *log.Logger // if LogMode == LogModeLogger, the log.Logger to use

	ready bool
}

// ensure interface conformation
var _ io.ReaderAt = (*Card)(nil)

// Init brings the card from power-on into a readable state: 74+ warmup
// clocks, CMD0 software reset, CMD8 interface check, ACMD41 operating
// condition negotiation, and a CMD58 capacity/readiness query, then
// switches the bus to the operating clock divisor.
//
// [ErrTimeout] means the card never answered the reset or never left
// idle state within the attempt budget. [ErrNotSupported] means a
// legacy or standard-capacity card this driver does not address.
// [ErrBadResponse] means the card answered a handshake step with a
// value the protocol does not accept.
//
// Init may be re-run to re-initialize the session after a failure.
func (c *Card) Init() error {
	t := c.Transport
	if t == nil {
		return fmt.Errorf("sdcard: no transport configured")
	}
	c.ready = false
	c.logf("initialize ...")

	t.Configure(c.BootstrapDivisor, MSBFirst, Mode0)
	t.Begin()
	t.IdleClocks(10)
	t.End()

	var buf [5]byte

	// CMD0 go idle state
	_ = c.command(CmdGoIdleState, 0, buf[:1])
	c.logf("CMD0 R1=%02x", buf[0])
	if buf[0] != R1IdleState {
		return ErrTimeout
	}

	// CMD8 send interface condition
	_ = c.command(CmdSendIfCond, checkPattern, buf[:5])
	c.logf("CMD8 R7=% x", buf[:5])
	if buf[0] != R1IdleState || buf[3]&0x01 != 0x01 || buf[4] != 0xAA {
		return ErrNotSupported
	}

	// ACMD41 send operating condition, repeated until the card leaves
	// idle state
	for i := 0; i < maxPollAttempts; i++ {
		_ = c.command(CmdAppCmd, 0, buf[:1])
		_ = c.command(CmdAppSendOpCond, hcsBit, buf[:5])
		if buf[0] == 0x00 {
			break
		}
	}
	c.logf("ACMD41 R1=%02x", buf[0])
	if buf[0] != 0x00 {
		return ErrTimeout
	}

	// CMD58 read OCR register
	_ = c.command(CmdReadOCR, 0, buf[:5])
	c.logf("CMD58 R3=% x", buf[:5])
	if buf[0]&^byte(R1IdleState) != 0 {
		return ErrBadResponse
	}
	if buf[1]&ocrCCS == 0 {
		c.logf("CCS (card capacity status) is 0")
		return ErrNotSupported
	}
	if buf[1]&ocrPowerUp == 0 {
		c.logf("card power up status bit is 0")
		return ErrBadResponse
	}
	c.logf("SDHC or SDXC card detected")

	t.Configure(c.OperatingDivisor, MSBFirst, Mode0)
	c.ready = true
	c.logf("initialize ... succeeded")
	return nil
}

// IsReady reports whether [Card.Init] has completed successfully.
func (c *Card) IsReady() bool {
	return c.ready
}

// Command issues one framed command and collects the status byte plus
// len(resp)-1 payload bytes into resp. resp must hold at least the
// status byte. Used for all non-data-block commands (1-byte R1 and
// 5-byte R3/R7 responses).
func (c *Card) Command(cmd byte, arg uint32, resp []byte) error {
	if !c.ready {
		return os.ErrClosed
	}
	if len(resp) == 0 {
		return fmt.Errorf("sdcard: response buffer must hold at least the status byte")
	}
	return c.command(cmd, arg, resp)
}

// ReadBlock reads one 512-byte block into p, which must be exactly
// [BlockSize] long. addr is passed through as the CMD17 argument;
// SDHC/SDXC cards interpret it as a block number.
//
// A nonzero status byte (the card rejected the read) or an unexpected
// token in the response stream returns [ErrBadResponse]; a stream of
// nothing but idle filler returns [ErrTimeout].
func (c *Card) ReadBlock(addr uint32, p []byte) error {
	if !c.ready {
		return os.ErrClosed
	}
	if len(p) != BlockSize {
		return fmt.Errorf("sdcard: must read complete %d-byte blocks", BlockSize)
	}

	t := c.Transport
	r1, err := c.commandR1(CmdReadSingleBlock, addr)
	defer t.End()
	if err != nil {
		return err
	}
	if r1 != 0 {
		c.logf("CMD17 R1=%02x", r1)
		return ErrBadResponse
	}

	// hunt for the data-start token; the stream has no other framing
	b := byte(idleByte)
	for i := 0; i < maxPollAttempts; i++ {
		b = t.ReceiveByte()
		if b != idleByte {
			break
		}
	}
	if b == idleByte {
		return ErrTimeout
	}
	if b != dataToken {
		c.logf("CMD17 token=%02x", b)
		return ErrBadResponse
	}
	t.Receive(p)
	// The two CRC bytes trailing the payload are left unread.
	return nil
}

// ReadAt implements [io.ReaderAt] for block-aligned reads: off and
// len(p) must both be multiples of [BlockSize]. Each block is fetched
// with its own single-block read command.
func (c *Card) ReadAt(p []byte, off int64) (n int, err error) {
	if off%BlockSize != 0 || len(p)%BlockSize != 0 {
		return 0, fmt.Errorf("sdcard: reads must be aligned to %d-byte blocks", BlockSize)
	}
	block := uint32(off / BlockSize)
	for n < len(p) {
		if err = c.ReadBlock(block, p[n:n+BlockSize]); err != nil {
			return n, err
		}
		block++
		n += BlockSize
	}
	return n, nil
}

// command sends one framed command and reads the status byte plus
// len(resp)-1 payload bytes. resp[0] always holds the last status byte
// observed, even on timeout. The bus is released on every path.
func (c *Card) command(cmd byte, arg uint32, resp []byte) error {
	t := c.Transport
	r1, err := c.commandR1(cmd, arg)
	resp[0] = r1
	if err != nil {
		t.End()
		return err
	}
	if len(resp) > 1 {
		t.Receive(resp[1:])
	}
	t.End()
	return nil
}

// commandR1 acquires the bus, emits one settling byte (the card
// requires it before a frame when not already mid-transaction),
// transmits the frame, and polls for a status byte with the high bit
// clear. Each poll attempt consumes one unit of the timeout budget. On
// timeout the last byte observed is returned alongside the error.
//
// The bus is left acquired; callers complete the transaction.
func (c *Card) commandR1(cmd byte, arg uint32) (byte, error) {
	f := frame(cmd, arg)
	t := c.Transport
	t.Begin()
	t.IdleClocks(1)
	t.Send(f[:])

	b := t.ReceiveByte()
	for budget := c.timeout(); b&0x80 != 0 && budget > 1; budget-- {
		b = t.ReceiveByte()
	}
	if b&0x80 != 0 {
		return b, ErrTimeout
	}
	return b, nil
}

func (c *Card) timeout() int {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return int(c.Timeout)
}

func (c *Card) logf(format string, args ...any) {
	switch c.LogMode {
	case LogModeStdErr:
		log.Printf("sdcard: "+format, args...)
	case LogModeLogger:
		if c.Logger != nil {
			c.Logger.Printf("sdcard: "+format, args...)
		}
	}
}
