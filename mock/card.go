// Package mock emulates an SDHC card in SPI mode behind the
// sdcard.Transport contract, for testing the driver and for running
// tools against a disk image instead of real hardware.
package mock

import (
	"encoding/binary"
	"io"

	"github.com/rabidaudio/sdspi/sdcard"
)

// Card is an emulated SDHC card. Blocks are served from Blocks using
// block addressing (the CMD17 argument is a block number); a nil or
// short backing store reads as zeroes. The zero value behaves like a
// healthy card that is ready immediately.
//
// The behavior knobs select the failure modes a real card exhibits:
// a pre-2.0 card that rejects the interface check, a standard-capacity
// card, a card still powering up, or a card that never answers at all.
//
// Begins, Ends, and Configures record bus activity for assertions.
type Card struct {
	Blocks io.ReaderAt

	ResponseDelay    int  // idle bytes before each status byte
	TokenDelay       int  // idle bytes before the data-start token
	BusyRounds       int  // ACMD41 rounds reported in-idle before ready
	Legacy           bool // reject CMD8 as illegal (pre-2.0 card)
	StandardCapacity bool // report CCS clear in the OCR
	PoweringUp       bool // report power-up not complete in the OCR
	Mute             bool // never answer anything
	VerifyCRC        bool // check frame CRC7 and flag mismatches in R1

	Begins     int
	Ends       int
	Configures []uint16

	idle   bool
	appCmd bool
	rounds int
	incmd  []byte
	queue  []byte
}

// ensure interface conformation
var _ sdcard.Transport = (*Card)(nil)

func (m *Card) Configure(div uint16, order sdcard.BitOrder, mode sdcard.Mode) {
	m.Configures = append(m.Configures, div)
}

func (m *Card) Begin() {
	m.Begins++
}

// End deselects the card. Any unread response bytes (including the
// data CRC the driver leaves behind) are discarded, which is how the
// bus re-synchronizes for the next command.
func (m *Card) End() {
	m.Ends++
	m.incmd = nil
	m.queue = nil
}

func (m *Card) IdleClocks(n int) {}

func (m *Card) Send(p []byte) {
	m.incmd = append(m.incmd, p...)
	for len(m.incmd) >= frameSize {
		m.handle(m.incmd[:frameSize])
		m.incmd = m.incmd[frameSize:]
	}
}

func (m *Card) ReceiveByte() byte {
	if len(m.queue) == 0 {
		return 0xFF
	}
	b := m.queue[0]
	m.queue = m.queue[1:]
	return b
}

func (m *Card) Receive(p []byte) {
	for i := range p {
		p[i] = m.ReceiveByte()
	}
}

const frameSize = 6

func (m *Card) handle(f []byte) {
	if m.Mute {
		return
	}
	cmd := f[0] & 0x3F
	arg := binary.BigEndian.Uint32(f[1:5])

	if m.VerifyCRC && f[5] != sdcard.CRC7(f[:5])|0x01 {
		m.appCmd = false
		m.respond(m.r1() | sdcard.R1CRCErr)
		return
	}

	wasApp := m.appCmd
	m.appCmd = false
	switch {
	case cmd == sdcard.CmdGoIdleState:
		m.idle = true
		m.rounds = 0
		m.respond(m.r1())
	case cmd == sdcard.CmdSendIfCond:
		if m.Legacy {
			m.respond(m.r1() | sdcard.R1IllegalCmd)
			return
		}
		// echo the voltage range and check pattern from the argument
		m.respond(m.r1(), 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))
	case cmd == sdcard.CmdAppCmd:
		m.appCmd = true
		m.respond(m.r1())
	case cmd == sdcard.CmdAppSendOpCond && wasApp:
		m.rounds++
		if m.rounds > m.BusyRounds {
			m.idle = false
		}
		m.respond(m.r1())
	case cmd == sdcard.CmdReadOCR:
		ocr := byte(0xC0) // powered up, high capacity
		if m.StandardCapacity {
			ocr &^= 0x40
		}
		if m.PoweringUp {
			ocr &^= 0x80
		}
		m.respond(m.r1(), ocr, 0xFF, 0x80, 0x00)
	case cmd == sdcard.CmdReadSingleBlock:
		if m.idle {
			m.respond(m.r1() | sdcard.R1IllegalCmd)
			return
		}
		m.respond(0x00)
		m.queue = appendRepeat(m.queue, 0xFF, m.TokenDelay)
		m.queue = append(m.queue, 0xFE)
		blk := make([]byte, sdcard.BlockSize)
		if m.Blocks != nil {
			_, _ = m.Blocks.ReadAt(blk, int64(arg)*sdcard.BlockSize)
		}
		m.queue = append(m.queue, blk...)
		crc := sdcard.CRC16(blk)
		m.queue = append(m.queue, byte(crc>>8), byte(crc))
	default:
		m.respond(m.r1() | sdcard.R1IllegalCmd)
	}
}

// r1 is the base status byte for the current card state.
func (m *Card) r1() byte {
	if m.idle {
		return sdcard.R1IdleState
	}
	return 0x00
}

// respond queues the response delay followed by the response bytes.
func (m *Card) respond(b ...byte) {
	m.queue = appendRepeat(m.queue, 0xFF, m.ResponseDelay)
	m.queue = append(m.queue, b...)
}

func appendRepeat(p []byte, b byte, n int) []byte {
	for i := 0; i < n; i++ {
		p = append(p, b)
	}
	return p
}
