package sdcard

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptTransport plays back a canned byte stream and records bus
// activity. Once the script is exhausted every read returns idle
// filler, like a card that has stopped answering.
type scriptTransport struct {
	script []byte

	pos      int
	begins   int
	ends     int
	receives int
	sent     [][]byte
	configs  []uint16
}

var _ Transport = (*scriptTransport)(nil)

func (s *scriptTransport) Configure(div uint16, order BitOrder, mode Mode) {
	s.configs = append(s.configs, div)
}

func (s *scriptTransport) Begin() { s.begins++ }
func (s *scriptTransport) End()   { s.ends++ }

func (s *scriptTransport) IdleClocks(n int) {}

func (s *scriptTransport) Send(p []byte) {
	s.sent = append(s.sent, append([]byte(nil), p...))
}

func (s *scriptTransport) ReceiveByte() byte {
	s.receives++
	if s.pos >= len(s.script) {
		return 0xFF
	}
	b := s.script[s.pos]
	s.pos++
	return b
}

func (s *scriptTransport) Receive(p []byte) {
	for i := range p {
		p[i] = s.ReceiveByte()
	}
}

// countSent returns how many frames for the given command index were
// transmitted.
func (s *scriptTransport) countSent(cmd byte) int {
	n := 0
	for _, f := range s.sent {
		if f[0] == cmd|0x40 {
			n++
		}
	}
	return n
}

// handshake responses for a healthy SDHC card: CMD0, CMD8, one
// CMD55/ACMD41 round that succeeds immediately, CMD58.
func healthyHandshake() []byte {
	return bytes.Join([][]byte{
		{0x01},                         // CMD0: in idle state
		{0x01, 0x00, 0x00, 0x01, 0xAA}, // CMD8: voltage accepted, pattern echoed
		{0x01},                         // CMD55
		{0x00, 0x00, 0x00, 0x00, 0x00}, // ACMD41: out of idle state
		{0x00, 0xC0, 0xFF, 0x80, 0x00}, // CMD58: powered up, CCS set
	}, nil)
}

func TestInit(t *testing.T) {
	tr := &scriptTransport{script: healthyHandshake()}
	card := &Card{Transport: tr, BootstrapDivisor: 250, OperatingDivisor: 2, Timeout: 10}

	require.NoError(t, card.Init())
	assert.True(t, card.IsReady())

	// slow clock for the handshake, fast clock once ready
	assert.Equal(t, []uint16{250, 2}, tr.configs)
	// first frame on the wire is the canonical reset frame
	assert.Equal(t, []byte{0x40, 0x00, 0x00, 0x00, 0x00, 0x95}, tr.sent[0])
	assert.Equal(t, tr.begins, tr.ends, "unbalanced bus acquisition")
}

func TestInitLogs(t *testing.T) {
	buf := bytes.Buffer{}
	tr := &scriptTransport{script: healthyHandshake()}
	card := &Card{
		Transport: tr,
		Timeout:   10,
		LogMode:   LogModeLogger,
		Logger:    log.New(&buf, "sd:", 0),
	}

	require.NoError(t, card.Init())
	assert.Contains(t, buf.String(), "CMD0 R1=01")
	assert.Contains(t, buf.String(), "succeeded")
}

func TestInitNoTransport(t *testing.T) {
	card := &Card{}
	assert.Error(t, card.Init())
}

func TestInitResetTimeout(t *testing.T) {
	// card never answers CMD0
	tr := &scriptTransport{}
	card := &Card{Transport: tr, Timeout: 5}

	assert.Equal(t, ErrTimeout, card.Init())
	assert.False(t, card.IsReady())
	assert.Equal(t, tr.begins, tr.ends, "unbalanced bus acquisition")
}

func TestInitEchoMismatch(t *testing.T) {
	// everything matches except the echoed check pattern byte
	script := healthyHandshake()
	script[5] = 0xAB
	tr := &scriptTransport{script: script}
	card := &Card{Transport: tr, Timeout: 10}

	assert.Equal(t, ErrNotSupported, card.Init())
	assert.Equal(t, tr.begins, tr.ends, "unbalanced bus acquisition")
}

func TestInitVoltageRejected(t *testing.T) {
	script := healthyHandshake()
	script[4] = 0x00 // voltage accepted bit clear
	tr := &scriptTransport{script: script}
	card := &Card{Transport: tr, Timeout: 10}

	assert.Equal(t, ErrNotSupported, card.Init())
}

func TestInitNegotiationRetries(t *testing.T) {
	// three busy rounds before the card reports out of idle state
	busy := bytes.Join([][]byte{
		{0x01},                         // CMD55
		{0x01, 0x00, 0x00, 0x00, 0x00}, // ACMD41 still idle
	}, nil)
	script := bytes.Join([][]byte{
		{0x01},                         // CMD0
		{0x01, 0x00, 0x00, 0x01, 0xAA}, // CMD8
		busy, busy, busy,
		{0x01},                         // CMD55
		{0x00, 0x00, 0x00, 0x00, 0x00}, // ACMD41 ready
		{0x00, 0xC0, 0xFF, 0x80, 0x00}, // CMD58
	}, nil)
	tr := &scriptTransport{script: script}
	card := &Card{Transport: tr, Timeout: 10}

	require.NoError(t, card.Init())
	// stops at the first all-zero status, no extra rounds
	assert.Equal(t, 4, tr.countSent(CmdAppSendOpCond))
}

func TestInitNegotiationTimeout(t *testing.T) {
	// the card answers CMD0 and CMD8 but never leaves idle state
	tr := &scriptTransport{script: healthyHandshake()[:6]}
	card := &Card{Transport: tr, Timeout: 1}

	assert.Equal(t, ErrTimeout, card.Init())
	assert.Equal(t, maxPollAttempts, tr.countSent(CmdAppSendOpCond))
	assert.Equal(t, tr.begins, tr.ends, "unbalanced bus acquisition")
}

func TestInitStandardCapacity(t *testing.T) {
	script := healthyHandshake()
	script[len(script)-4] &^= 0x40 // CCS clear
	tr := &scriptTransport{script: script}
	card := &Card{Transport: tr, Timeout: 10}

	assert.Equal(t, ErrNotSupported, card.Init())
}

func TestInitPowerUpIncomplete(t *testing.T) {
	script := healthyHandshake()
	script[len(script)-4] &^= 0x80 // power-up status clear
	tr := &scriptTransport{script: script}
	card := &Card{Transport: tr, Timeout: 10}

	assert.Equal(t, ErrBadResponse, card.Init())
}

func TestInitOCRErrorBits(t *testing.T) {
	script := healthyHandshake()
	script[len(script)-5] = R1ParamErr // CMD58 status carries an error bit
	tr := &scriptTransport{script: script}
	card := &Card{Transport: tr, Timeout: 10}

	assert.Equal(t, ErrBadResponse, card.Init())
}

func TestCommandNotReady(t *testing.T) {
	card := &Card{Transport: &scriptTransport{}}
	var resp [1]byte
	assert.Equal(t, os.ErrClosed, card.Command(CmdReadOCR, 0, resp[:]))
}

func TestCommandEmptyResponseBuffer(t *testing.T) {
	card := &Card{Transport: &scriptTransport{}, ready: true}
	assert.Error(t, card.Command(CmdReadOCR, 0, nil))
}

func TestCommandTimeoutBudget(t *testing.T) {
	// a card that never answers consumes exactly the configured poll
	// budget, never fewer and never more attempts
	tr := &scriptTransport{}
	card := &Card{Transport: tr, Timeout: 7, ready: true}

	var resp [1]byte
	assert.Equal(t, ErrTimeout, card.Command(CmdReadOCR, 0, resp[:]))
	assert.Equal(t, 7, tr.receives)
	assert.Equal(t, byte(0xFF), resp[0], "last observed byte")
	assert.Equal(t, 1, tr.begins)
	assert.Equal(t, 1, tr.ends)
}

func TestCommandExtendedResponse(t *testing.T) {
	// a few busy bytes before the status, then the payload
	tr := &scriptTransport{script: []byte{0xFF, 0xFF, 0x00, 0xC0, 0xFF, 0x80, 0x00}}
	card := &Card{Transport: tr, Timeout: 10, ready: true}

	var resp [5]byte
	require.NoError(t, card.Command(CmdReadOCR, 0, resp[:]))
	assert.Equal(t, []byte{0x00, 0xC0, 0xFF, 0x80, 0x00}, resp[:])
	assert.Equal(t, 1, tr.begins)
	assert.Equal(t, 1, tr.ends)
}

func readBlockScript(fillers int, token byte, payload []byte) []byte {
	script := []byte{0x00} // CMD17 accepted
	script = append(script, bytes.Repeat([]byte{0xFF}, fillers)...)
	script = append(script, token)
	script = append(script, payload...)
	return script
}

func TestReadBlock(t *testing.T) {
	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	tr := &scriptTransport{script: readBlockScript(8, 0xFE, payload)}
	card := &Card{Transport: tr, Timeout: 10, ready: true}

	buf := make([]byte, BlockSize)
	require.NoError(t, card.ReadBlock(42, buf))
	assert.Equal(t, payload, buf)
	assert.Equal(t, 1, tr.begins)
	assert.Equal(t, 1, tr.ends)
	// CMD17 carried the address
	assert.Equal(t, []byte{0x40 | 17, 0x00, 0x00, 0x00, 0x2A}, tr.sent[0][:5])
}

func TestReadBlockRejected(t *testing.T) {
	tr := &scriptTransport{script: []byte{R1AddrErr}}
	card := &Card{Transport: tr, Timeout: 10, ready: true}

	buf := make([]byte, BlockSize)
	assert.Equal(t, ErrBadResponse, card.ReadBlock(0, buf))
	assert.Equal(t, 1, tr.begins)
	assert.Equal(t, 1, tr.ends)
}

func TestReadBlockBadToken(t *testing.T) {
	// any non-filler byte other than the data-start token is an error
	tr := &scriptTransport{script: readBlockScript(3, 0xAB, nil)}
	card := &Card{Transport: tr, Timeout: 10, ready: true}

	buf := make([]byte, BlockSize)
	assert.Equal(t, ErrBadResponse, card.ReadBlock(0, buf))
	assert.Equal(t, 1, tr.begins)
	assert.Equal(t, 1, tr.ends)
}

func TestReadBlockTokenTimeout(t *testing.T) {
	// nothing but filler after the accepted command
	tr := &scriptTransport{script: []byte{0x00}}
	card := &Card{Transport: tr, Timeout: 1, ready: true}

	buf := make([]byte, BlockSize)
	assert.Equal(t, ErrTimeout, card.ReadBlock(0, buf))
	// one status poll plus the full token hunt budget
	assert.Equal(t, 1+maxPollAttempts, tr.receives)
	assert.Equal(t, 1, tr.begins)
	assert.Equal(t, 1, tr.ends)
}

func TestReadBlockCommandTimeout(t *testing.T) {
	tr := &scriptTransport{}
	card := &Card{Transport: tr, Timeout: 4, ready: true}

	buf := make([]byte, BlockSize)
	assert.Equal(t, ErrTimeout, card.ReadBlock(0, buf))
	assert.Equal(t, 1, tr.begins)
	assert.Equal(t, 1, tr.ends)
}

func TestReadBlockWrongSize(t *testing.T) {
	card := &Card{Transport: &scriptTransport{}, ready: true}
	assert.Error(t, card.ReadBlock(0, make([]byte, 100)))
}

func TestReadBlockNotReady(t *testing.T) {
	card := &Card{Transport: &scriptTransport{}}
	assert.Equal(t, os.ErrClosed, card.ReadBlock(0, make([]byte, BlockSize)))
}

func TestReadAt(t *testing.T) {
	blocks := make([]byte, 2*BlockSize)
	for i := range blocks {
		blocks[i] = byte(i % 251)
	}
	script := readBlockScript(2, 0xFE, blocks[:BlockSize])
	script = append(script, readBlockScript(2, 0xFE, blocks[BlockSize:])...)
	tr := &scriptTransport{script: script}
	card := &Card{Transport: tr, Timeout: 10, ready: true}

	buf := make([]byte, 2*BlockSize)
	n, err := card.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2*BlockSize, n)
	assert.Equal(t, blocks, buf)
	// one CMD17 per block, consecutive block numbers
	assert.Equal(t, 2, tr.countSent(CmdReadSingleBlock))
	assert.Equal(t, byte(0x01), tr.sent[1][4])
}

func TestReadAtUnaligned(t *testing.T) {
	card := &Card{Transport: &scriptTransport{}, ready: true}
	_, err := card.ReadAt(make([]byte, BlockSize), 100)
	assert.Error(t, err)
	_, err = card.ReadAt(make([]byte, 100), 0)
	assert.Error(t, err)
}
