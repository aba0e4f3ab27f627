package sdcard

// BlockSize is the number of bytes in one data block. SDHC/SDXC cards
// always transfer 512-byte blocks.
const BlockSize = 512

// SPI-mode command indices used by the driver.
const (
	CmdGoIdleState    = 0  // CMD0: software reset, enter idle state
	CmdSendIfCond     = 8  // CMD8: interface condition check
	CmdReadSingleBlock = 17 // CMD17: read one block
	CmdAppSendOpCond  = 41 // ACMD41: initiate initialization
	CmdAppCmd         = 55 // CMD55: next command is application-specific
	CmdReadOCR        = 58 // CMD58: read the operating condition register
)

// R1 status byte bit flags. The high bit clear marks a valid response;
// while the card is still shifting, the host reads 0xFF.
const (
	R1IdleState   = 0x01
	R1EraseReset  = 0x02
	R1IllegalCmd  = 0x04
	R1CRCErr      = 0x08
	R1EraseSeqErr = 0x10
	R1AddrErr     = 0x20
	R1ParamErr    = 0x40
)

const (
	// idleByte is the filler the card emits while it has nothing to say.
	idleByte = 0xFF
	// dataToken is the unframed byte preceding a 512-byte data block.
	dataToken = 0xFE
)

// checkPattern is the CMD8 argument: 2.7-3.6V range plus the 0xAA echo
// pattern the card must send back.
const checkPattern = 0x000001AA

// hcsBit is the ACMD41 Host Capacity Support argument bit, telling the
// card this host understands block addressing.
const hcsBit = 1 << 30

// OCR bits in the first payload byte of the CMD58 response.
const (
	ocrCCS     = 0x40 // card capacity status: set for SDHC/SDXC
	ocrPowerUp = 0x80 // power-up sequence complete
)

// maxPollAttempts bounds both the ACMD41 retry loop and the block-read
// token hunt. Budgets are counted polls, not wall time: they were tuned
// against the expected bus clock, so they must stay iteration counts.
const maxPollAttempts = 3000

// DefaultTimeout is the R1 response poll budget used when
// [Card.Timeout] is zero, counted in receive attempts.
const DefaultTimeout = 500
