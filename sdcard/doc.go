// Package sdcard drives an SDHC/SDXC card in SPI mode from power-on to
// a readable state and performs single-block 512-byte reads.
//
// The package is only the protocol core: command framing with a CRC7
// checksum, the bounded-retry power-up handshake, and the timed polling
// that locates the data-start token in the response stream. The bus
// itself is supplied by the caller as a [Transport]; see the spi
// package for a Raspberry Pi implementation and the mock package for an
// emulated card.
//
// A [Card] must be [Card.Init]ed before use. Cards are not safe for
// concurrent use; callers must serialize access.
package sdcard
