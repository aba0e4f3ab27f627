package sdcard

// frameSize is the fixed length of a command frame: one command byte,
// four argument bytes, one checksum byte.
const frameSize = 6

// frame builds the 6-byte command frame: the command index with the
// two leading framing bits, the argument big-endian, and the CRC7 of
// the first five bytes with the stop bit forced on. Deterministic and
// side-effect free; a fresh frame is built per command.
func frame(cmd byte, arg uint32) [frameSize]byte {
	var f [frameSize]byte
	f[0] = cmd | 0x40
	f[1] = byte(arg >> 24)
	f[2] = byte(arg >> 16)
	f[3] = byte(arg >> 8)
	f[4] = byte(arg)
	f[5] = CRC7(f[:5]) | 0x01
	return f
}

// CRC7 computes the 7-bit command checksum over p, returned in the top
// seven bits of the byte (bit 0 unused). The card verifies this value
// byte-for-byte, so the bit-serial form is kept as-is rather than a
// table-driven variant.
func CRC7(p []byte) byte {
	var crc byte
	for _, b := range p {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc ^= 0x89
			}
			crc <<= 1
		}
	}
	return crc
}

// CRC16 computes the CRC-16/XMODEM checksum (polynomial 0x1021, zero
// initial value) that the SD protocol appends to every data block. The
// driver does not verify block payloads itself, but callers and test
// doubles can.
func CRC16(p []byte) uint16 {
	var crc uint16
	for _, b := range p {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
