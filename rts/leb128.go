package rts

import "fmt"

// readULEB128 decodes an unsigned LEB128 integer (7 bits per byte, MSB
// continuation) from buf starting at off. It returns the value, the number
// of bytes consumed, and an error if buf runs out before the terminating
// byte.
func readULEB128(buf []byte, off int) (value uint64, n int, err error) {
	var shift uint
	for {
		if off+n >= len(buf) {
			return 0, n, errShortBuffer
		}
		b := buf[off+n]
		n++
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, n, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, n, fmt.Errorf("rts: leb128 value overflow")
		}
	}
}

// writeULEB128 appends the LEB128 encoding of v to buf.
func writeULEB128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// readSLEB128 decodes a zig-zag encoded signed integer riding on the same
// ULEB128 wire encoding, used for compositionOffset (§4.1: signed i32).
func readSLEB128(buf []byte, off int) (value int64, n int, err error) {
	raw, n, err := readULEB128(buf, off)
	if err != nil {
		return 0, n, err
	}
	return int64(raw>>1) ^ -(int64(raw) & 1), n, nil
}

// writeSLEB128 zig-zag encodes v onto the ULEB128 wire encoding.
func writeSLEB128(buf []byte, v int64) []byte {
	zz := uint64((v << 1) ^ (v >> 63))
	return writeULEB128(buf, zz)
}
