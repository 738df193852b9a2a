/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package wsframe

import "encoding/binary"

// AppendFrame appends an unmasked frame to dst.
func AppendFrame(dst []byte, op Opcode, payload []byte, fin bool) []byte {
	dst = appendHeader(dst, op, len(payload), fin, false)
	return append(dst, payload...)
}

// EncodeFrame returns an unmasked frame.
func EncodeFrame(op Opcode, payload []byte, fin bool) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize(len(payload), false)+len(payload)), op, payload, fin)
}

// AppendMaskedFrame appends a frame masked with key, as a client sends it.
// payload is not modified.
func AppendMaskedFrame(dst []byte, op Opcode, payload []byte, fin bool, key [4]byte) []byte {
	dst = appendHeader(dst, op, len(payload), fin, true)
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	Mask(key, dst[start:])
	return dst
}

// HeaderSize returns the header length for a payload of n bytes.
func HeaderSize(n int, masked bool) int {
	size := 2
	switch {
	case n > 0xFFFF:
		size += 8
	case n > 125:
		size += 2
	}
	if masked {
		size += 4
	}
	return size
}

func appendHeader(dst []byte, op Opcode, n int, fin, masked bool) []byte {
	b0 := byte(op) & 0x0F
	if fin {
		b0 |= 0x80
	}
	var maskBit byte
	if masked {
		maskBit = 0x80
	}

	switch {
	case n <= 125:
		return append(dst, b0, maskBit|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, b0, maskBit|126)
		return binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, maskBit|127)
		return binary.BigEndian.AppendUint64(dst, uint64(n))
	}
}

// Mask XORs b in place with key, cycling by byte index. Applying it twice
// restores the input.
func Mask(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}
