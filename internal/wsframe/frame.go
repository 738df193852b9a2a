/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package wsframe implements RFC 6455 base framing: an incremental parser
// that tolerates arbitrary read boundaries, message reassembly, and the
// server-side encoder. Extensions and subprotocols are not supported.
package wsframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// Opcode is the 4-bit frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether op is a control opcode.
func (op Opcode) IsControl() bool {
	return op&0x08 != 0
}

func (op Opcode) known() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return "opcode_" + strconv.Itoa(int(op))
}

// MaxControlPayload is the largest payload a control frame may carry.
const MaxControlPayload = 125

// Frame is one decoded protocol unit. Payload is already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// Message is a complete logical payload, reassembled from one or more frames.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// Close status codes used by the server.
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseNoStatus        uint16 = 1005
	CloseMessageTooLarge uint16 = 1009
)

// ErrProtocol is matched by every framing violation.
var ErrProtocol = errors.New("websocket: protocol error")

type protocolError struct {
	reason string
	code   uint16
}

func (e *protocolError) Error() string { return "websocket: " + e.reason }

func (e *protocolError) Is(target error) bool { return target == ErrProtocol }

var (
	ErrReservedBits           error = &protocolError{"reserved bits set", CloseProtocolError}
	ErrUnknownOpcode          error = &protocolError{"unknown opcode", CloseProtocolError}
	ErrUnmaskedFrame          error = &protocolError{"client frame not masked", CloseProtocolError}
	ErrInvalidLength          error = &protocolError{"invalid payload length", CloseProtocolError}
	ErrFrameTooLarge          error = &protocolError{"frame exceeds size limit", CloseMessageTooLarge}
	ErrMessageTooLarge        error = &protocolError{"message exceeds size limit", CloseMessageTooLarge}
	ErrFragmentedControl      error = &protocolError{"fragmented control frame", CloseProtocolError}
	ErrControlTooLarge        error = &protocolError{"control frame payload over 125 bytes", CloseProtocolError}
	ErrUnexpectedContinuation error = &protocolError{"continuation frame without a message in progress", CloseProtocolError}
	ErrExpectedContinuation   error = &protocolError{"new data frame inside a fragmented message", CloseProtocolError}
)

// CloseCodeFor maps a decode error to the status sent in the close frame.
func CloseCodeFor(err error) uint16 {
	var pe *protocolError
	if errors.As(err, &pe) {
		return pe.code
	}
	return CloseProtocolError
}

// Reason returns a short metric label for a protocol error.
func Reason(err error) string {
	var pe *protocolError
	if errors.As(err, &pe) {
		return pe.reason
	}
	return "other"
}

// ClosePayload builds a close frame body.
func ClosePayload(code uint16, reason string) []byte {
	if code == CloseNoStatus {
		return nil
	}
	if len(reason) > MaxControlPayload-2 {
		reason = reason[:MaxControlPayload-2]
	}
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	copy(p[2:], reason)
	return p
}

// ParseClosePayload splits a close frame body. An empty body yields CloseNoStatus.
func ParseClosePayload(p []byte) (uint16, string, error) {
	switch len(p) {
	case 0:
		return CloseNoStatus, "", nil
	case 1:
		return 0, "", fmt.Errorf("%w: close payload of 1 byte", ErrInvalidLength)
	}
	return binary.BigEndian.Uint16(p), string(p[2:]), nil
}
