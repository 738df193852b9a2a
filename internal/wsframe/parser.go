/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package wsframe

import "encoding/binary"

// State is the parser's position within the current frame header or payload.
type State int

const (
	StateStart State = iota
	StateOpcodeRead
	StateMaskAndLengthRead
	StateLengthExtended
	StateMaskingKeyRead
	StatePayloadAccumulating
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateOpcodeRead:
		return "opcode_read"
	case StateMaskAndLengthRead:
		return "mask_and_length_read"
	case StateLengthExtended:
		return "length_extended"
	case StateMaskingKeyRead:
		return "masking_key_read"
	case StatePayloadAccumulating:
		return "payload_accumulating"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// Options bound what a Parser accepts.
type Options struct {
	// RequireMask rejects unmasked frames, as a server must.
	RequireMask bool
	// MaxPayload caps a single frame's declared length. Zero means no limit.
	MaxPayload int64
	// MaxMessage caps a reassembled message. Zero means no limit.
	MaxMessage int
}

// cursor reads from one input slice with bounds checks at every step.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) readByte() (byte, bool) {
	if c.off >= len(c.buf) {
		return 0, false
	}
	b := c.buf[c.off]
	c.off++
	return b, true
}

// take returns up to n bytes.
func (c *cursor) take(n int) []byte {
	if r := c.remaining(); n > r {
		n = r
	}
	p := c.buf[c.off : c.off+n]
	c.off += n
	return p
}

// fill copies from c into dst[*have:] and reports whether dst is full.
func (c *cursor) fill(dst []byte, have *int) bool {
	*have += copy(dst[*have:], c.take(len(dst)-*have))
	return *have == len(dst)
}

// initialPayloadCap bounds the up-front allocation for a declared length.
const initialPayloadCap = 64 * 1024

// Parser decodes frames from an incrementally fed byte stream. A Parser is
// not safe for concurrent use. After an error every further Feed returns it.
type Parser struct {
	opts  Options
	state State
	err   error

	frame  Frame
	len7   byte
	length uint64
	ext    [8]byte
	extLen int
	have   int
}

// NewParser returns a parser in StateStart.
func NewParser(opts Options) *Parser {
	return &Parser{opts: opts}
}

// State returns the current state.
func (p *Parser) State() State { return p.state }

// Feed consumes all of b and returns the frames it completed, in order.
// Bytes of a frame that is not yet complete are retained internally.
func (p *Parser) Feed(b []byte) ([]Frame, error) {
	if p.err != nil {
		return nil, p.err
	}
	var frames []Frame
	c := cursor{buf: b}
	for {
		progressed, err := p.step(&c)
		if err != nil {
			p.err = err
			return frames, err
		}
		if p.state == StateComplete {
			frames = append(frames, p.finish())
			continue
		}
		if !progressed {
			return frames, nil
		}
	}
}

// step advances by one state, returning false when more input is needed.
func (p *Parser) step(c *cursor) (bool, error) {
	switch p.state {
	case StateStart:
		b, ok := c.readByte()
		if !ok {
			return false, nil
		}
		if b&0x70 != 0 {
			return false, ErrReservedBits
		}
		p.frame = Frame{Fin: b&0x80 != 0, Opcode: Opcode(b & 0x0F)}
		if !p.frame.Opcode.known() {
			return false, ErrUnknownOpcode
		}
		if p.frame.Opcode.IsControl() && !p.frame.Fin {
			return false, ErrFragmentedControl
		}
		p.state = StateOpcodeRead

	case StateOpcodeRead:
		b, ok := c.readByte()
		if !ok {
			return false, nil
		}
		p.frame.Masked = b&0x80 != 0
		if p.opts.RequireMask && !p.frame.Masked {
			return false, ErrUnmaskedFrame
		}
		p.len7 = b & 0x7F
		if p.frame.Opcode.IsControl() && p.len7 > MaxControlPayload {
			return false, ErrControlTooLarge
		}
		switch p.len7 {
		case 126:
			p.extLen = 2
		case 127:
			p.extLen = 8
		default:
			p.extLen = 0
			p.length = uint64(p.len7)
		}
		p.have = 0
		p.state = StateMaskAndLengthRead

	case StateMaskAndLengthRead:
		if p.extLen > 0 {
			if !c.fill(p.ext[:p.extLen], &p.have) {
				return false, nil
			}
			if p.extLen == 2 {
				p.length = uint64(binary.BigEndian.Uint16(p.ext[:2]))
			} else {
				p.length = binary.BigEndian.Uint64(p.ext[:8])
				if p.length>>63 != 0 {
					return false, ErrInvalidLength
				}
			}
		}
		if p.opts.MaxPayload > 0 && p.length > uint64(p.opts.MaxPayload) {
			return false, ErrFrameTooLarge
		}
		p.have = 0
		p.state = StateLengthExtended

	case StateLengthExtended:
		if p.frame.Masked && !c.fill(p.frame.MaskKey[:], &p.have) {
			return false, nil
		}
		p.state = StateMaskingKeyRead

	case StateMaskingKeyRead:
		capacity := p.length
		if capacity > initialPayloadCap {
			capacity = initialPayloadCap
		}
		p.frame.Payload = make([]byte, 0, capacity)
		p.state = StatePayloadAccumulating

	case StatePayloadAccumulating:
		need := p.length - uint64(len(p.frame.Payload))
		if need > 0 {
			if c.remaining() == 0 {
				return false, nil
			}
			n := c.remaining()
			if uint64(n) > need {
				n = int(need)
			}
			p.frame.Payload = append(p.frame.Payload, c.take(n)...)
			if uint64(len(p.frame.Payload)) < p.length {
				return false, nil
			}
		}
		if p.frame.Masked {
			Mask(p.frame.MaskKey, p.frame.Payload)
		}
		p.state = StateComplete
	}
	return true, nil
}

func (p *Parser) finish() Frame {
	f := p.frame
	p.frame = Frame{}
	p.length = 0
	p.have = 0
	p.state = StateStart
	return f
}
