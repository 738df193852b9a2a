/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package wsframe

// Assembler joins fragmented data frames into messages. Control frames are
// passed through immediately, even in the middle of a fragmented message.
type Assembler struct {
	max     int
	active  bool
	opcode  Opcode
	pending []byte
}

// NewAssembler returns an assembler rejecting messages over max bytes (0 = no limit).
func NewAssembler(max int) *Assembler {
	return &Assembler{max: max}
}

// InProgress reports whether a fragmented message is being collected.
func (a *Assembler) InProgress() bool { return a.active }

// Push adds a frame and returns a message once one is complete.
func (a *Assembler) Push(f Frame) (Message, bool, error) {
	if f.Opcode.IsControl() {
		if !f.Fin {
			return Message{}, false, ErrFragmentedControl
		}
		if len(f.Payload) > MaxControlPayload {
			return Message{}, false, ErrControlTooLarge
		}
		return Message{Opcode: f.Opcode, Payload: f.Payload}, true, nil
	}

	if f.Opcode == OpContinuation {
		if !a.active {
			return Message{}, false, ErrUnexpectedContinuation
		}
	} else {
		if a.active {
			return Message{}, false, ErrExpectedContinuation
		}
		if f.Fin {
			if a.max > 0 && len(f.Payload) > a.max {
				return Message{}, false, ErrMessageTooLarge
			}
			return Message{Opcode: f.Opcode, Payload: f.Payload}, true, nil
		}
		a.active = true
		a.opcode = f.Opcode
		a.pending = a.pending[:0]
	}

	if a.max > 0 && len(a.pending)+len(f.Payload) > a.max {
		return Message{}, false, ErrMessageTooLarge
	}
	a.pending = append(a.pending, f.Payload...)
	if !f.Fin {
		return Message{}, false, nil
	}

	msg := Message{Opcode: a.opcode, Payload: a.pending}
	a.active = false
	a.pending = nil
	return msg, true, nil
}

// Decoder chains a Parser and an Assembler.
type Decoder struct {
	parser    *Parser
	assembler *Assembler
	err       error
}

// NewDecoder returns a decoder with the given limits.
func NewDecoder(opts Options) *Decoder {
	return &Decoder{
		parser:    NewParser(opts),
		assembler: NewAssembler(opts.MaxMessage),
	}
}

// Feed consumes b and returns every message it completed. When an error is
// returned, the messages completed before the offending frame are still
// returned and the decoder stays failed.
func (d *Decoder) Feed(b []byte) ([]Message, error) {
	if d.err != nil {
		return nil, d.err
	}
	frames, perr := d.parser.Feed(b)

	var msgs []Message
	for _, f := range frames {
		msg, ok, err := d.assembler.Push(f)
		if err != nil {
			d.err = err
			return msgs, err
		}
		if ok {
			msgs = append(msgs, msg)
		}
	}
	if perr != nil {
		d.err = perr
	}
	return msgs, perr
}
