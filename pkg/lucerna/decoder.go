// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Decoder states
const (
	stateScanning = iota // waiting for a start byte
	stateBody            // accumulating the eight bytes after it
)

// Decoder implements the Lucerna frame decoder as a byte-at-a-time state
// machine. It never blocks and holds at most one frame of state, so a
// caller can feed it whatever happens to be in the serial buffer.
//
// Decode failures discard the whole candidate frame, exactly as the
// firmware does: the decoder drops back to scanning and resynchronizes
// on the next start byte in the stream.
type Decoder struct {
	state     int
	body      [PacketSize - 1]byte
	bodyIndex int
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{state: stateScanning}
}

// Reset returns the decoder to its scanning state
func (d *Decoder) Reset() {
	d.state = stateScanning
	d.bodyIndex = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// It returns a completed packet once a full frame validates, (nil, nil)
// while a frame is in progress, or an error (ChecksumError or
// FramingError) when a candidate frame fails validation. After an error
// the decoder is already reset; the caller may keep feeding bytes.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	switch d.state {
	case stateScanning:
		if b == StartByte {
			d.state = stateBody
			d.bodyIndex = 0
		}
		return nil, nil

	case stateBody:
		d.body[d.bodyIndex] = b
		d.bodyIndex++
		if d.bodyIndex < len(d.body) {
			return nil, nil
		}
		body := d.body
		d.Reset()
		return DecodeBody(body[:])

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state: %d", d.state)
	}
}

// DecodeBody decodes the eight bytes following a start byte: six payload
// bytes, the checksum digit, and the end marker. Both checks must pass;
// either failure discards the candidate frame.
func DecodeBody(body []byte) (*Packet, error) {
	if len(body) != PacketSize-1 {
		return nil, fmt.Errorf("frame body must be %d bytes, got %d", PacketSize-1, len(body))
	}
	if body[7] != EndByte {
		return nil, &FramingError{Got: body[7]}
	}
	expected := Checksum(body[:PayloadSize])
	if body[6] != expected {
		return nil, &ChecksumError{Expected: expected, Got: body[6]}
	}

	return &Packet{
		flag:        body[0],
		present:     binary.BigEndian.Uint16(body[1:3]),
		target:      binary.BigEndian.Uint16(body[3:5]),
		temperature: body[5],
		checksum:    body[6],
		timestamp:   time.Now(),
	}, nil
}

// DecodeFrame decodes a complete 9-byte frame including the start byte
func DecodeFrame(frame []byte) (*Packet, error) {
	if len(frame) != PacketSize {
		return nil, fmt.Errorf("frame must be %d bytes, got %d", PacketSize, len(frame))
	}
	if frame[0] != StartByte {
		return nil, fmt.Errorf("bad start marker: expected 0x%02X, got 0x%02X", StartByte, frame[0])
	}
	return DecodeBody(frame[1:])
}
