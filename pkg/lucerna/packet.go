// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

import "time"

// Packet represents a decoded Lucerna frame
type Packet struct {
	flag        byte
	present     uint16
	target      uint16
	temperature byte
	checksum    byte
	timestamp   time.Time
}

// NewPacket creates a packet with the given payload fields.
// The checksum is computed, not taken from the caller.
func NewPacket(flag byte, present, target uint16, temperature byte) *Packet {
	p := &Packet{
		flag:        flag,
		present:     present,
		target:      target,
		temperature: temperature,
		timestamp:   time.Now(),
	}
	p.checksum = Checksum(p.payloadBytes())
	return p
}

// payloadBytes returns the six payload bytes in wire order
func (p *Packet) payloadBytes() []byte {
	return []byte{
		p.flag,
		byte(p.present >> 8), byte(p.present),
		byte(p.target >> 8), byte(p.target),
		p.temperature,
	}
}

// Flag returns the packet's purpose tag (FlagData on both directions)
func (p *Packet) Flag() byte {
	return p.flag
}

// PresentCurrent returns the last DAC value the device reports having
// applied. On outbound control frames this field is the host's advisory
// echo; the device is the sole authority for it.
func (p *Packet) PresentCurrent() uint16 {
	return p.present
}

// TargetCurrent returns the requested (or last accepted) DAC value
func (p *Packet) TargetCurrent() uint16 {
	return p.target
}

// Temperature returns the device temperature byte. Outbound frames carry
// a placeholder here; only feedback frames hold a sensor reading.
func (p *Packet) Temperature() byte {
	return p.temperature
}

// ChecksumByte returns the packet's integrity digit
func (p *Packet) ChecksumByte() byte {
	return p.checksum
}

// Timestamp returns the packet's decode (or build) time
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// Voltage converts the target current to the DAC output voltage,
// the quantity the original bench plots against present current.
func (p *Packet) Voltage() float64 {
	return DACVoltage(p.target)
}

// DACVoltage converts a 12-bit DAC value to its output voltage
func DACVoltage(value uint16) float64 {
	return float64(value) / float64(DACMax) * DACReferenceVolts
}
