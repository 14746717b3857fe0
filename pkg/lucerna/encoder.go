// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

// EncodeFrame builds a complete 9-byte Lucerna frame ready for
// transmission. The 16-bit current fields are written high byte first.
//
// No range validation happens here: the wire carries the full 16 bits of
// both current fields and the device applies whatever arrives. Hosts must
// validate targets before encoding (see NewSetTarget).
func EncodeFrame(flag byte, present, target uint16, temperature byte) []byte {
	frame := make([]byte, PacketSize)
	frame[0] = StartByte
	frame[1] = flag
	frame[2] = byte(present >> 8)
	frame[3] = byte(present)
	frame[4] = byte(target >> 8)
	frame[5] = byte(target)
	frame[6] = temperature
	frame[7] = Checksum(frame[1 : 1+PayloadSize])
	frame[8] = EndByte
	return frame
}

// EncodePacket encodes a Packet back to wire format
func EncodePacket(p *Packet) []byte {
	return EncodeFrame(p.Flag(), p.PresentCurrent(), p.TargetCurrent(), p.Temperature())
}
