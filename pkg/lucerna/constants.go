// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

// Package lucerna provides a reference Go implementation of the Lucerna
// serial protocol.
//
// Lucerna is the fixed-frame binary protocol spoken between a host and the
// Specklight laser driver firmware. Every frame is exactly nine bytes:
// a start marker, a six-byte payload (flag, present current, target current,
// temperature), a mod-10 digit-sum checksum, and an end marker. The host
// sends target currents for the driver's 12-bit DAC; the firmware reports
// present current and temperature on a fixed 50 ms cadence.
package lucerna

// Protocol framing bytes
const (
	StartByte = 0xFF
	EndByte   = 0xFE
)

// Frame layout. A frame is StartByte, six payload bytes, one checksum
// byte, EndByte. The 16-bit current fields travel high byte first.
const (
	PacketSize  = 9
	PayloadSize = 6
)

// Flag values
const (
	// FlagData tags both directions: a target change on the way out,
	// a state report on the way back.
	FlagData = 0x01
)

// DAC characteristics of the laser driver (12-bit, 5 V reference)
const (
	DACMax            = 4095
	DACMidScale       = 2048 // firmware power-on presentCurrent
	DACReferenceVolts = 5.0
)

// Link defaults matching the deployed firmware build
const (
	DefaultBaudRate    = 9600
	FeedbackIntervalMs = 50
)
