// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

import "fmt"

// ChecksumError reports a candidate frame whose integrity digit did not
// match the payload. The frame has already been discarded when this is
// returned; the decoder is back in its scanning state.
type ChecksumError struct {
	Expected byte
	Got      byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %d, got %d", e.Expected, e.Got)
}

// FramingError reports a candidate frame whose ninth byte was not the end
// marker, typically the result of locking onto a stray 0xFF inside the
// stream.
type FramingError struct {
	Got byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("bad end marker: expected 0x%02X, got 0x%02X", EndByte, e.Got)
}

// RangeError reports a target current that cannot be represented on the
// 12-bit DAC. It is raised by NewSetTarget before any bytes are produced;
// the device itself performs no range validation.
type RangeError struct {
	Value uint16
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("target current %d out of range (0-%d)", e.Value, DACMax)
}
