// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

// Command builder functions create wire-ready frames. They are thin
// wrappers around EncodeFrame that pin down the field conventions each
// direction uses.

// NewSetTarget builds the control frame commanding a new target current.
// Targets above DACMax are rejected with a RangeError before any bytes
// are produced; the device performs no range validation of its own, so
// this is the only gate. present is the host's last-known present
// current (pass 0 before any feedback has arrived); the device treats it
// as advisory. The outbound temperature byte carries no meaning and is
// sent as zero.
func NewSetTarget(target, present uint16) ([]byte, error) {
	if target > DACMax {
		return nil, &RangeError{Value: target}
	}
	return EncodeFrame(FlagData, present, target, 0), nil
}

// NewFeedback builds the frame the firmware emits on its 50 ms cadence:
// the last-applied DAC value, the last accepted target, and the sensor
// temperature byte.
func NewFeedback(present, target uint16, temperature byte) []byte {
	return EncodeFrame(FlagData, present, target, temperature)
}
