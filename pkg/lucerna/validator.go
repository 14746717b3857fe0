// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

import "fmt"

// AnomalyType classifies packet anomalies
type AnomalyType int

const (
	AnomalyTargetRange AnomalyType = iota
	AnomalyPresentRange
	AnomalyUnknownFlag
	AnomalyChecksumError
	AnomalyFramingError
)

// ValidationError represents a packet validation failure. Frames that
// carry one still passed checksum and framing; the anomaly is in the
// decoded values.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket checks a decoded packet for anomalous values.
// Returns a slice of validation errors (empty if the packet is clean).
// The checksum is too weak to catch all corruption, so out-of-range
// currents on an otherwise valid frame are worth flagging.
func ValidatePacket(p *Packet) []ValidationError {
	errors := []ValidationError{}

	if p.flag != FlagData {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownFlag,
			Message: fmt.Sprintf("Unknown flag 0x%02X (expected 0x%02X)", p.flag, FlagData),
			Details: map[string]interface{}{"flag": p.flag},
		})
	}

	if p.target > DACMax {
		errors = append(errors, ValidationError{
			Type:    AnomalyTargetRange,
			Message: fmt.Sprintf("Target current %d above DAC range (max %d)", p.target, DACMax),
			Details: map[string]interface{}{"target": p.target, "max": DACMax},
		})
	}

	if p.present > DACMax {
		errors = append(errors, ValidationError{
			Type:    AnomalyPresentRange,
			Message: fmt.Sprintf("Present current %d above DAC range (max %d)", p.present, DACMax),
			Details: map[string]interface{}{"present": p.present, "max": DACMax},
		})
	}

	return errors
}
