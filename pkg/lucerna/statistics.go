// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame counts and error rates on a link
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	ChecksumErrors  uint64
	FramingErrors   uint64
	DecodeErrors    uint64
	RangeAnomalies  uint64
	UnknownFlags    uint64
	AnomalousFrames uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one decode outcome: a frame, a decode error, or a frame
// with validation anomalies.
func (s *Statistics) Update(packet *Packet, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		var cksum *ChecksumError
		var framing *FramingError
		switch {
		case errors.As(decodeErr, &cksum):
			s.ChecksumErrors++
		case errors.As(decodeErr, &framing):
			s.FramingErrors++
		default:
			s.DecodeErrors++
		}
		return
	}

	if len(validationErrors) > 0 {
		s.AnomalousFrames++
		for _, err := range validationErrors {
			switch err.Type {
			case AnomalyTargetRange, AnomalyPresentRange:
				s.RangeAnomalies++
			case AnomalyUnknownFlag:
				s.UnknownFlags++
			}
		}
		return
	}

	s.ValidFrames++
}

// CalculateRates recomputes frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.ChecksumErrors + s.FramingErrors + s.DecodeErrors + s.AnomalousFrames
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.AnomalousFrames > 0 {
		result += fmt.Sprintf("Anomalous Frames:%8d\n", s.AnomalousFrames)
		if s.RangeAnomalies > 0 {
			result += fmt.Sprintf("  Out-of-range currents: %5d\n", s.RangeAnomalies)
		}
		if s.UnknownFlags > 0 {
			result += fmt.Sprintf("  Unknown flags:         %5d\n", s.UnknownFlags)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset clears all counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
