// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

// Checksum computes the Lucerna integrity byte over a frame payload.
// Each payload byte is reduced mod 10 before summing, and the sum is
// reduced mod 10 again, matching the deployed firmware byte for byte.
// The result is a single decimal digit (0-9), so corruption detection
// is probabilistic only; see the decoder tests for the collision rate.
func Checksum(payload []byte) byte {
	sum := 0
	for _, b := range payload {
		sum += int(b) % 10
	}
	return byte(sum % 10)
}
