// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package lucerna

import (
	"fmt"
	"strings"
)

// FormatPacket renders a decoded frame in the one-line-per-frame style
// the monitor command prints:
//
//	[15:04:05.000] FEEDBACK present=2048 target=2048 temp=25°C vdac=2.50V
func FormatPacket(p *Packet) string {
	timestamp := p.Timestamp().Format("15:04:05.000")
	return fmt.Sprintf("[%s] %s present=%d target=%d temp=%d°C vdac=%.2fV\n",
		timestamp, FormatFlag(p.Flag()), p.PresentCurrent(), p.TargetCurrent(),
		p.Temperature(), p.Voltage())
}

// FormatFlag names a flag byte
func FormatFlag(flag byte) string {
	switch flag {
	case FlagData:
		return "FEEDBACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", flag)
	}
}

// FormatFrameHex renders raw frame bytes as spaced hex, for error logs
// and the packet_test command.
func FormatFrameHex(frame []byte) string {
	parts := make([]string, len(frame))
	for i, b := range frame {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
