// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Specklight Instruments

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Specklight/beamctl/pkg/lucerna"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid feedback frame",
	Long: `Wait for a valid feedback frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
Lucerna frame. It ignores invalid bytes and waits for a complete frame that
passes the checksum.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking that a driver board is alive and emitting feedback.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Beamctl - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid feedback frame...\n\n")

	decoder := lucerna.NewDecoder()
	buf := make([]byte, 128)

	packetChan := make(chan *lucerna.Packet, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		invalidBytes := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				packet, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					// Corrupt candidates just delay sync
					invalidBytes++
					continue
				}
				if packet != nil {
					if invalidBytes > 0 {
						fmt.Printf("(skipped %d invalid bytes before sync)\n", invalidBytes)
					}
					packetChan <- packet
					return
				}
			}
		}
	}()

	select {
	case packet := <-packetChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Flag: %s (0x%02X)\n", lucerna.FormatFlag(packet.Flag()), packet.Flag())
		fmt.Printf("  Present: %d (%.2fV)\n", packet.PresentCurrent(), lucerna.DACVoltage(packet.PresentCurrent()))
		fmt.Printf("  Target: %d (%.2fV)\n", packet.TargetCurrent(), lucerna.DACVoltage(packet.TargetCurrent()))
		fmt.Printf("  Temperature: %d°C\n", packet.Temperature())
		fmt.Printf("  Checksum: %d\n", packet.ChecksumByte())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
