// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Specklight Instruments

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

// defaultCandidatePorts are the device names Lucerna driver boards usually
// enumerate as: Arduino CDC-ACM devices on macOS, Linux, and Windows.
var defaultCandidatePorts = []string{
	"/dev/cu.usbmodem101",
	"/dev/cu.usbmodem1101",
	"/dev/ttyACM0",
	"/dev/ttyUSB0",
	"COM3",
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and driver-board candidates",
	Long: `List the serial ports present on this system.

Ports matching the conventional Lucerna driver-board device names are marked
as candidates. Use one of these with --port for the other commands, or rely
on the set command's automatic candidate probing.

Exit codes:
  0 - At least one port found
  1 - No serial ports present
  2 - Enumeration error`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Port enumeration error: %v\n", err)
		os.Exit(2)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		os.Exit(1)
	}

	candidates := make(map[string]bool, len(defaultCandidatePorts))
	for _, c := range defaultCandidatePorts {
		candidates[c] = true
	}

	fmt.Printf("Beamctl - Serial Ports\n\n")
	for _, port := range ports {
		marker := " "
		if candidates[port] {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, port)
	}
	fmt.Printf("\n* = conventional Lucerna driver-board device name\n")

	return nil
}
