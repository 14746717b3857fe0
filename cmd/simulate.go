// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Specklight Instruments

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Specklight/beamctl/pkg/firmware"
	"github.com/Specklight/beamctl/pkg/lucerna"
)

var (
	simulateTemp uint8
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a fake driver board on a serial port",
	Long: `Emulate the driver-board firmware on a serial port.

The simulator accepts target-current commands, applies them to a virtual
DAC, and emits a feedback frame every 50ms, exactly like the real board.
Point it at one end of a pty pair (e.g. from socat) and run the other
beamctl commands against the other end to test without hardware.

Example:
  socat -d -d pty,raw,echo=0 pty,raw,echo=0
  beamctl simulate --port /dev/pts/3
  beamctl monitor --port /dev/pts/4

Press Ctrl+C to stop.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Uint8Var(&simulateTemp, "temperature", 25, "Reported temperature (°C)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if portName == "" {
		return fmt.Errorf("--port must be specified")
	}

	conn, err := OpenSerialConnection(portName, baudRate)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Beamctl - Driver Board Simulator\n")
	fmt.Printf("Port: %s @ %d baud\n", portName, baudRate)
	fmt.Printf("Power-on state: present=%d target=0 temp=%d°C\n", lucerna.DACMidScale, simulateTemp)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	dev := firmware.New(firmware.Config{
		Channel:     conn,
		Temperature: simulateTemp,
		DAC: firmware.DACFunc(func(value uint16) error {
			fmt.Printf("DAC <- %d (%.2fV)\n", value, lucerna.DACVoltage(value))
			return nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := dev.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("simulator error: %v", err)
	}
	return nil
}
