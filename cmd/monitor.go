// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Specklight Instruments

package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/Specklight/beamctl/pkg/lucerna"
)

var (
	monitorRecord  string
	monitorShowAll bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display the feedback stream in human-readable format",
	Long: `Continuously decode and display feedback frames as they arrive.

Each valid frame is printed with timestamp, present current, target current,
temperature, and the derived DAC voltage. Decode errors are printed inline
and counted; a statistics summary is printed on exit.

With --record, every decoded frame is appended to the given file as a CBOR
record stream for later analysis (e.g. current-vs-voltage sweeps).

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Append decoded frames to a CBOR record file")
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-errors", true, "Print decode errors inline")
}

// feedbackRecord is the CBOR capture-file schema. Integer keys keep
// long recording sessions compact.
type feedbackRecord struct {
	UnixMillis  int64   `cbor:"0,keyasint"`
	Present     uint16  `cbor:"1,keyasint"`
	Target      uint16  `cbor:"2,keyasint"`
	Temperature uint8   `cbor:"3,keyasint"`
	Voltage     float64 `cbor:"4,keyasint"`
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var recorder *cbor.Encoder
	if monitorRecord != "" {
		f, err := os.OpenFile(monitorRecord, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open record file: %v", err)
		}
		defer f.Close()
		recorder = cbor.NewEncoder(f)
	}

	fmt.Printf("Beamctl - Feedback Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if monitorRecord != "" {
		fmt.Printf("Recording to: %s\n", monitorRecord)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := lucerna.NewDecoder()
	stats := lucerna.NewStatistics()
	buf := make([]byte, 128)

	// Print the statistics summary when interrupted
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	dataCh := make(chan []byte, 10)
	errCh := make(chan error, 1)
	go func() {
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errCh <- err
				return
			}
			if n == 0 {
				continue
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			dataCh <- data
		}
	}()

	for {
		select {
		case data := <-dataCh:
			for _, b := range data {
				packet, decodeErr := decoder.DecodeByte(b)
				if decodeErr != nil {
					stats.Update(nil, decodeErr, nil)
					if monitorShowAll {
						fmt.Printf("[ERROR] %v\n", decodeErr)
					}
					continue
				}
				if packet == nil {
					continue
				}

				validationErrors := lucerna.ValidatePacket(packet)
				stats.Update(packet, nil, validationErrors)
				fmt.Print(lucerna.FormatPacket(packet))
				for _, verr := range validationErrors {
					fmt.Printf("  ANOMALY: %s\n", verr.Message)
				}

				if recorder != nil {
					rec := feedbackRecord{
						UnixMillis:  packet.Timestamp().UnixMilli(),
						Present:     packet.PresentCurrent(),
						Target:      packet.TargetCurrent(),
						Temperature: packet.Temperature(),
						Voltage:     packet.Voltage(),
					}
					if err := recorder.Encode(rec); err != nil {
						log.Printf("Record write error: %v", err)
						recorder = nil
					}
				}
			}

		case err := <-errCh:
			if err == ErrConnectionClosed {
				log.Printf("Connection closed")
			} else {
				log.Printf("Read error: %v", err)
			}
			fmt.Println()
			fmt.Print(stats.String())
			return nil

		case <-sigCh:
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}
