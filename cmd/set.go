// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Specklight Instruments

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Specklight/beamctl/pkg/link"
	"github.com/Specklight/beamctl/pkg/lucerna"
)

var (
	setRetries uint64
	setDelay   int
	setConfirm bool
	setTimeout int
)

var setCmd = &cobra.Command{
	Use:   "set <target>",
	Short: "Send a target current to the driver board",
	Long: `Send a target-current command (DAC counts, 0-4095) to the driver board.

Without --port, the conventional driver-board device names are probed in
order; the whole pass is retried with a delay until --retries is exhausted.

With --confirm, the command waits for a feedback frame echoing the accepted
target before exiting, proving the board actually applied it.

Examples:
  # Half-scale output on an explicit port
  beamctl set 2048 --port /dev/ttyACM0

  # Probe candidates, then wait for the board to confirm
  beamctl set 1500 --confirm

Exit codes:
  0 - Target sent (and confirmed, if --confirm)
  1 - Confirmation timeout
  2 - Connection or write error`,
	Args: cobra.ExactArgs(1),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
	setCmd.Flags().Uint64Var(&setRetries, "retries", 3, "Connection retries after the first attempt")
	setCmd.Flags().IntVar(&setDelay, "retry-delay", 1, "Delay between connection attempts (seconds)")
	setCmd.Flags().BoolVar(&setConfirm, "confirm", false, "Wait for a feedback frame echoing the target")
	setCmd.Flags().IntVar(&setTimeout, "timeout", 5, "Confirmation timeout (seconds)")
}

// newLinkManager builds a link.Manager from the shared connection flags.
// An explicit --port or --url narrows the candidate list to one entry.
func newLinkManager() *link.Manager {
	candidates := defaultCandidatePorts
	dial := func(port string, baud int) (io.ReadWriteCloser, error) {
		return OpenSerialConnection(port, baud)
	}

	if wsURL != "" {
		candidates = []string{wsURL}
		dial = func(port string, baud int) (io.ReadWriteCloser, error) {
			password := ""
			if wsUsername != "" {
				var err error
				password, err = GetPassword()
				if err != nil {
					return nil, err
				}
			}
			return OpenWebSocketConnection(port, wsUsername, password, wsNoSSLVerify)
		}
	} else if portName != "" {
		candidates = []string{portName}
	}

	return link.NewManager(link.Config{
		CandidatePorts: candidates,
		BaudRate:       baudRate,
		MaxRetries:     setRetries,
		RetryDelay:     time.Duration(setDelay) * time.Second,
		Dial:           dial,
	})
}

func runSet(cmd *cobra.Command, args []string) error {
	target64, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil || target64 > lucerna.DACMax {
		fmt.Fprintf(os.Stderr, "Invalid target %q: must be an integer 0-%d\n", args[0], lucerna.DACMax)
		os.Exit(2)
	}
	target := uint16(target64)

	m := newLinkManager()
	if err := m.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer m.Close()

	fmt.Printf("Connected: %s\n", m.PortName())

	if err := m.SendTarget(target); err != nil {
		if errors.Is(err, link.ErrTargetRange) {
			fmt.Fprintf(os.Stderr, "Target out of range: %d\n", target)
		} else {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		}
		os.Exit(2)
	}

	fmt.Printf("Sent target %d (%.2fV)\n", target, lucerna.DACVoltage(target))

	if !setConfirm {
		return nil
	}

	// Poll the feedback stream until the board echoes the new target.
	deadline := time.Now().Add(time.Duration(setTimeout) * time.Second)
	for time.Now().Before(deadline) {
		fb, err := m.PollFeedback()
		if err == link.ErrNoFrame {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		}
		if fb.TargetCurrent == target {
			fmt.Printf("Confirmed: present=%d target=%d temp=%d°C\n",
				fb.PresentCurrent, fb.TargetCurrent, fb.Temperature)
			return nil
		}
	}

	fmt.Fprintf(os.Stderr, "TIMEOUT: No feedback echoing target %d within %ds\n", target, setTimeout)
	os.Exit(1)
	return nil
}
