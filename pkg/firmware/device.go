// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

// Package firmware is a faithful reimplementation of the laser driver
// firmware loop: parse inbound Lucerna frames, drive the DAC, and emit
// feedback on a fixed 50 ms cadence independent of inbound traffic.
//
// The beamctl simulate command runs it against a real serial port so the
// host-side tooling can be exercised without hardware, and the link tests
// run it against an in-memory channel with a fake clock.
package firmware

import (
	"context"
	"io"
	"time"

	"github.com/Specklight/beamctl/pkg/lucerna"
)

// FeedbackInterval is the firmware's feedback emission period
const FeedbackInterval = lucerna.FeedbackIntervalMs * time.Millisecond

// DAC drives the 12-bit converter that sets the laser current
type DAC interface {
	Write(value uint16) error
}

// DACFunc adapts a function to the DAC interface
type DACFunc func(value uint16) error

// Write implements DAC
func (f DACFunc) Write(value uint16) error {
	return f(value)
}

// Clock returns the current time; tests substitute a fake
type Clock func() time.Time

// Config parameterizes a Device
type Config struct {
	// Channel carries Lucerna frames both ways. For Run, its Read must
	// return within a bounded time (a serial port with a read timeout).
	Channel io.ReadWriter

	// DAC receives accepted target values. Required.
	DAC DAC

	// Temperature is the sensor byte reported in feedback frames.
	Temperature byte

	// Now defaults to time.Now.
	Now Clock

	// Interval defaults to FeedbackInterval.
	Interval time.Duration
}

// Device holds the firmware's state explicitly: the last value written to
// the DAC, the last accepted target, the sensor byte, and the feedback
// timer. There is no session or handshake state; the device applies
// targets from any host that speaks the frame format, at any time.
type Device struct {
	ch       io.ReadWriter
	dac      DAC
	now      Clock
	interval time.Duration

	present      uint16
	target       uint16
	temperature  byte
	lastFeedback time.Time

	pending []byte
}

// New creates a device with the firmware's power-on state: presentCurrent
// at mid scale, targetCurrent at zero.
func New(cfg Config) *Device {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval == 0 {
		cfg.Interval = FeedbackInterval
	}
	return &Device{
		ch:          cfg.Channel,
		dac:         cfg.DAC,
		now:         cfg.Now,
		interval:    cfg.Interval,
		present:     lucerna.DACMidScale,
		target:      0,
		temperature: cfg.Temperature,
	}
}

// PresentCurrent returns the last value written to the DAC
func (d *Device) PresentCurrent() uint16 {
	return d.present
}

// TargetCurrent returns the last accepted target
func (d *Device) TargetCurrent() uint16 {
	return d.target
}

// Feed buffers inbound bytes for the next Step
func (d *Device) Feed(p []byte) {
	d.pending = append(d.pending, p...)
}

// Step runs one firmware loop iteration: drain complete inbound frames,
// then emit a feedback frame if the interval has elapsed. The two phases
// interleave cooperatively; parsing never waits for more bytes, so a
// trickle of input cannot starve the feedback timer.
func (d *Device) Step(now time.Time) error {
	if err := d.parse(); err != nil {
		return err
	}

	if d.lastFeedback.IsZero() {
		d.lastFeedback = now
	}
	if now.Sub(d.lastFeedback) >= d.interval {
		frame := lucerna.NewFeedback(d.present, d.target, d.temperature)
		if _, err := d.ch.Write(frame); err != nil {
			return err
		}
		d.lastFeedback = now
	}
	return nil
}

// parse consumes buffered bytes exactly as the firmware does: while a
// full frame's worth is available, scan one byte; a start byte claims the
// following eight as the candidate body. Valid frames actuate the DAC;
// invalid candidates are discarded with no state change, and the next
// scan resynchronizes on the following start byte. There is no range
// validation here; the host is the only gate.
func (d *Device) parse() error {
	for len(d.pending) >= lucerna.PacketSize {
		b := d.pending[0]
		d.pending = d.pending[1:]
		if b != lucerna.StartByte {
			continue
		}

		body := d.pending[:lucerna.PacketSize-1]
		d.pending = d.pending[lucerna.PacketSize-1:]

		packet, err := lucerna.DecodeBody(body)
		if err != nil {
			continue
		}

		target := packet.TargetCurrent()
		if err := d.dac.Write(target); err != nil {
			return err
		}
		d.present = target
		d.target = target
	}
	return nil
}

// Run drives the firmware loop against the channel until ctx is done.
// Read errors other than timeouts end the loop; io.EOF is treated as the
// peer going away and returns nil.
func (d *Device) Run(ctx context.Context) error {
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.ch.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := d.Step(d.now()); err != nil {
			return err
		}
	}
}
