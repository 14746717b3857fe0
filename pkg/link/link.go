// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

// Package link implements the host side of a Lucerna serial session:
// candidate-port selection with bounded retry, target transmission, and
// non-blocking feedback polling.
//
// The manager owns the channel exclusively. Writes are serialized by an
// internal lock; polling is expected from a single goroutine or timer.
// No operation blocks indefinitely: connection attempts are bounded by
// the retry budget and each poll reads at most one buffer of bytes.
package link

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/Specklight/beamctl/pkg/lucerna"
)

// Status describes the manager's connection state for UI indication
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the status label shown in the UI
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// DialFunc opens a channel on a named port at the given baud rate.
// The returned channel's Read must be bounded (a serial port with a read
// timeout, returning (0, nil) when nothing arrived).
type DialFunc func(port string, baud int) (io.ReadWriteCloser, error)

// Config parameterizes a Manager
type Config struct {
	// CandidatePorts are tried in order; one full pass is one attempt.
	CandidatePorts []string

	// BaudRate defaults to lucerna.DefaultBaudRate (9600, must match
	// the firmware build).
	BaudRate int

	// MaxRetries is the number of additional attempts after the first
	// one fails. RetryDelay elapses before each retry.
	MaxRetries uint64
	RetryDelay time.Duration

	// Dial opens the channel. Required.
	Dial DialFunc

	// Sleep is called between connection attempts; nil means time.Sleep.
	// Tests inject a recorder here to avoid wall-clock waits.
	Sleep func(time.Duration)
}

// Feedback is the decoded state report surfaced to the UI and plotter
type Feedback struct {
	PresentCurrent uint16
	TargetCurrent  uint16
	Temperature    byte
	ReceivedAt     time.Time
}

// Voltage converts the feedback's target current to the DAC output voltage
func (f Feedback) Voltage() float64 {
	return lucerna.DACVoltage(f.TargetCurrent)
}

// Manager owns the serial channel lifecycle and translates between
// application-level intensity requests and Lucerna wire frames.
type Manager struct {
	cfg Config

	connMu   sync.RWMutex
	conn     io.ReadWriteCloser
	portName string
	status   Status

	writeMu sync.Mutex

	pollMu  sync.Mutex
	decoder *lucerna.Decoder
	readBuf []byte
	queue   []Feedback
	stats   *lucerna.Statistics

	fbMu sync.RWMutex
	last *Feedback
}

// NewManager creates a manager. Connect must be called before use.
func NewManager(cfg Config) *Manager {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = lucerna.DefaultBaudRate
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Manager{
		cfg:     cfg,
		decoder: lucerna.NewDecoder(),
		readBuf: make([]byte, 256),
		stats:   lucerna.NewStatistics(),
	}
}

// Connect tries each candidate port in order, retrying the whole pass up
// to MaxRetries times with RetryDelay between passes. It returns nil once
// a port opens, or a *ConnectError after the budget is exhausted. The
// manager never retries beyond the configured bound on its own.
func (m *Manager) Connect() error {
	if len(m.cfg.CandidatePorts) == 0 {
		return &ConnectError{Attempts: 0, LastErr: fmt.Errorf("no candidate ports")}
	}
	if m.cfg.Dial == nil {
		return &ConnectError{Ports: m.cfg.CandidatePorts, Attempts: 0, LastErr: fmt.Errorf("no dial function configured")}
	}

	m.setStatus(StatusConnecting)

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.RetryDelay), m.cfg.MaxRetries)
	policy.Reset()

	attempts := 0
	var lastErr error
	for {
		attempts++
		for _, port := range m.cfg.CandidatePorts {
			conn, err := m.cfg.Dial(port, m.cfg.BaudRate)
			if err != nil {
				lastErr = err
				continue
			}
			m.adopt(conn, port)
			return nil
		}

		// MaxRetries zero means a single pass. The backoff policy
		// treats zero as unlimited, so it cannot enforce this bound
		// itself.
		if m.cfg.MaxRetries == 0 {
			break
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		m.cfg.Sleep(wait)
	}

	m.setStatus(StatusDisconnected)
	return &ConnectError{Ports: m.cfg.CandidatePorts, Attempts: attempts, LastErr: lastErr}
}

// adopt installs a freshly opened channel, releasing any previous one
func (m *Manager) adopt(conn io.ReadWriteCloser, port string) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = conn
	m.portName = port
	m.status = StatusConnected
}

// SendTarget validates and transmits a new target current. The frame
// carries the last-known present current (zero before any feedback) and
// a zero temperature placeholder. A failed write invalidates the channel
// and is surfaced immediately; the caller decides whether to reconnect.
func (m *Manager) SendTarget(target uint16) error {
	if target > lucerna.DACMax {
		return ErrTargetRange
	}

	conn, port := m.channel()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := lucerna.NewSetTarget(target, m.lastPresent())
	if err != nil {
		return ErrTargetRange
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		m.invalidate()
		return &WriteError{Port: port, Err: err}
	}
	return nil
}

// PollFeedback performs one bounded, non-blocking poll of the channel.
// It returns the next decoded feedback frame, in arrival order, exactly
// once per frame. ErrNoFrame means fewer than a full frame has arrived;
// call again later. Malformed frames are absorbed: the decoder
// resynchronizes on the next start byte and the error is only counted
// in Statistics.
func (m *Manager) PollFeedback() (Feedback, error) {
	conn, _ := m.channel()
	if conn == nil {
		return Feedback{}, ErrNotConnected
	}

	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	if fb, ok := m.dequeue(); ok {
		return fb, nil
	}

	n, err := conn.Read(m.readBuf)
	for i := 0; i < n; i++ {
		packet, decodeErr := m.decoder.DecodeByte(m.readBuf[i])
		if decodeErr != nil {
			m.stats.Update(nil, decodeErr, nil)
			continue
		}
		if packet == nil {
			continue
		}
		m.stats.Update(packet, nil, lucerna.ValidatePacket(packet))
		fb := Feedback{
			PresentCurrent: packet.PresentCurrent(),
			TargetCurrent:  packet.TargetCurrent(),
			Temperature:    packet.Temperature(),
			ReceivedAt:     packet.Timestamp(),
		}
		m.queue = append(m.queue, fb)
		m.setLast(fb)
	}
	if err != nil && err != io.EOF {
		m.invalidate()
		return Feedback{}, fmt.Errorf("read from %s failed: %w", m.portName, err)
	}

	if fb, ok := m.dequeue(); ok {
		return fb, nil
	}
	return Feedback{}, ErrNoFrame
}

// dequeue pops the oldest queued feedback frame. Caller holds pollMu.
func (m *Manager) dequeue() (Feedback, bool) {
	if len(m.queue) == 0 {
		return Feedback{}, false
	}
	fb := m.queue[0]
	m.queue = m.queue[1:]
	return fb, true
}

// LastFeedback returns the most recent decoded feedback, if any
func (m *Manager) LastFeedback() (Feedback, bool) {
	m.fbMu.RLock()
	defer m.fbMu.RUnlock()
	if m.last == nil {
		return Feedback{}, false
	}
	return *m.last, true
}

// Stats exposes the link statistics tracker
func (m *Manager) Stats() *lucerna.Statistics {
	return m.stats
}

// Status reports the connection state
func (m *Manager) Status() Status {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.status
}

// PortName returns the port the manager is connected to, if any
func (m *Manager) PortName() string {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.portName
}

// Close releases the channel. It is safe to call on all exit paths,
// including after a failed SendTarget or PollFeedback, and is idempotent.
func (m *Manager) Close() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.status = StatusDisconnected
	return err
}

func (m *Manager) channel() (io.ReadWriteCloser, string) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.conn, m.portName
}

// invalidate releases the channel after an I/O error. Until the next
// Connect, SendTarget and PollFeedback fail fast with ErrNotConnected
// instead of retrying the dead handle.
func (m *Manager) invalidate() {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.status = StatusDisconnected
}

func (m *Manager) setStatus(s Status) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.status = s
}

func (m *Manager) setLast(fb Feedback) {
	m.fbMu.Lock()
	defer m.fbMu.Unlock()
	m.last = &fb
}

// lastPresent is the advisory present-current echo for outbound frames:
// the device's last report, or zero before any feedback has arrived.
func (m *Manager) lastPresent() uint16 {
	m.fbMu.RLock()
	defer m.fbMu.RUnlock()
	if m.last == nil {
		return 0
	}
	return m.last.PresentCurrent
}
