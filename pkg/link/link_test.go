// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package link

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Specklight/beamctl/pkg/firmware"
	"github.com/Specklight/beamctl/pkg/lucerna"
)

// fakeConn scripts the channel: each Read returns the next chunk, then
// (0, nil) like a serial port read timeout. Writes are recorded.
type fakeConn struct {
	chunks   [][]byte
	writes   bytes.Buffer
	writeErr error
	readErr  error
	closed   bool
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.writes.Write(p)
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// connectedManager returns a manager already attached to the given conn
func connectedManager(t *testing.T, conn io.ReadWriteCloser) *Manager {
	t.Helper()
	m := NewManager(Config{
		CandidatePorts: []string{"/dev/ttyTEST0"},
		Dial: func(port string, baud int) (io.ReadWriteCloser, error) {
			return conn, nil
		},
	})
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	return m
}

// ============================================================
// Connect Tests
// ============================================================

func TestConnect_FirstPortSucceeds(t *testing.T) {
	conn := &fakeConn{}
	m := connectedManager(t, conn)
	defer m.Close()

	if m.Status() != StatusConnected {
		t.Errorf("Status = %v, want connected", m.Status())
	}
	if m.PortName() != "/dev/ttyTEST0" {
		t.Errorf("PortName = %q", m.PortName())
	}
}

func TestConnect_FallsThroughCandidates(t *testing.T) {
	conn := &fakeConn{}
	dialed := []string{}
	m := NewManager(Config{
		CandidatePorts: []string{"/dev/ttyACM0", "/dev/ttyUSB0", "COM3"},
		Dial: func(port string, baud int) (io.ReadWriteCloser, error) {
			dialed = append(dialed, port)
			if port != "COM3" {
				return nil, errors.New("no such device")
			}
			return conn, nil
		},
	})
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer m.Close()

	if len(dialed) != 3 {
		t.Errorf("dialed %v, want all three candidates in order", dialed)
	}
	if m.PortName() != "COM3" {
		t.Errorf("PortName = %q, want COM3", m.PortName())
	}
}

// TestConnect_BoundedRetry verifies the retry contract: three retries at
// one-second intervals means three injected sleeps totalling at least
// three seconds, then a ConnectError. The manager must not hang.
func TestConnect_BoundedRetry(t *testing.T) {
	var slept []time.Duration
	attempts := 0
	m := NewManager(Config{
		CandidatePorts: []string{"/dev/ttyACM0"},
		MaxRetries:     3,
		RetryDelay:     time.Second,
		Dial: func(port string, baud int) (io.ReadWriteCloser, error) {
			attempts++
			return nil, errors.New("port unavailable")
		},
		Sleep: func(d time.Duration) { slept = append(slept, d) },
	})

	err := m.Connect()
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect error = %v, want *ConnectError", err)
	}

	if len(slept) != 3 {
		t.Errorf("slept %d times, want 3", len(slept))
	}
	var total time.Duration
	for _, d := range slept {
		total += d
	}
	if total < 3*time.Second {
		t.Errorf("total retry delay = %v, want >= 3s", total)
	}
	if attempts != 4 {
		t.Errorf("dial attempts = %d, want 4 (initial + 3 retries)", attempts)
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("Status = %v, want disconnected after exhaustion", m.Status())
	}
}

// TestConnect_ZeroRetriesSinglePass pins the MaxRetries=0 contract: one
// pass over the candidates, no sleeps, then a prompt ConnectError. The
// backoff policy alone cannot express this (it reads zero as unlimited),
// so Connect bounds the loop itself.
func TestConnect_ZeroRetriesSinglePass(t *testing.T) {
	dials := 0
	slept := 0
	m := NewManager(Config{
		CandidatePorts: []string{"/dev/ttyACM0", "/dev/ttyUSB0"},
		MaxRetries:     0,
		RetryDelay:     time.Second,
		Dial: func(port string, baud int) (io.ReadWriteCloser, error) {
			dials++
			return nil, errors.New("port unavailable")
		},
		Sleep: func(time.Duration) { slept++ },
	})

	err := m.Connect()
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect error = %v, want *ConnectError", err)
	}
	if dials != 2 {
		t.Errorf("dials = %d, want one per candidate", dials)
	}
	if slept != 0 {
		t.Errorf("slept %d times, want 0 with no retry budget", slept)
	}
	if connErr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", connErr.Attempts)
	}
}

func TestConnect_ReplacesPreviousChannel(t *testing.T) {
	first := &fakeConn{}
	second := &fakeConn{}
	conns := []io.ReadWriteCloser{first, second}
	m := NewManager(Config{
		CandidatePorts: []string{"/dev/ttyTEST0"},
		Dial: func(port string, baud int) (io.ReadWriteCloser, error) {
			conn := conns[0]
			conns = conns[1:]
			return conn, nil
		},
	})
	if err := m.Connect(); err != nil {
		t.Fatalf("first Connect error: %v", err)
	}
	if err := m.Connect(); err != nil {
		t.Fatalf("second Connect error: %v", err)
	}
	defer m.Close()

	if !first.closed {
		t.Error("reconnect leaked the previous channel handle")
	}
	if second.closed {
		t.Error("reconnect closed the fresh channel")
	}
}

func TestConnect_NoCandidates(t *testing.T) {
	m := NewManager(Config{})
	var connErr *ConnectError
	if err := m.Connect(); !errors.As(err, &connErr) {
		t.Fatalf("Connect error = %v, want *ConnectError", err)
	}
}

// ============================================================
// SendTarget Tests
// ============================================================

func TestSendTarget_WritesExactFrame(t *testing.T) {
	conn := &fakeConn{}
	m := connectedManager(t, conn)
	defer m.Close()

	if err := m.SendTarget(2048); err != nil {
		t.Fatalf("SendTarget error: %v", err)
	}

	// No feedback yet, so the advisory present echo is zero and the
	// outbound temperature byte is zero.
	want := []byte{0xFF, 0x01, 0x00, 0x00, 0x08, 0x00, 0x00, 0x09, 0xFE}
	if !bytes.Equal(conn.writes.Bytes(), want) {
		t.Errorf("wrote % X, want % X", conn.writes.Bytes(), want)
	}
}

func TestSendTarget_OutOfRangeWritesNothing(t *testing.T) {
	conn := &fakeConn{}
	m := connectedManager(t, conn)
	defer m.Close()

	if err := m.SendTarget(4096); err != ErrTargetRange {
		t.Fatalf("SendTarget(4096) error = %v, want ErrTargetRange", err)
	}
	if conn.writes.Len() != 0 {
		t.Errorf("out-of-range target wrote %d bytes, want 0", conn.writes.Len())
	}
}

func TestSendTarget_NotConnected(t *testing.T) {
	m := NewManager(Config{})
	if err := m.SendTarget(100); err != ErrNotConnected {
		t.Errorf("SendTarget error = %v, want ErrNotConnected", err)
	}
}

func TestSendTarget_WriteFailureSurfaces(t *testing.T) {
	conn := &fakeConn{writeErr: errors.New("device unplugged")}
	m := connectedManager(t, conn)
	defer m.Close()

	err := m.SendTarget(100)
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("SendTarget error = %v, want *WriteError", err)
	}
	if writeErr.Port != "/dev/ttyTEST0" {
		t.Errorf("WriteError.Port = %q", writeErr.Port)
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("Status = %v, want disconnected after write failure", m.Status())
	}
	if !conn.closed {
		t.Error("failed channel not released")
	}

	// The dead handle must not be reused; the channel stays invalid
	// until the next Connect.
	if err := m.SendTarget(100); err != ErrNotConnected {
		t.Errorf("SendTarget after failure = %v, want ErrNotConnected", err)
	}
	if _, err := m.PollFeedback(); err != ErrNotConnected {
		t.Errorf("PollFeedback after failure = %v, want ErrNotConnected", err)
	}
}

func TestSendTarget_EchoesLastPresent(t *testing.T) {
	feedback := lucerna.NewFeedback(1700, 1700, 25)
	conn := &fakeConn{chunks: [][]byte{feedback}}
	m := connectedManager(t, conn)
	defer m.Close()

	if _, err := m.PollFeedback(); err != nil {
		t.Fatalf("PollFeedback error: %v", err)
	}
	if err := m.SendTarget(500); err != nil {
		t.Fatalf("SendTarget error: %v", err)
	}

	p, err := lucerna.DecodeFrame(conn.writes.Bytes())
	if err != nil {
		t.Fatalf("written frame does not decode: %v", err)
	}
	if p.PresentCurrent() != 1700 {
		t.Errorf("advisory present echo = %d, want 1700 from feedback", p.PresentCurrent())
	}
}

// ============================================================
// PollFeedback Tests
// ============================================================

func TestPollFeedback_NoBytes(t *testing.T) {
	m := connectedManager(t, &fakeConn{})
	defer m.Close()

	if _, err := m.PollFeedback(); err != ErrNoFrame {
		t.Errorf("PollFeedback error = %v, want ErrNoFrame", err)
	}
}

func TestPollFeedback_FrameSplitAcrossPolls(t *testing.T) {
	frame := lucerna.NewFeedback(2048, 2048, 25)
	conn := &fakeConn{chunks: [][]byte{frame[:4], frame[4:]}}
	m := connectedManager(t, conn)
	defer m.Close()

	if _, err := m.PollFeedback(); err != ErrNoFrame {
		t.Fatalf("first poll error = %v, want ErrNoFrame", err)
	}
	fb, err := m.PollFeedback()
	if err != nil {
		t.Fatalf("second poll error: %v", err)
	}
	if fb.PresentCurrent != 2048 || fb.Temperature != 25 {
		t.Errorf("feedback = %+v", fb)
	}
}

func TestPollFeedback_TwoFramesOneRead(t *testing.T) {
	a := lucerna.NewFeedback(100, 100, 1)
	b := lucerna.NewFeedback(200, 200, 2)
	conn := &fakeConn{chunks: [][]byte{append(append([]byte{}, a...), b...)}}
	m := connectedManager(t, conn)
	defer m.Close()

	first, err := m.PollFeedback()
	if err != nil {
		t.Fatalf("first poll error: %v", err)
	}
	second, err := m.PollFeedback()
	if err != nil {
		t.Fatalf("second poll error: %v", err)
	}
	if first.PresentCurrent != 100 || second.PresentCurrent != 200 {
		t.Errorf("frames out of order: %d then %d", first.PresentCurrent, second.PresentCurrent)
	}
	if _, err := m.PollFeedback(); err != ErrNoFrame {
		t.Errorf("third poll error = %v, want ErrNoFrame", err)
	}
}

func TestPollFeedback_AbsorbsCorruptFrames(t *testing.T) {
	bad := lucerna.NewFeedback(500, 500, 10)
	bad[7] = (bad[7] + 1) % 10
	good := lucerna.NewFeedback(900, 900, 20)
	conn := &fakeConn{chunks: [][]byte{append(append([]byte{}, bad...), good...)}}
	m := connectedManager(t, conn)
	defer m.Close()

	fb, err := m.PollFeedback()
	if err != nil {
		t.Fatalf("PollFeedback error: %v", err)
	}
	if fb.PresentCurrent != 900 {
		t.Errorf("feedback present = %d, want 900 (corrupt frame dropped)", fb.PresentCurrent)
	}
	if m.Stats().ChecksumErrors != 1 {
		t.Errorf("ChecksumErrors = %d, want 1", m.Stats().ChecksumErrors)
	}
}

func TestPollFeedback_ReadFailureInvalidates(t *testing.T) {
	conn := &fakeConn{readErr: errors.New("device unplugged")}
	m := connectedManager(t, conn)
	defer m.Close()

	if _, err := m.PollFeedback(); err == nil || err == ErrNoFrame {
		t.Fatalf("PollFeedback error = %v, want read failure", err)
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("Status = %v, want disconnected after read failure", m.Status())
	}
	if !conn.closed {
		t.Error("failed channel not released")
	}
	if _, err := m.PollFeedback(); err != ErrNotConnected {
		t.Errorf("PollFeedback after failure = %v, want ErrNotConnected", err)
	}
}

func TestPollFeedback_UpdatesSnapshot(t *testing.T) {
	frame := lucerna.NewFeedback(321, 654, 30)
	m := connectedManager(t, &fakeConn{chunks: [][]byte{frame}})
	defer m.Close()

	if _, ok := m.LastFeedback(); ok {
		t.Error("LastFeedback before any poll should report none")
	}
	if _, err := m.PollFeedback(); err != nil {
		t.Fatalf("PollFeedback error: %v", err)
	}
	fb, ok := m.LastFeedback()
	if !ok {
		t.Fatal("LastFeedback after poll should report a value")
	}
	if fb.PresentCurrent != 321 || fb.TargetCurrent != 654 || fb.Temperature != 30 {
		t.Errorf("snapshot = %+v", fb)
	}
}

func TestClose_Idempotent(t *testing.T) {
	conn := &fakeConn{}
	m := connectedManager(t, conn)

	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !conn.closed {
		t.Error("underlying channel not closed")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("Status = %v after Close", m.Status())
	}
}

// ============================================================
// End-to-End Cadence Test
// ============================================================

// wire is one direction of an in-memory serial link. An empty read
// returns (0, nil) like a timed-out serial read.
type wire struct {
	buf bytes.Buffer
}

func (w *wire) Read(p []byte) (int, error) {
	if w.buf.Len() == 0 {
		return 0, nil
	}
	return w.buf.Read(p)
}

func (w *wire) Write(p []byte) (int, error) { return w.buf.Write(p) }

// hostEnd joins the two directions into the host's view of the channel
type hostEnd struct {
	fromDevice *wire
	toDevice   *wire
}

func (h *hostEnd) Read(p []byte) (int, error)  { return h.fromDevice.Read(p) }
func (h *hostEnd) Write(p []byte) (int, error) { return h.toDevice.Write(p) }
func (h *hostEnd) Close() error                { return nil }

// deviceEnd is the firmware's view of the same link
type deviceEnd struct {
	fromHost *wire
	toHost   *wire
}

func (d *deviceEnd) Read(p []byte) (int, error)  { return d.fromHost.Read(p) }
func (d *deviceEnd) Write(p []byte) (int, error) { return d.toHost.Write(p) }

// TestCadence_ExactlyOnce runs the firmware loop on a fake clock emitting
// feedback every 50 ms while the host polls every 10 ms. Every emitted
// frame must be decoded exactly once: no duplication, no loss.
func TestCadence_ExactlyOnce(t *testing.T) {
	downstream := &wire{} // host -> device
	upstream := &wire{}   // device -> host

	dev := firmware.New(firmware.Config{
		Channel:     &deviceEnd{fromHost: downstream, toHost: upstream},
		DAC:         firmware.DACFunc(func(uint16) error { return nil }),
		Temperature: 25,
	})

	m := NewManager(Config{
		CandidatePorts: []string{"sim"},
		Dial: func(port string, baud int) (io.ReadWriteCloser, error) {
			return &hostEnd{fromDevice: upstream, toDevice: downstream}, nil
		},
	})
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer m.Close()

	start := time.Unix(0, 0)
	decoded := 0
	emptyPolls := 0

	// One simulated second: the device steps and the host polls on a
	// 10 ms grid; the device emits on 50 ms boundaries.
	for i := 0; i <= 100; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Millisecond)
		if err := dev.Step(now); err != nil {
			t.Fatalf("device Step error: %v", err)
		}
		if _, err := m.PollFeedback(); err == nil {
			decoded++
		} else if err == ErrNoFrame {
			emptyPolls++
		} else {
			t.Fatalf("PollFeedback error: %v", err)
		}
	}
	// Drain anything still queued.
	for {
		_, err := m.PollFeedback()
		if err == ErrNoFrame {
			break
		}
		if err != nil {
			t.Fatalf("drain error: %v", err)
		}
		decoded++
	}

	if decoded != 20 {
		t.Errorf("decoded %d frames, want exactly 20 (one per 50ms over 1s)", decoded)
	}
	if emptyPolls == 0 {
		t.Error("expected some empty polls at 10ms cadence")
	}
	if m.Stats().ChecksumErrors != 0 || m.Stats().FramingErrors != 0 {
		t.Errorf("clean channel produced decode errors: %+v", m.Stats())
	}
}

// TestEndToEnd_TargetRoundTrip drives a target through the whole stack:
// host frame, firmware parse, DAC actuation, feedback echo.
func TestEndToEnd_TargetRoundTrip(t *testing.T) {
	downstream := &wire{}
	upstream := &wire{}

	var dacValue uint16
	dev := firmware.New(firmware.Config{
		Channel:     &deviceEnd{fromHost: downstream, toHost: upstream},
		DAC:         firmware.DACFunc(func(v uint16) error { dacValue = v; return nil }),
		Temperature: 25,
	})

	m := NewManager(Config{
		CandidatePorts: []string{"sim"},
		Dial: func(port string, baud int) (io.ReadWriteCloser, error) {
			return &hostEnd{fromDevice: upstream, toDevice: downstream}, nil
		},
	})
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer m.Close()

	if err := m.SendTarget(1850); err != nil {
		t.Fatalf("SendTarget error: %v", err)
	}

	// Shuttle the command to the device and step past one feedback
	// interval so it echoes its new state.
	buf := make([]byte, 64)
	n, _ := downstream.Read(buf)
	dev.Feed(buf[:n])
	start := time.Unix(0, 0)
	for i := 0; i <= 5; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Millisecond)
		if err := dev.Step(now); err != nil {
			t.Fatalf("device Step error: %v", err)
		}
	}

	fb, err := m.PollFeedback()
	if err != nil {
		t.Fatalf("PollFeedback error: %v", err)
	}
	if dacValue != 1850 {
		t.Errorf("DAC value = %d, want 1850", dacValue)
	}
	if fb.PresentCurrent != 1850 || fb.TargetCurrent != 1850 {
		t.Errorf("feedback = %+v, want present/target 1850", fb)
	}
}
