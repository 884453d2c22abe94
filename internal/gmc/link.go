// Package gmc speaks the GQ GMC-300 serial protocol: framed commands with
// retries, flash memory reads, and the start-up session that identifies the
// device before its history buffer is downloaded.
package gmc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/radiation.report/internal/monitoring"
	"github.com/banshee-data/radiation.report/internal/serialport"
	"github.com/banshee-data/radiation.report/internal/timeutil"
)

const (
	DefaultTimeout     = 300 * time.Millisecond
	DefaultSettleDelay = 50 * time.Millisecond
	DefaultMaxAttempts = 8
)

var (
	errWriteTimeout = errors.New("write timeout")
	errReadTimeout  = errors.New("read timeout")
	errWriteStalled = errors.New("previous write still pending")
)

// LinkOptions tunes the retry loop. Zero values select the defaults; a
// negative SettleDelay disables the pause.
type LinkOptions struct {
	Timeout     time.Duration // per phase deadline
	SettleDelay time.Duration // pause before each attempt
	MaxAttempts int
}

func (o LinkOptions) withDefaults() LinkOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Link runs one command/response exchange at a time over a serial port. It
// owns the port for its lifetime and is not safe for concurrent use.
type Link struct {
	port  serialport.Porter
	clock timeutil.Clock
	opts  LinkOptions

	// stalled is closed when a write abandoned on timeout returns. No new
	// frame goes out until it has.
	stalled <-chan struct{}
}

// NewLink wraps port. A nil clock uses the real clock.
func NewLink(port serialport.Porter, clock timeutil.Clock, opts LinkOptions) *Link {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Link{port: port, clock: clock, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (l *Link) Options() LinkOptions { return l.opts }

// Close closes the underlying port.
func (l *Link) Close() error { return l.port.Close() }

// Frame builds the wire form of a command: "<" + COMMAND + args + ">>".
// Only the ASCII command word is upper-cased; args go out verbatim.
func Frame(command string, args []byte) []byte {
	frame := make([]byte, 0, len(command)+len(args)+3)
	frame = append(frame, '<')
	frame = append(frame, strings.ToUpper(command)...)
	frame = append(frame, args...)
	frame = append(frame, '>', '>')
	return frame
}

// Send writes command and, when expected > 0, reads exactly expected bytes
// back. Timeouts and I/O errors are retried up to MaxAttempts times; after
// that Send returns a *LinkError wrapping ErrLinkExhausted. Partial reads are
// never returned as a result.
func (l *Link) Send(command string, args []byte, expected int) ([]byte, error) {
	frame := Frame(command, args)
	name := strings.ToUpper(command)

	var (
		got   []byte
		cause error
	)
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		l.clock.Sleep(l.opts.SettleDelay)
		if err := l.waitStalled(); err != nil {
			cause = err
			got = nil
			monitoring.Debugf("%s attempt %d/%d: %v", name, attempt, l.opts.MaxAttempts, err)
			continue
		}
		if err := l.port.ResetInputBuffer(); err != nil {
			monitoring.Debugf("%s attempt %d/%d: flush failed: %v", name, attempt, l.opts.MaxAttempts, err)
		}

		// send phase
		if err := l.write(frame); err != nil {
			cause = err
			got = nil
			monitoring.Debugf("%s attempt %d/%d: %v", name, attempt, l.opts.MaxAttempts, err)
			continue
		}
		if expected <= 0 {
			return []byte{}, nil
		}

		// receive phase
		got, cause = l.read(expected)
		if cause == nil {
			return got, nil
		}
		monitoring.Debugf("%s attempt %d/%d: %v (read %d/%d bytes)", name, attempt, l.opts.MaxAttempts, cause, len(got), expected)
	}

	return nil, &LinkError{
		Command:  name,
		Expected: expected,
		Got:      got,
		Attempts: l.opts.MaxAttempts,
		Cause:    cause,
	}
}

// waitStalled blocks, up to the timeout, for a previous write that timed
// out. Its frame may still be going out and must not interleave with the
// next one; its answer, if any, is flushed afterwards.
func (l *Link) waitStalled() error {
	if l.stalled == nil {
		return nil
	}
	select {
	case <-l.stalled:
		l.stalled = nil
		return nil
	case <-l.clock.After(l.opts.Timeout):
		return errWriteStalled
	}
}

// write sends frame, giving up after the timeout. go.bug.st/serial has no
// write deadline, so the write runs in its own goroutine; one abandoned on
// timeout is remembered in l.stalled.
func (l *Link) write(frame []byte) error {
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		n, err := l.port.Write(frame)
		if err == nil && n < len(frame) {
			err = fmt.Errorf("short write: %d/%d bytes", n, len(frame))
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to write command: %w", err)
		}
		return nil
	case <-l.clock.After(l.opts.Timeout):
		l.stalled = finished
		return errWriteTimeout
	}
}

// read collects exactly n bytes before the deadline. A Read returning no
// data means the port's read timeout expired.
func (l *Link) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	have := 0
	deadline := l.clock.Now().Add(l.opts.Timeout)

	for have < n {
		remaining := deadline.Sub(l.clock.Now())
		if remaining <= 0 {
			return buf[:have], errReadTimeout
		}
		if err := l.port.SetReadTimeout(remaining); err != nil {
			return buf[:have], fmt.Errorf("failed to set read timeout: %w", err)
		}

		m, err := l.port.Read(buf[have:])
		have += m
		if err != nil {
			return buf[:have], fmt.Errorf("failed to read response: %w", err)
		}
		if m == 0 {
			return buf[:have], errReadTimeout
		}
	}
	return buf, nil
}
