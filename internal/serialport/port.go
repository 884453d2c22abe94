// Package serialport opens and abstracts the serial line to the Geiger
// counter so the device protocol can be tested without hardware.
package serialport

import (
	"io"
	"time"
)

// Porter defines the minimal interface needed for a command/response
// serial exchange. go.bug.st/serial's Port satisfies it.
type Porter interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long a single Read may block. A Read that
	// times out returns 0 bytes and a nil error.
	SetReadTimeout(timeout time.Duration) error

	// ResetInputBuffer discards any bytes received but not yet read.
	ResetInputBuffer() error
}

// Opener is a function type for opening serial ports. It allows the CLI to
// swap the real port for a simulated device.
type Opener func(path string, opts PortOptions) (Porter, error)
