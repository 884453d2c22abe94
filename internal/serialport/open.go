package serialport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/radiation.report/internal/monitoring"
)

// ErrPortUnavailable is returned when the serial port cannot be opened or
// configured.
var ErrPortUnavailable = errors.New("serial port unavailable")

// Open opens a real serial port at path in raw mode with the given options.
func Open(path string, opts PortOptions) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortUnavailable, err)
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %s", ErrPortUnavailable, path, describe(err))
	}
	return port, nil
}

// describe turns go.bug.st/serial's error codes into a short reason.
func describe(err error) string {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err.Error()
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return "port not found"
	case serial.PortBusy:
		return "port busy"
	case serial.PermissionDenied:
		return "permission denied"
	case serial.InvalidSpeed:
		return "unsupported baud rate"
	default:
		return portErr.EncodedErrorString()
	}
}

// WaitForPort blocks until the device node at path exists, polling every
// interval. The device only appears once it is plugged in and switched on, so
// the first miss is logged and later ones are silent.
func WaitForPort(ctx context.Context, path string, interval time.Duration) error {
	logged := false
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if !logged {
			monitoring.Logf("waiting for serial port %s", path)
			logged = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
