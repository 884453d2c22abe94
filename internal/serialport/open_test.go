package serialport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_InvalidOptions(t *testing.T) {
	_, err := Open("/dev/null", PortOptions{DataBits: 12})
	if !errors.Is(err, ErrPortUnavailable) {
		t.Fatalf("Open() error = %v, want ErrPortUnavailable", err)
	}
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "ttyUSB9"), PortOptions{})
	if !errors.Is(err, ErrPortUnavailable) {
		t.Fatalf("Open() error = %v, want ErrPortUnavailable", err)
	}
}

func TestWaitForPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyUSB0")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(path, nil, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := WaitForPort(ctx, path, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitForPort() error = %v", err)
	}
}

func TestWaitForPort_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitForPort(ctx, filepath.Join(t.TempDir(), "missing"), time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitForPort() error = %v, want context.Canceled", err)
	}
}
