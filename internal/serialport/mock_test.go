package serialport

import (
	"bytes"
	"errors"
	"testing"
)

func TestTestableSerialPort_Respond(t *testing.T) {
	port := NewTestableSerialPort()
	port.Respond = func(written []byte) []byte {
		if bytes.Equal(written, []byte("<GETVOLT>>")) {
			return []byte{42}
		}
		return nil
	}

	if _, err := port.Write([]byte("<GETVOLT>>")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 4)
	n, err := port.Read(buf)
	if err != nil || n != 1 || buf[0] != 42 {
		t.Fatalf("Read() = %d, %v, % x", n, err, buf[:n])
	}

	// Empty buffer reads like a timeout.
	n, err = port.Read(buf)
	if n != 0 || err != nil {
		t.Errorf("Read() on empty buffer = %d, %v, want 0, nil", n, err)
	}
}

func TestTestableSerialPort_ResetInputBuffer(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("stale"))

	if err := port.ResetInputBuffer(); err != nil {
		t.Fatalf("ResetInputBuffer() error = %v", err)
	}
	if port.ReadBuffer.Len() != 0 {
		t.Errorf("ReadBuffer still holds %d bytes", port.ReadBuffer.Len())
	}
	if port.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", port.Flushes)
	}
}

func TestTestableSerialPort_InjectedErrors(t *testing.T) {
	port := NewTestableSerialPort()
	injected := errors.New("boom")

	port.WriteError = injected
	if _, err := port.Write([]byte("x")); !errors.Is(err, injected) {
		t.Errorf("Write() error = %v, want %v", err, injected)
	}
	if _, err := port.Write([]byte("x")); err != nil {
		t.Errorf("WriteError should be one-shot, got %v", err)
	}

	port.ReadError = injected
	if _, err := port.Read(make([]byte, 1)); !errors.Is(err, injected) {
		t.Errorf("Read() error = %v, want %v", err, injected)
	}

	if err := port.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := port.Write([]byte("x")); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Write() after Close = %v, want ErrPortClosed", err)
	}

	writes, reads := port.Counts()
	if writes != 3 || reads != 1 {
		t.Errorf("Counts() = %d, %d, want 3, 1", writes, reads)
	}
}
