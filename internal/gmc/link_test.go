package gmc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/radiation.report/internal/serialport"
	"github.com/banshee-data/radiation.report/internal/timeutil"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLink(port serialport.Porter) (*Link, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(epoch)
	return NewLink(port, clock, LinkOptions{}), clock
}

func TestFrame(t *testing.T) {
	tests := []struct {
		command string
		args    []byte
		want    []byte
	}{
		{"getver", nil, []byte("<GETVER>>")},
		{"GETVOLT", nil, []byte("<GETVOLT>>")},
		// binary arguments are not upper-cased
		{"spir", []byte{0x00, 0x61, 0x7a, 0x01, 0x00}, []byte("<SPIR\x00az\x01\x00>>")},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Frame(tt.command, tt.args)); diff != "" {
			t.Errorf("Frame(%q) mismatch (-want +got):\n%s", tt.command, diff)
		}
	}
}

func TestLinkSend_FirstAttempt(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.Respond = func([]byte) []byte { return []byte("GMC-300Re 4.54") }
	link, clock := newTestLink(port)

	got, err := link.Send("getver", nil, VersionLen)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if string(got) != "GMC-300Re 4.54" {
		t.Errorf("Send() = %q", got)
	}
	if diff := cmp.Diff([]byte("<GETVER>>"), port.GetWrittenData()); diff != "" {
		t.Errorf("written mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{DefaultSettleDelay}, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
	if port.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", port.Flushes)
	}
	if port.ReadTimeout <= 0 || port.ReadTimeout > DefaultTimeout {
		t.Errorf("ReadTimeout = %v, want within (0, %v]", port.ReadTimeout, DefaultTimeout)
	}
}

func TestLinkSend_SucceedsOnFifthAttempt(t *testing.T) {
	sim := NewSimulator(nil)
	sim.Drop = 4
	port := sim.Port()
	link, clock := newTestLink(port)

	got, err := link.Send(CmdVolt, nil, VoltLen)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if diff := cmp.Diff([]byte{41}, got); diff != "" {
		t.Errorf("Send() mismatch (-want +got):\n%s", diff)
	}

	writes, reads := port.Counts()
	if writes != 5 || reads != 5 {
		t.Errorf("writes, reads = %d, %d; want 5, 5", writes, reads)
	}
	if got := clock.Slept(); got != 5*DefaultSettleDelay {
		t.Errorf("Slept() = %v, want %v", got, 5*DefaultSettleDelay)
	}
}

func TestLinkSend_Exhausted(t *testing.T) {
	sim := NewSimulator(nil)
	sim.Drop = 1000
	port := sim.Port()
	link, clock := newTestLink(port)

	got, err := link.Send(CmdVersion, nil, VersionLen)
	if got != nil {
		t.Errorf("Send() returned %q on failure", got)
	}
	if !errors.Is(err, ErrLinkExhausted) {
		t.Fatalf("Send() error = %v, want ErrLinkExhausted", err)
	}

	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("error %T is not a *LinkError", err)
	}
	if le.Command != CmdVersion || le.Expected != VersionLen || le.Attempts != DefaultMaxAttempts {
		t.Errorf("unexpected LinkError %+v", le)
	}
	if !errors.Is(le.Cause, errReadTimeout) {
		t.Errorf("Cause = %v, want read timeout", le.Cause)
	}

	writes, reads := port.Counts()
	if writes != DefaultMaxAttempts || reads > DefaultMaxAttempts {
		t.Errorf("writes, reads = %d, %d; want %d, <= %d", writes, reads, DefaultMaxAttempts, DefaultMaxAttempts)
	}
	if got := len(clock.Sleeps()); got != DefaultMaxAttempts {
		t.Errorf("settle sleeps = %d, want %d", got, DefaultMaxAttempts)
	}
}

func TestLinkSend_ShortReadIsRetried(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	calls := 0
	port.Respond = func([]byte) []byte {
		calls++
		if calls == 1 {
			return []byte("GMC")
		}
		return []byte("GMC-300Re 4.54")
	}
	link, _ := newTestLink(port)

	got, err := link.Send(CmdVersion, nil, VersionLen)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if string(got) != "GMC-300Re 4.54" {
		t.Errorf("Send() = %q", got)
	}
	if calls != 2 {
		t.Errorf("device saw %d commands, want 2", calls)
	}
}

func TestLinkSend_PartialResponseReported(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.Respond = func([]byte) []byte { return []byte{0x47, 0x4d} }
	link, _ := newTestLink(port)

	_, err := link.Send(CmdVersion, nil, VersionLen)
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("Send() error = %v, want *LinkError", err)
	}
	if le.Dump() != "47 4d" {
		t.Errorf("Dump() = %q", le.Dump())
	}
	if want := `timeout error on "GETVER" after 8 attempts, only read 2/14 bytes: read timeout`; le.Error() != want {
		t.Errorf("Error() = %q, want %q", le.Error(), want)
	}
}

func TestLinkSend_FlushesStaleInput(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.AddReadData([]byte{0xde, 0xad})
	port.Respond = func([]byte) []byte { return []byte{38} }
	link, _ := newTestLink(port)

	got, err := link.Send(CmdVolt, nil, VoltLen)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if diff := cmp.Diff([]byte{38}, got); diff != "" {
		t.Errorf("Send() mismatch (-want +got):\n%s", diff)
	}
}

func TestLinkSend_IOErrorsAreRetried(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.Respond = func([]byte) []byte { return []byte{38} }
	port.WriteError = errors.New("device busy")
	link, _ := newTestLink(port)

	if _, err := link.Send(CmdVolt, nil, VoltLen); err != nil {
		t.Fatalf("Send() after write error: %v", err)
	}

	port.ReadError = errors.New("framing error")
	if _, err := link.Send(CmdVolt, nil, VoltLen); err != nil {
		t.Fatalf("Send() after read error: %v", err)
	}

	if writes, _ := port.Counts(); writes != 4 {
		t.Errorf("WriteCalls = %d, want 4", writes)
	}
}

func TestLinkSend_NoResponseExpected(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	link, _ := newTestLink(port)

	got, err := link.Send("heartbeat0", nil, 0)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Send() = %v, want empty", got)
	}
	if _, reads := port.Counts(); reads != 0 {
		t.Errorf("ReadCalls = %d, want 0", reads)
	}
}

func TestLinkOptions_Defaults(t *testing.T) {
	got := LinkOptions{SettleDelay: -1}.withDefaults()
	want := LinkOptions{Timeout: DefaultTimeout, SettleDelay: 0, MaxAttempts: DefaultMaxAttempts}
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}

	custom := LinkOptions{Timeout: time.Second, SettleDelay: time.Millisecond, MaxAttempts: 3}
	if got := custom.withDefaults(); got != custom {
		t.Errorf("withDefaults() changed explicit options: %+v", got)
	}
}

func TestLinkClose(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	link, _ := newTestLink(port)
	if err := link.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !port.Closed {
		t.Error("port not closed")
	}
}

// realTimeLink uses the wall clock: write deadlines come from clock.After,
// which a MockClock only fires when advanced.
func realTimeLink(port serialport.Porter, attempts int) *Link {
	return NewLink(port, timeutil.RealClock{}, LinkOptions{
		Timeout:     100 * time.Millisecond,
		SettleDelay: -1,
		MaxAttempts: attempts,
	})
}

func TestLinkSend_WriteTimeoutIsRetried(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.WriteLatency = 150 * time.Millisecond
	port.SlowWrites = 3

	// late writes answer with a marker that must never reach the caller
	var mu sync.Mutex
	calls := 0
	port.Respond = func([]byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 3 {
			return []byte{0xEE}
		}
		return []byte{41}
	}
	link := realTimeLink(port, DefaultMaxAttempts)

	got, err := link.Send(CmdVolt, nil, VoltLen)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if diff := cmp.Diff([]byte{41}, got); diff != "" {
		t.Errorf("Send() mismatch (-want +got):\n%s", diff)
	}
	if writes, _ := port.Counts(); writes != 4 {
		t.Errorf("WriteCalls = %d, want 4", writes)
	}
}

func TestLinkSend_WriteTimeoutExhausted(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.WriteLatency = 150 * time.Millisecond
	port.Respond = func([]byte) []byte { return []byte{41} }
	link := realTimeLink(port, 3)

	_, err := link.Send(CmdVolt, nil, VoltLen)
	if !errors.Is(err, ErrLinkExhausted) {
		t.Fatalf("Send() error = %v, want ErrLinkExhausted", err)
	}
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("error %T is not a *LinkError", err)
	}
	if linkErr.Cause != errWriteTimeout || linkErr.Attempts != 3 {
		t.Errorf("LinkError = %+v, want cause %v after 3 attempts", linkErr, errWriteTimeout)
	}
	if writes, _ := port.Counts(); writes != 3 {
		t.Errorf("WriteCalls = %d, want 3", writes)
	}
}

// wedgedPort never finishes a write until released.
type wedgedPort struct {
	*serialport.TestableSerialPort
	release chan struct{}

	mu     sync.Mutex
	writes int
}

func (p *wedgedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes++
	p.mu.Unlock()
	<-p.release
	return len(b), nil
}

func TestLinkSend_WedgedWriteIsNotOverlapped(t *testing.T) {
	port := &wedgedPort{TestableSerialPort: serialport.NewTestableSerialPort(), release: make(chan struct{})}
	t.Cleanup(func() { close(port.release) })
	link := realTimeLink(port, 3)

	_, err := link.Send(CmdVolt, nil, VoltLen)
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("Send() error = %v, want *LinkError", err)
	}
	if linkErr.Cause != errWriteStalled {
		t.Errorf("Cause = %v, want %v", linkErr.Cause, errWriteStalled)
	}

	port.mu.Lock()
	defer port.mu.Unlock()
	if port.writes != 1 {
		t.Errorf("writes = %d, want 1: a second frame was sent while the first was pending", port.writes)
	}
}
