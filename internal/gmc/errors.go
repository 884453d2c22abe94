package gmc

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Fatal conditions. Each maps to its own exit status in the CLI.
var (
	// ErrLinkExhausted means a command got no complete answer within the
	// allowed number of attempts. The device is absent or not answering.
	ErrLinkExhausted = errors.New("device link exhausted retries")

	// ErrDateSync means the device never returned a plausible date.
	ErrDateSync = errors.New("cannot get device date/time")

	// ErrIdentityMismatch means GETVER did not identify a GMC-3xx device.
	ErrIdentityMismatch = errors.New("unexpected device identity")

	// ErrBatteryRange means GETVOLT returned an implausible battery voltage,
	// which in practice signals a confused device.
	ErrBatteryRange = errors.New("battery voltage out of range")
)

// LinkError describes a command that never completed.
type LinkError struct {
	Command  string
	Expected int
	Got      []byte // bytes read during the last attempt
	Attempts int
	Cause    error // failure of the last attempt
}

func (e *LinkError) Error() string {
	msg := fmt.Sprintf("timeout error on %q after %d attempts, only read %d/%d bytes",
		e.Command, e.Attempts, len(e.Got), e.Expected)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LinkError) Unwrap() error { return ErrLinkExhausted }

// Dump returns the partial response as space separated hex, as logged on
// failure.
func (e *LinkError) Dump() string { return hexDump(e.Got) }

// IdentityError carries the raw GETVER response.
type IdentityError struct {
	Response []byte
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("read error, reboot device and restart: version %q (%s)", e.Response, hexDump(e.Response))
}

func (e *IdentityError) Unwrap() error { return ErrIdentityMismatch }

// BatteryError carries the GETVOLT reading in tenths of a volt.
type BatteryError struct {
	Decivolts int
}

func (e *BatteryError) Error() string {
	return fmt.Sprintf("battery voltage communication error (%02x), reboot device and restart", e.Decivolts)
}

func (e *BatteryError) Unwrap() error { return ErrBatteryRange }

// DateSyncError carries the last GETDATETIME response.
type DateSyncError struct {
	Attempts int
	Last     []byte
}

func (e *DateSyncError) Error() string {
	return fmt.Sprintf("no valid date after %d attempts, last response %s", e.Attempts, hexDump(e.Last))
}

func (e *DateSyncError) Unwrap() error { return ErrDateSync }

// hexDump formats b as "0a 1b 2c".
func hexDump(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s := hex.EncodeToString(b)
	out := make([]byte, 0, len(s)+len(b)-1)
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, s[i], s[i+1])
	}
	return string(out)
}
