package gmc

import (
	"bytes"
	"fmt"
	"time"

	"github.com/banshee-data/radiation.report/internal/decoder"
)

// Commands and their fixed response lengths.
const (
	CmdVersion  = "GETVER"
	VersionLen  = 14
	CmdVolt     = "GETVOLT"
	VoltLen     = 1
	CmdDateTime = "GETDATETIME"
	DateTimeLen = 7
	CmdSerial   = "GETSERIAL"
	SerialLen   = 7
	CmdConfig   = "GETCFG"
	ConfigLen   = 256
	ConfigUsed  = 72
	CmdMemory   = "SPIR"
)

const (
	// VersionPrefix starts the GETVER answer of every supported model.
	VersionPrefix = "GMC-3"

	// Battery bounds in tenths of a volt (3.7 V cell).
	MinBattery = 30
	MaxBattery = 45

	// MinDeviceYear is the smallest year offset (from 2000) accepted from
	// GETDATETIME. Anything earlier is a device that lost its clock.
	MinDeviceYear = 16

	dateTrailer = 0xAA
)

// ParseVersion checks a GETVER response.
func ParseVersion(resp []byte) (string, error) {
	if !bytes.HasPrefix(resp, []byte(VersionPrefix)) {
		return "", &IdentityError{Response: append([]byte(nil), resp...)}
	}
	return string(bytes.TrimRight(resp, "\x00 ")), nil
}

// ParseBattery checks a GETVOLT response and returns tenths of a volt.
func ParseBattery(resp []byte) (int, error) {
	if len(resp) < VoltLen {
		return 0, &BatteryError{}
	}
	v := int(resp[0])
	if v < MinBattery || v > MaxBattery {
		return v, &BatteryError{Decivolts: v}
	}
	return v, nil
}

// ParseDateTime decodes a GETDATETIME response: YY MM DD hh mm ss 0xAA.
// It reports false for a missing trailer, an invalid date or a year
// before MinDeviceYear.
func ParseDateTime(resp []byte, loc *time.Location) (time.Time, bool) {
	if len(resp) != DateTimeLen || resp[DateTimeLen-1] != dateTrailer {
		return time.Time{}, false
	}
	if resp[0] < MinDeviceYear {
		return time.Time{}, false
	}
	var date [6]byte
	copy(date[:], resp)
	ts := decoder.ParseTimestamp(date, loc)
	return ts.Time, ts.Valid
}

// EncodeDateTime is the inverse of ParseDateTime.
func EncodeDateTime(t time.Time) []byte {
	return []byte{
		byte(t.Year() - 2000), byte(t.Month()), byte(t.Day()),
		byte(t.Hour()), byte(t.Minute()), byte(t.Second()),
		dateTrailer,
	}
}

// MemoryArgs encodes the SPIR arguments: 24-bit big endian start, 16-bit big
// endian length.
func MemoryArgs(start, length int) ([]byte, error) {
	if start < 0 || start > 0xFFFFFF {
		return nil, fmt.Errorf("memory start %d out of 24-bit range", start)
	}
	if length < 1 || length > MaxChunk {
		return nil, fmt.Errorf("memory length %d out of range 1..%d", length, MaxChunk)
	}
	return []byte{
		byte(start >> 16), byte(start >> 8), byte(start),
		byte(length >> 8), byte(length),
	}, nil
}
