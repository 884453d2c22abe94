package gmc

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/radiation.report/internal/monitoring"
)

// DateSyncAttempts is how many GETDATETIME answers are tried before giving up.
const DateSyncAttempts = 8

// DeviceInfo is what the start-up session learns about the counter.
type DeviceInfo struct {
	Version          string    `json:"version"`
	BatteryDecivolts int       `json:"battery_decivolts"`
	Serial           string    `json:"serial"`
	DeviceTime       time.Time `json:"device_time"`
	Config           []byte    `json:"-"`
}

// BatteryVolts returns the battery voltage in volts.
func (i DeviceInfo) BatteryVolts() float64 {
	return float64(i.BatteryDecivolts) / 10
}

// Device runs the full session against one counter.
type Device struct {
	link   *Link
	memory *MemoryReader
	loc    *time.Location
}

// NewDevice wires a memory reader onto link. Device dates are read in loc
// (time.Local if nil).
func NewDevice(link *Link, mem MemoryOptions, loc *time.Location) *Device {
	if loc == nil {
		loc = time.Local
	}
	return &Device{link: link, memory: NewMemoryReader(link, mem), loc: loc}
}

// Memory exposes the reader, e.g. to install a progress callback.
func (d *Device) Memory() *MemoryReader { return d.memory }

// Identify checks the device is a sane GMC-3xx and collects its metadata.
// The order of commands follows what the firmware tolerates: version,
// battery, throwaway memory read, date, config, serial.
func (d *Device) Identify() (DeviceInfo, error) {
	var info DeviceInfo

	resp, err := d.link.Send(CmdVersion, nil, VersionLen)
	if err != nil {
		return info, err
	}
	if info.Version, err = ParseVersion(resp); err != nil {
		return info, err
	}

	resp, err = d.link.Send(CmdVolt, nil, VoltLen)
	if err != nil {
		return info, err
	}
	if info.BatteryDecivolts, err = ParseBattery(resp); err != nil {
		return info, err
	}

	if err := d.memory.Prime(); err != nil {
		return info, err
	}

	if info.DeviceTime, err = d.dateTime(); err != nil {
		return info, err
	}

	if info.Config, err = d.link.Send(CmdConfig, nil, ConfigLen); err != nil {
		return info, err
	}

	resp, err = d.link.Send(CmdSerial, nil, SerialLen)
	if err != nil {
		return info, err
	}
	info.Serial = hexDump(resp)

	monitoring.Debugf("version: %s", info.Version)
	monitoring.Debugf("battery: %.1f V", info.BatteryVolts())
	monitoring.Debugf("serial#: %s", info.Serial)
	monitoring.Debugf("date:    %s", info.DeviceTime)
	monitoring.Debugf("config:  %s", hexDump(info.Config[:ConfigUsed]))
	return info, nil
}

func (d *Device) dateTime() (time.Time, error) {
	var last []byte
	for attempt := 1; attempt <= DateSyncAttempts; attempt++ {
		resp, err := d.link.Send(CmdDateTime, nil, DateTimeLen)
		if err != nil {
			return time.Time{}, err
		}
		if t, ok := ParseDateTime(resp, d.loc); ok {
			return t, nil
		}
		last = resp
		monitoring.Debugf("implausible date/time %s, attempt %d/%d", hexDump(resp), attempt, DateSyncAttempts)
		d.link.clock.Sleep(d.link.opts.Timeout)
	}
	return time.Time{}, &DateSyncError{Attempts: DateSyncAttempts, Last: last}
}

// Download identifies the device and reads its whole history buffer.
func (d *Device) Download(ctx context.Context) (DeviceInfo, []byte, error) {
	info, err := d.Identify()
	if err != nil {
		return info, nil, fmt.Errorf("failed to identify device: %w", err)
	}
	raw, err := d.memory.ReadAll(ctx)
	if err != nil {
		return info, nil, err
	}
	return info, raw, nil
}
