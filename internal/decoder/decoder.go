// Package decoder turns a raw dump of the counter's circular history buffer
// into a stream of timestamped per-second readings.
//
// The buffer holds one byte per second (the CPS value) interleaved with
// eleven-byte sync packets:
//
//	0x55 0xAA 0x00 YY MM DD hh mm ss 0x55 0xAA
//
// Readings are only meaningful after a valid sync packet. 0xFF marks erased
// flash and invalidates the running clock.
package decoder

import (
	"time"

	"github.com/banshee-data/radiation.report/internal/eventlog"
	"github.com/banshee-data/radiation.report/internal/monitoring"
)

const (
	syncByte   = 0x55
	syncMarker = 0xAA
	erasedByte = 0xFF

	// packetSkip is how far the scan jumps from the 0x55 of a sync packet
	// before moving on to the next byte.
	packetSkip = 10
)

// Mode is the decoder's clock state.
type Mode int

const (
	// Seeking means no valid clock is known; readings are dropped.
	Seeking Mode = iota
	// Timed means readings are stamped with the running clock.
	Timed
)

func (m Mode) String() string {
	if m == Timed {
		return "timed"
	}
	return "seeking"
}

// Stats counts what the scan ran into.
type Stats struct {
	Bytes         int
	Events        int
	Packets       int // valid sync packets
	Garbage       int // sync packets with an unparseable date
	Hiccups       int // sync packets with a duplicated date byte
	Literals      int // 0x55 not followed by 0xAA and emitted as a reading
	Dropped       int // readings seen without a valid clock
	Invalidations int // 0xFF bytes seen while timed
}

// Decoder scans a buffer once. Use New for each buffer.
type Decoder struct {
	loc   *time.Location
	mode  Mode
	clock time.Time
	stats Stats
}

// New returns a decoder interpreting packet dates in loc (time.Local if nil).
func New(loc *time.Location) *Decoder {
	if loc == nil {
		loc = time.Local
	}
	return &Decoder{loc: loc}
}

// Mode returns the current clock state.
func (d *Decoder) Mode() Mode { return d.mode }

// Stats returns the counters accumulated so far.
func (d *Decoder) Stats() Stats { return d.stats }

// Decode scans buf from offset 0 and returns events in scan order. The
// result is not sorted; feed it to eventlog.Assemble.
func (d *Decoder) Decode(buf []byte) []eventlog.Event {
	r := ring(buf)
	d.stats.Bytes += r.Len()

	var events []eventlog.Event
	for i := 0; i < r.Len(); i++ {
		val := r.At(i)

		switch {
		case val == syncByte && r.At(i+1) == syncMarker:
			i += d.sync(r, i)
			continue
		case val == syncByte:
			if d.mode == Timed {
				d.stats.Literals++
			}
		case val == erasedByte:
			if d.mode == Timed {
				d.stats.Invalidations++
			}
			d.invalidate()
			continue
		}

		if d.mode != Timed {
			d.stats.Dropped++
			continue
		}
		events = append(events, eventlog.Event{Time: d.clock, Count: int(val)})
		d.clock = d.clock.Add(time.Second)
	}

	d.stats.Events += len(events)
	return events
}

// sync handles a sync packet whose 0x55 is at offset i and returns how far
// the scan index should advance.
func (d *Decoder) sync(r ring, i int) int {
	shift := 0
	if r.At(i+3) == r.At(i+4) {
		shift = 1
		d.stats.Hiccups++
	}

	var date [6]byte
	copy(date[:], r.Window(i+3+shift, len(date)))

	ts := ParseTimestamp(date, d.loc)
	if !ts.Valid {
		monitoring.Debugf("garbage: invalid timestamp at offset %d (%s)", i, ts)
		d.stats.Garbage++
		d.invalidate()
		return packetSkip + shift
	}

	monitoring.Debugf("timesync %s from offset %d", ts, i)
	d.stats.Packets++
	d.mode = Timed
	d.clock = ts.Time
	return packetSkip + shift
}

func (d *Decoder) invalidate() {
	d.mode = Seeking
	d.clock = time.Time{}
}

// Decode is a convenience wrapper: it scans buf with a fresh decoder and
// assembles the result.
func Decode(buf []byte, loc *time.Location) (*eventlog.DecodedLog, Stats) {
	d := New(loc)
	events := d.Decode(buf)
	return eventlog.Assemble(events), d.Stats()
}
