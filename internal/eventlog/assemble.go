package eventlog

import (
	"sort"
	"time"
)

// DecodedLog is an ordered sequence of events, ascending by time, with at
// most one event per second. It is read-only once built.
type DecodedLog struct {
	events []Event
}

// Assemble stable-sorts events by time and keeps the first event seen for
// each timestamp. Events sharing a second keep their scan order, so the
// earliest reading in the buffer wins. The input slice is not modified.
func Assemble(events []Event) *DecodedLog {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	kept := sorted[:0]
	for _, e := range sorted {
		if n := len(kept); n > 0 && kept[n-1].Time.Equal(e.Time) {
			continue
		}
		kept = append(kept, e)
	}
	return &DecodedLog{events: kept}
}

// Events returns a copy of the log's events.
func (l *DecodedLog) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of events.
func (l *DecodedLog) Len() int { return len(l.events) }

// Empty reports whether the log holds no events.
func (l *DecodedLog) Empty() bool { return len(l.events) == 0 }

// At returns the i-th event.
func (l *DecodedLog) At(i int) Event { return l.events[i] }

// First returns the oldest event. It panics on an empty log.
func (l *DecodedLog) First() Event { return l.events[0] }

// Last returns the newest event. It panics on an empty log.
func (l *DecodedLog) Last() Event { return l.events[len(l.events)-1] }

// Counts returns the CPS values in time order.
func (l *DecodedLog) Counts() []int {
	out := make([]int, len(l.events))
	for i, e := range l.events {
		out[i] = e.Count
	}
	return out
}

// Since returns the events at or after t.
func (l *DecodedLog) Since(t time.Time) *DecodedLog {
	i := sort.Search(len(l.events), func(i int) bool {
		return !l.events[i].Time.Before(t)
	})
	return &DecodedLog{events: l.events[i:]}
}

// Between returns the events in [from, to). A zero to means no upper bound.
func (l *DecodedLog) Between(from, to time.Time) *DecodedLog {
	out := l.Since(from)
	if to.IsZero() {
		return out
	}
	j := sort.Search(len(out.events), func(i int) bool {
		return !out.events[i].Time.Before(to)
	})
	return &DecodedLog{events: out.events[:j]}
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
