// Package eventlog holds decoded CPS readings and turns the decoder's raw,
// possibly overlapping event stream into an ordered, timestamp-unique log.
package eventlog

import (
	"fmt"
	"time"
)

// Event is one per-second reading: the number of clicks the counter saw in
// the second starting at Time. Count is always in 0..255.
type Event struct {
	Time  time.Time `json:"ts"`
	Count int       `json:"cps"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s %d", e.Time.Format("20060102.150405"), e.Count)
}
