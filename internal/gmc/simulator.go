package gmc

import (
	"bytes"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/radiation.report/internal/serialport"
)

// Simulator answers the GMC command set from an in-memory flash image. It is
// used by tests and by the CLI's -dev mode.
type Simulator struct {
	mu sync.Mutex

	Version   string
	Decivolts byte
	Serial    []byte
	Config    []byte
	Flash     []byte
	Now       func() time.Time

	// Drop makes the simulator ignore this many frames, as a device that
	// misses commands does.
	Drop int
	// BadDates makes this many GETDATETIME answers come back garbled.
	BadDates int
	// StaleFirstRead returns zeros for the first SPIR, mimicking the
	// firmware quirk that the extra page read works around.
	StaleFirstRead bool

	frames [][]byte
	reads  int
}

// NewSimulator returns a healthy GMC-300E+ holding flash.
func NewSimulator(flash []byte) *Simulator {
	cfg := make([]byte, ConfigLen)
	for i := range cfg {
		cfg[i] = byte(i)
	}
	return &Simulator{
		Version:   "GMC-300Re 4.54",
		Decivolts: 41,
		Serial:    []byte{0xf4, 0x88, 0x00, 0x7a, 0x13, 0x22, 0x9c},
		Config:    cfg,
		Flash:     flash,
		Now:       time.Now,
	}
}

// Port returns a mock serial port wired to the simulator.
func (s *Simulator) Port() *serialport.TestableSerialPort {
	p := serialport.NewTestableSerialPort()
	p.Respond = s.Respond
	return p
}

// Frames returns every frame received so far.
func (s *Simulator) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// Respond implements serialport.Responder.
func (s *Simulator) Respond(written []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames = append(s.frames, written)
	if s.Drop > 0 {
		s.Drop--
		return nil
	}
	if len(written) < 3 || written[0] != '<' || !bytes.HasSuffix(written, []byte(">>")) {
		return nil
	}
	body := written[1 : len(written)-2]

	switch {
	case bytes.HasPrefix(body, []byte(CmdMemory)) && len(body) == len(CmdMemory)+5:
		return s.readMemory(body[len(CmdMemory):])
	case string(body) == CmdVersion:
		return padTo([]byte(s.Version), VersionLen)
	case string(body) == CmdVolt:
		return []byte{s.Decivolts}
	case string(body) == CmdDateTime:
		resp := EncodeDateTime(s.Now())
		if s.BadDates > 0 {
			s.BadDates--
			resp[len(resp)-1] = 0x00
		}
		return resp
	case string(body) == CmdSerial:
		return padTo(s.Serial, SerialLen)
	case string(body) == CmdConfig:
		return padTo(s.Config, ConfigLen)
	}
	return nil
}

func (s *Simulator) readMemory(args []byte) []byte {
	start := int(args[0])<<16 | int(args[1])<<8 | int(args[2])
	length := int(args[3])<<8 | int(args[4])

	s.reads++
	out := make([]byte, length)
	if s.StaleFirstRead && s.reads == 1 {
		return out
	}
	for i := range out {
		if addr := start + i; addr < len(s.Flash) {
			out[i] = s.Flash[addr]
		} else {
			out[i] = 0xFF
		}
	}
	return out
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// SyntheticHistory builds a flash image of size bytes holding counts as one
// reading per second from start, with a sync packet every syncEvery
// readings. The rest of the image is erased (0xFF).
func SyntheticHistory(start time.Time, counts []byte, size, syncEvery int) []byte {
	flash := bytes.Repeat([]byte{0xFF}, size)
	if syncEvery <= 0 {
		syncEvery = 60
	}

	pos := 0
	put := func(b ...byte) bool {
		if pos+len(b) > size {
			return false
		}
		copy(flash[pos:], b)
		pos += len(b)
		return true
	}

	for i, c := range counts {
		if i%syncEvery == 0 {
			t := start.Add(time.Duration(i) * time.Second)
			pkt := append([]byte{0x55, 0xAA, 0x00}, EncodeDateTime(t)[:6]...)
			if !put(append(pkt, 0x55, 0xAA)...) {
				break
			}
		}
		if c == 0x55 || c == 0xFF {
			c--
		}
		if !put(c) {
			break
		}
	}
	return flash
}

// RandomCounts returns n plausible background CPS values.
func RandomCounts(rng *rand.Rand, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		// background sits around 0.3 CPS with the odd burst
		v := 0
		for k := 0; k < 3; k++ {
			if rng.Intn(10) == 0 {
				v++
			}
		}
		if rng.Intn(500) == 0 {
			v += 5 + rng.Intn(10)
		}
		out[i] = byte(v)
	}
	return out
}
