package gmc

import (
	"context"
	"fmt"

	"github.com/banshee-data/radiation.report/internal/monitoring"
)

const (
	// MemSize is the GMC-300E+ history buffer size.
	MemSize = 65536
	// ExtraPage is the length of the unmapped region read once, and thrown
	// away, before the real download. The first SPIR after power-up returns
	// stale data otherwise.
	ExtraPage = 1376
	// DefaultChunkSize is the SPIR length used for the full download.
	DefaultChunkSize = 256
	// MaxChunk is the longest SPIR the firmware accepts.
	MaxChunk = 4096
)

// MemoryOptions describes the flash layout. Zero values select the defaults.
type MemoryOptions struct {
	MemSize   int
	ExtraPage int
	ChunkSize int
}

func (o MemoryOptions) withDefaults() MemoryOptions {
	if o.MemSize <= 0 {
		o.MemSize = MemSize
	}
	if o.ExtraPage <= 0 {
		o.ExtraPage = ExtraPage
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// Validate reports layouts the device cannot serve.
func (o MemoryOptions) Validate() error {
	o = o.withDefaults()
	if o.ChunkSize > MaxChunk {
		return fmt.Errorf("chunk size %d exceeds %d", o.ChunkSize, MaxChunk)
	}
	if o.MemSize > 0xFFFFFF {
		return fmt.Errorf("memory size %d exceeds 24-bit addressing", o.MemSize)
	}
	if o.ExtraPage > MaxChunk {
		return fmt.Errorf("extra page %d exceeds %d", o.ExtraPage, MaxChunk)
	}
	return nil
}

// MemoryReader pulls the history buffer through a Link.
type MemoryReader struct {
	link   *Link
	opts   MemoryOptions
	primed bool

	// Progress, if set, is called after every chunk with the bytes read so
	// far and the total.
	Progress func(done, total int)
}

// NewMemoryReader returns a reader for the given layout.
func NewMemoryReader(link *Link, opts MemoryOptions) *MemoryReader {
	return &MemoryReader{link: link, opts: opts.withDefaults()}
}

// Options returns the effective layout.
func (m *MemoryReader) Options() MemoryOptions { return m.opts }

// ReadRegion reads length bytes starting at start.
func (m *MemoryReader) ReadRegion(start, length int) ([]byte, error) {
	args, err := MemoryArgs(start, length)
	if err != nil {
		return nil, err
	}
	return m.link.Send(CmdMemory, args, length)
}

// Prime performs the throwaway read past the end of the buffer. ReadAll
// calls it unless it already ran.
func (m *MemoryReader) Prime() error {
	if _, err := m.ReadRegion(m.opts.MemSize, m.opts.ExtraPage); err != nil {
		return fmt.Errorf("failed to read extra page: %w", err)
	}
	m.primed = true
	return nil
}

// ReadAll downloads the whole buffer in ChunkSize reads, in address order.
// ctx is checked between chunks; an exchange in flight is never interrupted.
func (m *MemoryReader) ReadAll(ctx context.Context) ([]byte, error) {
	if !m.primed {
		if err := m.Prime(); err != nil {
			return nil, err
		}
	}

	total := m.opts.MemSize
	buf := make([]byte, 0, total)
	for addr := 0; addr < total; addr += m.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("download interrupted at %d/%d bytes: %w", addr, total, err)
		}

		n := m.opts.ChunkSize
		if addr+n > total {
			n = total - addr
		}
		chunk, err := m.ReadRegion(addr, n)
		if err != nil {
			return nil, fmt.Errorf("failed to read memory at %#06x: %w", addr, err)
		}
		buf = append(buf, chunk...)

		if m.Progress != nil {
			m.Progress(len(buf), total)
		}
	}

	monitoring.Debugf("read %d bytes of history", len(buf))
	return buf, nil
}
