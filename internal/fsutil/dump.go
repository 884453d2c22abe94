package fsutil

import (
	"fmt"
	"path/filepath"
)

// MirrorLen is the wrap-around tail older dumps carry after the buffer: a
// copy of its first bytes so a packet straddling the end reads linearly.
const MirrorLen = 12

// SaveDump writes a raw history buffer to path, creating parent directories.
func SaveDump(fsys FileSystem, path string, raw []byte) error {
	path = filepath.Clean(path)
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}
	if err := fsys.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write raw dump %s: %w", path, err)
	}
	return nil
}

// LoadDump reads a raw history buffer saved by SaveDump. When size is
// positive the file must hold exactly size bytes, or size plus a MirrorLen
// tail which is dropped so that no scan starts past the buffer.
func LoadDump(fsys FileSystem, path string, size int) ([]byte, error) {
	path = filepath.Clean(path)
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw dump: %w", err)
	}
	if n := info.Size(); size > 0 && n != int64(size) && n != int64(size+MirrorLen) {
		return nil, fmt.Errorf("raw dump %s is %d bytes, expected %d", path, n, size)
	}

	raw, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw dump: %w", err)
	}
	if size > 0 && len(raw) > size {
		raw = raw[:size]
	}
	return raw, nil
}
