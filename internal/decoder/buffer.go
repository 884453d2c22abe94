package decoder

// ring is a read-only view of the device's circular history buffer.
// Scanning starts only at offsets below Len; lookahead past the end wraps
// around to the start, as the device's write pointer does.
type ring []byte

// Len is the logical buffer size.
func (r ring) Len() int { return len(r) }

// At returns the byte at offset i, wrapping modulo the buffer length.
func (r ring) At(i int) byte {
	n := len(r)
	i %= n
	if i < 0 {
		i += n
	}
	return r[i]
}

// Window copies n bytes starting at offset i, wrapping as needed.
func (r ring) Window(i, n int) []byte {
	out := make([]byte, n)
	for k := range out {
		out[k] = r.At(i + k)
	}
	return out
}
