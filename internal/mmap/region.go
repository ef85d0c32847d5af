package mmap

// Region is a bounded window into a Mapping. It borrows the parent's
// memory and becomes unusable once the parent is closed.
type Region struct {
	m   *Mapping
	off int
	n   int
}

// Region returns a window covering size bytes starting at offset.
func (m *Mapping) Region(offset, size int) (*Region, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if offset < 0 || size < 0 || offset+size > m.size {
		return nil, ErrOutOfBounds
	}
	return &Region{m: m, off: offset, n: size}, nil
}

// Bytes returns the bytes of the window, or nil once the parent
// mapping has been closed.
func (r *Region) Bytes() []byte {
	if r.m.closed.Load() {
		return nil
	}
	return r.m.data[r.off : r.off+r.n]
}

// Advise hints the expected access pattern for this window only. The
// rest of the mapping keeps whatever advice it already has.
func (r *Region) Advise(pattern AccessPattern) error {
	if r.m.closed.Load() {
		return ErrClosed
	}
	return osAdvise(r.m.data[r.off:r.off+r.n], pattern)
}
