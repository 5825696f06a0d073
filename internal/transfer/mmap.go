package transfer

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrRange is returned for a range that does not fit the file.
var ErrRange = errors.New("invalid file range")

// Mapping is a read-only memory mapping of part of a file.
type Mapping struct {
	region []byte
	view   []byte
}

// MapRange maps length bytes of f starting at off. The offset need not be
// page aligned.
func MapRange(f *os.File, off, length int64) (*Mapping, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", ErrRange, off, length)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	if off+length > info.Size() {
		return nil, fmt.Errorf("%w: %d+%d exceeds size %d of %s", ErrRange, off, length, info.Size(), f.Name())
	}

	if length == 0 {
		return &Mapping{view: []byte{}}, nil
	}

	page := int64(os.Getpagesize())
	aligned := off - off%page
	skip := off - aligned

	region, err := unix.Mmap(int(f.Fd()), aligned, int(skip+length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", f.Name(), err)
	}

	return &Mapping{region: region, view: region[skip : skip+length]}, nil
}

// Bytes returns the mapped range. It must not be used after Close.
func (m *Mapping) Bytes() []byte {
	return m.view
}

// Len returns the length of the mapped range.
func (m *Mapping) Len() int64 {
	return int64(len(m.view))
}

// Close unmaps the range.
func (m *Mapping) Close() error {
	if m.region == nil {
		return nil
	}
	region := m.region
	m.region, m.view = nil, nil
	return unix.Munmap(region)
}
