package transfer

import (
	"io"
	"strconv"
	"strings"
)

// PositionFunc receives the position of a reader after each read.
type PositionFunc func(pos int64)

// ProgressReader reports the read position of an io.ReadSeeker. Seeking
// back, as request signing does, moves the reported position back too.
type ProgressReader struct {
	r   io.ReadSeeker
	pos int64
	fn  PositionFunc
}

// NewProgressReader wraps r. fn may be nil.
func NewProgressReader(r io.ReadSeeker, fn PositionFunc) *ProgressReader {
	return &ProgressReader{r: r, fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.pos += int64(n)
	if n > 0 && p.fn != nil {
		p.fn(p.pos)
	}
	return n, err
}

func (p *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err == nil {
		p.pos = pos
	}
	return pos, err
}

// CountingReader reports the total number of bytes read through it.
type CountingReader struct {
	r     io.Reader
	total int64
	fn    PositionFunc
}

// NewCountingReader wraps r. fn may be nil.
func NewCountingReader(r io.Reader, fn PositionFunc) *CountingReader {
	return &CountingReader{r: r, fn: fn}
}

func (c *CountingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.total += int64(n)
	if n > 0 && c.fn != nil {
		c.fn(c.total)
	}
	return n, err
}

// Total returns the number of bytes read so far.
func (c *CountingReader) Total() int64 {
	return c.total
}

var sizeUnits = []string{"b", "k", "M", "G", "T", "E"}

// FormatBytes renders n with binary prefixes and at most four significant
// characters, e.g. 0, 512b, 1.5k, 1023M, 2G.
func FormatBytes(n int64) string {
	if n == 0 {
		return "0"
	}

	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}

	v := float64(n)
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if len(s) > 4 {
		s = s[:4]
	}
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}

	return sign + s + sizeUnits[unit]
}
