package sandbox

import (
	"bytes"
	"errors"
)

// ErrOutputLimit is returned when a guest writes more than the configured
// output limit.
var ErrOutputLimit = errors.New("output limit exceeded")

// Sink captures a guest's stdout. It is handed to the runtime when the
// sandbox is built, written only by the running guest, and read only after
// the guest has terminated, so it needs no lock.
type Sink struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func newSink(limit int) *Sink {
	return &Sink{limit: limit}
}

// Write appends p. Once the limit would be exceeded, the write is rejected
// and the sink is marked as overflowed; nothing is ever partially written.
func (s *Sink) Write(p []byte) (int, error) {
	if s.overflow {
		return 0, ErrOutputLimit
	}
	if s.limit > 0 && s.buf.Len()+len(p) > s.limit {
		s.overflow = true
		return 0, ErrOutputLimit
	}
	return s.buf.Write(p)
}

// Len returns the number of bytes captured so far.
func (s *Sink) Len() int {
	return s.buf.Len()
}

func (s *Sink) drain() ([]byte, error) {
	if s.overflow {
		return nil, ErrOutputLimit
	}
	return s.buf.Bytes(), nil
}
