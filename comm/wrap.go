package comm

import (
	"io"
	"time"
)

// Terminator wraps a ReadWriter so that writes are terminated with Tx and
// reads return exactly one message, up to and excluding Rx
type Terminator struct {
	rw     io.ReadWriter
	tx, rx byte
}

// NewTerminator returns a new Terminator around rw
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, tx: tx, rx: rx}
}

// Write appends the Tx terminator to p and writes it.  The returned count
// excludes the terminator.
func (t *Terminator) Write(p []byte) (int, error) {
	msg := make([]byte, 0, len(p)+1)
	msg = append(msg, p...)
	msg = append(msg, t.tx)
	n, err := t.rw.Write(msg)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read reads a single byte at a time until the Rx terminator is seen or p is
// full.  The terminator is not copied into p.
func (t *Terminator) Read(p []byte) (int, error) {
	var (
		one = make([]byte, 1)
		n   int
	)
	for n < len(p) {
		m, err := t.rw.Read(one)
		if m == 1 {
			if one[0] == t.rx {
				return n, nil
			}
			p[n] = one[0]
			n++
		}
		if err != nil {
			if err == io.EOF && n > 0 {
				return n, ErrTerminatorNotFound
			}
			return n, err
		}
	}
	return n, nil
}

// Timeout wraps a ReadWriter and refreshes a deadline before every operation
// when the underlying connection supports deadlines
type Timeout struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewTimeout returns a new Timeout around rw.  Connections without deadline
// support (serial lines configured with their own ReadTimeout, USB) are
// passed through unchanged.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	return &Timeout{rw: rw, timeout: timeout}, nil
}

func (t *Timeout) refresh() error {
	if d, ok := t.rw.(deadliner); ok {
		return d.SetDeadline(time.Now().Add(t.timeout))
	}
	if tr, ok := t.rw.(*Terminator); ok {
		if d, ok := tr.rw.(deadliner); ok {
			return d.SetDeadline(time.Now().Add(t.timeout))
		}
	}
	return nil
}

func (t *Timeout) Write(p []byte) (int, error) {
	if err := t.refresh(); err != nil {
		return 0, err
	}
	return t.rw.Write(p)
}

func (t *Timeout) Read(p []byte) (int, error) {
	if err := t.refresh(); err != nil {
		return 0, err
	}
	return t.rw.Read(p)
}
