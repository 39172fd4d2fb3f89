package bra

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

type writeCloser struct {
	w    io.WriteCloser
	buf  bytes.Buffer
	n    int
	conv converter
}

var errAlreadyClosedWriter = errors.New("bra: already closed")

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.w == nil {
		return 0, errAlreadyClosedWriter
	}

	n, err := wc.buf.Write(p)
	if err != nil {
		return n, fmt.Errorf("bra: error buffering: %w", err)
	}

	wc.flush(false)

	return n, nil
}

func (wc *writeCloser) flush(final bool) {
	for {
		if wc.buf.Len() < wc.conv.Size() && !final {
			return
		}

		c := wc.conv.Convert(wc.buf.Bytes(), true)
		if c == 0 {
			return
		}

		if _, err := wc.w.Write(wc.buf.Next(c)); err != nil {
			return
		}

		if wc.buf.Len() < wc.conv.Size() {
			return
		}
	}
}

func (wc *writeCloser) Close() error {
	if wc.w == nil {
		return errAlreadyClosedWriter
	}

	wc.flush(true)

	if wc.buf.Len() > 0 {
		if _, err := wc.w.Write(wc.buf.Bytes()); err != nil {
			return fmt.Errorf("bra: error flushing tail: %w", err)
		}
	}

	err := wc.w.Close()
	wc.w = nil

	if err != nil {
		return fmt.Errorf("bra: error closing: %w", err)
	}

	return nil
}

func newWriter(w io.WriteCloser, conv converter) (io.WriteCloser, error) {
	return &writeCloser{w: w, conv: conv}, nil
}

// NewBCJWriter returns a new x86 BCJ io.WriteCloser. The secondary branch
// architectures (PPC, ARM, ARM64, SPARC) remain decode-only: their
// converters are exercised only by the reader side.
func NewBCJWriter(w io.WriteCloser) (io.WriteCloser, error) { return newWriter(w, new(bcj)) }
