package lz4

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	lz4 "github.com/pierrec/lz4/v4"
)

type writeCloser struct {
	c  io.Closer
	lw *lz4.Writer
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	n, err := wc.lw.Write(p)
	if err != nil {
		err = fmt.Errorf("lz4: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if err := multierror.Append(wc.lw.Close(), wc.c.Close()).ErrorOrNil(); err != nil {
		return fmt.Errorf("lz4: error closing: %w", err)
	}

	return nil
}

// NewWriter returns a new LZ4 io.WriteCloser.
func NewWriter(w io.WriteCloser) (io.WriteCloser, error) {
	return &writeCloser{c: w, lw: lz4.NewWriter(w)}, nil
}
