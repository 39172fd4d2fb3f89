package brotli

import (
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/hashicorp/go-multierror"
)

type writeCloser struct {
	c  io.Closer
	bw *brotli.Writer
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	n, err := wc.bw.Write(p)
	if err != nil {
		err = fmt.Errorf("brotli: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if err := multierror.Append(wc.bw.Close(), wc.c.Close()).ErrorOrNil(); err != nil {
		return fmt.Errorf("brotli: error closing: %w", err)
	}

	return nil
}

// NewWriter returns a new Brotli io.WriteCloser. It does not emit the
// 16-byte frame NewReader optionally understands: that frame only carries
// a size hint and NewReader already falls back to treating the stream as
// pure Brotli when the magic doesn't match, which is what a plain
// [brotli.NewWriter] stream looks like.
func NewWriter(w io.WriteCloser, quality int) (io.WriteCloser, error) {
	return &writeCloser{c: w, bw: brotli.NewWriterLevel(w, quality)}, nil
}
