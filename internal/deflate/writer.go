package deflate

import (
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/flate"
)

type writeCloser struct {
	c  io.Closer
	fw *flate.Writer
}

//nolint:gochecknoglobals
var flateWriterPool sync.Pool

func (wc *writeCloser) Write(p []byte) (int, error) {
	n, err := wc.fw.Write(p)
	if err != nil {
		err = fmt.Errorf("deflate: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if err := multierror.Append(wc.fw.Close(), wc.c.Close()).ErrorOrNil(); err != nil {
		return fmt.Errorf("deflate: error closing: %w", err)
	}

	flateWriterPool.Put(wc.fw)

	return nil
}

// NewWriter returns a new DEFLATE io.WriteCloser.
func NewWriter(w io.WriteCloser) (io.WriteCloser, error) {
	fw, ok := flateWriterPool.Get().(*flate.Writer)
	if ok {
		fw.Reset(w)
	} else {
		var err error
		if fw, err = flate.NewWriter(w, flate.DefaultCompression); err != nil {
			return nil, fmt.Errorf("deflate: error creating writer: %w", err)
		}
	}

	return &writeCloser{c: w, fw: fw}, nil
}
