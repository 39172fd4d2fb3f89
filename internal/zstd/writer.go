package zstd

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"
)

type writeCloser struct {
	c  io.Closer
	zw *zstd.Encoder
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	n, err := wc.zw.Write(p)
	if err != nil {
		err = fmt.Errorf("zstd: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if err := multierror.Append(wc.zw.Close(), wc.c.Close()).ErrorOrNil(); err != nil {
		return fmt.Errorf("zstd: error closing: %w", err)
	}

	return nil
}

// NewWriter returns a new Zstandard io.WriteCloser at the given level
// (standard zstd 1-22 scale, mapped to the nearest klauspost/compress
// EncoderLevel).
func NewWriter(w io.WriteCloser, level int) (io.WriteCloser, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd: error creating writer: %w", err)
	}

	return &writeCloser{c: w, zw: zw}, nil
}
