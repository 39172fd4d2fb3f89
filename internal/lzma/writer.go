package lzma

import (
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// headerSize is the size of the classic LZMA header the underlying encoder
// writes ahead of the compressed payload: one byte packing lc/lp/pb, four
// bytes of little-endian dictionary size and eight bytes of uncompressed
// size (all ones, as no size is embedded). 7z keeps the first five bytes in
// the folder's coder properties and the size in the folder's unpack sizes,
// so the header written by the underlying encoder is swallowed rather than
// passed through.
const headerSize = 13

var errShortHeader = errors.New("lzma: short header from underlying writer")

type writeCloser struct {
	w   *lzma.Writer
	hsw *headerSkipWriter
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	n, err := wc.w.Write(p)
	if err != nil {
		err = fmt.Errorf("lzma: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if err := wc.w.Close(); err != nil {
		return fmt.Errorf("lzma: error closing: %w", err)
	}

	return wc.hsw.Close()
}

type headerSkipWriter struct {
	w      io.WriteCloser
	buf    []byte
	closed bool
}

func (hsw *headerSkipWriter) Write(p []byte) (int, error) {
	total := len(p)

	if len(hsw.buf) < headerSize {
		need := headerSize - len(hsw.buf)
		if need > len(p) {
			need = len(p)
		}

		hsw.buf = append(hsw.buf, p[:need]...)
		p = p[need:]

		if len(hsw.buf) < headerSize {
			return total, nil
		}
	}

	if len(p) == 0 {
		return total, nil
	}

	if _, err := hsw.w.Write(p); err != nil {
		return 0, fmt.Errorf("lzma: error writing payload: %w", err)
	}

	return total, nil
}

func (hsw *headerSkipWriter) Close() error {
	if hsw.closed {
		return nil
	}

	hsw.closed = true

	if len(hsw.buf) < headerSize {
		return errShortHeader
	}

	if err := hsw.w.Close(); err != nil {
		return fmt.Errorf("lzma: error closing underlying writer: %w", err)
	}

	return nil
}

// NewWriter returns a new LZMA io.WriteCloser along with the five bytes of
// properties (lc/lp/pb packed byte plus little-endian dictionary size) that
// the caller must store in the folder's coder properties, since the wire
// format carries them out of band rather than in the compressed stream.
func NewWriter(w io.WriteCloser, lc, lp, pb int, dictCap int) (io.WriteCloser, []byte, error) {
	props, err := lzma.NewProperties(lc, lp, pb)
	if err != nil {
		return nil, nil, fmt.Errorf("lzma: error building properties: %w", err)
	}

	hsw := &headerSkipWriter{w: w}

	lw, err := (&lzma.WriterConfig{
		Properties:   props,
		DictCap:      dictCap,
		SizeInHeader: false,
		EOSMarker:    true,
	}).NewWriter(hsw)
	if err != nil {
		return nil, nil, fmt.Errorf("lzma: error creating writer: %w", err)
	}

	propByte := byte(pb*45 + lp*9 + lc)

	propsOut := make([]byte, 5)
	propsOut[0] = propByte
	propsOut[1] = byte(dictCap)
	propsOut[2] = byte(dictCap >> 8)
	propsOut[3] = byte(dictCap >> 16)
	propsOut[4] = byte(dictCap >> 24)

	return &writeCloser{w: lw, hsw: hsw}, propsOut, nil
}
