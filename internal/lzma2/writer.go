package lzma2

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/ulikunitz/xz/lzma"
)

type writeCloser struct {
	w  *lzma.Writer2
	wc io.WriteCloser
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	n, err := wc.w.Write(p)
	if err != nil {
		err = fmt.Errorf("lzma2: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if err := multierror.Append(wc.w.Close(), wc.wc.Close()).ErrorOrNil(); err != nil {
		return fmt.Errorf("lzma2: error closing: %w", err)
	}

	return nil
}

// dictProperty reverses the Lzma2Dec.c dictionary size encoding used by
// NewReader, picking the smallest representable dictionary no smaller than
// dictCap.
func dictProperty(dictCap int) byte {
	for p := 0; p <= 40; p++ {
		cap := (2 | (p & 1)) << (p/2 + 11)
		if cap >= dictCap {
			return byte(p) //nolint:gosec
		}
	}

	return 40
}

// NewWriter returns a new LZMA2 io.WriteCloser along with the single
// property byte that encodes the dictionary size, which the caller stores
// in the folder's coder properties.
func NewWriter(w io.WriteCloser, dictCap int) (io.WriteCloser, []byte, error) {
	p := dictProperty(dictCap)
	actualCap := (2 | (int(p) & 1)) << (int(p)/2 + 11)

	config := lzma.Writer2Config{DictCap: actualCap}

	if err := config.Verify(); err != nil {
		return nil, nil, fmt.Errorf("lzma2: error verifying config: %w", err)
	}

	lw, err := config.NewWriter2(w)
	if err != nil {
		return nil, nil, fmt.Errorf("lzma2: error creating writer: %w", err)
	}

	return &writeCloser{w: lw, wc: w}, []byte{p}, nil
}
