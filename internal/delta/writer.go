package delta

import (
	"errors"
	"fmt"
	"io"
)

type writeCloser struct {
	wc    io.WriteCloser
	state [stateSize]byte
	delta int
}

func (wc *writeCloser) Close() error {
	if wc.wc == nil {
		return ErrAlreadyClosed
	}

	err := wc.wc.Close()
	wc.wc = nil

	if err != nil {
		return fmt.Errorf("delta: error closing: %w", err)
	}

	return nil
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.wc == nil {
		return 0, ErrAlreadyClosed
	}

	out := make([]byte, len(p))

	var (
		buffer [stateSize]byte
		j      int
	)

	copy(buffer[:], wc.state[:wc.delta])

	for i := 0; i < len(p); {
		for j = 0; j < wc.delta && i < len(p); i++ {
			out[i] = p[i] - buffer[j]
			buffer[j] = p[i]
			j++
		}
	}

	if j == wc.delta {
		j = 0
	}

	copy(wc.state[:], buffer[j:wc.delta])
	copy(wc.state[wc.delta-j:], buffer[:j])

	n, err := wc.wc.Write(out)
	if err != nil {
		return n, fmt.Errorf("delta: error writing: %w", err)
	}

	return n, nil
}

var errNotOneWriter = errors.New("delta: need exactly one writer")

// NewWriter returns a new Delta io.WriteCloser. p must contain the single
// distance byte that NewReader also expects.
func NewWriter(p []byte, w io.WriteCloser) (io.WriteCloser, error) {
	if w == nil {
		return nil, errNotOneWriter
	}

	if len(p) != 1 {
		return nil, ErrInsufficientProperties
	}

	return &writeCloser{
		wc:    w,
		delta: int(p[0] + 1),
	}, nil
}
