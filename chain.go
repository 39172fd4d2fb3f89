package sevenzip

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-compress/sevenzip/internal/aes7z"
	"github.com/go-compress/sevenzip/internal/bra"
	"github.com/go-compress/sevenzip/internal/brotli"
	"github.com/go-compress/sevenzip/internal/delta"
	"github.com/go-compress/sevenzip/internal/deflate"
	"github.com/go-compress/sevenzip/internal/lz4"
	"github.com/go-compress/sevenzip/internal/lzma"
	"github.com/go-compress/sevenzip/internal/lzma2"
	"github.com/go-compress/sevenzip/internal/zstd"
)

// Coder identifies one stage of a folder's content chain and the options
// that configure it. Coders are listed in the order they're applied during
// encoding: the first Coder transforms the raw entry bytes, the last
// Coder's output is what gets written to the archive.
type Coder struct {
	ID      []byte
	Options any
}

// LZMA2Options configures the LZMA2 encoder. Only DictSize is read; Preset
// has no effect on the encoder.
type LZMA2Options struct {
	Preset   int
	DictSize uint32
}

// DeflateOptions is accepted for DEFLATE coders, but Level is not read: the
// DEFLATE encoder always uses its default compression level.
type DeflateOptions struct {
	Level int
}

// BZIP2Options configures the BZIP2 encoder. There is no BZIP2 encoder
// registered; SetContentMethods rejects it with
// [ErrUnsupportedCompressionMethod].
type BZIP2Options struct {
	Level int
}

// ZSTDOptions configures the Zstandard encoder.
type ZSTDOptions struct {
	Level int
}

// BrotliOptions configures the Brotli encoder. Only Quality is read; Window
// is not passed to the encoder.
type BrotliOptions struct {
	Quality int
	Window  int
}

// AESOptions configures AES-256-SHA-256 encryption. Cycles is the SHA-256
// iteration count exponent used in key derivation (1-0x3f); a zero Cycles
// selects 0x13 (19), matching typical 7-zip behaviour.
type AESOptions struct {
	Password string
	Cycles   int
}

var (
	// ErrUnsupportedCompressionMethod is returned by SetContentMethods
	// when asked to encode with a method that has no registered encoder.
	ErrUnsupportedCompressionMethod = errors.New("sevenzip: unsupported compression method")

	errNoCoders = errors.New("sevenzip: at least one coder is required")
)

// defaultCoders is used when SetContentMethods has not been called: a
// single LZMA2 coder at preset 6 with an 8 MiB dictionary.
func defaultCoders() []Coder {
	return []Coder{
		{ID: MethodLZMA2, Options: &LZMA2Options{Preset: 6, DictSize: 8 << 20}},
	}
}

// countWriteCloser counts the bytes written through it before forwarding
// them on, unchanged, to the wrapped writer.
type countWriteCloser struct {
	io.WriteCloser
	n int64
}

func (c *countWriteCloser) Write(p []byte) (int, error) {
	n, err := c.WriteCloser.Write(p)
	c.n += int64(n)

	if err != nil {
		return n, fmt.Errorf("sevenzip: error writing: %w", err)
	}

	return n, nil
}

// stage is one constructed coder within a chain, carrying everything
// needed to serialize the folder's coder/bind-pair metadata afterwards.
type stage struct {
	id         []byte
	properties []byte
	counter    *countWriteCloser // counts bytes written INTO this stage
}

// chain is the writer-side counterpart of a folder: a strictly linear
// sequence of coders with the raw, uncompressed entry content entering the
// first and the final compressed (and possibly encrypted) bytes leaving
// the last into the destination writer.
type chain struct {
	stages []*stage  // in encode-application order (stages[0] first)
	w      io.WriteCloser // user-facing writer: write plaintext here
}

// newChain builds a content chain out of coders, writing its final,
// innermost output to dst.
func newChain(coders []Coder, dst io.WriteCloser) (*chain, error) {
	if len(coders) == 0 {
		return nil, errNoCoders
	}

	c := &chain{stages: make([]*stage, len(coders))}

	cur := dst

	for i := len(coders) - 1; i >= 0; i-- {
		w, props, id, err := buildCoderWriter(coders[i], cur)
		if err != nil {
			return nil, err
		}

		counted := &countWriteCloser{WriteCloser: w}
		c.stages[i] = &stage{id: id, properties: props, counter: counted}
		cur = counted
	}

	c.w = cur

	return c, nil
}

func (c *chain) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("sevenzip: error writing entry content: %w", err)
	}

	return n, nil
}

// Close flushes every stage, outermost (user-facing) first, so each
// encoder gets to emit its trailer before the next stage (and ultimately
// the destination) is closed.
func (c *chain) Close() error {
	if err := c.w.Close(); err != nil {
		return fmt.Errorf("sevenzip: error closing content chain: %w", err)
	}

	return nil
}

// unpackSizes returns each stage's input byte count, in folder/decode
// order: the folder's coder array is the reverse of the chain's
// encode-application order, and a decode-coder's declared output size
// equals the corresponding encode-coder's input size.
func (c *chain) unpackSizes() []uint64 {
	sizes := make([]uint64, len(c.stages))

	for i, s := range c.stages {
		sizes[len(c.stages)-1-i] = uint64(s.counter.n) //nolint:gosec
	}

	return sizes
}

// folderCoders returns the coder descriptors in folder/decode order
// (reverse of encode-application order), ready to populate a folder.
func (c *chain) folderCoders() []*coder {
	coders := make([]*coder, len(c.stages))

	for i, s := range c.stages {
		coders[len(c.stages)-1-i] = &coder{
			id:         s.id,
			in:         1,
			out:        1,
			properties: s.properties,
		}
	}

	return coders
}

// isEncodableMethod reports whether buildCoderWriter has a case for id.
// SetContentMethods uses it to reject decode-only methods (BZIP2, BCJ2,
// the secondary BCJ branch filters) up front rather than failing deep
// inside folder construction.
func isEncodableMethod(id []byte) bool {
	switch string(id) {
	case string(MethodCopy), string(MethodLZMA2), string(MethodLZMA), string(MethodDeflate),
		string(MethodDelta), string(MethodBCJX86), string(MethodZSTD), string(MethodBrotli),
		string(MethodLZ4), string(MethodAES256SHA256):
		return true
	default:
		return false
	}
}

//nolint:cyclop
func buildCoderWriter(c Coder, dst io.WriteCloser) (io.WriteCloser, []byte, []byte, error) {
	switch string(c.ID) {
	case string(MethodCopy):
		return dst, nil, MethodCopy, nil
	case string(MethodLZMA2):
		opts, _ := c.Options.(*LZMA2Options)
		if opts == nil {
			opts = &LZMA2Options{Preset: 6, DictSize: 8 << 20}
		}

		w, props, err := lzma2.NewWriter(dst, int(opts.DictSize))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building lzma2 writer: %w", err)
		}

		return w, props, MethodLZMA2, nil
	case string(MethodLZMA):
		w, props, err := lzma.NewWriter(dst, 3, 0, 2, 1<<23)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building lzma writer: %w", err)
		}

		return w, props, MethodLZMA, nil
	case string(MethodDeflate):
		w, err := deflate.NewWriter(dst)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building deflate writer: %w", err)
		}

		return w, nil, MethodDeflate, nil
	case string(MethodDelta):
		w, err := delta.NewWriter([]byte{0}, dst)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building delta writer: %w", err)
		}

		return w, []byte{0}, MethodDelta, nil
	case string(MethodBCJX86):
		w, err := bra.NewBCJWriter(dst)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building bcj writer: %w", err)
		}

		return w, nil, MethodBCJX86, nil
	case string(MethodZSTD):
		opts, _ := c.Options.(*ZSTDOptions)

		level := 3
		if opts != nil {
			level = opts.Level
		}

		w, err := zstd.NewWriter(dst, level)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building zstd writer: %w", err)
		}

		return w, nil, MethodZSTD, nil
	case string(MethodBrotli):
		opts, _ := c.Options.(*BrotliOptions)

		quality := 9
		if opts != nil {
			quality = opts.Quality
		}

		w, err := brotli.NewWriter(dst, quality)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building brotli writer: %w", err)
		}

		return w, nil, MethodBrotli, nil
	case string(MethodLZ4):
		w, err := lz4.NewWriter(dst)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building lz4 writer: %w", err)
		}

		return w, nil, MethodLZ4, nil
	case string(MethodAES256SHA256):
		opts, _ := c.Options.(*AESOptions)
		if opts == nil || opts.Password == "" {
			return nil, nil, nil, ErrPasswordRequired
		}

		cycles := opts.Cycles
		if cycles == 0 {
			cycles = 0x13
		}

		w, props, err := aes7z.NewWriter(dst, opts.Password, cycles)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sevenzip: error building aes writer: %w", err)
		}

		return w, props, MethodAES256SHA256, nil
	default:
		return nil, nil, nil, ErrUnsupportedCompressionMethod
	}
}
