package sevenzip

import (
	"compress/bzip2"
	"io"
	"sync"

	"github.com/go-compress/sevenzip/internal/aes7z"
	"github.com/go-compress/sevenzip/internal/bcj2"
	"github.com/go-compress/sevenzip/internal/bra"
	"github.com/go-compress/sevenzip/internal/brotli"
	"github.com/go-compress/sevenzip/internal/delta"
	"github.com/go-compress/sevenzip/internal/deflate"
	"github.com/go-compress/sevenzip/internal/lz4"
	"github.com/go-compress/sevenzip/internal/lzma"
	"github.com/go-compress/sevenzip/internal/lzma2"
	"github.com/go-compress/sevenzip/internal/util"
	"github.com/go-compress/sevenzip/internal/zstd"
)

// Decompressor is the factory signature a method's decoder must satisfy:
// given its folder-declared properties, its declared uncompressed size and
// its bound input streams, it returns a single decoded stream. Most coders
// take exactly one input; BCJ2 is the one registered exception that takes
// four.
type Decompressor func([]byte, uint64, []io.ReadCloser) (io.ReadCloser, error)

//nolint:gochecknoglobals
var decompressors sync.Map

//nolint:gochecknoinits
func init() {
	RegisterDecompressor(MethodCopy, Decompressor(func(_ []byte, _ uint64, r []io.ReadCloser) (io.ReadCloser, error) {
		if len(r) != 1 {
			return nil, errAlgorithm
		}

		return r[0], nil
	}))
	RegisterDecompressor(MethodLZMA, Decompressor(lzma.NewReader))
	RegisterDecompressor(MethodLZMA2, Decompressor(lzma2.NewReader))
	RegisterDecompressor(MethodDeflate, Decompressor(deflate.NewReader))
	RegisterDecompressor(MethodDelta, Decompressor(delta.NewReader))
	RegisterDecompressor(MethodBCJX86, Decompressor(bra.NewBCJReader))
	RegisterDecompressor(MethodBCJPPC, Decompressor(bra.NewPPCReader))
	RegisterDecompressor(MethodBCJARM, Decompressor(bra.NewARMReader))
	RegisterDecompressor(MethodBCJSPARC, Decompressor(bra.NewSPARCReader))
	RegisterDecompressor(MethodBCJ2, Decompressor(bcj2.NewReader))
	RegisterDecompressor(MethodZSTD, Decompressor(zstd.NewReader))
	RegisterDecompressor(MethodBrotli, Decompressor(brotli.NewReader))
	RegisterDecompressor(MethodLZ4, Decompressor(lz4.NewReader))
	RegisterDecompressor(MethodAES256SHA256, Decompressor(aes7z.NewReader))

	RegisterDecompressor(MethodBZIP2, Decompressor(func(_ []byte, _ uint64, r []io.ReadCloser) (io.ReadCloser, error) {
		if len(r) != 1 {
			return nil, errAlgorithm
		}

		return util.NopCloser(bzip2.NewReader(r[0])), nil
	}))
}

// RegisterDecompressor allows a custom decompressor for a given method to
// be registered. Attempting to register a method that already has a
// decompressor registered panics, mirroring [archive/zip.RegisterDecompressor].
func RegisterDecompressor(method []byte, dcomp Decompressor) {
	if _, dup := decompressors.LoadOrStore(string(method), dcomp); dup {
		panic("sevenzip: decompressor already registered")
	}
}

func decompressor(method []byte) Decompressor {
	di, ok := decompressors.Load(string(method))
	if !ok {
		return nil
	}

	d, ok := di.(Decompressor)
	if !ok {
		return nil
	}

	return d
}
