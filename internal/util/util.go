// Package util holds small helpers shared by the reader, writer and codec
// packages that don't belong to any one of them.
package util

import (
	"bufio"
	"encoding/binary"
	"io"
)

// ReadCloser is an io.ReadCloser that can also read a single byte at a time,
// the minimum a range decoder needs.
type ReadCloser interface {
	io.ReadCloser
	io.ByteReader
}

// SizeReadSeekCloser is a seekable, sizeable io.ReadCloser, the shape a
// folder's decoded output is exposed as so it can be pooled and reused
// across files that share the same folder.
type SizeReadSeekCloser interface {
	io.ReadCloser
	io.Seeker
	Size() int64
}

type byteReadCloser struct {
	io.ReadCloser
	*bufio.Reader
}

func (rc *byteReadCloser) Read(p []byte) (int, error) {
	return rc.Reader.Read(p)
}

// ByteReadCloser returns a ReadCloser, wrapping rc in a bufio.Reader to
// provide ReadByte if it doesn't already implement io.ByteReader.
func ByteReadCloser(rc io.ReadCloser) ReadCloser {
	if brc, ok := rc.(ReadCloser); ok {
		return brc
	}

	return &byteReadCloser{
		ReadCloser: rc,
		Reader:     bufio.NewReader(rc),
	}
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

// NopCloser returns an io.ReadCloser with a no-op Close method wrapping r.
// Unlike io.NopCloser it preserves io.ByteReader if r implements one.
func NopCloser(r io.Reader) io.ReadCloser {
	if br, ok := r.(io.ByteReader); ok {
		return nopByteCloser{r, br}
	}

	return nopCloser{r}
}

type nopByteCloser struct {
	io.Reader
	io.ByteReader
}

func (nopByteCloser) Close() error { return nil }

// CRC32Equal reports whether the CRC-32 checksum sum, as returned by
// hash.Hash.Sum, equals the little-endian encoded value crc.
func CRC32Equal(sum []byte, crc uint32) bool {
	return binary.BigEndian.Uint32(sum) == crc
}
