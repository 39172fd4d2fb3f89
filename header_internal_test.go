package sevenzip

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWriteNumberReadNumberRoundTrip pins writeNumber's boundary encoding
// directly against readNumber, rather than relying on a full header round
// trip to surface an off-by-bit in the leading marker byte.
func TestWriteNumberReadNumberRoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint64{
		0, 1, 126, 127, 128, 129, 200, 255, 256, 257,
		16383, 16384, 16385,
		1<<21 - 1, 1 << 21, 1 << 21 + 1,
		1<<28 - 1, 1 << 28,
		1<<35 - 1, 1 << 35,
		1<<42 - 1, 1 << 42,
		1<<49 - 1, 1 << 49,
		1<<56 - 1, 1 << 56,
		1<<63 - 1, 1 << 63,
		^uint64(0),
	}

	for _, v := range values {
		var buf bytes.Buffer

		bw := bufio.NewWriter(&buf)
		require.NoError(t, writeNumber(bw, v))
		require.NoError(t, bw.Flush())

		got, err := readNumber(bufio.NewReader(bytes.NewReader(buf.Bytes())))
		require.NoError(t, err)
		require.Equal(t, v, got, "round trip of %d", v)
	}
}

func sampleFolder() *folder {
	return &folder{
		in:            1,
		out:           1,
		packedStreams: 1,
		coder:         []*coder{{id: MethodCopy, in: 1, out: 1}},
		size:          []uint64{42},
		packed:        []uint64{0},
	}
}

func TestWriteReadHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := &header{
		streamsInfo: &streamsInfo{
			packInfo:   &packInfo{position: 0, streams: 1, size: []uint64{42}},
			unpackInfo: &unpackInfo{folder: []*folder{sampleFolder()}, digest: []uint32{0xdeadbeef}, digestDefined: []bool{true}},
		},
		filesInfo: &filesInfo{file: []FileHeader{{Name: "a.txt", UncompressedSize: 42, CRC32: 0xdeadbeef}}},
	}

	var buf bytes.Buffer

	bw := bufio.NewWriter(&buf)
	require.NoError(t, writeHeader(bw, h))
	require.NoError(t, bw.Flush())

	br := bufio.NewReader(bytes.NewReader(buf.Bytes()))

	id, err := br.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(idHeader), id)

	got, err := readHeader(br)
	require.NoError(t, err)

	require.Len(t, got.filesInfo.file, 1)
	require.Equal(t, "a.txt", got.filesInfo.file[0].Name)
	require.Equal(t, uint64(42), got.filesInfo.file[0].UncompressedSize)

	require.NotNil(t, got.streamsInfo)
	require.Equal(t, uint64(42), got.streamsInfo.packInfo.size[0])
	require.Equal(t, []uint32{0xdeadbeef}, got.streamsInfo.unpackInfo.digest)
}

// TestWriteStreamsInfoBodyMatchesEncodedHeaderFraming pins the framing
// readStreamsInfo expects directly after a kEncodedHeader token: no
// separate kMainStreamsInfo tag, straight into kPackInfo.
func TestWriteStreamsInfoBodyMatchesEncodedHeaderFraming(t *testing.T) {
	t.Parallel()

	si := &streamsInfo{
		packInfo:   &packInfo{position: 0, streams: 1, size: []uint64{42}},
		unpackInfo: &unpackInfo{folder: []*folder{sampleFolder()}, digest: []uint32{0x12345678}, digestDefined: []bool{true}},
	}

	var buf bytes.Buffer

	bw := bufio.NewWriter(&buf)
	require.NoError(t, writeStreamsInfoBody(bw, si))
	require.NoError(t, bw.Flush())

	br := bufio.NewReader(bytes.NewReader(buf.Bytes()))

	got, err := readStreamsInfo(br)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.packInfo.size[0])
	require.Equal(t, []uint32{0x12345678}, got.unpackInfo.digest)
}
