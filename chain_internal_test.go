package sevenzip

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeThenDecode runs data through buildCoderWriter for c and back
// through the matching registered Decompressor, returning the round
// tripped bytes.
func encodeThenDecode(t *testing.T, c Coder, data []byte) []byte {
	t.Helper()

	var packed bytes.Buffer

	w, props, id, err := buildCoderWriter(c, nopWriteCloser{&packed})
	require.NoError(t, err)

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dcomp := decompressor(id)
	require.NotNil(t, dcomp, "no decompressor registered for %x", id)

	rc, err := dcomp(props, uint64(len(data)), []io.ReadCloser{io.NopCloser(bytes.NewReader(packed.Bytes()))})
	require.NoError(t, err)

	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)

	return got
}

func TestChainCodecRoundTrip(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	tables := map[string]Coder{
		"copy":    {ID: MethodCopy},
		"lzma2":   {ID: MethodLZMA2, Options: &LZMA2Options{Preset: 6, DictSize: 1 << 20}},
		"lzma":    {ID: MethodLZMA},
		"deflate": {ID: MethodDeflate},
		"delta":   {ID: MethodDelta},
		"bcjx86":  {ID: MethodBCJX86},
		"zstd":    {ID: MethodZSTD, Options: &ZSTDOptions{Level: 3}},
		"brotli":  {ID: MethodBrotli, Options: &BrotliOptions{Quality: 5}},
		"lz4":     {ID: MethodLZ4},
	}

	for name, c := range tables {
		c := c

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := encodeThenDecode(t, c, data)
			require.Equal(t, data, got)
		})
	}
}

func TestChainAESRoundTrip(t *testing.T) {
	t.Parallel()

	data := []byte("a secret message that needs padding to a full block or two")

	var packed bytes.Buffer

	c := Coder{ID: MethodAES256SHA256, Options: &AESOptions{Password: "swordfish", Cycles: 0x13}}

	w, props, id, err := buildCoderWriter(c, nopWriteCloser{&packed})
	require.NoError(t, err)
	require.Equal(t, MethodAES256SHA256, id)

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dcomp := decompressor(id)
	require.NotNil(t, dcomp)

	rc, err := dcomp(props, uint64(len(data)), []io.ReadCloser{io.NopCloser(bytes.NewReader(packed.Bytes()))})
	require.NoError(t, err)

	defer rc.Close()

	crc, ok := rc.(CryptoReadCloser)
	require.True(t, ok, "AES decompressor must implement CryptoReadCloser")
	require.NoError(t, crc.Password("swordfish"))

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestIsEncodableMethod(t *testing.T) {
	t.Parallel()

	require.True(t, isEncodableMethod(MethodCopy))
	require.True(t, isEncodableMethod(MethodLZMA2))
	require.True(t, isEncodableMethod(MethodAES256SHA256))

	require.False(t, isEncodableMethod(MethodBZIP2))
	require.False(t, isEncodableMethod(MethodBCJ2))
	require.False(t, isEncodableMethod(MethodBCJPPC))
}
