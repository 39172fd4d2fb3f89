// Package sevenzip also provides write access to 7-zip archives through
// [Writer].
package sevenzip

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
)

// Writer writes a 7-zip archive. Every entry created with CreateEntry is
// appended to a single shared content folder as it's written, and the
// end-of-archive header, covering every entry, is only emitted once Close
// is called.
type Writer struct {
	w        io.WriteSeeker
	pos      *countWriteCloser // counts bytes of packed content written to w
	password string

	coders        []Coder
	encryptHeader bool

	chain   *chain
	entries []*FileHeader
	current *entryWriter

	onClose func() error
	closed  bool
}

// entryWriter tallies the plaintext size and checksum of a single entry as
// it's streamed through the shared content chain.
type entryWriter struct {
	entry *FileHeader
	chain *chain
	crc   hash.Hash32
	size  uint64
}

func (ew *entryWriter) Write(p []byte) (int, error) {
	n, err := ew.chain.Write(p)
	ew.size += uint64(n) //nolint:gosec
	ew.crc.Write(p[:n])

	return n, err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Create returns a [Writer] that appends its content to w, which must
// support [io.Seeker] so the 32-byte start header can be patched in once
// the rest of the archive has been written.
func Create(w io.WriteSeeker) (*Writer, error) {
	return CreateWithPassword(w, "")
}

// CreateWithPassword returns a [Writer] writing to w, using password for
// any coder (typically an AES-256-SHA-256 stage set via SetContentMethods)
// that asks for one.
func CreateWithPassword(w io.WriteSeeker, password string) (*Writer, error) {
	var placeholder [32]byte

	if _, err := w.Write(placeholder[:]); err != nil {
		return nil, fmt.Errorf("sevenzip: error writing placeholder start header: %w", err)
	}

	zw := &Writer{
		w:        w,
		password: password,
		coders:   defaultCoders(),
	}

	zw.pos = &countWriteCloser{WriteCloser: nopWriteCloser{w}}

	return zw, nil
}

// CreateWriter opens (creating or truncating) the named file and returns a
// [Writer] for it, mirroring [OpenReader]'s path-based convenience on the
// read side.
func CreateWriter(name string) (*Writer, error) {
	f, err := os.Create(name) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error creating file: %w", err)
	}

	w, err := Create(f)
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	w.onClose = f.Close

	return w, nil
}

// SetContentMethods sets the chain of coders applied, in order, to every
// entry's content: the first Coder transforms the raw bytes, the last
// Coder's output is what's written to the archive. It must be called
// before the first CreateEntry. A method with no registered encoder
// (BZIP2, BCJ2, and the secondary BCJ branch filters are decode-only)
// is rejected with [ErrUnsupportedCompressionMethod].
func (w *Writer) SetContentMethods(coders ...Coder) error {
	if w.chain != nil {
		return errContentMethodsLocked
	}

	for _, c := range coders {
		if !isEncodableMethod(c.ID) {
			return ErrUnsupportedCompressionMethod
		}
	}

	if len(coders) == 0 {
		coders = defaultCoders()
	}

	w.coders = coders

	return nil
}

// SetEncryptHeader controls whether the end-of-archive header is itself
// compressed and AES-encrypted rather than stored as plain, readable
// metadata. It only takes effect if the content coders include an AES
// stage, whose password and cycle count are reused for the header.
func (w *Writer) SetEncryptHeader(encrypt bool) {
	w.encryptHeader = encrypt
}

func (w *Writer) ensureChain() error {
	if w.chain != nil {
		return nil
	}

	coders := make([]Coder, len(w.coders))
	copy(coders, w.coders)

	for i, c := range coders {
		if string(c.ID) != string(MethodAES256SHA256) {
			continue
		}

		opts, _ := c.Options.(*AESOptions)
		if opts == nil {
			opts = &AESOptions{}
		}

		if opts.Password == "" {
			opts.Password = w.password
		}

		coders[i].Options = opts
	}

	c, err := newChain(coders, nopWriteCloser{w.pos})
	if err != nil {
		return err
	}

	w.chain = c

	return nil
}

// CreateEntry adds a new entry with the given header and returns an
// [io.Writer] to stream its content to. Directory entries, identified by
// fh.FileInfo().IsDir(), carry no content and the returned writer
// discards anything written to it. An entry written with zero bytes is
// recorded as an empty file, matching how 7-zip represents it on disk.
func (w *Writer) CreateEntry(fh FileHeader) (io.Writer, error) {
	if w.closed {
		return nil, errWriterClosed
	}

	if err := w.finishCurrent(); err != nil {
		return nil, err
	}

	entry := fh

	if entry.FileInfo().IsDir() {
		entry.isEmptyStream = true
		w.entries = append(w.entries, &entry)

		return io.Discard, nil
	}

	if err := w.ensureChain(); err != nil {
		return nil, err
	}

	w.entries = append(w.entries, &entry)

	ew := &entryWriter{entry: &entry, chain: w.chain, crc: crc32.NewIEEE()}
	w.current = ew

	return ew, nil
}

func (w *Writer) finishCurrent() error {
	if w.current == nil {
		return nil
	}

	ew := w.current
	w.current = nil

	ew.entry.UncompressedSize = ew.size
	ew.entry.CRC32 = ew.crc.Sum32()

	if ew.size == 0 {
		ew.entry.isEmptyStream = true
		ew.entry.isEmptyFile = true
	}

	return nil
}

func hasAESCoder(coders []Coder) bool {
	for _, c := range coders {
		if string(c.ID) == string(MethodAES256SHA256) {
			return true
		}
	}

	return false
}

func aesCyclesFrom(coders []Coder) int {
	for _, c := range coders {
		if string(c.ID) != string(MethodAES256SHA256) {
			continue
		}

		if opts, ok := c.Options.(*AESOptions); ok && opts.Cycles != 0 {
			return opts.Cycles
		}
	}

	return 0x13
}

func linearBindPairs(n int) []*bindPair {
	pairs := make([]*bindPair, 0, n-1)

	for i := 0; i < n-1; i++ {
		pairs = append(pairs, &bindPair{in: uint64(i + 1), out: uint64(i)}) //nolint:gosec
	}

	return pairs
}

// buildMainStreamsInfo closes the content chain and builds the streamsInfo
// describing the single folder holding every entry's content.
func (w *Writer) buildMainStreamsInfo() (*streamsInfo, uint64, error) {
	if err := w.chain.Close(); err != nil {
		return nil, 0, err
	}

	mainPackSize := uint64(w.pos.n) //nolint:gosec

	coders := w.chain.folderCoders()

	f := &folder{
		in:            uint64(len(coders)), //nolint:gosec
		out:           uint64(len(coders)), //nolint:gosec
		packedStreams: 1,
		coder:         coders,
		bindPair:      linearBindPairs(len(coders)),
		size:          w.chain.unpackSizes(),
		packed:        []uint64{0},
	}

	var content []*FileHeader

	for _, e := range w.entries {
		if !e.isEmptyStream && !e.isEmptyFile {
			content = append(content, e)
		}
	}

	ui := &unpackInfo{folder: []*folder{f}}
	ssi := &subStreamsInfo{streams: []uint64{uint64(len(content))}} //nolint:gosec

	if len(content) == 1 {
		ui.digest = []uint32{content[0].CRC32}
		ui.digestDefined = []bool{true}
	} else {
		for _, e := range content {
			ssi.size = append(ssi.size, e.UncompressedSize)
			ssi.digest = append(ssi.digest, e.CRC32)
		}
	}

	pi := &packInfo{position: 0, streams: 1, size: []uint64{mainPackSize}}

	return &streamsInfo{packInfo: pi, unpackInfo: ui, subStreamsInfo: ssi}, mainPackSize, nil
}

// encodeHeader runs hdr through a fresh LZMA2+AES chain, reusing the
// content password and cycle count, and returns the bytes of the
// kEncodedHeader token that should replace the plain header.
func (w *Writer) encodeHeader(hdr []byte, mainPackSize uint64) ([]byte, uint64, error) {
	password := w.password

	for _, c := range w.coders {
		if opts, ok := c.Options.(*AESOptions); ok && string(c.ID) == string(MethodAES256SHA256) && opts.Password != "" {
			password = opts.Password
		}
	}

	headerCoders := []Coder{
		{ID: MethodLZMA2, Options: &LZMA2Options{Preset: 6, DictSize: 1 << 20}},
		{ID: MethodAES256SHA256, Options: &AESOptions{Password: password, Cycles: aesCyclesFrom(w.coders)}},
	}

	hpos := &countWriteCloser{WriteCloser: nopWriteCloser{w.w}}

	hc, err := newChain(headerCoders, nopWriteCloser{hpos})
	if err != nil {
		return nil, 0, err
	}

	if _, err := hc.Write(hdr); err != nil {
		return nil, 0, err
	}

	if err := hc.Close(); err != nil {
		return nil, 0, err
	}

	encSize := uint64(hpos.n) //nolint:gosec
	coders := hc.folderCoders()

	hf := &folder{
		in:            uint64(len(coders)), //nolint:gosec
		out:           uint64(len(coders)), //nolint:gosec
		packedStreams: 1,
		coder:         coders,
		bindPair:      linearBindPairs(len(coders)),
		size:          hc.unpackSizes(),
		packed:        []uint64{0},
	}

	hsi := &streamsInfo{
		packInfo:   &packInfo{position: mainPackSize, streams: 1, size: []uint64{encSize}},
		unpackInfo: &unpackInfo{folder: []*folder{hf}, digest: []uint32{crc32.ChecksumIEEE(hdr)}, digestDefined: []bool{true}},
	}

	var buf bytes.Buffer

	bw := bufio.NewWriter(&buf)

	if err := bw.WriteByte(idEncodedHeader); err != nil {
		return nil, 0, err
	}

	if err := writeStreamsInfoBody(bw, hsi); err != nil {
		return nil, 0, err
	}

	if err := bw.Flush(); err != nil {
		return nil, 0, err
	}

	return buf.Bytes(), encSize, nil
}

// Close finishes the last entry, if any, writes the end-of-archive header
// and patches the 32-byte start header in at the beginning of the file.
//
//nolint:funlen
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	if err := w.finishCurrent(); err != nil {
		return err
	}

	h := &header{filesInfo: &filesInfo{file: make([]FileHeader, len(w.entries))}}
	for i, e := range w.entries {
		h.filesInfo.file[i] = *e
	}

	var mainPackSize uint64

	if w.chain != nil {
		var err error

		if h.streamsInfo, mainPackSize, err = w.buildMainStreamsInfo(); err != nil {
			return err
		}
	}

	var hdrBuf bytes.Buffer

	hw := bufio.NewWriter(&hdrBuf)
	if err := writeHeader(hw, h); err != nil {
		return fmt.Errorf("sevenzip: error writing header: %w", err)
	}

	if err := hw.Flush(); err != nil {
		return fmt.Errorf("sevenzip: error writing header: %w", err)
	}

	nextOffset := mainPackSize

	// hdrBuf already begins with idHeader, written by writeHeader.
	nextBytes := hdrBuf.Bytes()
	if w.encryptHeader && hasAESCoder(w.coders) && w.chain != nil {
		encoded, encSize, err := w.encodeHeader(hdrBuf.Bytes(), mainPackSize)
		if err != nil {
			return fmt.Errorf("sevenzip: error encrypting header: %w", err)
		}

		nextBytes = encoded
		nextOffset = mainPackSize + encSize
	}

	if _, err := w.w.Write(nextBytes); err != nil {
		return fmt.Errorf("sevenzip: error writing header: %w", err)
	}

	sh := startHeader{Offset: nextOffset, Size: uint64(len(nextBytes)), CRC: crc32.ChecksumIEEE(nextBytes)} //nolint:gosec

	var shBuf bytes.Buffer
	if err := binary.Write(&shBuf, binary.LittleEndian, sh); err != nil {
		return fmt.Errorf("sevenzip: error encoding start header: %w", err)
	}

	sig := signatureHeader{Major: 0, Minor: 4, CRC: crc32.ChecksumIEEE(shBuf.Bytes())}
	copy(sig.Signature[:], signature)

	var sigBuf bytes.Buffer
	if err := binary.Write(&sigBuf, binary.LittleEndian, sig); err != nil {
		return fmt.Errorf("sevenzip: error encoding signature header: %w", err)
	}

	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("sevenzip: error seeking to start: %w", err)
	}

	if _, err := w.w.Write(sigBuf.Bytes()); err != nil {
		return fmt.Errorf("sevenzip: error writing signature header: %w", err)
	}

	if _, err := w.w.Write(shBuf.Bytes()); err != nil {
		return fmt.Errorf("sevenzip: error writing start header: %w", err)
	}

	if w.onClose != nil {
		return w.onClose()
	}

	return nil
}
