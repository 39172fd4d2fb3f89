package sevenzip

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"time"
	"unicode/utf16"
)

// writeNumber is the encoding dual of readNumber.
func writeNumber(w *bufio.Writer, v uint64) error {
	var (
		firstByte byte
		mask      byte = 0x80
		buf       [8]byte
		n         int
	)

	for n = 0; n < 8; n++ {
		if v < uint64(1)<<(7*(n+1)) { //nolint:gosec
			firstByte |= byte(v >> (8 * n)) //nolint:gosec
			break
		}

		buf[n] = byte(v >> (8 * n)) //nolint:gosec
		firstByte |= mask
		mask >>= 1
	}

	if n == 8 {
		firstByte = 0xff
	}

	if err := w.WriteByte(firstByte); err != nil {
		return err
	}

	_, err := w.Write(buf[:n])

	return err
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])

	return err
}

func writeFiletime(w *bufio.Writer, t time.Time) error {
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], timeToFiletime(t))
	_, err := w.Write(buf[:])

	return err
}

// writeBoolVector is the encoding dual of readBoolVector: a plain MSB-first
// bit array with no "all defined" marker.
func writeBoolVector(w *bufio.Writer, v []bool) error {
	var (
		b    byte
		mask byte = 0x80
	)

	for _, d := range v {
		if d {
			b |= mask
		}

		mask >>= 1

		if mask == 0 {
			if err := w.WriteByte(b); err != nil {
				return err
			}

			b, mask = 0, 0x80
		}
	}

	if mask != 0x80 {
		return w.WriteByte(b)
	}

	return nil
}

// writeBitVector writes the "all defined" shortcut byte when every element
// is true, otherwise a marker byte of 0 followed by an explicit bit array.
func writeBitVector(w *bufio.Writer, v []bool) error {
	allDefined := true

	for _, d := range v {
		if !d {
			allDefined = false

			break
		}
	}

	if allDefined {
		return w.WriteByte(1)
	}

	if err := w.WriteByte(0); err != nil {
		return err
	}

	return writeBoolVector(w, v)
}

func writeDigests(w *bufio.Writer, crc []uint32, defined []bool) error {
	if err := writeBitVector(w, defined); err != nil {
		return err
	}

	for i, d := range defined {
		if !d {
			continue
		}

		if err := writeUint32(w, crc[i]); err != nil {
			return err
		}
	}

	return nil
}

func writeUTF16String(w *bufio.Writer, s string) error {
	units := utf16.Encode([]rune(s))
	units = append(units, 0)

	for _, u := range units {
		var buf [2]byte

		binary.LittleEndian.PutUint16(buf[:], u)

		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}

	return nil
}

func writePackInfo(w *bufio.Writer, pi *packInfo) error {
	if err := w.WriteByte(idPackInfo); err != nil {
		return err
	}

	if err := writeNumber(w, pi.position); err != nil {
		return err
	}

	if err := writeNumber(w, pi.streams); err != nil {
		return err
	}

	if err := w.WriteByte(idSize); err != nil {
		return err
	}

	for _, s := range pi.size {
		if err := writeNumber(w, s); err != nil {
			return err
		}
	}

	if len(pi.digest) > 0 {
		if err := w.WriteByte(idCRC); err != nil {
			return err
		}

		defined := make([]bool, len(pi.digest))
		for i := range defined {
			defined[i] = true
		}

		if err := writeDigests(w, pi.digest, defined); err != nil {
			return err
		}
	}

	return w.WriteByte(idEnd)
}

//nolint:cyclop
func writeFolder(w *bufio.Writer, f *folder) error {
	if err := writeNumber(w, uint64(len(f.coder))); err != nil {
		return err
	}

	for _, c := range f.coder {
		flags := byte(len(c.id)) //nolint:gosec

		isComplex := c.in != 1 || c.out != 1
		if isComplex {
			flags |= 0x10
		}

		hasAttributes := len(c.properties) > 0
		if hasAttributes {
			flags |= 0x20
		}

		if err := w.WriteByte(flags); err != nil {
			return err
		}

		if _, err := w.Write(c.id); err != nil {
			return err
		}

		if isComplex {
			if err := writeNumber(w, c.in); err != nil {
				return err
			}

			if err := writeNumber(w, c.out); err != nil {
				return err
			}
		}

		if hasAttributes {
			if err := writeNumber(w, uint64(len(c.properties))); err != nil {
				return err
			}

			if _, err := w.Write(c.properties); err != nil {
				return err
			}
		}
	}

	for _, bp := range f.bindPair {
		if err := writeNumber(w, bp.in); err != nil {
			return err
		}

		if err := writeNumber(w, bp.out); err != nil {
			return err
		}
	}

	if f.packedStreams > 1 {
		for _, idx := range f.packed {
			if err := writeNumber(w, idx); err != nil {
				return err
			}
		}
	}

	return nil
}

func writeUnpackInfo(w *bufio.Writer, ui *unpackInfo) error {
	if err := w.WriteByte(idUnpackInfo); err != nil {
		return err
	}

	if err := w.WriteByte(idFolder); err != nil {
		return err
	}

	if err := writeNumber(w, uint64(len(ui.folder))); err != nil {
		return err
	}

	if err := w.WriteByte(0); err != nil { // not external
		return err
	}

	for _, f := range ui.folder {
		if err := writeFolder(w, f); err != nil {
			return err
		}
	}

	if err := w.WriteByte(idCodersUnpackSize); err != nil {
		return err
	}

	for _, f := range ui.folder {
		for _, s := range f.size {
			if err := writeNumber(w, s); err != nil {
				return err
			}
		}
	}

	if len(ui.digest) > 0 {
		if err := w.WriteByte(idCRC); err != nil {
			return err
		}

		defined := ui.digestDefined
		if defined == nil {
			defined = make([]bool, len(ui.digest))
			for i := range defined {
				defined[i] = true
			}
		}

		if err := writeDigests(w, ui.digest, defined); err != nil {
			return err
		}
	}

	return w.WriteByte(idEnd)
}

func writeSubStreamsInfo(w *bufio.Writer, ssi *subStreamsInfo) error {
	if err := w.WriteByte(idSubStreamsInfo); err != nil {
		return err
	}

	if err := w.WriteByte(idNumUnpackStream); err != nil {
		return err
	}

	for _, s := range ssi.streams {
		if err := writeNumber(w, s); err != nil {
			return err
		}
	}

	if err := w.WriteByte(idSize); err != nil {
		return err
	}

	idx := 0

	for _, numStreams := range ssi.streams {
		for i := uint64(0); i+1 < numStreams; i++ {
			if err := writeNumber(w, ssi.size[idx]); err != nil {
				return err
			}

			idx++
		}

		if numStreams > 0 {
			idx++ // skip the folder-derived final size, it is not stored
		}
	}

	if len(ssi.digest) > 0 {
		if err := w.WriteByte(idCRC); err != nil {
			return err
		}

		defined := make([]bool, len(ssi.digest))
		for i := range defined {
			defined[i] = true
		}

		if err := writeDigests(w, ssi.digest, defined); err != nil {
			return err
		}
	}

	return w.WriteByte(idEnd)
}

// writeStreamsInfo writes a kMainStreamsInfo-tagged streams info block, as
// embedded directly inside a plain header. readHeader consumes the
// idMainStreamsInfo token itself before calling readStreamsInfo for the
// body, so that token has to be present here.
func writeStreamsInfo(w *bufio.Writer, si *streamsInfo) error {
	if err := w.WriteByte(idMainStreamsInfo); err != nil {
		return err
	}

	return writeStreamsInfoBody(w, si)
}

// writeStreamsInfoBody writes a streams info block with no leading id
// token, matching what readStreamsInfo expects to read directly: a
// kEncodedHeader token is immediately followed by this body, with no
// separate kMainStreamsInfo tag in between.
func writeStreamsInfoBody(w *bufio.Writer, si *streamsInfo) error {
	if si.packInfo != nil {
		if err := writePackInfo(w, si.packInfo); err != nil {
			return err
		}
	}

	if si.unpackInfo != nil {
		if err := writeUnpackInfo(w, si.unpackInfo); err != nil {
			return err
		}
	}

	if si.subStreamsInfo != nil {
		if err := writeSubStreamsInfo(w, si.subStreamsInfo); err != nil {
			return err
		}
	}

	return w.WriteByte(idEnd)
}

//nolint:cyclop,funlen
func writeFilesInfo(w *bufio.Writer, fi *filesInfo) error {
	if err := w.WriteByte(idFilesInfo); err != nil {
		return err
	}

	if err := writeNumber(w, uint64(len(fi.file))); err != nil {
		return err
	}

	emptyStream := make([]bool, len(fi.file))

	var numEmptyStreams int

	for i, f := range fi.file {
		emptyStream[i] = f.isEmptyStream
		if f.isEmptyStream {
			numEmptyStreams++
		}
	}

	if numEmptyStreams > 0 {
		if err := writeProperty(w, idEmptyStream, func(pw *bufio.Writer) error {
			return writeBoolVector(pw, emptyStream)
		}); err != nil {
			return err
		}

		emptyFile := make([]bool, 0, numEmptyStreams)
		anti := make([]bool, 0, numEmptyStreams)
		anyEmptyFile, anyAnti := false, false

		for _, f := range fi.file {
			if !f.isEmptyStream {
				continue
			}

			emptyFile = append(emptyFile, f.isEmptyFile)
			anti = append(anti, f.isAnti)

			if f.isEmptyFile {
				anyEmptyFile = true
			}

			if f.isAnti {
				anyAnti = true
			}
		}

		if anyEmptyFile {
			if err := writeProperty(w, idEmptyFile, func(pw *bufio.Writer) error {
				return writeBoolVector(pw, emptyFile)
			}); err != nil {
				return err
			}
		}

		if anyAnti {
			if err := writeProperty(w, idAnti, func(pw *bufio.Writer) error {
				return writeBoolVector(pw, anti)
			}); err != nil {
				return err
			}
		}
	}

	if err := writeProperty(w, idName, func(pw *bufio.Writer) error {
		if err := pw.WriteByte(0); err != nil { // not external
			return err
		}

		for _, f := range fi.file {
			if err := writeUTF16String(pw, f.Name); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		return err
	}

	attrDefined := make([]bool, len(fi.file))
	anyAttr := false

	for i, f := range fi.file {
		attrDefined[i] = f.Attributes != 0
		if attrDefined[i] {
			anyAttr = true
		}
	}

	if anyAttr {
		if err := writeProperty(w, idWinAttributes, func(pw *bufio.Writer) error {
			if err := writeBitVector(pw, attrDefined); err != nil {
				return err
			}

			if err := pw.WriteByte(0); err != nil { // not external
				return err
			}

			for i, f := range fi.file {
				if !attrDefined[i] {
					continue
				}

				if err := writeUint32(pw, f.Attributes); err != nil {
					return err
				}
			}

			return nil
		}); err != nil {
			return err
		}
	}

	if err := writeTimeProperty(w, idMTime, fi.file, func(f *FileHeader) time.Time { return f.Modified }); err != nil {
		return err
	}

	return w.WriteByte(idEnd)
}

func writeTimeProperty(w *bufio.Writer, id byte, files []FileHeader, get func(*FileHeader) time.Time) error {
	defined := make([]bool, len(files))
	anyDefined := false

	for i := range files {
		defined[i] = !get(&files[i]).IsZero()
		if defined[i] {
			anyDefined = true
		}
	}

	if !anyDefined {
		return nil
	}

	return writeProperty(w, id, func(pw *bufio.Writer) error {
		if err := writeBitVector(pw, defined); err != nil {
			return err
		}

		if err := pw.WriteByte(0); err != nil { // not external
			return err
		}

		for i := range files {
			if !defined[i] {
				continue
			}

			if err := writeFiletime(pw, get(&files[i])); err != nil {
				return err
			}
		}

		return nil
	})
}

// writeProperty buffers fn's output so its length can be written as the
// var-int size prefix every FilesInfo property requires.
func writeProperty(w *bufio.Writer, id byte, fn func(*bufio.Writer) error) error {
	if err := w.WriteByte(id); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	bw := bufio.NewWriter(buf)

	if err := fn(bw); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return err
	}

	if err := writeNumber(w, uint64(buf.Len())); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())

	return err
}

func writeHeader(w *bufio.Writer, h *header) error {
	if err := w.WriteByte(idHeader); err != nil {
		return err
	}

	if h.streamsInfo != nil {
		if err := writeStreamsInfo(w, h.streamsInfo); err != nil {
			return err
		}
	}

	if h.filesInfo != nil {
		if err := writeFilesInfo(w, h.filesInfo); err != nil {
			return err
		}
	}

	return w.WriteByte(idEnd)
}
