package sevenzip

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf16"
)

// windowsEpochOffset is the number of 100-nanosecond intervals between the
// Windows FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const windowsEpochOffset = 116444736000000000

func filetimeToTime(ft uint64) time.Time {
	nsec := (int64(ft) - windowsEpochOffset) * 100 //nolint:gosec

	return time.Unix(0, nsec).UTC()
}

func timeToFiletime(t time.Time) uint64 {
	nsec := t.UnixNano()/100 + windowsEpochOffset

	return uint64(nsec) //nolint:gosec
}

var (
	errUnexpectedID      = errors.New("sevenzip: unexpected id")
	errUnsupportedBCTwo  = errors.New("sevenzip: alternative coder methods are not supported")
	errExternalData      = errors.New("sevenzip: externally stored data is not supported")
	errMultipleEncoded   = &MalformedHeaderError{Reason: "nested encoded headers are not supported"}
)

// readNumber decodes 7z's variable-length integer encoding: the leading
// 1-bits of the first byte (0 to 8 of them) say how many further bytes
// follow, and the remaining bits of the first byte hold the high bits of
// the result.
func readNumber(r io.ByteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error reading number: %w", err)
	}

	var (
		value uint64
		mask  byte = 0x80
	)

	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			value |= uint64(first&(mask-1)) << (8 * i) //nolint:gosec

			return value, nil
		}

		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("sevenzip: error reading number: %w", err)
		}

		value |= uint64(b) << (8 * i) //nolint:gosec
		mask >>= 1
	}

	return value, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("sevenzip: error reading uint32: %w", err)
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readFiletime(r io.Reader) (time.Time, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return time.Time{}, fmt.Errorf("sevenzip: error reading filetime: %w", err)
	}

	return filetimeToTime(binary.LittleEndian.Uint64(buf[:])), nil
}

// readBoolVector reads n bits, MSB-first, with no "all defined" shortcut.
func readBoolVector(r io.ByteReader, n int) ([]bool, error) {
	v := make([]bool, n)

	var (
		b    byte
		mask byte
		err  error
	)

	for i := range v {
		if mask == 0 {
			if b, err = r.ReadByte(); err != nil {
				return nil, fmt.Errorf("sevenzip: error reading bit vector: %w", err)
			}

			mask = 0x80
		}

		v[i] = b&mask != 0
		mask >>= 1
	}

	return v, nil
}

// readBitVector reads a leading "all defined" byte; if it's non-zero every
// element is true, otherwise it falls back to an explicit bit vector.
func readBitVector(r io.ByteReader, n int) ([]bool, error) {
	allDefined, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading bit vector marker: %w", err)
	}

	if allDefined != 0 {
		v := make([]bool, n)
		for i := range v {
			v[i] = true
		}

		return v, nil
	}

	return readBoolVector(r, n)
}

// readDigests reads a Digests structure: a bit vector saying which of n streams
// have a known CRC followed by the uint32 CRCs of those that do. Streams
// with no recorded CRC get a zero value.
func readDigests(r *bufio.Reader, n uint64) ([]uint32, []bool, error) {
	defined, err := readBitVector(r, int(n)) //nolint:gosec
	if err != nil {
		return nil, nil, err
	}

	out := make([]uint32, n)

	for i, d := range defined {
		if !d {
			continue
		}

		if out[i], err = readUint32(r); err != nil {
			return nil, nil, err
		}
	}

	return out, defined, nil
}

func readUTF16String(r io.Reader) (string, error) {
	var units []uint16

	for {
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", fmt.Errorf("sevenzip: error reading name: %w", err)
		}

		u := binary.LittleEndian.Uint16(buf[:])
		if u == 0 {
			break
		}

		units = append(units, u)
	}

	return string(utf16.Decode(units)), nil
}

func readPackInfo(r *bufio.Reader) (*packInfo, error) {
	position, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	numPackStreams, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	pi := &packInfo{position: position, streams: numPackStreams}

	for {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error reading pack info id: %w", err)
		}

		switch id {
		case idSize:
			pi.size = make([]uint64, numPackStreams)

			for i := range pi.size {
				if pi.size[i], err = readNumber(r); err != nil {
					return nil, err
				}
			}
		case idCRC:
			if pi.digest, _, err = readDigests(r, numPackStreams); err != nil {
				return nil, err
			}
		case idEnd:
			return pi, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

//nolint:cyclop
func readFolder(r *bufio.Reader) (*folder, error) {
	numCoders, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	f := new(folder)

	for i := uint64(0); i < numCoders; i++ {
		flags, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error reading coder flags: %w", err)
		}

		if flags&0x80 != 0 {
			return nil, errUnsupportedBCTwo
		}

		idSize := int(flags & 0x0f)
		id := make([]byte, idSize)

		if _, err := io.ReadFull(r, id); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading coder id: %w", err)
		}

		c := &coder{id: id, in: 1, out: 1}

		if flags&0x10 != 0 {
			if c.in, err = readNumber(r); err != nil {
				return nil, err
			}

			if c.out, err = readNumber(r); err != nil {
				return nil, err
			}
		}

		if flags&0x20 != 0 {
			propSize, err := readNumber(r)
			if err != nil {
				return nil, err
			}

			props := make([]byte, propSize)
			if _, err := io.ReadFull(r, props); err != nil {
				return nil, fmt.Errorf("sevenzip: error reading coder properties: %w", err)
			}

			c.properties = props
		}

		f.coder = append(f.coder, c)
		f.in += c.in
		f.out += c.out
	}

	if f.out == 0 {
		return nil, errMalformedHeader("folder has no coder outputs")
	}

	numBindPairs := f.out - 1
	for i := uint64(0); i < numBindPairs; i++ {
		bp := new(bindPair)

		if bp.in, err = readNumber(r); err != nil {
			return nil, err
		}

		if bp.out, err = readNumber(r); err != nil {
			return nil, err
		}

		f.bindPair = append(f.bindPair, bp)
	}

	if f.in < numBindPairs {
		return nil, errMalformedHeader("folder has more bind pairs than inputs")
	}

	numPackedStreams := f.in - numBindPairs
	f.packedStreams = numPackedStreams

	if numPackedStreams == 1 {
		var found bool

		for i := uint64(0); i < f.in; i++ {
			if f.findInBindPair(i) == nil {
				f.packed = append(f.packed, i)
				found = true

				break
			}
		}

		if !found {
			return nil, errMalformedHeader("folder has no unbound input stream")
		}

		return f, nil
	}

	for i := uint64(0); i < numPackedStreams; i++ {
		idx, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		f.packed = append(f.packed, idx)
	}

	return f, nil
}

func readUnpackInfo(r *bufio.Reader) (*unpackInfo, error) {
	id, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading unpack info id: %w", err)
	}

	if id != idFolder {
		return nil, errUnexpectedID
	}

	numFolders, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	external, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading external flag: %w", err)
	}

	if external != 0 {
		return nil, errExternalData
	}

	folders := make([]*folder, numFolders)

	for i := range folders {
		if folders[i], err = readFolder(r); err != nil {
			return nil, err
		}
	}

	if id, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("sevenzip: error reading coders unpack size id: %w", err)
	}

	if id != idCodersUnpackSize {
		return nil, errUnexpectedID
	}

	for _, f := range folders {
		f.size = make([]uint64, f.out)

		for i := range f.size {
			if f.size[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}
	}

	ui := &unpackInfo{folder: folders}

	for {
		if id, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading unpack info id: %w", err)
		}

		switch id {
		case idCRC:
			if ui.digest, ui.digestDefined, err = readDigests(r, numFolders); err != nil {
				return nil, err
			}
		case idEnd:
			return ui, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

//nolint:cyclop,funlen
func readSubStreamsInfo(r *bufio.Reader, folders []*folder, folderDigest []uint32, folderDigestDefined []bool) (*subStreamsInfo, error) {
	numUnpackStreamsInFolders := make([]uint64, len(folders))
	for i := range numUnpackStreamsInFolders {
		numUnpackStreamsInFolders[i] = 1
	}

	id, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading substreams info id: %w", err)
	}

	if id == idNumUnpackStream {
		for i := range numUnpackStreamsInFolders {
			if numUnpackStreamsInFolders[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}

		if id, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading substreams info id: %w", err)
		}
	}

	ssi := &subStreamsInfo{streams: numUnpackStreamsInFolders}

	for folderIndex, numStreams := range numUnpackStreamsInFolders {
		if numStreams == 0 {
			continue
		}

		sum := uint64(0)

		for i := uint64(0); i+1 < numStreams; i++ {
			var size uint64

			if id == idSize {
				if size, err = readNumber(r); err != nil {
					return nil, err
				}
			}

			ssi.size = append(ssi.size, size)
			sum += size
		}

		ssi.size = append(ssi.size, folders[folderIndex].unpackSize()-sum)
	}

	if id == idSize {
		if id, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading substreams info id: %w", err)
		}
	}

	numDigests := uint64(0)

	for folderIndex, numStreams := range numUnpackStreamsInFolders {
		known := numStreams == 1 && folderIndex < len(folderDigestDefined) && folderDigestDefined[folderIndex]
		if !known {
			numDigests += numStreams
		}
	}

	digests := make([]uint32, 0, sum64(numUnpackStreamsInFolders))

	if id == idCRC {
		partial, defined, err := readDigests(r, numDigests)
		if err != nil {
			return nil, err
		}

		j := 0

		for folderIndex, numStreams := range numUnpackStreamsInFolders {
			if numStreams == 1 && folderIndex < len(folderDigestDefined) && folderDigestDefined[folderIndex] {
				digests = append(digests, folderDigest[folderIndex])

				continue
			}

			for i := uint64(0); i < numStreams; i++ {
				if defined[j] {
					digests = append(digests, partial[j])
				} else {
					digests = append(digests, 0)
				}

				j++
			}
		}

		if id, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading substreams info id: %w", err)
		}
	} else {
		for folderIndex, numStreams := range numUnpackStreamsInFolders {
			if numStreams == 1 && folderIndex < len(folderDigestDefined) && folderDigestDefined[folderIndex] {
				digests = append(digests, folderDigest[folderIndex])

				continue
			}

			for i := uint64(0); i < numStreams; i++ {
				digests = append(digests, 0)
			}
		}
	}

	ssi.digest = digests

	if id != idEnd {
		return nil, errUnexpectedID
	}

	return ssi, nil
}

func sum64(v []uint64) uint64 {
	var total uint64
	for _, x := range v {
		total += x
	}

	return total
}

func readStreamsInfo(r *bufio.Reader) (*streamsInfo, error) {
	si := new(streamsInfo)

	id, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading streams info id: %w", err)
	}

	if id == idPackInfo {
		if si.packInfo, err = readPackInfo(r); err != nil {
			return nil, err
		}

		if id, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading streams info id: %w", err)
		}
	}

	if id == idUnpackInfo {
		if si.unpackInfo, err = readUnpackInfo(r); err != nil {
			return nil, err
		}

		if id, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading streams info id: %w", err)
		}
	}

	if id == idSubStreamsInfo {
		var (
			folderDigest        []uint32
			folderDigestDefined []bool
		)

		if si.unpackInfo != nil {
			folderDigest, folderDigestDefined = si.unpackInfo.digest, si.unpackInfo.digestDefined
		}

		if si.subStreamsInfo, err = readSubStreamsInfo(r, si.unpackInfo.folder, folderDigest, folderDigestDefined); err != nil {
			return nil, err
		}

		if id, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading streams info id: %w", err)
		}
	}

	if id != idEnd {
		return nil, errUnexpectedID
	}

	return si, nil
}

//nolint:cyclop,funlen,gocognit
func readFilesInfo(r *bufio.Reader) (*filesInfo, error) {
	numFiles, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	files := make([]FileHeader, numFiles)

	var (
		emptyStream     []bool
		numEmptyStreams int
	)

	for {
		propertyType, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error reading files info property: %w", err)
		}

		if propertyType == idEnd {
			break
		}

		size, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		lr := io.LimitReader(r, int64(size)) //nolint:gosec
		br := bufio.NewReader(lr)

		switch propertyType {
		case idEmptyStream:
			if emptyStream, err = readBoolVector(br, int(numFiles)); err != nil { //nolint:gosec
				return nil, err
			}

			numEmptyStreams = 0

			for _, b := range emptyStream {
				if b {
					numEmptyStreams++
				}
			}

			for i, b := range emptyStream {
				files[i].isEmptyStream = b
			}
		case idEmptyFile:
			emptyFile, err := readBoolVector(br, numEmptyStreams)
			if err != nil {
				return nil, err
			}

			j := 0

			for i := range files {
				if files[i].isEmptyStream {
					files[i].isEmptyFile = emptyFile[j]
					j++
				}
			}
		case idAnti:
			anti, err := readBoolVector(br, numEmptyStreams)
			if err != nil {
				return nil, err
			}

			j := 0

			for i := range files {
				if files[i].isEmptyStream {
					files[i].isAnti = anti[j]
					j++
				}
			}
		case idName:
			external, err := br.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("sevenzip: error reading name external flag: %w", err)
			}

			if external != 0 {
				return nil, errExternalData
			}

			for i := range files {
				if files[i].Name, err = readUTF16String(br); err != nil {
					return nil, err
				}
			}
		case idWinAttributes:
			defined, err := readBitVector(br, int(numFiles)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			external, err := br.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("sevenzip: error reading attributes external flag: %w", err)
			}

			if external != 0 {
				return nil, errExternalData
			}

			for i, d := range defined {
				if !d {
					continue
				}

				if files[i].Attributes, err = readUint32(br); err != nil {
					return nil, err
				}
			}
		case idCTime, idATime, idMTime:
			defined, err := readBitVector(br, int(numFiles)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			external, err := br.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("sevenzip: error reading time external flag: %w", err)
			}

			if external != 0 {
				return nil, errExternalData
			}

			for i, d := range defined {
				if !d {
					continue
				}

				t, err := readFiletime(br)
				if err != nil {
					return nil, err
				}

				switch propertyType {
				case idCTime:
					files[i].Created = t
				case idATime:
					files[i].Accessed = t
				case idMTime:
					files[i].Modified = t
				}
			}
		case idDummy:
			// Padding, nothing to do.
		default:
			// Unknown property: already bounded by the LimitReader, so
			// just move on to the next one.
		}

		if _, err := io.Copy(io.Discard, br); err != nil {
			return nil, fmt.Errorf("sevenzip: error discarding property payload: %w", err)
		}
	}

	return &filesInfo{file: files}, nil
}

func readHeader(r *bufio.Reader) (*header, error) {
	h := new(header)

	for {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error reading header id: %w", err)
		}

		switch id {
		case idArchiveProperties:
			if err := skipArchiveProperties(r); err != nil {
				return nil, err
			}
		case idAdditionalStreamInfo:
			if _, err := readStreamsInfo(r); err != nil {
				return nil, err
			}
		case idMainStreamsInfo:
			if h.streamsInfo, err = readStreamsInfo(r); err != nil {
				return nil, err
			}
		case idFilesInfo:
			if h.filesInfo, err = readFilesInfo(r); err != nil {
				return nil, err
			}
		case idEnd:
			if h.streamsInfo != nil && h.filesInfo != nil {
				j := 0

				for i := range h.filesInfo.file {
					if h.filesInfo.file[i].isEmptyStream {
						continue
					}

					_, h.filesInfo.file[i].UncompressedSize, h.filesInfo.file[i].CRC32 = h.streamsInfo.FileFolderAndSize(j)
					j++
				}
			}

			return h, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

func skipArchiveProperties(r *bufio.Reader) error {
	for {
		id, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("sevenzip: error reading archive property id: %w", err)
		}

		if id == idEnd {
			return nil
		}

		size, err := readNumber(r)
		if err != nil {
			return err
		}

		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil { //nolint:gosec
			return fmt.Errorf("sevenzip: error discarding archive property: %w", err)
		}
	}
}

// readEncodedHeader reads the single token expected at the start of a
// decoded encoded-header stream: a plain kHeader. A nested kEncodedHeader
// is rejected, capping the recursion depth at one as required.
func readEncodedHeader(r io.Reader) (*header, error) {
	br := bufio.NewReader(r)

	id, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading encoded header id: %w", err)
	}

	switch id {
	case idHeader:
		return readHeader(br)
	case idEncodedHeader:
		return nil, errMultipleEncoded
	default:
		return nil, errUnexpectedID
	}
}
