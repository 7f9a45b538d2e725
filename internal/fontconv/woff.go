package fontconv

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zlib"
)

const (
	woffSignature  = 0x774F4646 // wOFF
	woffHeaderSize = 44
	woffEntrySize  = 20
)

// ToWOFF wraps an sfnt binary as WOFF 1.0. Each table is zlib-compressed and stored
// raw when compression does not make it smaller, as the format requires.
func ToWOFF(ttf []byte) ([]byte, error) {
	f, err := parseSFNT(ttf)
	if err != nil {
		return nil, &ConversionError{Format: WOFF, Err: err}
	}

	n := len(f.tables)
	dir := make([]byte, n*woffEntrySize)
	var body bytes.Buffer
	offset := woffHeaderSize + len(dir)

	for i, t := range f.tables {
		stored, err := zlibCompress(t.data)
		if err != nil {
			return nil, &ConversionError{Format: WOFF, Err: err}
		}
		if len(stored) >= len(t.data) {
			stored = t.data
		}

		e := dir[i*woffEntrySize:]
		copy(e[0:4], t.tag)
		binary.BigEndian.PutUint32(e[4:8], uint32(offset))
		binary.BigEndian.PutUint32(e[8:12], uint32(len(stored)))
		binary.BigEndian.PutUint32(e[12:16], uint32(len(t.data)))
		binary.BigEndian.PutUint32(e[16:20], t.checksum)

		body.Write(stored)
		body.Write(make([]byte, pad4(len(stored))-len(stored)))
		offset += pad4(len(stored))
	}

	header := make([]byte, woffHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], woffSignature)
	binary.BigEndian.PutUint32(header[4:8], f.flavor)
	binary.BigEndian.PutUint32(header[8:12], uint32(offset))
	binary.BigEndian.PutUint16(header[12:14], uint16(n))
	// reserved [14:16] stays zero
	binary.BigEndian.PutUint32(header[16:20], f.sfntSize())
	binary.BigEndian.PutUint16(header[20:22], 1) // majorVersion
	// minorVersion, metadata and private block fields stay zero

	out := make([]byte, 0, offset)
	out = append(out, header...)
	out = append(out, dir...)
	out = append(out, body.Bytes()...)
	return out, nil
}

func zlibCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
