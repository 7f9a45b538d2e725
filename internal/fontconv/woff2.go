package fontconv

import (
	"bytes"
	"encoding/binary"

	"github.com/andybalholm/brotli"
)

const (
	woff2Signature  = 0x774F4632 // wOF2
	woff2HeaderSize = 48

	woff2ArbitraryTag = 0x3f
	// transform version 3 is the null transform for glyf and loca; for every
	// other table version 0 is the null transform.
	woff2NullGlyfLoca = 3 << 6
)

// woff2KnownTags is the known-table list of the WOFF2 table directory; the index
// is stored in the low six bits of the flags byte.
var woff2KnownTags = []string{
	"cmap", "head", "hhea", "hmtx", "maxp", "name", "OS/2", "post",
	"cvt ", "fpgm", "glyf", "loca", "prep", "CFF ", "VORG", "EBDT",
	"EBLC", "gasp", "hdmx", "kern", "LTSH", "PCLT", "VDMX", "vhea",
	"vmtx", "BASE", "GDEF", "GPOS", "GSUB", "EBSC", "JSTF", "MATH",
	"CBDT", "CBLC", "COLR", "CPAL", "SVG ", "sbix", "acnt", "avar",
	"bdat", "bloc", "bsln", "cvar", "fdsc", "feat", "fmtx", "fvar",
	"gvar", "hsty", "just", "lcar", "mort", "morx", "opbd", "prop",
	"trak", "Zapf", "Silf", "Glat", "Gloc", "Feat", "Sill",
}

var woff2TagIndex = func() map[string]byte {
	m := make(map[string]byte, len(woff2KnownTags))
	for i, tag := range woff2KnownTags {
		m[tag] = byte(i)
	}
	return m
}()

// ToWOFF2 wraps an sfnt binary as WOFF 2.0. Tables are not transformed; all table
// data goes into a single brotli stream.
func ToWOFF2(ttf []byte) ([]byte, error) {
	f, err := parseSFNT(ttf)
	if err != nil {
		return nil, &ConversionError{Format: WOFF2, Err: err}
	}

	var dir []byte
	var stream bytes.Buffer
	for _, t := range f.tables {
		idx, known := woff2TagIndex[t.tag]
		flags := idx
		if !known {
			flags = woff2ArbitraryTag
		}
		if t.tag == "glyf" || t.tag == "loca" {
			flags |= woff2NullGlyfLoca
		}
		dir = append(dir, flags)
		if !known {
			dir = append(dir, t.tag...)
		}
		dir = appendUIntBase128(dir, uint32(len(t.data)))
		stream.Write(t.data)
	}

	compressed, err := brotliCompress(stream.Bytes())
	if err != nil {
		return nil, &ConversionError{Format: WOFF2, Err: err}
	}

	length := pad4(woff2HeaderSize + len(dir) + len(compressed))

	header := make([]byte, woff2HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], woff2Signature)
	binary.BigEndian.PutUint32(header[4:8], f.flavor)
	binary.BigEndian.PutUint32(header[8:12], uint32(length))
	binary.BigEndian.PutUint16(header[12:14], uint16(len(f.tables)))
	// reserved [14:16]
	binary.BigEndian.PutUint32(header[16:20], f.sfntSize())
	binary.BigEndian.PutUint32(header[20:24], uint32(len(compressed)))
	binary.BigEndian.PutUint16(header[24:26], 1) // majorVersion
	// minorVersion, metadata and private block fields stay zero

	out := make([]byte, 0, length)
	out = append(out, header...)
	out = append(out, dir...)
	out = append(out, compressed...)
	out = append(out, make([]byte, length-len(out))...)
	return out, nil
}

// appendUIntBase128 appends v in the WOFF2 variable-length encoding: big-endian
// 7-bit groups, high bit set on all but the last byte, no leading zero groups.
func appendUIntBase128(dst []byte, v uint32) []byte {
	var tmp [5]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			break
		}
	}
	for j := i; j < len(tmp)-1; j++ {
		tmp[j] |= 0x80
	}
	return append(dst, tmp[i:]...)
}

func brotliCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
