package fontconv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

const (
	flavorTrueType = 0x00010000
	flavorCFF      = 0x4F54544F // OTTO
	flavorApple    = 0x74727565 // true

	sfntHeaderSize = 12
	sfntEntrySize  = 16
)

type sfntTable struct {
	tag      string
	checksum uint32
	data     []byte
}

type sfntFont struct {
	flavor uint32
	tables []sfntTable // sorted by tag
}

// parseSFNT reads the table directory of a single-font sfnt binary. It checks bounds
// only; table contents are carried through untouched.
func parseSFNT(b []byte) (*sfntFont, error) {
	if len(b) < sfntHeaderSize {
		return nil, errors.New("input shorter than an sfnt header")
	}
	flavor := binary.BigEndian.Uint32(b[0:4])
	switch flavor {
	case flavorTrueType, flavorCFF, flavorApple:
	default:
		return nil, fmt.Errorf("unsupported sfnt version 0x%08x", flavor)
	}

	numTables := int(binary.BigEndian.Uint16(b[4:6]))
	if numTables == 0 {
		return nil, errors.New("font has no tables")
	}
	dirEnd := sfntHeaderSize + numTables*sfntEntrySize
	if dirEnd > len(b) {
		return nil, fmt.Errorf("table directory (%d tables) exceeds input length %d", numTables, len(b))
	}

	f := &sfntFont{flavor: flavor, tables: make([]sfntTable, 0, numTables)}
	seen := make(map[string]bool, numTables)
	for i := 0; i < numTables; i++ {
		e := b[sfntHeaderSize+i*sfntEntrySize:]
		tag := string(e[0:4])
		checksum := binary.BigEndian.Uint32(e[4:8])
		offset := uint64(binary.BigEndian.Uint32(e[8:12]))
		length := uint64(binary.BigEndian.Uint32(e[12:16]))
		if offset < uint64(dirEnd) || offset+length > uint64(len(b)) {
			return nil, fmt.Errorf("table %q out of bounds (offset %d, length %d)", tag, offset, length)
		}
		if seen[tag] {
			return nil, fmt.Errorf("duplicate table %q", tag)
		}
		seen[tag] = true
		f.tables = append(f.tables, sfntTable{
			tag:      tag,
			checksum: checksum,
			data:     b[offset : offset+length],
		})
	}
	sort.Slice(f.tables, func(i, j int) bool { return f.tables[i].tag < f.tables[j].tag })

	if seen["glyf"] != seen["loca"] {
		return nil, errors.New("glyf and loca tables must appear together")
	}
	return f, nil
}

// sfntSize is the length of the font rebuilt with 4-byte aligned tables.
func (f *sfntFont) sfntSize() uint32 {
	size := sfntHeaderSize + len(f.tables)*sfntEntrySize
	for _, t := range f.tables {
		size += pad4(len(t.data))
	}
	return uint32(size)
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
