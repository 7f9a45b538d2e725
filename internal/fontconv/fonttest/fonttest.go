// Package fonttest builds small, structurally valid sfnt binaries for tests.
package fonttest

import (
	"encoding/binary"
	"sort"
)

// BuildTTF assembles a TrueType sfnt from raw table data. Tables are laid out in tag
// order with 4-byte alignment and real checksums.
func BuildTTF(tables map[string][]byte) []byte {
	tags := make([]string, 0, len(tables))
	for tag := range tables {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	n := len(tags)
	out := make([]byte, 12+16*n)
	binary.BigEndian.PutUint32(out[0:4], 0x00010000)
	binary.BigEndian.PutUint16(out[4:6], uint16(n))

	offset := len(out)
	for i, tag := range tags {
		data := tables[tag]
		e := out[12+16*i:]
		copy(e[0:4], tag)
		binary.BigEndian.PutUint32(e[4:8], checksum(data))
		binary.BigEndian.PutUint32(e[8:12], uint32(offset))
		binary.BigEndian.PutUint32(e[12:16], uint32(len(data)))
		offset += (len(data) + 3) &^ 3
	}
	for _, tag := range tags {
		data := tables[tag]
		out = append(out, data...)
		out = append(out, make([]byte, ((len(data)+3)&^3)-len(data))...)
	}
	return out
}

// Minimal returns a small variable-font-shaped binary with repetitive glyph data,
// so compression visibly shrinks it. seed varies the contents.
func Minimal(seed byte) []byte {
	glyf := make([]byte, 512)
	for i := range glyf {
		glyf[i] = byte(i%8) + seed
	}
	return BuildTTF(map[string][]byte{
		"head": append([]byte{0, 1, 0, 0}, make([]byte, 50)...),
		"hhea": make([]byte, 36),
		"maxp": {0, 1, 0, 0, 0, 2},
		"cmap": {0, 0, 0, 0},
		"glyf": glyf,
		"loca": {0, 0, 1, 0, 2, 0},
		"fvar": {0, 1, 0, 0, 0, 16, 0, 2, 0, 1, 0, 20, seed},
		"STAT": {0, 1, 0, 2},
	})
}

func checksum(data []byte) uint32 {
	var sum uint32
	padded := make([]byte, (len(data)+3)&^3)
	copy(padded, data)
	for i := 0; i < len(padded); i += 4 {
		sum += binary.BigEndian.Uint32(padded[i:])
	}
	return sum
}
