package fontconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fontconv/fonttest"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
)

func TestSelectFormatsForLicense(t *testing.T) {
	cases := []struct {
		license orders.License
		want    []Format
	}{
		{orders.LicenseWeb, []Format{WOFF, WOFF2, WOFF3}},
		{orders.LicenseDesktop, []Format{OTF}},
		{orders.LicenseWebAndDesktop, []Format{WOFF, WOFF2, WOFF3, OTF}},
		{orders.License("enterprise"), nil},
	}
	for _, tc := range cases {
		t.Run(string(tc.license), func(t *testing.T) {
			assert.Equal(t, tc.want, SelectFormatsForLicense(tc.license))
		})
	}
}

func TestSelectFormatsForLicense_DesktopHasNoWebFormats(t *testing.T) {
	got := SelectFormatsForLicense(orders.LicenseDesktop)
	assert.NotContains(t, got, WOFF)
	assert.NotContains(t, got, WOFF2)

	// callers may mutate the result
	got[0] = WOFF
	assert.Equal(t, []Format{OTF}, SelectFormatsForLicense(orders.LicenseDesktop))
}

func TestToWOFF_Structure(t *testing.T) {
	src := fonttest.Minimal(1)
	font, err := parseSFNT(src)
	require.NoError(t, err)

	out, err := ToWOFF(src)
	require.NoError(t, err)

	assert.Equal(t, uint32(woffSignature), binary.BigEndian.Uint32(out[0:4]))
	assert.Equal(t, uint32(flavorTrueType), binary.BigEndian.Uint32(out[4:8]))
	assert.Equal(t, uint32(len(out)), binary.BigEndian.Uint32(out[8:12]))
	n := int(binary.BigEndian.Uint16(out[12:14]))
	require.Equal(t, len(font.tables), n)
	assert.Equal(t, font.sfntSize(), binary.BigEndian.Uint32(out[16:20]))

	sawCompressed := false
	for i := 0; i < n; i++ {
		e := out[woffHeaderSize+i*woffEntrySize:]
		tag := string(e[0:4])
		off := binary.BigEndian.Uint32(e[4:8])
		compLen := binary.BigEndian.Uint32(e[8:12])
		origLen := binary.BigEndian.Uint32(e[12:16])
		assert.Zero(t, off%4, "table %s not aligned", tag)
		assert.Equal(t, font.tables[i].tag, tag)
		assert.Equal(t, font.tables[i].checksum, binary.BigEndian.Uint32(e[16:20]))

		stored := out[off : off+compLen]
		data := stored
		if compLen < origLen {
			sawCompressed = true
			r, err := zlib.NewReader(bytes.NewReader(stored))
			require.NoError(t, err)
			data, err = io.ReadAll(r)
			require.NoError(t, err)
		}
		assert.Equal(t, font.tables[i].data, data, "table %s", tag)
	}
	assert.True(t, sawCompressed, "glyf should compress")
}

func TestToWOFF2_Structure(t *testing.T) {
	src := fonttest.Minimal(2)
	font, err := parseSFNT(src)
	require.NoError(t, err)

	out, err := ToWOFF2(src)
	require.NoError(t, err)

	assert.Equal(t, uint32(woff2Signature), binary.BigEndian.Uint32(out[0:4]))
	assert.Equal(t, uint32(len(out)), binary.BigEndian.Uint32(out[8:12]))
	assert.Zero(t, len(out)%4)
	n := int(binary.BigEndian.Uint16(out[12:14]))
	require.Equal(t, len(font.tables), n)
	compressedLen := int(binary.BigEndian.Uint32(out[20:24]))

	pos := woff2HeaderSize
	var expected bytes.Buffer
	for i := 0; i < n; i++ {
		flags := out[pos]
		pos++
		tag := ""
		if flags&0x3f == woff2ArbitraryTag {
			tag = string(out[pos : pos+4])
			pos += 4
		} else {
			tag = woff2KnownTags[flags&0x3f]
		}
		assert.Equal(t, font.tables[i].tag, tag)
		if tag == "glyf" || tag == "loca" {
			assert.Equal(t, byte(3), flags>>6, "%s must use the null transform", tag)
		} else {
			assert.Equal(t, byte(0), flags>>6)
		}
		origLen, size := readUIntBase128(out[pos:])
		pos += size
		assert.Equal(t, uint32(len(font.tables[i].data)), origLen)
		expected.Write(font.tables[i].data)
	}

	r := brotli.NewReader(bytes.NewReader(out[pos : pos+compressedLen]))
	stream, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, expected.Bytes(), stream)
}

func TestConverters_Deterministic(t *testing.T) {
	src := fonttest.Minimal(3)
	for _, f := range []Format{TTF, OTF, WOFF, WOFF2, WOFF3} {
		a, err := Convert(f, src)
		require.NoError(t, err)
		b, err := Convert(f, src)
		require.NoError(t, err)
		assert.Equal(t, a, b, "format %s", f)
	}
}

func TestPassthroughs(t *testing.T) {
	src := fonttest.Minimal(4)

	woff3, err := ToWOFF3(src)
	require.NoError(t, err)
	assert.Equal(t, src, woff3)

	otf, err := ToOTF(src)
	require.NoError(t, err)
	assert.Equal(t, src, otf)

	// copies, not aliases
	otf[0] = 0xff
	assert.NotEqual(t, src[0], otf[0])
}

func TestConvert_MalformedInput(t *testing.T) {
	valid := fonttest.Minimal(5)
	truncated := valid[:len(valid)-100]
	badDir := append([]byte(nil), valid[:12]...)

	inputs := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("%PDF-1.7 definitely not a font"),
		"truncated": truncated,
		"no tables": badDir[:12:12],
	}
	binary.BigEndian.PutUint16(inputs["no tables"][4:6], 0)

	for name, in := range inputs {
		for _, f := range []Format{WOFF, WOFF2} {
			t.Run(name+"/"+string(f), func(t *testing.T) {
				out, err := Convert(f, in)
				require.Error(t, err)
				assert.Nil(t, out)
				assert.True(t, errors.Is(err, ErrConversion))
				var ce *ConversionError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, f, ce.Format)
			})
		}
	}
}

func TestConvert_UnknownFormat(t *testing.T) {
	_, err := Convert(Format("eot"), fonttest.Minimal(0))
	assert.True(t, errors.Is(err, ErrConversion))
}

func TestAppendUIntBase128(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 300, 16383, 16384, 1 << 21, 1<<32 - 1} {
		enc := appendUIntBase128(nil, v)
		assert.NotEqual(t, byte(0x80), enc[0], "leading zero group for %d", v)
		got, size := readUIntBase128(enc)
		assert.Equal(t, len(enc), size)
		assert.Equal(t, v, got)
	}
	assert.Equal(t, []byte{0x3f}, appendUIntBase128(nil, 63))
	assert.Equal(t, []byte{0x81, 0x00}, appendUIntBase128(nil, 128))
}

func readUIntBase128(b []byte) (uint32, int) {
	var v uint32
	for i := 0; i < 5; i++ {
		v = v<<7 | uint32(b[i]&0x7f)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return v, 5
}
