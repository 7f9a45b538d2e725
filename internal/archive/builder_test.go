package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/assets"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fontconv"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fontconv/fonttest"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
)

type fakeAssets struct {
	fonts map[string][]byte // family or family+"/italic"
	docs  map[string][]byte // kind/family or kind/ or ref
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{fonts: map[string][]byte{}, docs: map[string][]byte{}}
}

func (f *fakeAssets) FetchFamilyAsset(ctx context.Context, familyID string, isItalic bool) ([]byte, error) {
	if isItalic {
		if b, ok := f.fonts[familyID+"/italic"]; ok {
			return b, nil
		}
	}
	if b, ok := f.fonts[familyID]; ok {
		return b, nil
	}
	return nil, assets.ErrAssetNotFound
}

func (f *fakeAssets) FetchSharedDocument(ctx context.Context, kind assets.DocumentKind, familyID, ref string) ([]byte, error) {
	if b, ok := f.docs[ref]; ok && ref != "" {
		return b, nil
	}
	if b, ok := f.docs[string(kind)+"/"+familyID]; ok {
		return b, nil
	}
	return nil, assets.ErrAssetNotFound
}

func newTestBuilder(src AssetSource) *Builder {
	b := NewBuilder(src)
	b.nowFunc = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return b
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = b
	}
	return out
}

func item(family string, weight float64, license orders.License) orders.LineItem {
	return orders.LineItem{FontFamilyID: family, Weight: weight, License: license}
}

func ptr(v float64) *float64 { return &v }

func TestFileName(t *testing.T) {
	cases := []struct {
		name string
		item orders.LineItem
		want string
	}{
		{"weight and italic", orders.LineItem{FontFamilyID: "fuzar", Weight: 400, IsItalic: true}, "fuzar-400w-Italic"},
		{"weight only", orders.LineItem{FontFamilyID: "fuzar", Weight: 700}, "fuzar-700w"},
		{"all axes", orders.LineItem{FontFamilyID: "fuzar", Weight: 350.5, Width: ptr(87.5), Slant: ptr(8), OpticalSize: ptr(14), IsItalic: true},
			"fuzar-350.5w-87.5wd-8sl-14op-Italic"},
		{"negative slant collapses hyphens", orders.LineItem{FontFamilyID: "fuzar", Weight: 400, Width: ptr(100), Slant: ptr(-12)},
			"fuzar-400w-100wd-12sl"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FileName(tc.item))
			assert.Equal(t, FileName(tc.item), FileName(tc.item))
		})
	}
}

func TestGroupByFamily_FirstSeenOrder(t *testing.T) {
	items := []orders.LineItem{
		item("b", 400, orders.LicenseWeb),
		item("a", 400, orders.LicenseWeb),
		item("b", 700, orders.LicenseDesktop),
	}
	groups := GroupByFamily(items)
	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0].FamilyID)
	assert.Equal(t, "a", groups[1].FamilyID)
	require.Len(t, groups[0].Items, 2)
	assert.Equal(t, float64(400), groups[0].Items[0].Weight)
	assert.Equal(t, float64(700), groups[0].Items[1].Weight)
}

func TestBuild_WebLicenseContents(t *testing.T) {
	src := newFakeAssets()
	font := fonttest.Minimal(7)
	src.fonts["fuzar"] = font
	src.docs["specimen/fuzar"] = []byte("%PDF specimen")
	src.docs["eula/"] = []byte("%PDF eula")

	res, err := newTestBuilder(src).BuildItems(context.Background(), []orders.LineItem{item("fuzar", 700, orders.LicenseWeb)})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"fuzar/fuzar-specimen.pdf",
		"fuzar/fuzar-700w.ttf",
		"fuzar/fuzar-700w.woff",
		"fuzar/fuzar-700w.woff2",
		"fuzar/fuzar-700w.woff3",
		"EULA.pdf",
	}, res.Entries)
	assert.Zero(t, res.Placeholders)

	files := readZip(t, res.Data)
	assert.Len(t, files, 6)
	assert.Equal(t, font, files["fuzar/fuzar-700w.ttf"])
	assert.Equal(t, font, files["fuzar/fuzar-700w.woff3"])
	assert.Equal(t, []byte("wOFF"), files["fuzar/fuzar-700w.woff"][:4])
	assert.Equal(t, []byte("wOF2"), files["fuzar/fuzar-700w.woff2"][:4])
	assert.Equal(t, []byte("%PDF eula"), files["EULA.pdf"])
}

func TestBuild_DesktopLicenseContents(t *testing.T) {
	src := newFakeAssets()
	src.fonts["fuzar"] = fonttest.Minimal(1)

	res, err := newTestBuilder(src).BuildItems(context.Background(), []orders.LineItem{item("fuzar", 400, orders.LicenseDesktop)})
	require.NoError(t, err)

	files := readZip(t, res.Data)
	assert.Contains(t, files, "fuzar/fuzar-400w.ttf")
	assert.Contains(t, files, "fuzar/fuzar-400w.otf")
	assert.NotContains(t, files, "fuzar/fuzar-400w.woff")
	assert.NotContains(t, files, "fuzar/fuzar-400w.woff2")
}

func TestBuild_PerItemIsolation(t *testing.T) {
	src := newFakeAssets()
	src.fonts["alpha"] = fonttest.Minimal(1)
	src.fonts["gamma"] = fonttest.Minimal(3)

	items := []orders.LineItem{
		item("alpha", 400, orders.LicenseDesktop),
		item("beta", 500, orders.LicenseDesktop), // source missing
		item("gamma", 600, orders.LicenseDesktop),
	}
	res, err := newTestBuilder(src).BuildItems(context.Background(), items)
	require.NoError(t, err)

	files := readZip(t, res.Data)
	assert.Contains(t, files, "alpha/alpha-400w.ttf")
	assert.Contains(t, files, "gamma/gamma-600w.ttf")
	assert.NotContains(t, files, "beta/beta-500w.ttf")
	assert.NotContains(t, files, "beta/beta-500w.otf")
	require.Contains(t, files, "beta/beta-500w-error.txt")
	assert.Contains(t, string(files["beta/beta-500w-error.txt"]), "beta-500w")

	ttfs := 0
	for name := range files {
		if len(name) > 4 && name[len(name)-4:] == ".ttf" {
			ttfs++
		}
	}
	assert.Equal(t, len(items)-1, ttfs)
}

func TestBuild_InvalidFamilyIDStaysInsideArchive(t *testing.T) {
	src := newFakeAssets()
	src.fonts[".."] = fonttest.Minimal(1)
	src.fonts["fuzar"] = fonttest.Minimal(2)

	res, err := newTestBuilder(src).BuildItems(context.Background(), []orders.LineItem{
		item("..", 400, orders.LicenseDesktop),
		item("..", 700, orders.LicenseDesktop),
		item("fuzar", 400, orders.LicenseDesktop),
	})
	require.NoError(t, err)

	for _, name := range res.Entries {
		assert.NotContains(t, name, "..", "entry %q escapes the archive root", name)
		assert.False(t, strings.HasPrefix(name, "/"), "entry %q is absolute", name)
	}
	files := readZip(t, res.Data)
	require.Contains(t, files, "invalid-family-error.txt")
	require.Contains(t, files, "invalid-family-2-error.txt")
	assert.Contains(t, string(files["invalid-family-error.txt"]), `".."`)
	assert.Contains(t, files, "fuzar/fuzar-400w.ttf")
	// two rejected items plus the fuzar specimen and the EULA
	assert.Equal(t, 4, res.Placeholders)
}

func TestBuild_DocumentPlaceholders(t *testing.T) {
	src := newFakeAssets()
	src.fonts["fuzar"] = fonttest.Minimal(1)

	res, err := newTestBuilder(src).BuildItems(context.Background(), []orders.LineItem{item("fuzar", 400, orders.LicenseWeb)})
	require.NoError(t, err)

	files := readZip(t, res.Data)
	assert.Contains(t, files, "fuzar/fuzar-specimen.txt")
	assert.NotContains(t, files, "fuzar/fuzar-specimen.pdf")
	assert.Contains(t, files, "EULA.txt")
	assert.NotContains(t, files, "EULA.pdf")
	assert.Equal(t, 2, res.Placeholders)
	assert.Contains(t, files, "fuzar/fuzar-400w.woff2")
}

func TestBuild_ItemRefsOverrideDocuments(t *testing.T) {
	src := newFakeAssets()
	src.fonts["fuzar"] = fonttest.Minimal(1)
	src.docs["custom/spec.pdf"] = []byte("custom specimen")
	src.docs["custom/eula.pdf"] = []byte("custom eula")

	it := item("fuzar", 400, orders.LicenseDesktop)
	it.SpecimenRef = "custom/spec.pdf"
	it.EULARef = "custom/eula.pdf"

	res, err := newTestBuilder(src).BuildItems(context.Background(), []orders.LineItem{it})
	require.NoError(t, err)

	files := readZip(t, res.Data)
	assert.Equal(t, []byte("custom specimen"), files["fuzar/fuzar-specimen.pdf"])
	assert.Equal(t, []byte("custom eula"), files["EULA.pdf"])
}

func TestBuild_ConversionFailureIsSwallowed(t *testing.T) {
	src := newFakeAssets()
	src.fonts["fuzar"] = fonttest.Minimal(1)

	b := newTestBuilder(src)
	b.convert = func(f fontconv.Format, ttf []byte) ([]byte, error) {
		if f == fontconv.WOFF2 {
			return nil, &fontconv.ConversionError{Format: f, Err: errors.New("encoder crashed")}
		}
		return fontconv.Convert(f, ttf)
	}

	res, err := b.BuildItems(context.Background(), []orders.LineItem{
		item("fuzar", 400, orders.LicenseWebAndDesktop),
		item("fuzar", 700, orders.LicenseWeb),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FailedFormats)

	files := readZip(t, res.Data)
	for _, name := range []string{
		"fuzar/fuzar-400w.ttf", "fuzar/fuzar-400w.woff", "fuzar/fuzar-400w.woff3", "fuzar/fuzar-400w.otf",
		"fuzar/fuzar-700w.ttf", "fuzar/fuzar-700w.woff", "fuzar/fuzar-700w.woff3",
	} {
		assert.Contains(t, files, name)
	}
	assert.NotContains(t, files, "fuzar/fuzar-400w.woff2")
}

func TestBuild_MalformedSourceKeepsTTF(t *testing.T) {
	src := newFakeAssets()
	src.fonts["broken"] = []byte("not a font at all")

	res, err := newTestBuilder(src).BuildItems(context.Background(), []orders.LineItem{item("broken", 400, orders.LicenseWeb)})
	require.NoError(t, err)

	files := readZip(t, res.Data)
	assert.Contains(t, files, "broken/broken-400w.ttf")
	assert.Contains(t, files, "broken/broken-400w.woff3")
	assert.NotContains(t, files, "broken/broken-400w.woff")
	assert.NotContains(t, files, "broken/broken-400w.woff2")
	assert.Equal(t, 2, res.FailedFormats)
}

func TestBuild_DuplicateItemsGetDistinctNames(t *testing.T) {
	src := newFakeAssets()
	src.fonts["fuzar"] = fonttest.Minimal(1)

	res, err := newTestBuilder(src).BuildItems(context.Background(), []orders.LineItem{
		item("fuzar", 400, orders.LicenseDesktop),
		item("fuzar", 400, orders.LicenseDesktop),
	})
	require.NoError(t, err)

	files := readZip(t, res.Data)
	assert.Contains(t, files, "fuzar/fuzar-400w.ttf")
	assert.Contains(t, files, "fuzar/fuzar-400w-2.ttf")
	assert.Contains(t, files, "fuzar/fuzar-400w-2.otf")
}

func TestBuild_Reproducible(t *testing.T) {
	src := newFakeAssets()
	src.fonts["fuzar"] = fonttest.Minimal(1)
	items := []orders.LineItem{item("fuzar", 400, orders.LicenseWebAndDesktop)}

	a, err := newTestBuilder(src).BuildItems(context.Background(), items)
	require.NoError(t, err)
	b, err := newTestBuilder(src).BuildItems(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestBuild_EmptyRequest(t *testing.T) {
	_, err := newTestBuilder(newFakeAssets()).BuildItems(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrEmptyRequest))
}

func TestBuild_CancelledContext(t *testing.T) {
	src := newFakeAssets()
	src.fonts["fuzar"] = fonttest.Minimal(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestBuilder(src).BuildItems(ctx, []orders.LineItem{item("fuzar", 400, orders.LicenseWeb)})
	assert.True(t, errors.Is(err, context.Canceled))
}
