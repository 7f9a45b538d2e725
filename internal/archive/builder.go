package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/assets"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fontconv"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
)

var (
	// ErrEmptyRequest is returned when there is nothing to put in the archive.
	ErrEmptyRequest = errors.New("no line items to package")
	// ErrArchiveIO covers failures of the zip writer itself; they abort the archive.
	ErrArchiveIO = errors.New("archive write failed")
)

// AssetSource is where the builder fetches fonts and documents.
type AssetSource interface {
	FetchFamilyAsset(ctx context.Context, familyID string, isItalic bool) ([]byte, error)
	FetchSharedDocument(ctx context.Context, kind assets.DocumentKind, familyID, ref string) ([]byte, error)
}

// ConvertFunc converts a TrueType binary to another format.
type ConvertFunc func(fontconv.Format, []byte) ([]byte, error)

// Entry is one file in the archive.
type Entry struct {
	Name        string
	Data        []byte
	Placeholder bool
}

// Result is a finished archive plus what went into it.
type Result struct {
	Data          []byte
	Entries       []string
	Placeholders  int
	FailedFormats int
}

// Builder assembles order archives.
type Builder struct {
	assets  AssetSource
	convert ConvertFunc
	nowFunc func() time.Time
}

func NewBuilder(src AssetSource) *Builder {
	return &Builder{
		assets:  src,
		convert: fontconv.Convert,
		nowFunc: time.Now,
	}
}

// BuildItems groups a flat item list by family and builds the archive.
func (b *Builder) BuildItems(ctx context.Context, items []orders.LineItem) (*Result, error) {
	return b.Build(ctx, GroupByFamily(items))
}

// Build writes one zip for the grouped items. Missing or unconvertible assets never
// fail the archive: they become placeholder files or missing formats, and the rest of
// the order is still delivered. Only writer failures (ErrArchiveIO), an empty request
// and context cancellation are returned as errors.
func (b *Builder) Build(ctx context.Context, groups []FamilyGroup) (*Result, error) {
	total := 0
	for _, g := range groups {
		total += len(g.Items)
	}
	if total == 0 {
		return nil, ErrEmptyRequest
	}

	w := newZipWriter(b.nowFunc())
	res := &Result{}
	add := func(e Entry) error {
		if err := w.add(e); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrArchiveIO, e.Name, err)
		}
		res.Entries = append(res.Entries, e.Name)
		if e.Placeholder {
			res.Placeholders++
		}
		return nil
	}

	usedNames := map[string]int{}
	for _, g := range groups {
		if len(g.Items) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		family := g.FamilyID
		if !orders.ValidFamilyID(family) {
			// never becomes a path; each item is reported at the archive root instead
			log.Warn().Str("family", family).Int("items", len(g.Items)).Msg("invalid family id; writing placeholders")
			for range g.Items {
				base := "invalid-family"
				usedNames[base]++
				if n := usedNames[base]; n > 1 {
					base = fmt.Sprintf("%s-%d", base, n)
				}
				name := base + "-error.txt"
				e := Entry{Name: name, Data: []byte(placeholderText(fmt.Sprintf("A font from family %q", family), name)), Placeholder: true}
				if err := add(e); err != nil {
					return nil, err
				}
			}
			continue
		}
		specimenRef := firstRef(g.Items, func(it orders.LineItem) string { return it.SpecimenRef })
		specimen := resolveOrPlaceholder(
			path.Join(family, family+"-specimen.pdf"),
			path.Join(family, family+"-specimen.txt"),
			fmt.Sprintf("The type specimen for %s", family),
			func() ([]byte, error) {
				return b.assets.FetchSharedDocument(ctx, assets.Specimen, family, specimenRef)
			})
		if err := add(specimen); err != nil {
			return nil, err
		}

		for _, item := range g.Items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			base := FileName(item)
			usedNames[base]++
			if n := usedNames[base]; n > 1 {
				base = fmt.Sprintf("%s-%d", base, n)
			}

			source := resolveOrPlaceholder(
				path.Join(family, base+"."+fontconv.TTF.Extension()),
				path.Join(family, base+"-error.txt"),
				fmt.Sprintf("The font file %s", base),
				func() ([]byte, error) {
					return b.assets.FetchFamilyAsset(ctx, family, item.IsItalic)
				})
			if err := add(source); err != nil {
				return nil, err
			}
			if source.Placeholder {
				continue
			}

			for _, f := range fontconv.SelectFormatsForLicense(item.License) {
				data, err := b.convert(f, source.Data)
				if err != nil {
					res.FailedFormats++
					log.Warn().Err(err).Str("family", family).Str("entry", base).Str("format", string(f)).
						Msg("format conversion failed; skipping format")
					continue
				}
				if err := add(Entry{Name: path.Join(family, base+"."+f.Extension()), Data: data}); err != nil {
					return nil, err
				}
			}
		}
	}

	eulaRef := ""
	for _, g := range groups {
		if eulaRef = firstRef(g.Items, func(it orders.LineItem) string { return it.EULARef }); eulaRef != "" {
			break
		}
	}
	eula := resolveOrPlaceholder("EULA.pdf", "EULA.txt", "The End User License Agreement",
		func() ([]byte, error) {
			return b.assets.FetchSharedDocument(ctx, assets.EULA, "", eulaRef)
		})
	if err := add(eula); err != nil {
		return nil, err
	}

	data, err := w.close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveIO, err)
	}
	res.Data = data
	return res, nil
}

// resolveOrPlaceholder is the single place the degrade-per-item policy lives: a
// failed fetch turns into a plain-text entry explaining the gap, and the failure
// detail goes to the log rather than to the customer.
func resolveOrPlaceholder(name, placeholderName, what string, fetch func() ([]byte, error)) Entry {
	data, err := fetch()
	if err == nil {
		return Entry{Name: name, Data: data}
	}
	log.Warn().Err(err).Str("entry", name).Str("placeholder", placeholderName).Msg("asset unavailable; writing placeholder")
	return Entry{Name: placeholderName, Data: []byte(placeholderText(what, name)), Placeholder: true}
}

func placeholderText(what, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s) could not be included in this download.\n\n", what, path.Base(name))
	sb.WriteString("Everything else in this archive is complete. Please download your order again later, ")
	sb.WriteString("or contact support with your order reference and we will send the missing file.\n")
	return sb.String()
}

func firstRef(items []orders.LineItem, ref func(orders.LineItem) string) string {
	for _, it := range items {
		if r := ref(it); r != "" {
			return r
		}
	}
	return ""
}

type zipWriter struct {
	buf      bytes.Buffer
	zw       *zip.Writer
	modified time.Time
}

func newZipWriter(modified time.Time) *zipWriter {
	w := &zipWriter{modified: modified}
	w.zw = zip.NewWriter(&w.buf)
	return w
}

func (w *zipWriter) add(e Entry) error {
	f, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: w.modified,
	})
	if err != nil {
		return err
	}
	_, err = f.Write(e.Data)
	return err
}

func (w *zipWriter) close() ([]byte, error) {
	if err := w.zw.Close(); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}
