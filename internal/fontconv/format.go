// Package fontconv turns a TrueType-flavoured variable font into the distribution
// formats sold per license tier.
//
// Known limitations: there is no WOFF3 encoder, so ToWOFF3 returns the input unchanged,
// and OTF is delivered as the TrueType binary (no sfnt-flavour conversion). Axis values
// never instance the font; the full variable font is delivered in every format.
package fontconv

import (
	"errors"
	"fmt"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
)

// Format is a distribution format, named by its file extension.
type Format string

const (
	TTF   Format = "ttf"
	OTF   Format = "otf"
	WOFF  Format = "woff"
	WOFF2 Format = "woff2"
	WOFF3 Format = "woff3"
)

// Extension returns the file extension without the dot.
func (f Format) Extension() string { return string(f) }

// ErrConversion is matched by every *ConversionError.
var ErrConversion = errors.New("font conversion failed")

// ConversionError reports why a binary could not be converted to Format.
type ConversionError struct {
	Format Format
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert to %s: %v", e.Format, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

var (
	webFormats     = []Format{WOFF, WOFF2, WOFF3}
	desktopFormats = []Format{OTF}
)

// SelectFormatsForLicense returns the formats a license requires in addition to the
// always-delivered TTF. The license is the only input: web gets woff/woff2/woff3,
// desktop gets otf, webAndDesktop gets both. Unknown tiers get nothing.
func SelectFormatsForLicense(license orders.License) []Format {
	switch license {
	case orders.LicenseWeb:
		return append([]Format(nil), webFormats...)
	case orders.LicenseDesktop:
		return append([]Format(nil), desktopFormats...)
	case orders.LicenseWebAndDesktop:
		out := make([]Format, 0, len(webFormats)+len(desktopFormats))
		out = append(out, webFormats...)
		return append(out, desktopFormats...)
	}
	return nil
}

// Convert dispatches to the converter for f.
func Convert(f Format, ttf []byte) ([]byte, error) {
	switch f {
	case TTF:
		return clone(ttf), nil
	case OTF:
		return ToOTF(ttf)
	case WOFF:
		return ToWOFF(ttf)
	case WOFF2:
		return ToWOFF2(ttf)
	case WOFF3:
		return ToWOFF3(ttf)
	}
	return nil, &ConversionError{Format: f, Err: errors.New("unsupported format")}
}

// ToWOFF3 returns the input unchanged: no WOFF3 encoder exists yet.
func ToWOFF3(ttf []byte) ([]byte, error) {
	return clone(ttf), nil
}

// ToOTF returns the TrueType binary unchanged under the .otf name.
func ToOTF(ttf []byte) ([]byte, error) {
	return clone(ttf), nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
