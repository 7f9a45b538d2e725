package orders

import (
	"regexp"
	"time"
)

// Status is the fulfillment status of an order. paid -> fulfilled, never back.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusFulfilled Status = "fulfilled"
)

// DocumentType is the _type discriminator of order documents.
const DocumentType = "order"

// License is the commercial usage tier of a line item.
type License string

const (
	LicenseWeb           License = "web"
	LicenseDesktop       License = "desktop"
	LicenseWebAndDesktop License = "webAndDesktop"
)

// Valid reports whether l is a known license tier.
func (l License) Valid() bool {
	switch l {
	case LicenseWeb, LicenseDesktop, LicenseWebAndDesktop:
		return true
	}
	return false
}

// Covers reports whether a purchase under l includes usage under other.
func (l License) Covers(other License) bool {
	return l == other || (l == LicenseWebAndDesktop && other.Valid())
}

var familyIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidFamilyID reports whether id is a plain slug. Family ids become archive
// folders and storage key segments, so dots and separators are not allowed.
func ValidFamilyID(id string) bool {
	return familyIDPattern.MatchString(id)
}

// LineItem is one purchased font configuration. Optional axes are nil when the
// family does not expose them.
type LineItem struct {
	FontFamilyID string   `json:"fontFamilyId" dynamodbav:"fontFamilyId" validate:"required"`
	Weight       float64  `json:"weight" dynamodbav:"weight" validate:"required,gt=0"`
	Width        *float64 `json:"width,omitempty" dynamodbav:"width,omitempty"`
	Slant        *float64 `json:"slant,omitempty" dynamodbav:"slant,omitempty"`
	OpticalSize  *float64 `json:"opticalSize,omitempty" dynamodbav:"opticalSize,omitempty"`
	IsItalic     bool     `json:"isItalic" dynamodbav:"isItalic"`
	License      License  `json:"license" dynamodbav:"license" validate:"required"`
	SpecimenRef  string   `json:"specimenRef,omitempty" dynamodbav:"specimenRef,omitempty"`
	EULARef      string   `json:"eulaRef,omitempty" dynamodbav:"eulaRef,omitempty"`
}

// CoveredBy reports whether it is the same font configuration as purchased, under a
// license the purchase includes. Document refs are not compared.
func (it LineItem) CoveredBy(purchased LineItem) bool {
	return it.FontFamilyID == purchased.FontFamilyID &&
		it.Weight == purchased.Weight &&
		sameAxis(it.Width, purchased.Width) &&
		sameAxis(it.Slant, purchased.Slant) &&
		sameAxis(it.OpticalSize, purchased.OpticalSize) &&
		it.IsItalic == purchased.IsItalic &&
		purchased.License.Covers(it.License)
}

func sameAxis(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Order is the document stored per payment session.
type Order struct {
	ID              string     `dynamodbav:"_id" json:"orderId"` // PK, derived from the session id
	Type            string     `dynamodbav:"_type" json:"-"`
	StripeSessionID string     `dynamodbav:"stripeSessionId" json:"stripeSessionId"`
	Status          Status     `dynamodbav:"status" json:"status"`
	Email           string     `dynamodbav:"email" json:"email"`
	TotalPaid       Money      `dynamodbav:"totalPaid" json:"totalPaid"`
	Items           []LineItem `dynamodbav:"items" json:"items"`
	DownloadURL     string     `dynamodbav:"downloadUrl,omitempty" json:"downloadUrl,omitempty"`
	ExpiresAt       *time.Time `dynamodbav:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	CreatedAt       time.Time  `dynamodbav:"_createdAt" json:"createdAt"`
	UpdatedAt       time.Time  `dynamodbav:"_updatedAt" json:"updatedAt"`
}
