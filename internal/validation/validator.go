package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
)

// New returns a configured validator with the struct-level rules registered.
// Field errors are reported under their JSON names.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonFieldName)

	v.RegisterStructValidation(generateOrderStructValidation, GenerateOrderRequest{})
	v.RegisterStructValidation(lineItemStructValidation, orders.LineItem{})

	return v
}

// generateOrderStructValidation requires a session id or an order reference.
func generateOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(GenerateOrderRequest)
	if strings.TrimSpace(req.SessionID) == "" && strings.TrimSpace(req.OrderRef) == "" {
		sl.ReportError(req.SessionID, "sessionId", "SessionID", "session_or_order_ref", "")
	}
}

// lineItemStructValidation checks the license tier, the family slug and the optional
// axes. Slant may be negative; width and optical size may not.
func lineItemStructValidation(sl validatorv10.StructLevel) {
	it := sl.Current().Interface().(orders.LineItem)
	if it.License != "" && !it.License.Valid() {
		sl.ReportError(it.License, "license", "License", "license", "")
	}
	if it.FontFamilyID != "" && !orders.ValidFamilyID(it.FontFamilyID) {
		sl.ReportError(it.FontFamilyID, "fontFamilyId", "FontFamilyID", "family_id", "")
	}
	if it.Width != nil && *it.Width <= 0 {
		sl.ReportError(*it.Width, "width", "Width", "gt", "0")
	}
	if it.OpticalSize != nil && *it.OpticalSize <= 0 {
		sl.ReportError(*it.OpticalSize, "opticalSize", "OpticalSize", "gt", "0")
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
