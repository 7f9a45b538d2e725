package archive

import (
	"strconv"
	"strings"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
)

// FamilyGroup is the line items of one family, in cart order.
type FamilyGroup struct {
	FamilyID string
	Items    []orders.LineItem
}

// GroupByFamily groups items by family in first-seen order.
func GroupByFamily(items []orders.LineItem) []FamilyGroup {
	var groups []FamilyGroup
	index := map[string]int{}
	for _, it := range items {
		i, ok := index[it.FontFamilyID]
		if !ok {
			i = len(groups)
			index[it.FontFamilyID] = i
			groups = append(groups, FamilyGroup{FamilyID: it.FontFamilyID})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

// FileName is the extension-less name of a generated font file:
// {family}-{weight}w[-{width}wd][-{slant}sl][-{opticalSize}op][-Italic].
// Doubled hyphens (from a negative slant, say) collapse to one.
func FileName(item orders.LineItem) string {
	tokens := []string{item.FontFamilyID, axis(item.Weight) + "w"}
	if item.Width != nil {
		tokens = append(tokens, axis(*item.Width)+"wd")
	}
	if item.Slant != nil {
		tokens = append(tokens, axis(*item.Slant)+"sl")
	}
	if item.OpticalSize != nil {
		tokens = append(tokens, axis(*item.OpticalSize)+"op")
	}
	if item.IsItalic {
		tokens = append(tokens, "Italic")
	}
	name := strings.Join(tokens, "-")
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	return name
}

func axis(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
