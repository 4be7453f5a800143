// Package brands decides which brand and ClickUp destination a request
// targets. Resolve is pure: it performs no I/O and returns a value for every
// input.
package brands

import (
	"regexp"
	"strings"

	"github.com/ashita-ai/tasklane/internal/model"
)

// productScopeKeywords mark a request as brand-specific even when every
// brand shares one destination.
var productScopeKeywords = map[string]bool{
	"coupon":    true,
	"discount":  true,
	"listing":   true,
	"catalog":   true,
	"product":   true,
	"sku":       true,
	"asin":      true,
	"promotion": true,
	"deal":      true,
	"price":     true,
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

// IsProductScoped reports whether text mentions a product-scope keyword as a
// whole word.
func IsProductScoped(text string) bool {
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if productScopeKeywords[w] {
			return true
		}
	}
	return false
}

// Resolve maps a client's brands, an optional brand hint and the request
// text to a BrandResolution.
func Resolve(all []model.Brand, hint, taskText string) model.BrandResolution {
	mapped := make([]model.Brand, 0, len(all))
	for _, b := range all {
		if b.Mapped() {
			mapped = append(mapped, b)
		}
	}
	if len(mapped) == 0 {
		return model.BrandResolution{Mode: model.ModeNoDestination, Candidates: []model.Brand{}}
	}

	if h := normalizeName(hint); h != "" {
		return resolveHint(mapped, h)
	}

	if len(mapped) == 1 {
		b := mapped[0]
		return model.BrandResolution{
			Mode:              model.ModeClientLevel,
			Destination:       destinationOf(b),
			BrandContext:      &model.BrandContext{ID: b.ID, Name: b.Name},
			Candidates:        mapped,
			DestinationGroups: 1,
		}
	}

	groups := CountDestinationGroups(mapped)
	if groups > 1 {
		return model.BrandResolution{
			Mode:              model.ModeAmbiguousDestination,
			Candidates:        mapped,
			DestinationGroups: groups,
		}
	}
	if IsProductScoped(taskText) {
		return model.BrandResolution{
			Mode:              model.ModeAmbiguousBrand,
			Candidates:        mapped,
			DestinationGroups: 1,
		}
	}
	shared := mapped[0]
	return model.BrandResolution{
		Mode:              model.ModeClientLevel,
		Destination:       &model.Destination{SpaceID: shared.SpaceID, ListID: shared.ListID},
		Candidates:        mapped,
		DestinationGroups: 1,
	}
}

// resolveHint runs the exact → prefix → contains cascade over mapped brands.
func resolveHint(mapped []model.Brand, hint string) model.BrandResolution {
	type tier struct {
		mode  model.ResolutionMode
		match func(name string) bool
	}
	tiers := []tier{
		{model.ModeExplicitBrand, func(name string) bool { return name == hint }},
		{model.ModeClarifiedBrand, func(name string) bool { return strings.HasPrefix(name, hint) }},
		{model.ModeClarifiedBrand, func(name string) bool { return strings.Contains(name, hint) }},
	}

	for _, t := range tiers {
		var matches []model.Brand
		for _, b := range mapped {
			if t.match(normalizeName(b.Name)) {
				matches = append(matches, b)
			}
		}
		switch {
		case len(matches) == 1:
			b := matches[0]
			return model.BrandResolution{
				Mode:              t.mode,
				Destination:       destinationOf(b),
				BrandContext:      &model.BrandContext{ID: b.ID, Name: b.Name},
				Candidates:        matches,
				DestinationGroups: 1,
			}
		case len(matches) > 1:
			return model.BrandResolution{
				Mode:              model.ModeAmbiguousBrand,
				Candidates:        matches,
				DestinationGroups: CountDestinationGroups(matches),
			}
		}
	}

	// No brand matched the hint: offer every mapped brand.
	return model.BrandResolution{
		Mode:              model.ModeAmbiguousBrand,
		Candidates:        mapped,
		DestinationGroups: CountDestinationGroups(mapped),
	}
}

// CountDestinationGroups returns the number of distinct (space, list) pairs.
func CountDestinationGroups(bs []model.Brand) int {
	seen := make(map[model.DestinationKey]bool, len(bs))
	for _, b := range bs {
		seen[b.Key()] = true
	}
	return len(seen)
}

func destinationOf(b model.Brand) *model.Destination {
	return &model.Destination{
		SpaceID:   b.SpaceID,
		ListID:    b.ListID,
		BrandID:   b.ID,
		BrandName: b.Name,
	}
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
