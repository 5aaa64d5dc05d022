// Package scoring converts a detected vegetation area into an eco-credit
// amount. Score is deterministic: multiplicative factors are applied in a
// fixed order so identical inputs always produce identical awards.
package scoring

import (
	"math"
	"regexp"
	"strings"
)

// Factors are the inputs to a single credit computation. Area must be
// positive; every other field is optional and nil means "not supplied",
// which is distinct from a zero value.
type Factors struct {
	Area               float64
	GSD                *float64
	VegetationDensity  *float64
	PreviousArea       *float64
	TreeSpecies        string
	LocationMultiplier *float64
}

var speciesMultipliers = map[string]float64{
	"oak":        1.3,
	"pine":       1.25,
	"eucalyptus": 1.4,
	"mangrove":   1.5,
	"bamboo":     1.35,
	"teak":       1.2,
	"neem":       1.15,
	"fruit_tree": 1.1,
}

var whitespaceRuns = regexp.MustCompile(`\s+`)

// Score maps detected area (square meters) plus optional quality and context
// factors to an integer credit amount. The caller must ensure Area > 0; the
// result is always at least 1.
func Score(f Factors) int {
	base := baseCredits(f.Area)

	adjusted := base * gsdMultiplier(f.GSD)

	if f.VegetationDensity != nil {
		adjusted *= 1 + *f.VegetationDensity*0.5
	}

	if f.PreviousArea != nil && *f.PreviousArea > 0 {
		growthRate := (f.Area - *f.PreviousArea) / *f.PreviousArea
		if growthRate > 0 {
			adjusted *= 1 + math.Min(growthRate, 1.0)*0.3
		} else if growthRate < -0.2 {
			adjusted *= 0.7
		}
	}

	if f.TreeSpecies != "" {
		if multiplier, ok := speciesMultipliers[NormalizeSpecies(f.TreeSpecies)]; ok {
			adjusted *= multiplier
		}
	}

	if f.LocationMultiplier != nil {
		adjusted *= *f.LocationMultiplier
	}

	credits := int(math.Floor(adjusted))
	if credits < 1 {
		return 1
	}
	return credits
}

// baseCredits applies the tiered area rate. Each tier is continuous with the
// previous one at its boundary (10 m² -> 100, 50 -> 420, 100 -> 720,
// 500 -> 2320, 1000 -> 3320); above 1000 m² the rate decays logarithmically.
func baseCredits(area float64) float64 {
	switch {
	case area <= 10:
		return area * 10
	case area <= 50:
		return 100 + (area-10)*8
	case area <= 100:
		return 420 + (area-50)*6
	case area <= 500:
		return 720 + (area-100)*4
	case area <= 1000:
		return 2320 + (area-500)*2
	default:
		return 3320 + math.Log10(area-999)*500
	}
}

// gsdMultiplier rewards higher-resolution imagery. A smaller ground sample
// distance means each pixel covers less ground, so the area estimate is more
// trustworthy.
func gsdMultiplier(gsd *float64) float64 {
	if gsd == nil {
		return 1.0
	}
	switch {
	case *gsd <= 0.5:
		return 1.5
	case *gsd <= 1.0:
		return 1.3
	case *gsd <= 2.0:
		return 1.15
	case *gsd <= 5.0:
		return 1.0
	default:
		return 0.8
	}
}

// NormalizeSpecies lowercases a species identifier and collapses whitespace
// runs to single underscores, so "Fruit Tree" matches "fruit_tree".
func NormalizeSpecies(species string) string {
	return whitespaceRuns.ReplaceAllString(strings.ToLower(species), "_")
}
