// Package watertype decides whether a catalog location is on the open sea or
// on inland water (river, lake, reservoir).
package watertype

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"praiafinder/internal/types"
)

var explicitVocabulary = map[string]types.WaterType{
	"marine":       types.WaterTypeMarine,
	"mar":          types.WaterTypeMarine,
	"sea":          types.WaterTypeMarine,
	"ocean":        types.WaterTypeMarine,
	"oceano":       types.WaterTypeMarine,
	"coastal":      types.WaterTypeMarine,
	"costeira":     types.WaterTypeMarine,
	"maritima":     types.WaterTypeMarine,
	"salt":         types.WaterTypeMarine,
	"inland_water": types.WaterTypeInland,
	"inland-water": types.WaterTypeInland,
	"inland water": types.WaterTypeInland,
	"inland":       types.WaterTypeInland,
	"fluvial":      types.WaterTypeInland,
	"river":        types.WaterTypeInland,
	"rio":          types.WaterTypeInland,
	"lake":         types.WaterTypeInland,
	"lago":         types.WaterTypeInland,
	"reservoir":    types.WaterTypeInland,
	"albufeira":    types.WaterTypeInland,
	"freshwater":   types.WaterTypeInland,
	"doce":         types.WaterTypeInland,
}

// strongInland matches unambiguous inland-water wording in accent-folded,
// lower-cased text. "Albufeira" alone is also a coastal town, so only the
// "albufeira da/do <place>" construction counts. Weak terms such as
// "interior" or "rio" are deliberately absent.
var strongInland = regexp.MustCompile(
	`\b(praia fluvial|fluvial|inland[-_ ]water|barragem|dam|lake|lago|reservoir|embalse|albufeira d(?:a|o|e|as|os) \w+)\b`,
)

// FromAttribute maps an explicit water-type attribute onto the canonical
// vocabulary. ok is false for empty or unrecognized values.
func FromAttribute(attr string) (wt types.WaterType, ok bool) {
	wt, ok = explicitVocabulary[Fold(attr)]
	return wt, ok
}

// Classify resolves a location's water type: an explicit attribute wins, then
// strong textual signals in the name and zone tags, otherwise marine.
func Classify(loc types.Location) types.WaterType {
	if wt, ok := FromAttribute(string(loc.WaterType)); ok {
		return wt
	}

	text := Fold(loc.Name + " | " + strings.Join(loc.ZoneTags, " | "))
	if strongInland.MatchString(text) {
		return types.WaterTypeInland
	}
	return types.WaterTypeMarine
}

// Resolve returns a copy of locs with WaterType replaced by the classified value.
func Resolve(locs []types.Location) []types.Location {
	out := make([]types.Location, len(locs))
	for i, l := range locs {
		l.WaterType = Classify(l)
		out[i] = l
	}
	return out
}

// Fold lower-cases s, strips diacritics and trims surrounding space.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
