package slug

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	valid    = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// folds maps common Latin letters with diacritics to ASCII.
var folds = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a", "ã", "a", "ä", "a", "å", "a",
	"ç", "c", "è", "e", "é", "e", "ê", "e", "ë", "e",
	"ì", "i", "í", "i", "î", "i", "ï", "i", "ı", "i",
	"ñ", "n", "ò", "o", "ó", "o", "ô", "o", "õ", "o", "ö", "o", "ø", "o",
	"ù", "u", "ú", "u", "û", "u", "ü", "u", "ý", "y", "ÿ", "y",
	"ğ", "g", "ş", "s", "ß", "ss", "æ", "ae", "œ", "oe",
	"&", " and ",
)

// Generate builds a lowercase, hyphen-separated slug from title:
//
//	"Gold Ring"          -> "gold-ring"
//	"Crème Brûlée Charm" -> "creme-brulee-charm"
//	"Rings & Bands!"     -> "rings-and-bands"
func Generate(title string) string {
	s := folds.Replace(strings.ToLower(strings.TrimSpace(title)))
	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Valid reports whether s is a well-formed slug: lowercase alphanumeric
// tokens joined by single hyphens.
func Valid(s string) bool {
	return valid.MatchString(s)
}

// WithSuffix appends a numeric disambiguator, e.g. "gold-ring-1718000000000".
func WithSuffix(base string, n int64) string {
	return base + "-" + strconv.FormatInt(n, 10)
}
