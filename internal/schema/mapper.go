package schema

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"bankroll-service/pkg/models"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize reduces a header to its comparison key: lowercase, diacritics
// stripped, every run of non-alphanumerics collapsed to a single "_", leading
// and trailing "_" trimmed. Idempotent.
func Normalize(name string) string {
	s := stripDiacritics(strings.ToLower(strings.TrimSpace(name)))
	s = nonAlnumRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// stripDiacritics removes accents: NFD decompose, drop combining marks.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AutoDetect proposes a column mapping for a set of incoming headers against a
// destination table. Greedy and order-dependent: headers claim schema columns
// first-match-wins in header order, and a claimed column is never assigned
// twice. Unmatched headers are kept in the output (matched=false) so a
// reviewer can complete the mapping by hand.
//
// An unknown table maps every header to its own normalized form as a
// best-effort passthrough.
func AutoDetect(headers []string, table string) []models.ColumnMapping {
	out := make([]models.ColumnMapping, 0, len(headers))

	sch, known := SchemaOf(table)
	if !known {
		for _, h := range headers {
			out = append(out, models.ColumnMapping{
				SourceHeader:     h,
				DestinationField: Normalize(h),
				Matched:          true,
			})
		}
		return out
	}

	claimed := make(map[string]bool, len(sch.Columns))
	for _, h := range headers {
		key := Normalize(h)
		field, found := matchColumn(sch, key, claimed)
		if found {
			claimed[field] = true
			out = append(out, models.ColumnMapping{
				SourceHeader:     h,
				DestinationField: field,
				Matched:          true,
			})
			continue
		}
		out = append(out, models.ColumnMapping{
			SourceHeader:     h,
			DestinationField: key,
			Matched:          false,
		})
	}
	return out
}

// matchColumn finds the first unclaimed column whose canonical name or any
// alias normalizes to key.
func matchColumn(sch TableSchema, key string, claimed map[string]bool) (string, bool) {
	for _, c := range sch.Columns {
		if claimed[c.Name] {
			continue
		}
		if Normalize(c.Name) == key {
			return c.Name, true
		}
		for _, a := range c.Aliases {
			if Normalize(a) == key {
				return c.Name, true
			}
		}
	}
	return "", false
}
