package metadatanalyzer

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// titleCaser normalizes tag strings pulled from container metadata before
// they drive a lookup or a display name: tags are free text and arrive in
// whatever case the source file happened to use ("PINK FLOYD", "pink
// floyd"...), which would otherwise fragment one artist or album into
// several rows that only differ by case.
var titleCaser = cases.Title(language.Und)

func normalizeTag(s string) string {
	if s == "" {
		return s
	}
	return titleCaser.String(s)
}
