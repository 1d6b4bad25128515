package protocol

import (
	"strings"
	"unicode"
)

// StatsPath is the path of the database statistics endpoint.
const StatsPath = "/api/database/stats"

// Stats is the body of GET /api/database/stats.
type Stats struct {
	TotalDocuments int            `json:"total_documents"`
	DateRange      DateRange      `json:"date_range"`
	DocumentTypes  map[string]int `json:"document_types"`
	LastUpdate     *string        `json:"last_update"`
}

// DateRange holds ISO dates; either end is nil when there are no documents.
type DateRange struct {
	Min *string `json:"min"`
	Max *string `json:"max"`
}

// FormatDocumentType turns a type label such as "proposed_rule" into
// "Proposed Rule". Missing labels read "Unspecified".
func FormatDocumentType(label string) string {
	if label == "" || label == "null" {
		return "Unspecified"
	}
	words := strings.Fields(strings.ReplaceAll(label, "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
