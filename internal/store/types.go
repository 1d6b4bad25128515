// Package store persists Federal Register documents and the chat log in
// SQLite.
package store

import "strings"

// Document is one Federal Register entry. Dates are ISO YYYY-MM-DD.
type Document struct {
	DocumentNumber  string `json:"document_number"`
	Title           string `json:"title"`
	PublicationDate string `json:"publication_date"`
	DocumentType    string `json:"document_type"`
	Abstract        string `json:"abstract,omitempty"`
	HTMLURL         string `json:"html_url,omitempty"`
	PDFURL          string `json:"pdf_url,omitempty"`
	Type            string `json:"type,omitempty"`
	Subtype         string `json:"subtype,omitempty"`
}

// Query selects documents. Zero fields do not filter.
type Query struct {
	Keywords     string `json:"keywords,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// DefaultLimit caps a query without an explicit limit.
const DefaultLimit = 10

// UpsertResult counts the effect of UpsertDocuments.
type UpsertResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

// ChatEntry is one logged question and answer.
type ChatEntry struct {
	SessionID string
	Query     string
	Response  string
	ToolsUsed []string
}

// Standard document type labels.
const (
	TypeExecutiveOrder       = "executive_order"
	TypeNotice               = "notice"
	TypeProposedRule         = "proposed_rule"
	TypeRule                 = "rule"
	TypePresidentialDocument = "presidential_document"
	TypeUnspecified          = "unspecified"
)

// StandardizeDocumentType maps the many spellings of a document type onto
// the standard labels. Missing types are inferred from the title.
func StandardizeDocumentType(docType, title string) string {
	t := strings.ToLower(strings.TrimSpace(docType))
	switch t {
	case "", "null", "none", TypeUnspecified:
		return inferDocumentType(title)
	case "executive_order", "eo", "executive order", "e.o.":
		return TypeExecutiveOrder
	case "notice", "notices":
		return TypeNotice
	case "proposed_rule", "proposed rule", "proposed rules":
		return TypeProposedRule
	case "rule", "rules", "final rule":
		return TypeRule
	case "presidential_document", "presidential document", "presidential documents":
		return TypePresidentialDocument
	default:
		return t
	}
}

func inferDocumentType(title string) string {
	title = strings.ToLower(title)
	switch {
	case strings.Contains(title, "executive order") || strings.HasPrefix(title, "eo"):
		return TypeExecutiveOrder
	case strings.Contains(title, "notice"):
		return TypeNotice
	case strings.Contains(title, "proposed rule"):
		return TypeProposedRule
	case strings.Contains(title, "rule"):
		return TypeRule
	case strings.Contains(title, "presidential"):
		return TypePresidentialDocument
	default:
		return TypeUnspecified
	}
}
