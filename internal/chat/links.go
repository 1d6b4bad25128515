package chat

import "regexp"

var documentNumberPattern = regexp.MustCompile(`(?i)document number ([A-Z0-9-]+)`)

// DocumentNumbers returns the document numbers mentioned as
// "document number <ID>" in content, in order of appearance.
func DocumentNumbers(content string) []string {
	matches := documentNumberPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// DocumentURL is the public Federal Register page of a document.
func DocumentURL(number string) string {
	return "https://www.federalregister.gov/documents/" + number
}

// LinkDocuments rewrites every document mention using decorate, which gets
// the full mention and the bare document number.
func LinkDocuments(content string, decorate func(mention, number string) string) string {
	return documentNumberPattern.ReplaceAllStringFunc(content, func(mention string) string {
		sub := documentNumberPattern.FindStringSubmatch(mention)
		return decorate(mention, sub[1])
	})
}
