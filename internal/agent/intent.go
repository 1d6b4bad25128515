package agent

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/xiaot623/fedchat/internal/store"
)

type intentKind int

const (
	intentSearch intentKind = iota
	intentStats
	intentSmallTalk
)

// intent is what the agent understood from one question.
type intent struct {
	kind  intentKind
	query store.Query
}

var smallTalk = map[string]bool{
	"hi": true, "hello": true, "hey": true, "thanks": true, "thank you": true,
	"thx": true, "good morning": true, "good afternoon": true, "bye": true,
}

var statsPhrases = []string{
	"how many documents", "statistics", "stats", "database size",
	"what do you have", "date range", "document types",
}

// documentTypePhrases is checked in order; longer phrases first.
var documentTypePhrases = []struct {
	phrase  string
	docType string
}{
	{"executive order", store.TypeExecutiveOrder},
	{"proposed rule", store.TypeProposedRule},
	{"presidential document", store.TypePresidentialDocument},
	{"presidential", store.TypePresidentialDocument},
	{"notice", store.TypeNotice},
	{"final rule", store.TypeRule},
	{"rule", store.TypeRule},
}

var stopWords = map[string]bool{
	"a": true, "about": true, "all": true, "an": true, "and": true, "any": true,
	"are": true, "as": true, "at": true, "be": true, "by": true, "can": true,
	"did": true, "do": true, "documents": true, "document": true, "find": true,
	"for": true, "from": true, "get": true, "give": true, "have": true, "how": true,
	"i": true, "in": true, "is": true, "issued": true, "it": true, "latest": true,
	"list": true, "me": true, "many": true, "most": true, "new": true, "of": true,
	"on": true, "or": true, "orders": true, "order": true, "published": true,
	"recent": true, "recently": true, "related": true, "rules": true, "rule": true,
	"regulations": true, "regulation": true, "show": true, "tell": true, "that": true,
	"the": true, "there": true, "this": true, "to": true, "what": true, "which": true,
	"were": true, "was": true, "with": true, "executive": true, "proposed": true,
	"notices": true, "notice": true, "presidential": true, "final": true,
	"year": true, "month": true, "last": true, "week": true, "please": true,
}

func parseIntent(question string, now time.Time) intent {
	q := strings.ToLower(strings.TrimSpace(question))
	trimmed := strings.TrimFunc(q, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
	if smallTalk[trimmed] {
		return intent{kind: intentSmallTalk}
	}
	for _, p := range statsPhrases {
		if strings.Contains(q, p) {
			return intent{kind: intentStats}
		}
	}

	var query store.Query
	for _, p := range documentTypePhrases {
		if strings.Contains(q, p.phrase) {
			query.DocumentType = p.docType
			break
		}
	}
	query.StartDate, query.EndDate = dateRange(q, now)
	query.Keywords = keywords(q)
	query.Limit = 5
	return intent{kind: intentSearch, query: query}
}

// dateRange resolves relative periods in q to ISO dates.
func dateRange(q string, now time.Time) (string, string) {
	const layout = "2006-01-02"
	switch {
	case strings.Contains(q, "this year"):
		y := now.Year()
		return fmt.Sprintf("%d-01-01", y), fmt.Sprintf("%d-12-31", y)
	case strings.Contains(q, "last month"):
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		last := first.AddDate(0, 1, -1)
		return first.Format(layout), last.Format(layout)
	case strings.Contains(q, "this month"):
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return first.Format(layout), first.AddDate(0, 1, -1).Format(layout)
	case strings.Contains(q, "last week"), strings.Contains(q, "past week"):
		return now.AddDate(0, 0, -7).Format(layout), now.Format(layout)
	}
	return "", ""
}

func keywords(q string) string {
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	kept := words[:0]
	for _, w := range words {
		if len(w) < 3 || stopWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}
