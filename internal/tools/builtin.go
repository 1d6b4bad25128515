package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/xiaot623/fedchat/internal/protocol"
	"github.com/xiaot623/fedchat/internal/store"
)

// Tool names understood by the assistant.
const (
	QueryFederalRegister  = "query_federal_register"
	GetDatabaseStatistics = "get_database_statistics"
	SuggestRelatedQueries = "suggest_related_queries"
)

// DocumentSource is the part of the document store the tools read.
type DocumentSource interface {
	QueryDocuments(ctx context.Context, q store.Query) ([]store.Document, error)
	Stats(ctx context.Context) (*protocol.Stats, error)
}

// SuggestArgs are the arguments of suggest_related_queries.
type SuggestArgs struct {
	CurrentQuery string `json:"current_query"`
}

// SuggestResult is the result of suggest_related_queries.
type SuggestResult struct {
	Suggestions []string `json:"suggestions"`
}

// RegisterBuiltins registers the three document tools on r.
func RegisterBuiltins(r *Registry, src DocumentSource) {
	r.MustRegister(QueryFederalRegister, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var q store.Query
		if err := decodeArgs(args, &q); err != nil {
			return nil, err
		}
		docs, err := src.QueryDocuments(ctx, q)
		if err != nil {
			return nil, err
		}
		if docs == nil {
			docs = []store.Document{}
		}
		return json.Marshal(docs)
	})
	r.MustRegister(GetDatabaseStatistics, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		stats, err := src.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stats)
	})
	r.MustRegister(SuggestRelatedQueries, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var a SuggestArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return json.Marshal(SuggestResult{Suggestions: Suggestions(a.CurrentQuery)})
	})
}

// Suggestions returns follow-up questions for a query.
func Suggestions(query string) []string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "executive"):
		return []string{
			"What are the most recent executive orders?",
			"Show me executive orders related to healthcare",
			"How many executive orders were issued last month?",
		}
	case strings.Contains(q, "climate"):
		return []string{
			"What regulations mention climate change?",
			"Are there any recent rules about carbon emissions?",
			"Show me climate policies from the EPA",
		}
	default:
		return []string{
			"What are the latest executive orders?",
			"Show me recent healthcare regulations",
			"Find documents related to immigration policy",
		}
	}
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	return errors.Wrap(json.Unmarshal(args, v), "decode tool arguments")
}
