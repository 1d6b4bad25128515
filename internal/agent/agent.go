// Package agent answers chat questions over the document store. Answers are
// built from tool results; there is no language model behind it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xiaot623/fedchat/internal/policy"
	"github.com/xiaot623/fedchat/internal/protocol"
	"github.com/xiaot623/fedchat/internal/store"
	"github.com/xiaot623/fedchat/internal/tools"
)

// ErrToolBlocked is returned when the policy refuses a tool.
var ErrToolBlocked = errors.New("tool blocked by policy")

// ToolExecutor runs named tools.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// PolicyEvaluator decides whether a tool may run.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error)
}

// ChatLogger records answered questions.
type ChatLogger interface {
	LogChat(ctx context.Context, entry store.ChatEntry) error
}

// Turn is one earlier message of the conversation.
type Turn struct {
	Role    string
	Content string
}

// Reply is the answer to one question.
type Reply struct {
	Content   string
	ToolsUsed []string
	QueryTime float64 // seconds
}

// Options configures an Agent. Policy and ChatLog are optional.
type Options struct {
	Tools   ToolExecutor
	Policy  PolicyEvaluator
	ChatLog ChatLogger
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Agent turns questions into tool calls and tool results into answers.
type Agent struct {
	tools   ToolExecutor
	policy  PolicyEvaluator
	chatLog ChatLogger
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an agent.
func New(opts Options) *Agent {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Agent{
		tools:   opts.Tools,
		policy:  opts.Policy,
		chatLog: opts.ChatLog,
		logger:  opts.Logger.With().Str("component", "agent").Logger(),
		now:     now,
	}
}

// Respond answers question. history holds the earlier turns of the same
// connection; follow-ups such as "more" reuse the previous question.
func (a *Agent) Respond(ctx context.Context, sessionID, question string, history []Turn) (Reply, error) {
	start := a.now()
	in := parseIntent(resolveFollowUp(question, history), start)

	var reply Reply
	var err error
	switch in.kind {
	case intentSmallTalk:
		reply.Content = "Hello! I can search Federal Register documents for you. Try asking about recent executive orders or rules on a topic."
	case intentStats:
		reply, err = a.answerStats(ctx, sessionID)
	default:
		reply, err = a.answerSearch(ctx, sessionID, in.query)
	}
	if err != nil {
		return Reply{}, err
	}
	reply.QueryTime = a.now().Sub(start).Seconds()

	a.logChat(ctx, store.ChatEntry{
		SessionID: sessionID,
		Query:     question,
		Response:  reply.Content,
		ToolsUsed: reply.ToolsUsed,
	})
	return reply, nil
}

// Suggest returns follow-up questions for question through the
// suggest_related_queries tool.
func (a *Agent) Suggest(ctx context.Context, sessionID, question string) ([]string, error) {
	out, err := a.call(ctx, sessionID, tools.SuggestRelatedQueries, tools.SuggestArgs{CurrentQuery: question})
	if err != nil {
		return nil, err
	}
	var res tools.SuggestResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, errors.Wrap(err, "decode suggestions")
	}
	return res.Suggestions, nil
}

// Stats fetches database statistics through the statistics tool.
func (a *Agent) Stats(ctx context.Context, sessionID string) (*protocol.Stats, error) {
	out, err := a.call(ctx, sessionID, tools.GetDatabaseStatistics, struct{}{})
	if err != nil {
		return nil, err
	}
	var stats protocol.Stats
	if err := json.Unmarshal(out, &stats); err != nil {
		return nil, errors.Wrap(err, "decode statistics")
	}
	return &stats, nil
}

func (a *Agent) answerStats(ctx context.Context, sessionID string) (Reply, error) {
	stats, err := a.Stats(ctx, sessionID)
	if errors.Is(err, ErrToolBlocked) {
		return Reply{Content: "I'm not able to look up database statistics right now."}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: describeStats(stats), ToolsUsed: []string{tools.GetDatabaseStatistics}}, nil
}

func (a *Agent) answerSearch(ctx context.Context, sessionID string, q store.Query) (Reply, error) {
	out, err := a.call(ctx, sessionID, tools.QueryFederalRegister, q)
	if errors.Is(err, ErrToolBlocked) {
		return Reply{Content: "I'm not able to search the document database right now."}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	var docs []store.Document
	if err := json.Unmarshal(out, &docs); err != nil {
		return Reply{}, errors.Wrap(err, "decode documents")
	}
	return Reply{Content: describeDocuments(q, docs), ToolsUsed: []string{tools.QueryFederalRegister}}, nil
}

// call runs a tool after asking the policy.
func (a *Agent) call(ctx context.Context, sessionID, name string, args interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "encode tool arguments")
	}
	if a.policy != nil {
		var argMap map[string]interface{}
		_ = json.Unmarshal(raw, &argMap)
		decision, err := a.policy.Evaluate(ctx, policy.Input{ToolName: name, Args: argMap, SessionID: sessionID})
		if err != nil {
			return nil, errors.Wrapf(err, "policy for %s", name)
		}
		if decision != policy.Allow {
			a.logger.Info().Str("tool", name).Str("decision", string(decision)).Msg("tool call refused")
			return nil, errors.Wrap(ErrToolBlocked, name)
		}
	}
	out, err := a.tools.Execute(ctx, name, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "run %s", name)
	}
	a.logger.Debug().Str("tool", name).RawJSON("args", raw).Msg("tool executed")
	return out, nil
}

func (a *Agent) logChat(ctx context.Context, entry store.ChatEntry) {
	if a.chatLog == nil {
		return
	}
	if err := a.chatLog.LogChat(ctx, entry); err != nil {
		a.logger.Warn().Err(err).Str("session_id", entry.SessionID).Msg("failed to log chat")
	}
}

var followUps = map[string]bool{
	"more": true, "more please": true, "show me more": true, "and more": true, "tell me more": true,
}

func resolveFollowUp(question string, history []Turn) string {
	if !followUps[strings.ToLower(strings.Trim(strings.TrimSpace(question), "?!."))] {
		return question
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" && !followUps[strings.ToLower(strings.Trim(strings.TrimSpace(history[i].Content), "?!."))] {
			return history[i].Content
		}
	}
	return question
}

func describeStats(stats *protocol.Stats) string {
	if stats.TotalDocuments == 0 {
		return "The database is empty right now. Documents appear here once the pipeline has loaded them."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I have access to %s Federal Register documents", humanize.Comma(int64(stats.TotalDocuments)))
	if stats.DateRange.Min != nil && stats.DateRange.Max != nil {
		fmt.Fprintf(&b, " from %s to %s", *stats.DateRange.Min, *stats.DateRange.Max)
	}
	b.WriteString(".")
	if len(stats.DocumentTypes) > 0 {
		b.WriteString(" By type:\n")
		for _, label := range sortedTypes(stats.DocumentTypes) {
			fmt.Fprintf(&b, "\n- %s: %s", protocol.FormatDocumentType(label), humanize.Comma(int64(stats.DocumentTypes[label])))
		}
	}
	return b.String()
}

func describeDocuments(q store.Query, docs []store.Document) string {
	if len(docs) == 0 {
		var b strings.Builder
		b.WriteString("I couldn't find any documents")
		if q.Keywords != "" {
			fmt.Fprintf(&b, " about %q", q.Keywords)
		}
		if q.DocumentType != "" {
			fmt.Fprintf(&b, " of type %s", protocol.FormatDocumentType(q.DocumentType))
		}
		if q.StartDate != "" {
			fmt.Fprintf(&b, " between %s and %s", q.StartDate, q.EndDate)
		}
		b.WriteString(". Try broader keywords or a different time period.")
		return b.String()
	}

	var b strings.Builder
	if len(docs) == 1 {
		b.WriteString("I found one matching document:\n")
	} else {
		fmt.Fprintf(&b, "I found %d matching documents, newest first:\n", len(docs))
	}
	for _, doc := range docs {
		fmt.Fprintf(&b, "\n- **%s** (%s), document number %s", doc.Title, protocol.FormatDocumentType(doc.DocumentType), doc.DocumentNumber)
		if doc.PublicationDate != "" {
			fmt.Fprintf(&b, ", published %s", doc.PublicationDate)
		}
		if doc.Abstract != "" {
			fmt.Fprintf(&b, ". %s", doc.Abstract)
		}
	}
	b.WriteString("\n\nWould you like more detail on any of these?")
	return b.String()
}
