package chat

// Status is the lifecycle of one Exchange.
type Status int

const (
	// StatusSubmitted is a locally sent user turn the server has not
	// acknowledged yet.
	StatusSubmitted Status = iota
	// StatusPending is a placeholder waiting for its assistant message.
	StatusPending
	// StatusResolved carries assistant text. It may still be overwritten.
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusPending:
		return "pending"
	default:
		return "resolved"
	}
}

// Placement tells the renderer where an assistant message goes.
type Placement int

const (
	// PlacementAppend adds the message at the end of the conversation.
	PlacementAppend Placement = iota
	// PlacementReplace swaps the thinking placeholder for the message.
	PlacementReplace
	// PlacementUpdate rewrites an assistant message already shown.
	PlacementUpdate
)

func (p Placement) String() string {
	switch p {
	case PlacementReplace:
		return "replace"
	case PlacementUpdate:
		return "update"
	default:
		return "append"
	}
}

// Exchange is one user/assistant turn pair.
type Exchange struct {
	ID            int
	UserText      string
	AssistantText string
	HasAssistant  bool
	Status        Status
	// Failed marks a placeholder that expired without an answer.
	Failed bool
}

// Store is the ordered conversation log. It is not safe for concurrent use;
// the Session event loop is its only writer.
type Store struct {
	exchanges   []*Exchange
	byID        map[int]int // id -> index of the latest exchange carrying it
	suggestions []string
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{byID: make(map[int]int)}
}

// AddUserTurn records a locally originated user message under id. A new
// exchange is always started; if a server-originated exchange already used
// the id (the greeting uses id 0) the id now refers to the new turn.
func (s *Store) AddUserTurn(id int, text string) Exchange {
	return *s.appendExchange(&Exchange{ID: id, UserText: text, Status: StatusSubmitted})
}

// MarkThinking makes sure a Pending placeholder exists for id. It reports
// false when one already existed, so duplicate thinking frames are no-ops.
func (s *Store) MarkThinking(id int) (Exchange, bool) {
	if ex := s.lookup(id); ex != nil {
		switch ex.Status {
		case StatusPending:
			return *ex, false
		case StatusSubmitted:
			ex.Status = StatusPending
			return *ex, true
		}
	}
	return *s.appendExchange(&Exchange{ID: id, Status: StatusPending}), true
}

// Resolve applies an assistant message for id and reports where it belongs.
func (s *Store) Resolve(id int, text string) (Exchange, Placement) {
	ex := s.lookup(id)
	if ex == nil {
		ex = s.appendExchange(&Exchange{ID: id, Status: StatusResolved})
		ex.AssistantText = text
		ex.HasAssistant = true
		return *ex, PlacementAppend
	}

	placement := PlacementAppend
	switch {
	case ex.Status == StatusPending:
		placement = PlacementReplace
	case ex.HasAssistant:
		placement = PlacementUpdate
	}
	ex.AssistantText = text
	ex.HasAssistant = true
	ex.Status = StatusResolved
	ex.Failed = false
	return *ex, placement
}

// Expire resolves a still Pending placeholder as failed. It reports false
// when id is not pending anymore.
func (s *Store) Expire(id int, text string) (Exchange, bool) {
	ex := s.lookup(id)
	if ex == nil || ex.Status != StatusPending {
		return Exchange{}, false
	}
	ex.Status = StatusResolved
	ex.AssistantText = text
	ex.HasAssistant = true
	ex.Failed = true
	return *ex, true
}

// get returns the latest exchange for id.
func (s *Store) get(id int) (Exchange, bool) {
	if ex := s.lookup(id); ex != nil {
		return *ex, true
	}
	return Exchange{}, false
}

// Exchanges returns a copy of the log in order.
func (s *Store) Exchanges() []Exchange {
	out := make([]Exchange, len(s.exchanges))
	for i, ex := range s.exchanges {
		out[i] = *ex
	}
	return out
}

// PendingCount returns the number of placeholders still waiting.
func (s *Store) PendingCount() int {
	n := 0
	for _, ex := range s.exchanges {
		if ex.Status == StatusPending {
			n++
		}
	}
	return n
}

// SetSuggestions replaces the suggestion set. Nil or empty clears it.
func (s *Store) SetSuggestions(items []string) {
	if len(items) == 0 {
		s.suggestions = nil
		return
	}
	s.suggestions = append([]string(nil), items...)
}

// ClearSuggestions drops the active suggestion set.
func (s *Store) ClearSuggestions() {
	s.suggestions = nil
}

// Suggestions returns a copy of the active suggestion set.
func (s *Store) Suggestions() []string {
	if len(s.suggestions) == 0 {
		return nil
	}
	return append([]string(nil), s.suggestions...)
}

func (s *Store) lookup(id int) *Exchange {
	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	return s.exchanges[idx]
}

func (s *Store) appendExchange(ex *Exchange) *Exchange {
	s.exchanges = append(s.exchanges, ex)
	s.byID[ex.ID] = len(s.exchanges) - 1
	return ex
}
