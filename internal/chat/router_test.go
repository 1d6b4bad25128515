package chat

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() (*Router, *Store, *MetadataDisplay, *recordingRenderer) {
	store := NewStore()
	meta := NewMetadataDisplay()
	rec := &recordingRenderer{}
	return NewRouter(store, meta, rec, zerolog.Nop()), store, meta, rec
}

func TestRouterThinkingTwice(t *testing.T) {
	r, store, _, rec := newTestRouter()

	r.Dispatch([]byte(`{"type":"thinking","id":5}`))
	first := store.Exchanges()
	d := r.Dispatch([]byte(`{"type":"thinking","id":5}`))

	assert.True(t, d.OK)
	assert.Equal(t, first, store.Exchanges())
	assert.Equal(t, []string{"thinking 5"}, rec.Calls())
}

func TestRouterResolvesPlaceholder(t *testing.T) {
	r, store, _, rec := newTestRouter()

	r.Dispatch([]byte(`{"type":"thinking","id":7}`))
	d := r.Dispatch([]byte(`{"type":"assistant_message","id":7,"content":"X"}`))

	assert.Equal(t, Dispatched{Type: "assistant_message", ID: 7, OK: true}, d)
	all := store.Exchanges()
	require.Len(t, all, 1)
	assert.Equal(t, StatusResolved, all[0].Status)
	assert.Equal(t, "X", all[0].AssistantText)
	assert.Equal(t, 0, store.PendingCount())
	assert.Contains(t, rec.Calls(), "assistant 7 replace X")
}

func TestRouterOutOfOrderResolution(t *testing.T) {
	r, store, _, _ := newTestRouter()

	r.Dispatch([]byte(`{"type":"assistant_message","id":9,"content":"Y"}`))

	ex, ok := store.get(9)
	require.True(t, ok)
	assert.Equal(t, "", ex.UserText)
	assert.Equal(t, "Y", ex.AssistantText)
	assert.Equal(t, StatusResolved, ex.Status)
}

func TestRouterMetadataNoFlicker(t *testing.T) {
	r, _, meta, rec := newTestRouter()

	r.Dispatch([]byte(`{"type":"assistant_message","id":1,"content":"a","metadata":{"query_time":0.5,"tools_used":["query_federal_register"]}}`))
	require.Equal(t, "Database Search", meta.View().ToolsUsed)

	r.Dispatch([]byte(`{"type":"assistant_message","id":2,"content":"b","metadata":{"tools_used":[]}}`))
	assert.Equal(t, "Database Search", meta.View().ToolsUsed)
	assert.Equal(t, "0.50s", meta.View().QueryTime)

	r.Dispatch([]byte(`{"type":"assistant_message","id":3,"content":"c","metadata":{"tools_used":["suggest_related_queries"]}}`))
	assert.Equal(t, "Query Suggestions", meta.View().ToolsUsed)

	assert.Equal(t, "Query Suggestions", rec.meta.ToolsUsed)
}

func TestRouterSuggestions(t *testing.T) {
	r, store, _, rec := newTestRouter()

	r.Dispatch([]byte(`{"type":"suggestions","suggestions":["one","two"],"id":4}`))
	assert.Equal(t, []string{"one", "two"}, store.Suggestions())

	r.Dispatch([]byte(`{"type":"suggestions"}`))
	assert.Nil(t, store.Suggestions())

	assert.Equal(t, []string{"suggestions 2", "suggestions 0"}, rec.Calls())
}

func TestRouterIgnoresUnknownAndMalformed(t *testing.T) {
	r, store, meta, rec := newTestRouter()
	r.Dispatch([]byte(`{"type":"suggestions","suggestions":["keep"]}`))
	before := rec.Calls()

	frames := []string{
		`{"type":"ping"}`,
		`{"type":"thinking","id":"seven"}`,
		`{"type":"assistant_message","id":1,"content":42}`,
		`garbage`,
		``,
	}
	for _, frame := range frames {
		assert.NotPanics(t, func() {
			d := r.Dispatch([]byte(frame))
			assert.False(t, d.OK, frame)
		})
	}

	assert.Empty(t, store.Exchanges())
	assert.Equal(t, []string{"keep"}, store.Suggestions())
	assert.Equal(t, MetadataView{}, meta.View())
	assert.Equal(t, before, rec.Calls())
}

func TestRouterMalformedMetadataKeepsAnswer(t *testing.T) {
	for _, metadata := range []string{`[]`, `"x"`, `5`} {
		r, store, meta, _ := newTestRouter()

		r.Dispatch([]byte(`{"type":"thinking","id":3}`))
		d := r.Dispatch([]byte(`{"type":"assistant_message","id":3,"content":"X","metadata":` + metadata + `}`))

		assert.True(t, d.OK, metadata)
		ex, ok := store.get(3)
		require.True(t, ok)
		assert.Equal(t, "X", ex.AssistantText, metadata)
		assert.Equal(t, StatusResolved, ex.Status, metadata)
		assert.Equal(t, 0, store.PendingCount())
		assert.Equal(t, MetadataView{}, meta.View())
	}
}
