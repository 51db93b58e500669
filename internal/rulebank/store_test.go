package rulebank

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver captures telemetry writes for assertions.
type recordingObserver struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	events   []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
	}
}

func (o *recordingObserver) Inc(name string, n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += n
}

func (o *recordingObserver) SetGauge(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gauges[name] = v
}

func (o *recordingObserver) Observe(string, float64) {}

func (o *recordingObserver) Log(level, message, module string, tags []string, extra map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, message)
}

func (o *recordingObserver) counter(name string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func (o *recordingObserver) gauge(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gauges[name]
}

// fixedState is a StateProvider pinned to one state.
type fixedState string

func (s fixedState) CurrentState() string { return string(s) }

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		titleA   string
		contentA string
		titleB   string
		contentB string
		same     bool
	}{
		{
			name:   "identical inputs",
			titleA: "Retry on timeout", contentA: "Use backoff.",
			titleB: "Retry on timeout", contentB: "Use backoff.",
			same: true,
		},
		{
			name:   "case and whitespace normalized",
			titleA: "  Retry On Timeout ", contentA: "USE BACKOFF.  ",
			titleB: "retry on timeout", contentB: "use backoff.",
			same: true,
		},
		{
			name:   "different content",
			titleA: "Retry on timeout", contentA: "Use backoff.",
			titleB: "Retry on timeout", contentB: "Fail fast.",
			same: false,
		},
		{
			name:   "title and content not interchangeable",
			titleA: "a", contentA: "b",
			titleB: "b", contentB: "a",
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fpA := Fingerprint(tt.titleA, tt.contentA)
			fpB := Fingerprint(tt.titleB, tt.contentB)
			assert.Len(t, fpA, 64)
			if tt.same {
				assert.Equal(t, fpA, fpB)
			} else {
				assert.NotEqual(t, fpA, fpB)
			}
		})
	}
}

func TestStoreAdd(t *testing.T) {
	t.Run("assigns id, timestamps, and fingerprint", func(t *testing.T) {
		s := NewStore()
		stored, outcome, err := s.Add(Rule{Title: "Retry on timeout", Content: "Use backoff."}, false, false)
		require.NoError(t, err)
		assert.Equal(t, AddCreated, outcome)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.CreatedAt.IsZero())
		assert.False(t, stored.UpdatedAt.IsZero())
		assert.Equal(t, Fingerprint("Retry on timeout", "Use backoff."), stored.Fingerprint)
	})

	t.Run("substitutes defaults for missing optional fields", func(t *testing.T) {
		s := NewStore()
		stored, _, err := s.Add(Rule{Title: "t", Content: "c"}, false, false)
		require.NoError(t, err)
		assert.Equal(t, DefaultCategory, stored.Category)
		assert.Equal(t, DefaultVersion, stored.Version)
		assert.InDelta(t, DefaultConfidence, stored.Confidence, 1e-9)
		assert.InDelta(t, DefaultWeight, stored.Weight, 1e-9)
		assert.Equal(t, StatusActive, stored.Status)
		assert.NotNil(t, stored.Tags)
		assert.NotNil(t, stored.Sources)
	})

	t.Run("dedup returns existing rule unchanged", func(t *testing.T) {
		s := NewStore()
		first, _, err := s.Add(Rule{Title: "Same", Content: "Body"}, true, false)
		require.NoError(t, err)

		second, outcome, err := s.Add(Rule{Title: " same ", Content: "body"}, true, false)
		require.NoError(t, err)
		assert.Equal(t, AddDeduplicated, outcome)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, s.Stats().Total)
	})

	t.Run("dedup disabled keeps both with equal fingerprints", func(t *testing.T) {
		s := NewStore()
		first, _, err := s.Add(Rule{Title: "Same", Content: "Body"}, false, false)
		require.NoError(t, err)
		second, outcome, err := s.Add(Rule{Title: "Same", Content: "Body"}, false, false)
		require.NoError(t, err)

		assert.Equal(t, AddCreated, outcome)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, first.Fingerprint, second.Fingerprint)
		assert.Equal(t, 2, s.Stats().Total)
	})

	t.Run("upsert preserves original creation timestamp", func(t *testing.T) {
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		clock := base
		s := NewStore(WithClock(func() time.Time { return clock }))

		first, _, err := s.Add(Rule{ID: "r-1", Title: "v1", Content: "c1"}, false, false)
		require.NoError(t, err)

		clock = base.Add(time.Hour)
		second, outcome, err := s.Add(Rule{ID: "r-1", Title: "v2", Content: "c2"}, false, true)
		require.NoError(t, err)

		assert.Equal(t, AddUpserted, outcome)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
		assert.Equal(t, 1, s.Stats().Total)
	})

	t.Run("records telemetry side effects", func(t *testing.T) {
		obs := newRecordingObserver()
		s := NewStore(WithObserver(obs))
		_, _, err := s.Add(Rule{Title: "t", Content: "c"}, false, false)
		require.NoError(t, err)
		assert.Equal(t, int64(1), obs.counter("experience_rule_added_total"))
		assert.Equal(t, 1.0, obs.gauge("experience_rules_total"))
	})
}

func TestStoreGet(t *testing.T) {
	s := NewStore()
	stored, _, err := s.Add(Rule{Title: "t", Content: "c"}, false, false)
	require.NoError(t, err)

	got, err := s.Get(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestStoreUpdate(t *testing.T) {
	t.Run("applies only non-nil patch fields", func(t *testing.T) {
		s := NewStore()
		stored, _, err := s.Add(Rule{Title: "old title", Content: "old content", Category: "ops"}, false, false)
		require.NoError(t, err)

		title := "new title"
		conf := 0.9
		updated, err := s.Update(stored.ID, Patch{Title: &title, Confidence: &conf})
		require.NoError(t, err)

		assert.Equal(t, "new title", updated.Title)
		assert.Equal(t, "old content", updated.Content)
		assert.Equal(t, "ops", updated.Category)
		assert.InDelta(t, 0.9, updated.Confidence, 1e-9)
	})

	t.Run("always recomputes fingerprint and updated timestamp", func(t *testing.T) {
		s := NewStore()
		stored, _, err := s.Add(Rule{Title: "old", Content: "c"}, false, false)
		require.NoError(t, err)

		title := "new"
		updated, err := s.Update(stored.ID, Patch{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, Fingerprint("new", "c"), updated.Fingerprint)
		assert.NotEqual(t, stored.Fingerprint, updated.Fingerprint)
	})

	t.Run("re-indexes fingerprint to the updated rule", func(t *testing.T) {
		s := NewStore()
		stored, _, err := s.Add(Rule{Title: "old", Content: "c"}, false, false)
		require.NoError(t, err)

		title := "new"
		_, err = s.Update(stored.ID, Patch{Title: &title})
		require.NoError(t, err)

		// A dedup-checked insert of the new content hits the updated rule.
		hit, outcome, err := s.Add(Rule{Title: "new", Content: "c"}, true, false)
		require.NoError(t, err)
		assert.Equal(t, AddDeduplicated, outcome)
		assert.Equal(t, stored.ID, hit.ID)
	})

	t.Run("unknown id returns not found", func(t *testing.T) {
		s := NewStore()
		title := "x"
		_, err := s.Update("missing", Patch{Title: &title})
		assert.ErrorIs(t, err, ErrRuleNotFound)
	})
}

func TestStoreDelete(t *testing.T) {
	t.Run("removes rule and its fingerprint index entry", func(t *testing.T) {
		s := NewStore()
		stored, _, err := s.Add(Rule{Title: "t", Content: "c"}, false, false)
		require.NoError(t, err)

		require.NoError(t, s.Delete(stored.ID))
		_, err = s.Get(stored.ID)
		assert.ErrorIs(t, err, ErrRuleNotFound)

		// Same content inserts fresh after the index entry is gone.
		_, outcome, err := s.Add(Rule{Title: "t", Content: "c"}, true, false)
		require.NoError(t, err)
		assert.Equal(t, AddCreated, outcome)
	})

	t.Run("keeps fingerprint entry owned by another rule", func(t *testing.T) {
		s := NewStore()
		first, _, err := s.Add(Rule{Title: "t", Content: "c"}, false, false)
		require.NoError(t, err)
		second, _, err := s.Add(Rule{Title: "t", Content: "c"}, false, false)
		require.NoError(t, err)

		// The index points at the later insert; deleting the first rule
		// must not drop the entry.
		require.NoError(t, s.Delete(first.ID))
		hit, outcome, err := s.Add(Rule{Title: "t", Content: "c"}, true, false)
		require.NoError(t, err)
		assert.Equal(t, AddDeduplicated, outcome)
		assert.Equal(t, second.ID, hit.ID)
	})

	t.Run("unknown id returns not found", func(t *testing.T) {
		s := NewStore()
		assert.ErrorIs(t, s.Delete("missing"), ErrRuleNotFound)
	})
}

func TestStoreSearch(t *testing.T) {
	seed := func(t *testing.T) *Store {
		t.Helper()
		s := NewStore()
		rules := []Rule{
			{Title: "timeout handling", Content: "retry with backoff", Category: "ops", Tags: []string{"net", "retry"}},
			{Title: "logging levels", Content: "timeout noise in warn logs", Category: "ops", Tags: []string{"logs"}},
			{Title: "cache sizing", Content: "bounded memory", Category: "perf", Tags: []string{"memory"}, Status: StatusDraft},
		}
		for _, r := range rules {
			_, _, err := s.Add(r, false, false)
			require.NoError(t, err)
		}
		return s
	}

	t.Run("text matches title or content case-insensitively", func(t *testing.T) {
		s := seed(t)
		got := s.Search(SearchQuery{Text: "TIMEOUT", Limit: 10})
		require.Len(t, got, 2)
	})

	t.Run("title match outranks content match", func(t *testing.T) {
		s := seed(t)
		got := s.Search(SearchQuery{Text: "timeout", Limit: 10})
		require.Len(t, got, 2)
		assert.Equal(t, "timeout handling", got[0].Title)
	})

	t.Run("filters are conjunctive", func(t *testing.T) {
		s := seed(t)
		got := s.Search(SearchQuery{Text: "timeout", Category: "perf", Limit: 10})
		assert.Empty(t, got)

		got = s.Search(SearchQuery{Category: "ops", Tag: "retry", Limit: 10})
		require.Len(t, got, 1)
		assert.Equal(t, "timeout handling", got[0].Title)
	})

	t.Run("status filter is exact and case-insensitive", func(t *testing.T) {
		s := seed(t)
		got := s.Search(SearchQuery{Status: "DRAFT", Limit: 10})
		require.Len(t, got, 1)
		assert.Equal(t, "cache sizing", got[0].Title)
	})

	t.Run("confidence and weight break score ties by rank contribution", func(t *testing.T) {
		s := NewStore()
		_, _, err := s.Add(Rule{Title: "alpha rule", Content: "x", Confidence: 0.5, Weight: 1.0}, false, false)
		require.NoError(t, err)
		_, _, err = s.Add(Rule{Title: "alpha rule heavier", Content: "x", Confidence: 0.5, Weight: 3.0}, false, false)
		require.NoError(t, err)

		got := s.Search(SearchQuery{Text: "alpha", Limit: 10})
		require.Len(t, got, 2)
		assert.Equal(t, "alpha rule heavier", got[0].Title)
	})

	t.Run("equal scores keep discovery order", func(t *testing.T) {
		s := NewStore()
		for _, title := range []string{"same one", "same two", "same three"} {
			_, _, err := s.Add(Rule{Title: title, Content: "c"}, false, false)
			require.NoError(t, err)
		}
		got := s.Search(SearchQuery{Text: "same", Limit: 10})
		require.Len(t, got, 3)
		assert.Equal(t, "same one", got[0].Title)
		assert.Equal(t, "same two", got[1].Title)
		assert.Equal(t, "same three", got[2].Title)
	})

	t.Run("adding a matching rule grows the result set", func(t *testing.T) {
		s := seed(t)
		before := len(s.Search(SearchQuery{Text: "timeout", Limit: 50}))
		_, _, err := s.Add(Rule{Title: "another timeout rule", Content: "c"}, false, false)
		require.NoError(t, err)
		after := len(s.Search(SearchQuery{Text: "timeout", Limit: 50}))
		assert.Greater(t, after, before)
	})

	t.Run("limit clamps into bounds", func(t *testing.T) {
		s := NewStore()
		for i := 0; i < 5; i++ {
			_, _, err := s.Add(Rule{Title: "r", Content: string(rune('a' + i))}, false, false)
			require.NoError(t, err)
		}
		assert.Len(t, s.Search(SearchQuery{Limit: 0}), 1)
		assert.Len(t, s.Search(SearchQuery{Limit: -5}), 1)
		assert.Len(t, s.Search(SearchQuery{Limit: 3}), 3)
		assert.Len(t, s.Search(SearchQuery{Limit: 100000}), 5)
	})
}

func TestStoreImportBatch(t *testing.T) {
	t.Run("empty batch is invalid input", func(t *testing.T) {
		s := NewStore()
		_, _, err := s.ImportBatch(nil, false, false)
		assert.ErrorIs(t, err, ErrEmptyImport)
	})

	t.Run("counts dedup hits as duplicates", func(t *testing.T) {
		s := NewStore()
		rules := []Rule{
			{Title: "a", Content: "1"},
			{Title: "a", Content: "1"},
			{Title: "b", Content: "2"},
		}
		imported, duplicates, err := s.ImportBatch(rules, false, true)
		require.NoError(t, err)
		assert.Equal(t, 2, imported)
		assert.Equal(t, 1, duplicates)
		assert.Equal(t, 2, s.Stats().Total)
	})

	t.Run("round trip through compact shape preserves content", func(t *testing.T) {
		src := NewStore()
		seed := []Rule{
			{Title: "A", Content: "1", Category: "ops", Tags: []string{"x"}},
			{Title: "B", Content: "2", Category: "perf", Tags: []string{"y", "z"}},
		}
		for _, r := range seed {
			_, _, err := src.Add(r, false, false)
			require.NoError(t, err)
		}

		var compact []Rule
		for _, r := range src.ListAll() {
			compact = append(compact, FromCompact(r.ToCompact()))
		}

		dst := NewStore()
		imported, duplicates, err := dst.ImportBatch(compact, true, true)
		require.NoError(t, err)
		assert.Equal(t, 2, imported)
		assert.Equal(t, 0, duplicates)

		type tuple struct{ title, content, category, tags string }
		collect := func(s *Store) map[tuple]bool {
			out := make(map[tuple]bool)
			for _, r := range s.ListAll() {
				out[tuple{r.Title, r.Content, r.Category, strings.Join(r.Tags, ",")}] = true
			}
			return out
		}
		assert.Equal(t, collect(src), collect(dst))
	})
}

func TestStoreWriteGating(t *testing.T) {
	s := NewStore(WithStateProvider(fixedState(StateSleeping)))

	_, _, err := s.Add(Rule{Title: "t", Content: "c"}, false, false)
	assert.ErrorIs(t, err, ErrStoreGated)

	title := "x"
	_, err = s.Update("any", Patch{Title: &title})
	assert.ErrorIs(t, err, ErrStoreGated)

	assert.ErrorIs(t, s.Delete("any"), ErrStoreGated)

	_, _, err = s.ImportBatch([]Rule{{Title: "t", Content: "c"}}, false, false)
	assert.ErrorIs(t, err, ErrStoreGated)

	// Reads stay available while writes are gated.
	assert.Empty(t, s.Search(SearchQuery{Limit: 10}))
	assert.Equal(t, 0, s.Stats().Total)
}

func TestStoreStats(t *testing.T) {
	s := NewStore()
	_, _, err := s.Add(Rule{Title: "a", Content: "1"}, false, false)
	require.NoError(t, err)
	_, _, err = s.Add(Rule{Title: "b", Content: "2", Status: StatusDraft, Category: "perf"}, false, false)
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByStatus[string(StatusActive)])
	assert.Equal(t, 1, st.ByStatus[string(StatusDraft)])
	assert.Equal(t, 1, st.ByCategory["general"])
	assert.Equal(t, 1, st.ByCategory["perf"])
}
