package rulebank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCandidate(t *testing.T) {
	t.Run("forces draft status regardless of caller input", func(t *testing.T) {
		s := NewStore()
		stored, outcome, err := s.AddCandidate(Rule{Title: "t", Content: "c", Status: StatusActive}, false, false)
		require.NoError(t, err)
		assert.Equal(t, AddCreated, outcome)
		assert.Equal(t, StatusDraft, stored.Status)
	})

	t.Run("recomputes the draft count gauge", func(t *testing.T) {
		obs := newRecordingObserver()
		s := NewStore(WithObserver(obs))
		_, _, err := s.AddCandidate(Rule{Title: "a", Content: "1"}, false, false)
		require.NoError(t, err)
		_, _, err = s.AddCandidate(Rule{Title: "b", Content: "2"}, false, false)
		require.NoError(t, err)
		assert.Equal(t, 2.0, obs.gauge("experience_candidates_total"))
		assert.Equal(t, int64(2), obs.counter("experience_candidate_added_total"))
	})
}

func TestListCandidates(t *testing.T) {
	s := NewStore()
	_, _, err := s.Add(Rule{Title: "active rule", Content: "c"}, false, false)
	require.NoError(t, err)
	_, _, err = s.AddCandidate(Rule{Title: "draft rule", Content: "c"}, false, false)
	require.NoError(t, err)

	got := s.ListCandidates(SearchQuery{Limit: 10})
	require.Len(t, got, 1)
	assert.Equal(t, "draft rule", got[0].Title)
}

func TestApproveReject(t *testing.T) {
	t.Run("approve makes the rule active", func(t *testing.T) {
		obs := newRecordingObserver()
		s := NewStore(WithObserver(obs))
		cand, _, err := s.AddCandidate(Rule{Title: "t", Content: "c"}, false, false)
		require.NoError(t, err)

		approved, err := s.Approve(cand.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, approved.Status)
		assert.Equal(t, 0.0, obs.gauge("experience_candidates_total"))
		assert.Equal(t, int64(1), obs.counter("experience_candidate_approved_total"))
	})

	t.Run("reject makes the rule deprecated", func(t *testing.T) {
		obs := newRecordingObserver()
		s := NewStore(WithObserver(obs))
		cand, _, err := s.AddCandidate(Rule{Title: "t", Content: "c"}, false, false)
		require.NoError(t, err)

		rejected, err := s.Reject(cand.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDeprecated, rejected.Status)
		assert.Equal(t, 0.0, obs.gauge("experience_candidates_total"))
		assert.Equal(t, int64(1), obs.counter("experience_candidate_rejected_total"))
	})

	t.Run("unknown id returns not found", func(t *testing.T) {
		s := NewStore()
		_, err := s.Approve("missing")
		assert.ErrorIs(t, err, ErrRuleNotFound)
		_, err = s.Reject("missing")
		assert.ErrorIs(t, err, ErrRuleNotFound)
	})
}
