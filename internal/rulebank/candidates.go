package rulebank

import "fmt"

// AddCandidate inserts a rule with status forced to draft regardless of
// the caller-supplied status.
func (s *Store) AddCandidate(rule Rule, dedup, upsert bool) (Rule, AddOutcome, error) {
	rule.Status = StatusDraft
	stored, outcome, err := s.Add(rule, dedup, upsert)
	if err != nil {
		return Rule{}, outcome, err
	}

	s.obs.Inc("experience_candidate_added_total", 1)
	s.obs.SetGauge("experience_candidates_total", float64(s.draftCount()))

	return stored, outcome, nil
}

// ListCandidates returns draft rules matching the query.
func (s *Store) ListCandidates(q SearchQuery) []Rule {
	q.Status = string(StatusDraft)
	return s.Search(q)
}

// Approve transitions a draft rule to active.
func (s *Store) Approve(id string) (Rule, error) {
	status := StatusActive
	rule, err := s.Update(id, Patch{Status: &status})
	if err != nil {
		return Rule{}, fmt.Errorf("approve: %w", err)
	}

	s.obs.Inc("experience_candidate_approved_total", 1)
	s.obs.SetGauge("experience_candidates_total", float64(s.draftCount()))

	return rule, nil
}

// Reject transitions a draft rule to deprecated.
func (s *Store) Reject(id string) (Rule, error) {
	status := StatusDeprecated
	rule, err := s.Update(id, Patch{Status: &status})
	if err != nil {
		return Rule{}, fmt.Errorf("reject: %w", err)
	}

	s.obs.Inc("experience_candidate_rejected_total", 1)
	s.obs.SetGauge("experience_candidates_total", float64(s.draftCount()))

	return rule, nil
}
