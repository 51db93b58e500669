package rulebank

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Search limit bounds.
const (
	MinSearchLimit = 1
	MaxSearchLimit = 200
)

// AddOutcome describes what Add actually did with the given rule.
type AddOutcome int

const (
	// AddCreated means a new rule was inserted.
	AddCreated AddOutcome = iota

	// AddDeduplicated means an existing rule with the same fingerprint was
	// returned and nothing was inserted.
	AddDeduplicated

	// AddUpserted means an existing rule with the same id was replaced,
	// preserving its original creation timestamp.
	AddUpserted
)

// Store holds rules in memory with an advisory fingerprint index for
// dedup-on-insert. All operations serialize on one mutex per instance;
// there is no cross-call transaction.
type Store struct {
	mu sync.Mutex

	byID map[string]*Rule

	// byFingerprint maps fingerprint to the id of at most one surviving
	// rule. Stale entries left behind by Update are tolerated; the index
	// is advisory for dedup, not a uniqueness constraint.
	byFingerprint map[string]string

	// order records ids by discovery order so search ties break stably.
	order []string

	obs   Observer
	state StateProvider

	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithObserver injects the observability port. Defaults to a no-op.
func WithObserver(obs Observer) StoreOption {
	return func(s *Store) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// WithStateProvider injects the operating-state source that gates writes.
func WithStateProvider(sp StateProvider) StoreOption {
	return func(s *Store) {
		if sp != nil {
			s.state = sp
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byID:          make(map[string]*Rule),
		byFingerprint: make(map[string]string),
		obs:           NopObserver{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// gated reports whether mutating operations are currently refused.
func (s *Store) gated() bool {
	return s.state != nil && s.state.CurrentState() == StateSleeping
}

// Add inserts a rule, assigning id, timestamps, and fingerprint when
// missing. With dedup enabled, an existing rule sharing the computed
// fingerprint is returned unchanged instead of inserting. With upsert
// enabled, an existing id is replaced in place, preserving its original
// creation timestamp.
func (s *Store) Add(rule Rule, dedup, upsert bool) (Rule, AddOutcome, error) {
	if s.gated() {
		return Rule{}, 0, ErrStoreGated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule.applyDefaults()
	if rule.Fingerprint == "" {
		rule.Fingerprint = Fingerprint(rule.Title, rule.Content)
	}

	if dedup {
		if id, ok := s.byFingerprint[rule.Fingerprint]; ok {
			if existing, live := s.byID[id]; live {
				return existing.clone(), AddDeduplicated, nil
			}
		}
	}

	now := s.now().UTC()
	outcome := AddCreated

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if prev, ok := s.byID[rule.ID]; ok && upsert {
		rule.CreatedAt = prev.CreatedAt
		outcome = AddUpserted
	} else if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if _, exists := s.byID[rule.ID]; !exists {
		s.order = append(s.order, rule.ID)
	}
	stored := rule.clone()
	s.byID[rule.ID] = &stored
	s.byFingerprint[rule.Fingerprint] = rule.ID

	s.obs.Inc("experience_rule_added_total", 1)
	s.obs.SetGauge("experience_rules_total", float64(len(s.byID)))

	return rule, outcome, nil
}

// Get returns the rule with the given id.
func (s *Store) Get(id string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.byID[id]
	if !ok {
		return Rule{}, fmt.Errorf("get %s: %w", id, ErrRuleNotFound)
	}
	return rule.clone(), nil
}

// Update applies the non-nil fields of patch to the rule with the given
// id. The fingerprint and updated timestamp are always recomputed and the
// fingerprint index re-pointed at this id; index entries for the rule's
// prior content are not cleaned.
func (s *Store) Update(id string, patch Patch) (Rule, error) {
	if s.gated() {
		return Rule{}, ErrStoreGated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.byID[id]
	if !ok {
		return Rule{}, fmt.Errorf("update %s: %w", id, ErrRuleNotFound)
	}

	next := rule.clone()
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Content != nil {
		next.Content = *patch.Content
	}
	if patch.Category != nil {
		next.Category = *patch.Category
	}
	if patch.Tags != nil {
		next.Tags = append([]string{}, (*patch.Tags)...)
	}
	if patch.Sources != nil {
		next.Sources = append([]string{}, (*patch.Sources)...)
	}
	if patch.Version != nil {
		next.Version = *patch.Version
	}
	if patch.Confidence != nil {
		next.Confidence = *patch.Confidence
	}
	if patch.Weight != nil {
		next.Weight = *patch.Weight
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	next.applyDefaults()
	next.Fingerprint = Fingerprint(next.Title, next.Content)
	next.UpdatedAt = s.now().UTC()

	s.byID[id] = &next
	s.byFingerprint[next.Fingerprint] = id

	s.obs.Inc("experience_rule_updated_total", 1)

	return next.clone(), nil
}

// Delete removes the rule with the given id. The fingerprint index entry
// is removed only when it still points at this id.
func (s *Store) Delete(id string) error {
	if s.gated() {
		return ErrStoreGated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrRuleNotFound)
	}

	delete(s.byID, id)
	if owner, ok := s.byFingerprint[rule.Fingerprint]; ok && owner == id {
		delete(s.byFingerprint, rule.Fingerprint)
	}
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.obs.Inc("experience_rule_deleted_total", 1)
	s.obs.SetGauge("experience_rules_total", float64(len(s.byID)))

	return nil
}

// SearchQuery parameterizes a ranked lexical search. All filters are
// conjunctive; empty fields match everything.
type SearchQuery struct {
	Text     string
	Tag      string
	Category string
	Status   string
	Limit    int
}

// Search returns rules matching the query, ranked by a lexical score:
// 2.0 for a text match in the title, 1.0 for a match in the content, plus
// 0.5 times confidence and 0.5 times weight. Ties keep discovery order.
// The limit is clamped into [1, 200].
func (s *Store) Search(q SearchQuery) []Rule {
	limit := q.Limit
	if limit < MinSearchLimit {
		limit = MinSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	text := strings.ToLower(q.Text)
	tag := strings.ToLower(q.Tag)
	category := strings.ToLower(q.Category)
	status := strings.ToLower(q.Status)

	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		rule  Rule
		score float64
	}
	var hits []scored
	for _, id := range s.order {
		rule, ok := s.byID[id]
		if !ok {
			continue
		}
		if category != "" && strings.ToLower(rule.Category) != category {
			continue
		}
		if status != "" && strings.ToLower(string(rule.Status)) != status {
			continue
		}
		if tag != "" && !strings.Contains(strings.ToLower(strings.Join(rule.Tags, ",")), tag) {
			continue
		}

		score := 0.0
		if text != "" {
			inTitle := strings.Contains(strings.ToLower(rule.Title), text)
			inContent := strings.Contains(strings.ToLower(rule.Content), text)
			if !inTitle && !inContent {
				continue
			}
			if inTitle {
				score += 2.0
			}
			if inContent {
				score += 1.0
			}
		}
		score += 0.5*rule.Confidence + 0.5*rule.Weight

		hits = append(hits, scored{rule: rule.clone(), score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Rule, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.rule)
	}
	return out
}

// ImportBatch applies Add per item and reports how many rules were
// imported versus skipped. Dedup hits and per-item failures both count as
// duplicates; a single bad item never aborts the batch.
func (s *Store) ImportBatch(rules []Rule, upsert, dedup bool) (imported, duplicates int, err error) {
	if len(rules) == 0 {
		return 0, 0, ErrEmptyImport
	}
	if s.gated() {
		return 0, 0, ErrStoreGated
	}

	for _, rule := range rules {
		_, outcome, addErr := s.Add(rule, dedup, upsert)
		if addErr != nil || outcome == AddDeduplicated {
			duplicates++
			continue
		}
		imported++
	}

	s.obs.Inc("experience_import_total", 1)

	return imported, duplicates, nil
}

// ListAll returns every rule in discovery order.
func (s *Store) ListAll() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Rule, 0, len(s.byID))
	for _, id := range s.order {
		if rule, ok := s.byID[id]; ok {
			out = append(out, rule.clone())
		}
	}
	return out
}

// Stats summarizes the store's contents.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByCategory map[string]int `json:"by_category"`
}

// Stats counts rules by status and category.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Total:      len(s.byID),
		ByStatus:   make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, rule := range s.byID {
		st.ByStatus[string(rule.Status)]++
		st.ByCategory[rule.Category]++
	}
	return st
}

// draftCount counts rules with draft status. Callers hold no lock.
func (s *Store) draftCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rule := range s.byID {
		if rule.Status == StatusDraft {
			n++
		}
	}
	return n
}
