package rulebank

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Common errors for rule store operations.
var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrStoreGated   = errors.New("store writes gated by current operating state")
	ErrEmptyImport  = errors.New("import batch contains no items")
)

// Status is the lifecycle state of a rule.
type Status string

const (
	// StatusActive indicates the rule participates in normal searches.
	StatusActive Status = "active"

	// StatusDraft indicates the rule is a candidate pending human review.
	StatusDraft Status = "draft"

	// StatusDeprecated indicates the rule was rejected or retired.
	StatusDeprecated Status = "deprecated"
)

// Defaults substituted for missing optional fields.
const (
	DefaultCategory   = "general"
	DefaultVersion    = "v1"
	DefaultConfidence = 0.7
	DefaultWeight     = 1.0
)

// Rule is the unit of stored knowledge.
type Rule struct {
	// ID is the unique rule identifier (UUID), assigned once at creation.
	ID string `json:"id"`

	// Title is a brief summary of the rule.
	Title string `json:"title"`

	// Content is the rule body.
	Content string `json:"content"`

	// Category groups rules; defaults to "general".
	Category string `json:"category"`

	// Tags are labels for filtering. Order is preserved and duplicates
	// are allowed.
	Tags []string `json:"tags"`

	// Sources records where the rule came from.
	Sources []string `json:"sources"`

	// Version is a caller-managed semantic version tag.
	Version string `json:"version"`

	// Confidence is a score from 0.0 to 1.0 used in search ranking.
	Confidence float64 `json:"confidence"`

	// Weight is an unbounded ranking weight.
	Weight float64 `json:"weight"`

	// Status is active, draft, or deprecated.
	Status Status `json:"status"`

	// CreatedAt is immutable once set.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is refreshed on every mutation.
	UpdatedAt time.Time `json:"updated_at"`

	// Fingerprint is the dedup digest of the normalized title and content.
	Fingerprint string `json:"fingerprint"`
}

// Fingerprint computes the dedup digest: hex SHA-256 over the normalized
// (trimmed, lower-cased) title and content joined by a newline. Two rules
// with the same fingerprint are considered duplicates.
func Fingerprint(title, content string) string {
	base := normalize(title) + "\n" + normalize(content)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// applyDefaults substitutes sensible defaults for missing optional fields.
// Malformed optional input never fails a store operation.
func (r *Rule) applyDefaults() {
	if r.Category == "" {
		r.Category = DefaultCategory
	}
	if r.Version == "" {
		r.Version = DefaultVersion
	}
	if r.Confidence == 0 {
		r.Confidence = DefaultConfidence
	}
	if r.Weight == 0 {
		r.Weight = DefaultWeight
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.Sources == nil {
		r.Sources = []string{}
	}
}

// clone returns a deep copy so callers can never mutate stored state.
func (r *Rule) clone() Rule {
	out := *r
	out.Tags = append([]string{}, r.Tags...)
	out.Sources = append([]string{}, r.Sources...)
	return out
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Category   *string   `json:"category"`
	Tags       *[]string `json:"tags"`
	Sources    *[]string `json:"sources"`
	Version    *string   `json:"version"`
	Confidence *float64  `json:"confidence"`
	Weight     *float64  `json:"weight"`
	Status     *Status   `json:"status"`
}

// CompactRule is the short-key wire shape used for snapshot persistence.
type CompactRule struct {
	ID          string    `json:"id"`
	Title       string    `json:"t"`
	Content     string    `json:"c"`
	Category    string    `json:"ctg"`
	Tags        []string  `json:"tags"`
	Sources     []string  `json:"src"`
	Version     string    `json:"v"`
	Confidence  float64   `json:"cf"`
	Weight      float64   `json:"w"`
	Status      string    `json:"s"`
	CreatedAt   time.Time `json:"ca"`
	UpdatedAt   time.Time `json:"ua"`
	Fingerprint string    `json:"fp"`
}

// ToCompact converts a rule to the compact shape.
func (r Rule) ToCompact() CompactRule {
	return CompactRule{
		ID:          r.ID,
		Title:       r.Title,
		Content:     r.Content,
		Category:    r.Category,
		Tags:        r.Tags,
		Sources:     r.Sources,
		Version:     r.Version,
		Confidence:  r.Confidence,
		Weight:      r.Weight,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Fingerprint: r.Fingerprint,
	}
}

// FromCompact converts a compact record back to a rule, substituting
// defaults for missing optional fields.
func FromCompact(c CompactRule) Rule {
	r := Rule{
		ID:          c.ID,
		Title:       c.Title,
		Content:     c.Content,
		Category:    c.Category,
		Tags:        c.Tags,
		Sources:     c.Sources,
		Version:     c.Version,
		Confidence:  c.Confidence,
		Weight:      c.Weight,
		Status:      Status(c.Status),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Fingerprint: c.Fingerprint,
	}
	r.applyDefaults()
	return r
}

// Observer is the observability port the store and harvester write through.
// Implementations must never fail; telemetry is best-effort and a telemetry
// problem must never fail a business operation.
type Observer interface {
	Inc(name string, n int64)
	SetGauge(name string, value float64)
	Observe(name string, ms float64)
	Log(level, message, module string, tags []string, extra map[string]any)
}

// NopObserver satisfies Observer and does nothing. It keeps tests free of
// special cases for "telemetry disabled".
type NopObserver struct{}

func (NopObserver) Inc(string, int64)        {}
func (NopObserver) SetGauge(string, float64) {}
func (NopObserver) Observe(string, float64)  {}

func (NopObserver) Log(string, string, string, []string, map[string]any) {}

// StateProvider reports the current operating state of the process. When it
// reports "sleeping" the store refuses mutating operations.
type StateProvider interface {
	CurrentState() string
}

// StateSleeping is the operating state that gates store writes.
const StateSleeping = "sleeping"
