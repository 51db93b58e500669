package rulebank

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/rulebank/internal/telemetry"
)

// harvestFetchCeiling bounds how many log events a single harvest pulls
// from the ring, independent of the search limit.
const harvestFetchCeiling = 1000

// breakdownTopN is how many sources the harvest summary log reports.
const breakdownTopN = 5

// Harvest defaults.
const (
	DefaultHarvestMinCount      = 3
	DefaultHarvestSinceSeconds  = 900
	DefaultHarvestMinConfidence = 0.6
	DefaultHarvestMaxCandidates = 10
	DefaultHarvestMinSamples    = 20
)

// DefaultHarvestLevels returns the severities harvested by default.
func DefaultHarvestLevels() []string {
	return []string{"ERROR", "WARN"}
}

// HarvestConfig tunes the auto-harvester. It is replaced wholesale, never
// field-patched, so readers always observe a coherent set of thresholds.
type HarvestConfig struct {
	// Enabled turns harvesting on. Disabled harvests return created=0.
	Enabled bool `json:"enabled"`

	// MinCount is the per-(module, level) frequency a pattern must reach
	// to become a candidate.
	MinCount int `json:"min_count"`

	// IncludeLevels lists the severities considered, upper-cased.
	IncludeLevels []string `json:"include_levels"`

	// SinceSeconds is the lookback window.
	SinceSeconds int `json:"since_seconds"`

	// MinConfidence is assigned to synthesized candidates.
	MinConfidence float64 `json:"min_confidence"`

	// MaxCandidates caps how many candidates one harvest may create.
	MaxCandidates int `json:"max_candidates"`

	// MinSamples is the minimum raw sample count below which a harvest
	// skips entirely.
	MinSamples int `json:"min_samples"`
}

// DefaultHarvestConfig returns the stock thresholds with harvesting off.
func DefaultHarvestConfig() HarvestConfig {
	return HarvestConfig{
		Enabled:       false,
		MinCount:      DefaultHarvestMinCount,
		IncludeLevels: DefaultHarvestLevels(),
		SinceSeconds:  DefaultHarvestSinceSeconds,
		MinConfidence: DefaultHarvestMinConfidence,
		MaxCandidates: DefaultHarvestMaxCandidates,
		MinSamples:    DefaultHarvestMinSamples,
	}
}

// normalize fills zero-valued thresholds with defaults and upper-cases
// severity names.
func (c HarvestConfig) normalize() HarvestConfig {
	if c.MinCount <= 0 {
		c.MinCount = DefaultHarvestMinCount
	}
	if len(c.IncludeLevels) == 0 {
		c.IncludeLevels = DefaultHarvestLevels()
	}
	for i, lvl := range c.IncludeLevels {
		c.IncludeLevels[i] = strings.ToUpper(lvl)
	}
	if c.SinceSeconds <= 0 {
		c.SinceSeconds = DefaultHarvestSinceSeconds
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultHarvestMinConfidence
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultHarvestMaxCandidates
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultHarvestMinSamples
	}
	return c
}

// CandidateFingerprint derives the deterministic dedup digest for a
// harvested pattern: the first 16 hex characters of the SHA-256 of
// "module|LEVEL|count|since". Repeated harvests of an unchanged pattern
// produce the same digest and dedup away.
func CandidateFingerprint(module, level string, count, sinceSeconds int) string {
	base := fmt.Sprintf("%s|%s|%d|%d", module, strings.ToUpper(level), count, sinceSeconds)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])[:16]
}

// LogSource is the harvester's view of the telemetry log ring.
type LogSource interface {
	RecentLogs(sinceSeconds, max int) []telemetry.Event
}

// HarvestResult reports one harvest run.
type HarvestResult struct {
	// Created is the number of genuinely new draft rules; dedup hits are
	// excluded.
	Created int `json:"created"`

	// Samples is the raw event count pulled from the ring before
	// severity filtering.
	Samples int `json:"samples"`

	// Skipped names the guard that stopped the run, empty when it ran.
	Skipped string `json:"skipped,omitempty"`
}

// Harvester mines the telemetry log ring for recurring warning and error
// patterns and proposes draft rules for them. It keeps no state of its own
// beyond the shared config; idempotence comes from deterministic candidate
// fingerprints, not from remembering past runs.
type Harvester struct {
	store *Store
	logs  LogSource
	obs   Observer

	cfgMu sync.RWMutex
	cfg   HarvestConfig
}

// NewHarvester wires a harvester to a store and a log source. A nil
// observer degrades to no-op telemetry.
func NewHarvester(store *Store, logs LogSource, obs Observer, cfg HarvestConfig) *Harvester {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Harvester{
		store: store,
		logs:  logs,
		obs:   obs,
		cfg:   cfg.normalize(),
	}
}

// Config returns the current thresholds.
func (h *Harvester) Config() HarvestConfig {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	cfg := h.cfg
	cfg.IncludeLevels = append([]string{}, h.cfg.IncludeLevels...)
	return cfg
}

// SetConfig replaces the thresholds wholesale.
func (h *Harvester) SetConfig(cfg HarvestConfig) {
	cfg = cfg.normalize()
	h.cfgMu.Lock()
	h.cfg = cfg
	h.cfgMu.Unlock()
}

type pattern struct {
	module  string
	level   string
	count   int
	example string
}

// Harvest runs one mining pass. Concurrent runs are tolerated: insertion
// is dedup-protected, so overlap wastes work but cannot duplicate rules.
func (h *Harvester) Harvest() (HarvestResult, error) {
	cfg := h.Config()

	if !cfg.Enabled {
		h.obs.Log("INFO", "auto_candidate_harvest skipped: disabled", "rulebank",
			[]string{"harvest", "skip"}, map[string]any{"reason": "disabled"})
		return HarvestResult{Skipped: "disabled"}, nil
	}

	events := h.logs.RecentLogs(cfg.SinceSeconds, harvestFetchCeiling)
	samples := len(events)

	if samples < cfg.MinSamples {
		h.obs.SetGauge("experience_auto_candidate_last_created", 0)
		h.obs.Log("INFO", "auto_candidate_harvest skipped: below sample floor", "rulebank",
			[]string{"harvest", "skip"}, map[string]any{
				"reason":      "min_samples",
				"samples":     samples,
				"min_samples": cfg.MinSamples,
			})
		return HarvestResult{Samples: samples, Skipped: "min_samples"}, nil
	}

	include := make(map[string]bool, len(cfg.IncludeLevels))
	for _, lvl := range cfg.IncludeLevels {
		include[lvl] = true
	}

	byKey := make(map[string]*pattern)
	var keys []string
	for _, ev := range events {
		if !include[ev.Level] {
			continue
		}
		module := ev.Module
		if module == "" {
			module = "unknown"
		}
		key := module + "|" + ev.Level
		p, ok := byKey[key]
		if !ok {
			p = &pattern{module: module, level: ev.Level, example: ev.Message}
			byKey[key] = p
			keys = append(keys, key)
		}
		p.count++
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return byKey[keys[i]].count > byKey[keys[j]].count
	})

	created := 0
	for _, key := range keys {
		if created >= cfg.MaxCandidates {
			break
		}
		p := byKey[key]
		if p.count < cfg.MinCount {
			continue
		}

		rule := Rule{
			Title: fmt.Sprintf("%s high-%s frequency reflection",
				p.module, strings.ToLower(p.level)),
			Content: fmt.Sprintf("Observed %d %s logs in %s within last %ds.",
				p.count, p.level, p.module, cfg.SinceSeconds),
			Category:    "reflection",
			Tags:        []string{p.module, p.level, "auto"},
			Sources:     []string{"telemetry"},
			Confidence:  cfg.MinConfidence,
			Fingerprint: CandidateFingerprint(p.module, p.level, p.count, cfg.SinceSeconds),
		}
		_, outcome, err := h.store.AddCandidate(rule, true, false)
		if err != nil {
			return HarvestResult{Created: created, Samples: samples},
				fmt.Errorf("harvest insert: %w", err)
		}
		if outcome == AddCreated {
			created++
		}
	}

	h.obs.SetGauge("experience_candidates_total", float64(h.store.draftCount()))
	h.obs.SetGauge("experience_auto_candidate_last_created", float64(created))
	h.obs.Inc("experience_auto_candidate_harvest_total", 1)
	h.obs.Log("INFO", "auto_candidate_harvest", "rulebank",
		[]string{"harvest"}, map[string]any{
			"created": created,
			"samples": samples,
			"sources": topBreakdown(byKey, keys, breakdownTopN),
		})

	return HarvestResult{Created: created, Samples: samples}, nil
}

// topBreakdown summarizes the most frequent patterns for the harvest log
// event. keys must already be sorted by descending count.
func topBreakdown(byKey map[string]*pattern, keys []string, n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for _, key := range keys {
		if len(out) >= n {
			break
		}
		p := byKey[key]
		out = append(out, map[string]any{
			"module": p.module,
			"level":  p.level,
			"count":  p.count,
		})
	}
	return out
}
