// Package rulebank provides the experience rule store for rulebankd.
//
// Rules are curated units of operational knowledge (title + content plus
// ranking metadata). The store keeps them in memory under a single lock,
// deduplicates by a content fingerprint, and supports ranked lexical search.
// Persistence is a best-effort snapshot file written at process shutdown.
//
// # Core Concepts
//
// Each rule has:
//   - Title and content; every mutation recomputes a SHA-256 fingerprint
//     over the normalized (trimmed, lower-cased) concatenation of both
//   - Confidence (0.0-1.0) and weight, used only for search ranking
//   - Status: active, draft (pending review), or deprecated
//
// # Deduplication
//
// The fingerprint index is advisory: Add with dedup enabled returns the
// existing rule instead of inserting a second copy, but direct updates may
// leave stale index entries behind. That drift is accepted; the index is a
// dedup-on-insert cache, not a uniqueness constraint.
//
// # Candidate Workflow
//
// Candidates are rules inserted with status forced to draft. Reviewers
// approve (status active) or reject (status deprecated) them. The harvester
// mines the telemetry log ring for recurring warning/error patterns and
// proposes candidates automatically, with deterministic fingerprints so
// repeated harvests of an unchanged pattern dedup naturally.
package rulebank
