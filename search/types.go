// Package search implements the Hybrid Search & Ranking Engine (spec
// §4.8): multi-backend retrieval behind a fingerprint-keyed cache, with
// BM25/semantic/credibility ranking fusion.
package search

import (
	"context"
	"net/url"
	"strings"

	"github.com/ravenoak/autoresearch/core"
)

// RawResult is what a SearchBackend returns before ranking fusion.
type RawResult struct {
	Title   string
	URL     string
	Snippet string
	// BM25 is the backend's own relevance score, if it has one. SearchEngine
	// prefers its own locally-computed BM25 (spec §4.8 step 4) but falls
	// back to this when local scoring can't run.
	BM25 float64
}

// SearchResult is spec §3's ranked result record. A ranked list of these is
// non-increasing in FinalScore (property P1).
type SearchResult struct {
	Title              string
	URL                string
	Snippet            string
	Backend            string
	BM25               float64
	SemanticSimilarity float64
	Credibility        float64
	FinalScore         float64
}

// QueryOptions is passed to SearchBackend.Query (spec §6).
type QueryOptions struct {
	MaxResults     int
	Offset         int
	BackendVersion string
}

// SearchBackend is the capability external_lookup consults (spec §6).
type SearchBackend interface {
	Name() string
	Query(ctx context.Context, query string, opts QueryOptions) ([]RawResult, error)
}

// Embedder is the capability used for the hybrid_query semantic-similarity
// pass (spec §6: "Embedder.embed(text) → fixed-dim float vector").
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Weights are the ranking-fusion weights from RuntimeConfig
// (search.bm25_weight, search.semantic_similarity_weight,
// search.source_credibility_weight — spec §6).
type Weights struct {
	BM25        float64
	Semantic    float64
	Credibility float64
}

// Normalize implements spec §4.8 step 5 / property P2: negative weights are
// rejected, a sum over 1 is rejected, a sum of exactly 0 rebases to an even
// split, and any sum in (0,1] is scaled up proportionally to sum to 1.
func (w Weights) Normalize() (Weights, error) {
	if w.BM25 < 0 || w.Semantic < 0 || w.Credibility < 0 {
		return Weights{}, core.New(core.KindCritical, "searchengine", "normalize_weights", errWeightsNegative)
	}
	sum := w.BM25 + w.Semantic + w.Credibility
	switch {
	case sum > 1:
		return Weights{}, core.New(core.KindCritical, "searchengine", "normalize_weights", errWeightsExceedOne)
	case sum == 0:
		const even = 1.0 / 3.0
		return Weights{BM25: even, Semantic: even, Credibility: even}, nil
	default:
		scale := 1.0 / sum
		return Weights{BM25: w.BM25 * scale, Semantic: w.Semantic * scale, Credibility: w.Credibility * scale}, nil
	}
}

// LookupConfig is external_lookup's per-call config (spec §4.8).
type LookupConfig struct {
	Weights        Weights
	HybridQuery    bool
	BackendVersion string
	MaxResults     int
}

// normalizeQuery collapses whitespace and lowercases, so that queries
// differing only in casing/spacing share a cache fingerprint.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// domainOf extracts the host (minus a leading "www.") from a URL for
// DomainAuthorityScore lookups, defaulting to the raw string on parse
// failure so a malformed URL never panics the ranking pass.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Host, "www.")
}
