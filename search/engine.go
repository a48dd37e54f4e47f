package search

import (
	"context"
	"math"
	"sort"

	"github.com/ravenoak/autoresearch/core"
)

// EngineConfig wires a SearchEngine's fixed dependencies (as distinct from
// LookupConfig, which varies per external_lookup call).
type EngineConfig struct {
	Backends []SearchBackend
	Embedder Embedder
	Cache    *SearchCache
	// DomainAuthority maps a host to its credibility score in [0,1];
	// unlisted domains default to 0.5 (spec §4.8 step 4).
	DomainAuthority map[string]float64
	Logger          core.Logger
}

// SearchEngine is the Hybrid Search & Ranking Engine (spec §4.8).
type SearchEngine struct {
	backends        []SearchBackend
	embedder        Embedder
	cache           *SearchCache
	domainAuthority map[string]float64
	logger          core.Logger
}

func NewSearchEngine(cfg EngineConfig) *SearchEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	domainAuthority := cfg.DomainAuthority
	if domainAuthority == nil {
		domainAuthority = map[string]float64{}
	}
	return &SearchEngine{
		backends:        cfg.Backends,
		embedder:        cfg.Embedder,
		cache:           cfg.Cache,
		domainAuthority: domainAuthority,
		logger:          logger,
	}
}

type candidate struct {
	raw     RawResult
	backend string
}

// ExternalLookup runs spec §4.8's algorithm: per-backend cached retrieval,
// BM25/semantic/credibility scoring, weighted fusion, and a stable
// descending sort (property P1). It is a pure function of cache state,
// backend outputs, and cfg — when a Cache is configured, repeated calls
// with identical inputs invoke each backend at most once per fingerprint
// (property P6); without one, every call queries every backend.
func (e *SearchEngine) ExternalLookup(ctx context.Context, query string, cfg LookupConfig) ([]SearchResult, error) {
	weights, err := cfg.Weights.Normalize()
	if err != nil {
		return nil, err
	}
	normalizedQuery := normalizeQuery(query)

	var candidates []candidate
	for _, backend := range e.backends {
		raws, err := e.fetchBackend(ctx, backend, normalizedQuery, cfg)
		if err != nil {
			e.logger.Warn("searchengine: backend query failed, skipping", map[string]interface{}{"backend": backend.Name(), "error": err})
			continue
		}
		for _, r := range raws {
			candidates = append(candidates, candidate{raw: r, backend: backend.Name()})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	snippets := make([]string, len(candidates))
	rawBM25 := make([]float64, len(candidates))
	for i, c := range candidates {
		snippets[i] = c.raw.Title + " " + c.raw.Snippet
		rawBM25[i] = c.raw.BM25
	}
	if scored, err := scoreBM25(normalizedQuery, snippets); err == nil {
		rawBM25 = scored
	} else {
		e.logger.Warn("searchengine: local BM25 scoring failed, using backend-reported scores", map[string]interface{}{"error": err})
	}
	bm25Norm := minMaxNormalize(rawBM25)

	var queryEmbedding []float32
	if cfg.HybridQuery && e.embedder != nil {
		queryEmbedding, err = e.embedder.Embed(ctx, normalizedQuery)
		if err != nil {
			e.logger.Warn("searchengine: query embedding failed, falling back to neutral similarity", map[string]interface{}{"error": err})
			queryEmbedding = nil
		}
	}

	results := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		semSim := 0.5
		if queryEmbedding != nil {
			if resultEmbedding, embErr := e.embedder.Embed(ctx, snippets[i]); embErr == nil {
				semSim = cosineSimilarity(queryEmbedding, resultEmbedding)
			}
		}
		cred, ok := e.domainAuthority[domainOf(c.raw.URL)]
		if !ok {
			cred = 0.5
		}
		results[i] = SearchResult{
			Title:              c.raw.Title,
			URL:                c.raw.URL,
			Snippet:            c.raw.Snippet,
			Backend:            c.backend,
			BM25:               bm25Norm[i],
			SemanticSimilarity: semSim,
			Credibility:        cred,
			FinalScore:         combineScore(weights, bm25Norm[i], semSim, cred),
		}
	}

	return rankResults(results), nil
}

func (e *SearchEngine) fetchBackend(ctx context.Context, backend SearchBackend, normalizedQuery string, cfg LookupConfig) ([]RawResult, error) {
	if e.cache == nil {
		return backend.Query(ctx, normalizedQuery, QueryOptions{MaxResults: cfg.MaxResults, BackendVersion: cfg.BackendVersion})
	}

	key := CacheKey{
		BackendID:        backend.Name(),
		BackendVersion:   cfg.BackendVersion,
		QueryFingerprint: Fingerprint(normalizedQuery, backend.Name(), cfg.BackendVersion),
		EmbeddingPolicy:  embeddingPolicyLabel(cfg.HybridQuery),
	}
	if cached, ok := e.cache.Get(ctx, key); ok {
		return cached, nil
	}
	raws, err := backend.Query(ctx, normalizedQuery, QueryOptions{MaxResults: cfg.MaxResults, BackendVersion: cfg.BackendVersion})
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, key, raws)
	return raws, nil
}

// combineScore implements spec §4.8 step 5's weighted fusion.
func combineScore(w Weights, bm25Norm, semSim, cred float64) float64 {
	return w.BM25*bm25Norm + w.Semantic*semSim + w.Credibility*cred
}

// rankResults sorts descending by FinalScore, stable so ties preserve
// insertion order (spec §4.8 step 6, property P1).
func rankResults(results []SearchResult) []SearchResult {
	sort.SliceStable(results, func(i, j int) bool { return results[i].FinalScore > results[j].FinalScore })
	return results
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.5
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp into [0,1]: spec §4.8 defines sem_sim as cosine similarity in
	// [0,1], so a negative cosine (semantically opposed text) floors at 0
	// rather than producing a final_score-destabilising negative term.
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
