package search

import (
	"strconv"

	"github.com/blevesearch/bleve/v2"
)

// scoreBM25 builds a transient in-memory full-text index over snippets and
// scores them against query, giving SearchEngine a real BM25-family score
// (spec §4.8 step 4) instead of trusting each backend's own relevance
// metric. The index lives only for the duration of one external_lookup
// call — cheap at the result-set sizes a single query produces.
//
// Grounded on spec.md's go.mod wiring of `github.com/blevesearch/bleve/v2`
// (no repo in the retrieval pack uses a full-text search library directly;
// bleve is the standard pure-Go choice for exactly this, named here rather
// than hand-rolling term-frequency scoring on the standard library).
func scoreBM25(query string, snippets []string) ([]float64, error) {
	scores := make([]float64, len(snippets))
	if len(snippets) == 0 {
		return scores, nil
	}

	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	for i, snippet := range snippets {
		if err := idx.Index(strconv.Itoa(i), map[string]string{"text": snippet}); err != nil {
			return nil, err
		}
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = len(snippets)
	res, err := idx.Search(req)
	if err != nil {
		return nil, err
	}
	for _, hit := range res.Hits {
		i, convErr := strconv.Atoi(hit.ID)
		if convErr != nil {
			continue
		}
		scores[i] = hit.Score
	}
	return scores, nil
}

// minMaxNormalize rescales raw to [0,1] (spec §4.8: "bm25_norm — BM25 score
// normalised to [0,1] across the local set"). When every value is equal
// (including the single-result case), all entries normalise to 1.0 — there
// is no basis within the local set to rank them apart.
func minMaxNormalize(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	min, max := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, v := range raw {
		out[i] = (v - min) / (max - min)
	}
	return out
}
