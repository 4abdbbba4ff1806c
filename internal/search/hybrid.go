// ABOUTME: Weighted-score fusion of BM25 and vector rankings.
// ABOUTME: Deterministic ordering with doc-ID tie-breaks and graceful zero weights.

package search

import (
	"sort"

	"github.com/quarrydev/quarry/internal/store"
)

// Result is a document with its query-time scores attached.
type Result struct {
	Document    *store.Document
	BM25Score   float64
	VectorScore float64
	Score       float64
}

// Params controls a hybrid query. Weights need not sum to 1; they are
// normalized. A zero weight for one signal degrades to a pure ranking by
// the other; both zero falls back to an even split.
type Params struct {
	Query          string
	QueryEmbedding []float32
	Limit          int
	BM25Weight     float64
	VectorWeight   float64
}

// DefaultLimit bounds result sets when the caller does not specify one.
const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// Hybrid ranks the given documents for the query and returns the top
// results by fused score descending, ties broken by document ID ascending.
// The input slice is never mutated.
func Hybrid(docs []*store.Document, params Params) []Result {
	if len(docs) == 0 || params.Query == "" {
		return nil
	}

	bm25W, vecW := normalizeWeights(params.BM25Weight, params.VectorWeight)

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	// Lexical signal
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Title + " " + doc.Content
	}
	corpus := newBM25Corpus(texts)
	queryTerms := Tokenize(params.Query)

	// Semantic signal: use the caller's embedding when supplied; otherwise
	// derive hash embeddings for the query and any document lacking one.
	queryVec := params.QueryEmbedding
	derived := queryVec == nil
	if derived {
		queryVec = HashEmbedding(params.Query)
	}

	results := make([]Result, len(docs))
	for i, doc := range docs {
		docVec := doc.Embedding
		if docVec == nil && derived {
			docVec = HashEmbedding(texts[i])
		}
		results[i] = Result{
			Document:    doc,
			BM25Score:   corpus.score(i, queryTerms),
			VectorScore: CosineSimilarity(queryVec, docVec),
		}
	}

	// Min-max normalize each signal across candidates so the weights
	// compare like with like, then fuse.
	bm25Lo, bm25Hi := scoreRange(results, func(r Result) float64 { return r.BM25Score })
	vecLo, vecHi := scoreRange(results, func(r Result) float64 { return r.VectorScore })
	for i := range results {
		results[i].Score = bm25W*normalize(results[i].BM25Score, bm25Lo, bm25Hi) +
			vecW*normalize(results[i].VectorScore, vecLo, vecHi)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// normalizeWeights scales the weight pair to sum to 1, defaulting to an
// even split when both are zero or negative.
func normalizeWeights(bm25W, vecW float64) (float64, float64) {
	if bm25W < 0 {
		bm25W = 0
	}
	if vecW < 0 {
		vecW = 0
	}
	total := bm25W + vecW
	if total == 0 {
		return 0.5, 0.5
	}
	return bm25W / total, vecW / total
}

func scoreRange(results []Result, get func(Result) float64) (lo, hi float64) {
	lo = get(results[0])
	hi = lo
	for _, r := range results[1:] {
		v := get(r)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// normalize maps v into [0, 1] over the observed range. A degenerate range
// (all candidates equal) contributes a constant, leaving ordering to the
// other signal and the tie-break.
func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}
