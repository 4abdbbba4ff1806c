// ABOUTME: BM25 lexical ranking over an in-memory document set.
// ABOUTME: Standard Okapi parameters, deterministic tokenization.

package search

import (
	"math"
	"strings"
	"unicode"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Tokenize lowercases the text and splits on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// bm25Corpus holds per-corpus statistics computed once per query.
type bm25Corpus struct {
	docTerms  []map[string]int // term frequency per document
	docLens   []int
	avgDocLen float64
	docFreq   map[string]int // number of documents containing each term
}

// newBM25Corpus indexes the given texts (title and content concatenated
// upstream). The index is query-independent but cheap enough to rebuild per
// request for the corpus sizes the tool server works with.
func newBM25Corpus(texts []string) *bm25Corpus {
	c := &bm25Corpus{
		docTerms: make([]map[string]int, len(texts)),
		docLens:  make([]int, len(texts)),
		docFreq:  make(map[string]int),
	}

	totalLen := 0
	for i, text := range texts {
		tokens := Tokenize(text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		c.docTerms[i] = tf
		c.docLens[i] = len(tokens)
		totalLen += len(tokens)
		for term := range tf {
			c.docFreq[term]++
		}
	}
	if len(texts) > 0 {
		c.avgDocLen = float64(totalLen) / float64(len(texts))
	}
	return c
}

// score computes the BM25 score of document i for the query terms.
func (c *bm25Corpus) score(i int, queryTerms []string) float64 {
	if c.docLens[i] == 0 || c.avgDocLen == 0 {
		return 0
	}

	n := float64(len(c.docTerms))
	var score float64
	for _, term := range queryTerms {
		tf := float64(c.docTerms[i][term])
		if tf == 0 {
			continue
		}
		df := float64(c.docFreq[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(c.docLens[i])/c.avgDocLen))
		score += idf * norm
	}
	return score
}
