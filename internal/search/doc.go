// ABOUTME: Hybrid document ranking combining lexical and semantic signals.
// ABOUTME: BM25 plus embedding cosine similarity fused by weighted score sum.

// Package search ranks tenant document sets for the tool server. Both
// signals are deterministic for identical inputs and identical corpora;
// fused results are ordered by score descending with document ID ascending
// as the tie-break.
package search
