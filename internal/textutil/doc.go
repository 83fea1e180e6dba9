// Package textutil provides text helpers shared by ingestion, discovery, and
// the cognitive engines: tag folding, sentence splitting, filesystem-safe
// slugs, and token fingerprints for fuzzy title comparison.
package textutil
