// Package cognitive holds the read-side engines built on the metadata
// façade: the proactive surfacer, the spaced-repetition recall engine, tag
// pattern detection, temporal relationships and question generation.
//
// Engines never write to the catalog except where they record an outcome the
// user produced (a review, a surfaced item). Time comes from the façade clock
// so tests can pin it.
package cognitive
