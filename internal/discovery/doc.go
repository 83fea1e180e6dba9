// Package discovery finds and extracts existing transcripts for podcast
// episodes before the pipeline falls back to generating one.
//
// A sweep walks the configured methods in a fixed order (two dedicated
// transcript services, the publisher's website, then a web search). Each
// method proposes candidate pages with a confidence; the first candidate at
// or above the acceptance threshold whose extracted text is long enough wins
// and is persisted under the transcripts directory. Every request is bounded
// by a timeout and spaced by a shared rate limiter, and a failing source never
// aborts the sweep.
package discovery
