// Package llm provides an OpenRouter-compatible chat completion client.
//
// The question engine uses it to append model-written recall questions to its
// templated ones. The client is optional: with no API key configured callers
// skip it entirely.
//
// Requests retry on HTTP 408/429/5xx, empty completions, and network timeouts
// with exponential backoff (base 1s, max 10s, five attempts by default).
// Context cancellation aborts retries immediately. Failures carry the
// services error markers so callers can tell transient from permanent.
package llm
