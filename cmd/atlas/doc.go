// Package main hosts the Atlas CLI entrypoint and command graph.
//
// The Cobra-based command tree covers catalog maintenance (init, validate,
// stats, migrate), source ingestion, the article, podcast and YouTube
// processing batches, the cognitive engines, and the scheduled job registry.
// It centralizes configuration resolution, logger construction and catalog
// lifetime so subcommands only describe what they do.
//
// Keep this package lean: add new functionality to the internal packages
// first, then surface it through a command or flag here.
package main
