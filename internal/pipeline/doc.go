// Package pipeline drives a podcast episode from its enclosure URL to a
// cleaned, transcribed catalog row.
//
// The orchestrator runs five stages in order: download, detect, cut,
// transcribe and write-back. Each stage is skipped when the row already holds
// its outputs, so a failed or cancelled run resumes from the earliest missing
// stage. Collaborators (downloader, prober, detector, cutter, discoverer,
// transcriber) are interfaces; production wiring lives in NewFromConfig.
//
// At most one run per content UID is active in a process; a second call
// returns services.ErrAlreadyInFlight. ProcessPending additionally holds a
// file lock in the data directory so two batch runs never overlap.
package pipeline
