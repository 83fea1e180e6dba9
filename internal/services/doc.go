// Package services defines shared utilities consumed by the catalog, the audio
// pipeline, and the external collaborators it drives.
//
// Key responsibilities:
//   - Context helpers that stamp content UIDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so a failure can be
//     classified (retryable, permanent, cancelled) wherever it surfaces.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
