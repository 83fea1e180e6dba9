// Package preflight provides readiness checks for the filesystem paths and
// external services Atlas depends on.
//
// The CLI "atlas validate" command runs RunAll alongside the catalog health
// check, and "atlas process podcasts" refuses to start when the data
// directory is not writable or nearly full. Checks for optional services are
// skipped when the service is not configured.
package preflight
