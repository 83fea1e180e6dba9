// Package logs reads the Atlas log file for the "atlas logs" command.
//
// Tail returns the last N lines or everything after a byte offset, and can
// poll for new lines in follow mode. Filter narrows JSON-formatted lines to a
// content uid, event type or minimum level; console lines pass through when
// no field filter is set.
package logs
