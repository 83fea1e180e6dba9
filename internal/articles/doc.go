// Package articles fetches ingested article and Instapaper rows and renders
// their readable content into the articles artifact tree:
//
//	<data_dir>/articles/html/<uid>.html
//	<data_dir>/articles/markdown/<uid>.md
//	<data_dir>/articles/metadata/<uid>.json
//
// A rendered row moves through processing to completed with the three
// artifact pointers set. Fetch and render failures move it to error with
// the failing stage recorded, and a later run retries it.
//
// YouTube rows follow the same lifecycle. ProcessVideo reads the watch page
// meta tags, optionally discovers a published transcript, and writes
// <data_dir>/youtube/transcripts/<uid>.md with a JSON sidecar under
// <data_dir>/youtube/videos.
package articles
