// Package whisperx generates transcripts for podcast audio with WhisperX.
//
// The service extracts a mono 16kHz WAV with ffmpeg, runs WhisperX through
// uvx, and decodes the JSON output into timed segments. Model, device, voice
// activity detection, beam width, language and word timestamps come from
// Config. Commands run through an injectable runner so tests never spawn
// processes.
package whisperx
