// Package ffmpeg wraps the ffprobe and ffmpeg executables the audio pipeline
// uses to measure downloaded episodes and splice out advertisement spans.
package ffmpeg
