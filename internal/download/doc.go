// Package download adapts yt-dlp to the pipeline's Operation interface. The
// default mode replays a view ("mark watched") without fetching media; the
// download mode saves the media to a local directory.
package download
