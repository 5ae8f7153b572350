// Package cmd defines the CLI commands for the yt-history-sync executable.
package cmd
