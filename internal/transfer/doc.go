// Package transfer holds the byte plumbing of uploads and downloads:
// memory-mapped file ranges, readers that report their position, and
// human-readable sizes for progress messages.
package transfer
