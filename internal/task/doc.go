// Package task runs durable background transfers. Tasks live in a SQLite
// backed priority queue, survive restarts, and are executed one per OS
// process by a fixed pool of worker slots that can cancel them.
package task
