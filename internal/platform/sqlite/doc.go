// Package sqlite implements the durable stores on a local SQLite database:
// the task queue rows, the multipart part completion records and the vault
// inventory. The database file is shared by the server and its task
// processes, so every write runs in an exclusive transaction and is retried
// while another process holds the lock.
package sqlite
