// Package domain contains the core entities of the transfer system: queued
// tasks, their progress events, and the archive metadata kept in the local
// inventory. It has no knowledge of storage, processes, or the remote service.
package domain
