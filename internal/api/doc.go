// Package api is the local control API of the transfer service. It lets
// clients enqueue, inspect, delete and cancel tasks, follow output events
// as a newline delimited JSON stream, browse the stored inventory and turn
// inventory selections into downloads.
package api
