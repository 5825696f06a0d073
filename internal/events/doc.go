// Package events fans task output events out to registered handlers.
//
// Workers and the intake publish domain.OutputEvent values through an
// Emitter without knowing who consumes them. The Forwarder delivers every
// event, in publication order, to each handler once; subscribers such as
// the HTTP event stream attach through Subscribe.
package events
