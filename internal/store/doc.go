// Package store defines the persistence vocabulary shared by the storage
// implementations: the DBTX abstraction, the transaction helper and the
// sentinel errors callers match with errors.Is.
package store
