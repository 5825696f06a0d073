// Package testdb provides utilities for tests that need a real queue database.
//
// Every database lives in the test's temporary directory, so tests can run
// in parallel without sharing state. Opening the same path twice gives a
// second, independent handle, which is how tests simulate another process
// (the CLI or a worker) touching the queue concurrently.
//
// # Basic Usage
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//
//	    db, path := testdb.Open(t)
//	    tasks := sqlite.NewTaskStore(db)
//	    ...
//	    other := testdb.OpenAt(t, path)
//	}
//
// WithTx runs a function inside a transaction that is always rolled back:
//
//	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	    ...
//	})
package testdb
