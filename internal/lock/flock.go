// Package lock provides a cross-process advisory file lock used to
// serialize read-modify-write operations across separate CLI invocations;
// its caller is the cost ledger update in guard.CostCap.Record.
package lock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// FlockAcquire opens a lock file and blocks until an exclusive advisory
// lock is acquired, working on both Unix and Windows. Returns a cleanup
// function that releases the lock and closes the file.
func FlockAcquire(path string) (func(), error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring flock on %s: %w", path, err)
	}
	return func() {
		_ = fl.Unlock()
	}, nil
}
