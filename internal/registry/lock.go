package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const lockAcquireTimeout = 5 * time.Second

// withFileLock serializes writers across CLI invocations via an advisory
// lock on path+".lock" (spec §4.8, §5). On timeout the caller gets a
// lock-contention error and must surface it rather than silently
// proceeding unguarded.
func withFileLock(path string, fn func() error) error {
	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockAcquireTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("registry lock contention after %s", lockAcquireTimeout)
	}
	defer lock.Unlock()
	return fn()
}
