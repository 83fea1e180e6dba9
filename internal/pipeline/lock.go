package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"atlas/internal/services"
)

const lockFileName = "pipeline.lock"

// acquireRunLock takes the batch lock in dir without blocking.
func acquireRunLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, lockFileName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrAlreadyInFlight, "pipeline", "lock",
			fmt.Sprintf("another batch run holds %s", path), nil)
	}
	return lock, nil
}
