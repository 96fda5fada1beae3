package daemonrunner

import (
	"fmt"

	"github.com/diachron/diachron/internal/lockfile"
)

// ValidateDatabasePath checks a stale daemon.lock left in dir (from a crash
// or an unclean shutdown) against the database diachrond is about to serve.
// A mismatch means the state directory is shared by two different
// databases, which would otherwise silently corrupt the index on disk.
// A missing or unreadable lock file is not an error: there is nothing to
// validate against.
func ValidateDatabasePath(dir, dbPath string) error {
	info, err := lockfile.ReadLockInfo(dir)
	if err != nil {
		return nil
	}
	if info.Database != "" && info.Database != dbPath {
		return fmt.Errorf("daemonrunner: state dir %s was last used for database %s, refusing to serve %s", dir, info.Database, dbPath)
	}
	return nil
}
