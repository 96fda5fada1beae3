package daemonrunner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquire_SecondAcquireFailsWithErrDaemonLocked(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, "/path/to/db.sqlite", "test-version")
	require.NoError(t, err)
	defer lock.Close()

	_, err = Acquire(dir, "/path/to/db.sqlite", "test-version")
	require.ErrorIs(t, err, ErrDaemonLocked)
}

func TestAcquire_ClosedLockCanBeReacquired(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, "/path/to/db.sqlite", "v1")
	require.NoError(t, err)
	require.NoError(t, lock.Close())

	lock2, err := Acquire(dir, "/path/to/db.sqlite", "v1")
	require.NoError(t, err)
	require.NoError(t, lock2.Close())
}

func TestStatus_ReportsRunningWhileLockHeld(t *testing.T) {
	dir := t.TempDir()

	running, _ := Status(dir)
	require.False(t, running)

	lock, err := Acquire(dir, "/path/to/db.sqlite", "v1")
	require.NoError(t, err)
	defer lock.Close()

	running, pid := Status(dir)
	require.True(t, running)
	require.NotZero(t, pid)
}

func TestValidateDatabasePath_NoLockFileIsNotAnError(t *testing.T) {
	require.NoError(t, ValidateDatabasePath(t.TempDir(), "/path/to/db.sqlite"))
}

func TestValidateDatabasePath_MismatchIsRejected(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, "/path/to/original.sqlite", "v1")
	require.NoError(t, err)
	defer lock.Close()

	err = ValidateDatabasePath(dir, "/path/to/different.sqlite")
	require.Error(t, err)
}

func TestValidateDatabasePath_MatchingPathIsAccepted(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, "/path/to/same.sqlite", "v1")
	require.NoError(t, err)
	defer lock.Close()

	require.NoError(t, ValidateDatabasePath(dir, "/path/to/same.sqlite"))
}
