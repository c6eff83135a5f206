package testsupport

import (
	"testing"

	"sdstore/internal/config"
	"sdstore/internal/jobs"
)

// MustOpenStore opens the job store for a test config and closes it when the
// test ends.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
