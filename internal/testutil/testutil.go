// Package testutil holds the fakes, fixtures and helpers shared by the
// tracker's tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/quantumlife/responsibility/internal/storage"
)

// TestDB returns a migrated in-memory database, closed when the test ends.
func TestDB(t testing.TB) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// TestContext is cancelled when the test ends, or after ten seconds so a
// stuck channel fails the test instead of hanging it.
func TestContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AssertNoError stops the test on err.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual reports a mismatch and lets the test continue.
func AssertEqual[T comparable](t testing.TB, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
