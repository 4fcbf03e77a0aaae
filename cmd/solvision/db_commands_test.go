package main

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/brojonat/solvision/service/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *db.TestStore {
	t.Helper()

	// Skip by default - require explicit opt-in
	if os.Getenv("RUN_DB_TESTS") == "" {
		t.Skip("Skipping database integration test (set RUN_DB_TESTS=1 to enable)")
	}
	db.SkipIfNoTestDB(t)

	store := db.NewTestStore(t)
	t.Cleanup(store.Close)
	return store
}

func TestListLookupsCommand(t *testing.T) {
	store := setupTestDB(t)

	sessionID := uuid.NewString()
	_, err := store.SaveLookup(context.Background(), sessionID, sampleWallet(root))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.DeleteLookup(context.Background(), sessionID)
	})

	stdout, _, err := runApp(t, "--database-url", db.TestDatabaseURL(), "db", "lookups")
	require.NoError(t, err)
	assert.Contains(t, stdout, sessionID)
	assert.Contains(t, stdout, root)

	stdout, _, err = runApp(t, "--database-url", db.TestDatabaseURL(), "--json", "db", "lookups", "--limit", "1000")
	require.NoError(t, err)

	var lookups []db.LookupSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &lookups))
	var found bool
	for _, l := range lookups {
		if l.SessionID == sessionID {
			found = true
			assert.Equal(t, 3, l.TransactionCount)
		}
	}
	assert.True(t, found, "saved lookup should be listed")
}

func TestPruneLookupsCommand(t *testing.T) {
	store := setupTestDB(t)

	sessionID := uuid.NewString()
	_, err := store.SaveLookup(context.Background(), sessionID, sampleWallet(root))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.DeleteLookup(context.Background(), sessionID)
	})

	// A fresh lookup survives a generous cutoff.
	stdout, _, err := runApp(t, "--database-url", db.TestDatabaseURL(), "db", "prune", "--older-than", "87600h")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Deleted")

	_, err = store.GetLookup(context.Background(), sessionID)
	require.NoError(t, err)
}

func TestDBCommands_RequireDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, _, err := runApp(t, "db", "lookups")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url is required")
}

func TestPruneLookupsCommand_InvalidCutoff(t *testing.T) {
	_, _, err := runApp(t, "db", "prune", "--older-than", "0s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}
