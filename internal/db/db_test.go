package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presence-data/facegate/internal/face"
)

// setupTestDB opens a fresh on-disk database in a temp dir with the
// real migrations applied.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "facegate_test.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.MigrateUp("../../migrations"))
	return db
}

func unitVector(hot int) face.Embedding {
	v := make(face.Embedding, face.EmbeddingDim)
	v[hot%face.EmbeddingDim] = 1
	return v
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.MigrateUp("../../migrations"))

	version, dirty, err := db.MigrateVersion("../../migrations")
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)
}

func TestMigrateDownRollsBackOneStep(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.MigrateDown("../../migrations"))

	version, dirty, err := db.MigrateVersion("../../migrations")
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	// auth_events is gone, identities survives
	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM identities`).Scan(&n)
	assert.NoError(t, err)
	err = db.QueryRow(`SELECT COUNT(*) FROM auth_events`).Scan(&n)
	assert.Error(t, err)
}

func TestIdentityEnrollAndFetch(t *testing.T) {
	db := setupTestDB(t)
	store := NewIdentityStore(db)

	id, err := store.InsertIdentity("alice")
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	ident, err := store.GetIdentity(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.Name)
	assert.True(t, ident.Active)

	_, err = store.InsertIdentity("")
	assert.Error(t, err)

	_, err = store.GetIdentity(9999)
	assert.Error(t, err)
}

func TestAddEmbeddingValidation(t *testing.T) {
	db := setupTestDB(t)
	store := NewIdentityStore(db)

	id, err := store.InsertIdentity("bob")
	require.NoError(t, err)

	_, err = store.AddEmbedding(id, unitVector(0))
	assert.NoError(t, err)

	// wrong dimension
	_, err = store.AddEmbedding(id, face.Embedding{1, 0, 0})
	assert.Error(t, err)

	// not normalized
	big := make(face.Embedding, face.EmbeddingDim)
	big[0] = 2
	_, err = store.AddEmbedding(id, big)
	assert.Error(t, err)
}

func TestActiveEmbeddingsExcludesDeactivated(t *testing.T) {
	db := setupTestDB(t)
	store := NewIdentityStore(db)

	alice, err := store.InsertIdentity("alice")
	require.NoError(t, err)
	bob, err := store.InsertIdentity("bob")
	require.NoError(t, err)

	_, err = store.AddEmbedding(alice, unitVector(0))
	require.NoError(t, err)
	_, err = store.AddEmbedding(alice, unitVector(1))
	require.NoError(t, err)
	_, err = store.AddEmbedding(bob, unitVector(2))
	require.NoError(t, err)

	entries, err := store.ActiveEmbeddings()
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	require.NoError(t, store.Deactivate(bob))

	entries, err = store.ActiveEmbeddings()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, alice, e.IdentityID)
		assert.Len(t, e.Vector, face.EmbeddingDim)
	}

	idents, err := store.ActiveIdentities()
	require.NoError(t, err)
	assert.Len(t, idents, 1)
	assert.Contains(t, idents, alice)

	assert.Error(t, store.Deactivate(9999))
}

func TestAuthEventRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	idStore := NewIdentityStore(db)
	evStore := NewAuthEventStore(db)

	alice, err := idStore.InsertIdentity("alice")
	require.NoError(t, err)

	name := "alice"
	dist := 0.31
	prob := 0.92
	now := time.Now().UTC().Truncate(time.Second)

	ev := face.AuthEvent{
		EventID:        "evt-001",
		IdentityID:     &alice,
		IdentityName:   &name,
		Distance:       &dist,
		Matched:        true,
		HighConfidence: true,
		LivenessState:  "confirmed",
		SpoofRealProb:  &prob,
		FrameSeq:       42,
		OccurredAt:     now,
	}
	require.NoError(t, evStore.Record(ev))

	// anonymous failure event with null identity columns
	require.NoError(t, evStore.Record(face.AuthEvent{
		EventID:       "evt-002",
		LivenessState: "pending",
		FrameSeq:      43,
		OccurredAt:    now.Add(time.Second),
	}))

	assert.Error(t, evStore.Record(face.AuthEvent{LivenessState: "pending"}))

	events, err := evStore.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// most recent first
	assert.Equal(t, "evt-002", events[0].EventID)
	assert.Nil(t, events[0].IdentityID)
	assert.False(t, events[0].Matched)

	got := events[1]
	assert.Equal(t, "evt-001", got.EventID)
	require.NotNil(t, got.IdentityID)
	assert.Equal(t, alice, *got.IdentityID)
	require.NotNil(t, got.Distance)
	assert.InDelta(t, dist, *got.Distance, 1e-9)
	assert.True(t, got.Matched)
	assert.True(t, got.HighConfidence)
	assert.Equal(t, "confirmed", got.LivenessState)
	assert.Equal(t, uint64(42), got.FrameSeq)
}
