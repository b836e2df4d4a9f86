package accounts

import (
	"context"
	"database/sql"
	"testing"

	"github.com/aristath/fundfolio/internal/domain"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, InitSchema(db))
	return db
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(setupTestDB(t), log)
}

func TestCreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, domain.GlobalScope(), "brokerage", nil, false)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Nil(t, created.UserID)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "brokerage", got.Name)
	assert.False(t, got.IsDefault)
	assert.Nil(t, got.ParentID)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDuplicateNameWithinScope(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, domain.GlobalScope(), "savings", nil, false)
	require.NoError(t, err)

	_, err = repo.Create(ctx, domain.GlobalScope(), "savings", nil, false)
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	// Same name under a different tenant is fine
	_, err = repo.Create(ctx, domain.ScopeForUser(7), "savings", nil, false)
	assert.NoError(t, err)
}

func TestDuplicateNameGlobalScopeEnforced(t *testing.T) {
	// NULL owners must not slip past the unique index.
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, domain.GlobalScope(), "repeat", nil, false)
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.GlobalScope(), "repeat", nil, false)
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestListScoped(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, domain.GlobalScope(), "global-acct", nil, false)
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.ScopeForUser(1), "user-acct", nil, false)
	require.NoError(t, err)

	globals, err := repo.List(ctx, domain.GlobalScope())
	require.NoError(t, err)
	require.Len(t, globals, 1)
	assert.Equal(t, "global-acct", globals[0].Name)

	users, err := repo.List(ctx, domain.ScopeForUser(1))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user-acct", users[0].Name)
}

func TestResolveLeafAndParent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	parent, err := repo.Create(ctx, domain.GlobalScope(), "family", nil, false)
	require.NoError(t, err)
	child, err := repo.Create(ctx, domain.GlobalScope(), "child", &parent.ID, false)
	require.NoError(t, err)

	_, leaf, err := repo.Resolve(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, leaf, "parent with children is not a bookkeeping account")

	_, leaf, err = repo.Resolve(ctx, child.ID)
	require.NoError(t, err)
	assert.True(t, leaf)
}

func TestIDsReturnsLeavesOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	parent, err := repo.Create(ctx, domain.GlobalScope(), "family", nil, false)
	require.NoError(t, err)
	childA, err := repo.Create(ctx, domain.GlobalScope(), "a", &parent.ID, false)
	require.NoError(t, err)
	childB, err := repo.Create(ctx, domain.GlobalScope(), "b", &parent.ID, false)
	require.NoError(t, err)
	solo, err := repo.Create(ctx, domain.GlobalScope(), "solo", nil, false)
	require.NoError(t, err)

	ids, err := repo.IDs(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{childA.ID, childB.ID, solo.ID}, ids)
}

func TestRenameAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account, err := repo.Create(ctx, domain.GlobalScope(), "old", nil, false)
	require.NoError(t, err)

	require.NoError(t, repo.Rename(ctx, account.ID, "new"))
	got, err := repo.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)

	require.NoError(t, repo.Delete(ctx, account.ID))
	_, err = repo.Get(ctx, account.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, account.ID), domain.ErrNotFound)
}
