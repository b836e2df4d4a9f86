package accounts

import (
	"context"
	"testing"

	"github.com/aristath/fundfolio/internal/domain"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePositions stubs the ledger lookup.
type fakePositions struct {
	held map[int64]bool
}

func (f *fakePositions) HasPositions(_ context.Context, accountID int64) (bool, error) {
	return f.held[accountID], nil
}

func newTestService(t *testing.T) (*Service, *fakePositions) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(setupTestDB(t), log)
	positions := &fakePositions{held: map[int64]bool{}}
	return NewService(repo, positions, log), positions
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.GlobalScope(), "  ", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	account, err := svc.Create(ctx, domain.GlobalScope(), "  trimmed  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "trimmed", account.Name)
}

func TestServiceCreateNestingDepth(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, domain.GlobalScope(), "parent", nil)
	require.NoError(t, err)
	child, err := svc.Create(ctx, domain.GlobalScope(), "child", &parent.ID)
	require.NoError(t, err)

	// A child cannot become a parent itself
	_, err = svc.Create(ctx, domain.GlobalScope(), "grandchild", &child.ID)
	assert.ErrorIs(t, err, domain.ErrAggregateAccount)
}

func TestServiceCreateForeignParentRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, domain.ScopeForUser(1), "theirs", nil)
	require.NoError(t, err)

	_, err = svc.Create(ctx, domain.ScopeForUser(2), "mine", &parent.ID)
	assert.ErrorIs(t, err, domain.ErrOwnership)
}

func TestServiceEnsureDefault(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureDefault(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, DefaultAccountName, first.Name)
	assert.True(t, first.IsDefault)

	// Second call returns the same account, no duplicate
	second, err := svc.EnsureDefault(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := svc.List(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestServiceGetHidesForeignAccounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.Create(ctx, domain.ScopeForUser(1), "theirs", nil)
	require.NoError(t, err)

	_, err = svc.Get(ctx, domain.ScopeForUser(2), account.ID)
	assert.ErrorIs(t, err, domain.ErrOwnership)

	_, err = svc.Get(ctx, domain.GlobalScope(), account.ID)
	assert.ErrorIs(t, err, domain.ErrOwnership)

	got, err := svc.Get(ctx, domain.ScopeForUser(1), account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestServiceRename(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.Create(ctx, domain.GlobalScope(), "before", nil)
	require.NoError(t, err)

	renamed, err := svc.Rename(ctx, domain.GlobalScope(), account.ID, "after")
	require.NoError(t, err)
	assert.Equal(t, "after", renamed.Name)

	_, err = svc.Rename(ctx, domain.GlobalScope(), account.ID, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestServiceDeleteGuards(t *testing.T) {
	svc, positions := newTestService(t)
	ctx := context.Background()

	def, err := svc.EnsureDefault(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, domain.GlobalScope(), def.ID), domain.ErrDefaultAccount)

	parent, err := svc.Create(ctx, domain.GlobalScope(), "parent", nil)
	require.NoError(t, err)
	child, err := svc.Create(ctx, domain.GlobalScope(), "child", &parent.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, domain.GlobalScope(), parent.ID), domain.ErrAccountNotEmpty)

	positions.held[child.ID] = true
	assert.ErrorIs(t, svc.Delete(ctx, domain.GlobalScope(), child.ID), domain.ErrAccountNotEmpty)

	positions.held[child.ID] = false
	require.NoError(t, svc.Delete(ctx, domain.GlobalScope(), child.ID))
	require.NoError(t, svc.Delete(ctx, domain.GlobalScope(), parent.ID))

	_, err = svc.Get(ctx, domain.GlobalScope(), child.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
