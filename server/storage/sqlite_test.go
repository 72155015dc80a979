package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDatabase(t *testing.T) Database {
	d := NewDatabase(":memory:")
	require.NoError(t, d.Open())
	t.Cleanup(d.Close)
	return d
}

func TestAccounts_SaveFind(t *testing.T) {
	d := openTestDatabase(t)
	ctx := context.Background()

	a, err := d.FindAccount(ctx, "alice")
	assert.NoError(t, err)
	assert.Nil(t, a)

	require.NoError(t, d.SaveAccount(ctx, &Account{Name: "alice", DisplayName: "Alice", Type: "Person"}))
	require.NoError(t, d.SaveAccount(ctx, &Account{Name: "bob", Type: "Service"}))
	require.NoError(t, d.SaveAccount(ctx, &Account{Name: "alice", DisplayName: "Alice A.", Type: "Person"}))

	a, err = d.FindAccount(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Alice A.", a.DisplayName)

	all, err := d.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Name)
	assert.Equal(t, "bob", all[1].Name)
}

func TestFollows_Pending(t *testing.T) {
	d := openTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, d.SaveFollow(ctx, &Follow{ID: "https://x.org/f/1", FollowerID: "https://x.org/bob", Username: "alice", Status: FollowPending}))
	require.NoError(t, d.SaveFollow(ctx, &Follow{ID: "https://x.org/f/2", FollowerID: "https://x.org/carol", Username: "alice", Status: FollowAccepted}))

	pending, err := d.PendingFollows(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "https://x.org/bob", pending[0].FollowerID)

	f, err := d.FindFollow(ctx, "https://x.org/f/1")
	require.NoError(t, err)
	require.NotNil(t, f)
	f.Status = FollowRejected
	require.NoError(t, d.SaveFollow(ctx, f))

	pending, err = d.PendingFollows(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, pending)

	f, err = d.FindFollow(ctx, "https://x.org/f/none")
	assert.NoError(t, err)
	assert.Nil(t, f)
}
