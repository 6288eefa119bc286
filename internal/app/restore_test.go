package app

import (
	"context"
	"testing"

	"tabletop-sync/internal/session"
	"tabletop-sync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreReloadsLiveSessions(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	first, err := New(testConfig(), st)
	require.NoError(t, err)
	_, err = first.Lifecycle.Start(ctx, session.StartInput{SessionID: "live", CampaignID: "camp", GMID: "gm", Participants: []string{"p1"}})
	require.NoError(t, err)
	_, err = first.Lifecycle.Start(ctx, session.StartInput{SessionID: "done", CampaignID: "camp", GMID: "gm"})
	require.NoError(t, err)
	require.NoError(t, first.Lifecycle.End(ctx, "done"))

	second, err := New(testConfig(), st)
	require.NoError(t, err)
	require.NoError(t, second.Restore(ctx))

	view, err := second.Lifecycle.Get("live")
	require.NoError(t, err)
	assert.True(t, view.AwaitingSync)
	assert.False(t, view.AuthorityConnected)
	assert.Equal(t, []string{"p1"}, view.Participants)

	_, err = second.Lifecycle.Get("done")
	assert.Error(t, err, "ended sessions are not restored")
}
