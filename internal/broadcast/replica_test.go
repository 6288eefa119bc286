package broadcast

import (
	"encoding/json"
	"errors"
	"testing"

	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, prev, next string, st gamestate.State) protocol.StateUpdate {
	t.Helper()
	hash, err := gamestate.Hash(st)
	require.NoError(t, err)
	return protocol.StateUpdate{Type: protocol.TypeStateUpdate, SessionID: "s1", PreviousVersion: prev, Version: next, Hash: hash, State: &st}
}

func TestReplicaAppliesSequentialUpdates(t *testing.T) {
	r := NewReplica("s1")
	require.NoError(t, r.OnUpdate(update(t, "0", "1", stateWith(t, 1))))

	var d gamestate.Delta
	require.NoError(t, d.Set(gamestate.ScopeTurn, "round", json.RawMessage(`2`)))
	base, _, _ := r.Snapshot()
	next, err := gamestate.ApplyDelta(base, d)
	require.NoError(t, err)
	hash, _ := gamestate.Hash(next)

	require.NoError(t, r.OnUpdate(protocol.StateUpdate{PreviousVersion: "1", Version: "2", Hash: hash, Delta: &d}))
	st, version, h := r.Snapshot()
	assert.Equal(t, "2", version)
	assert.Equal(t, hash, h)
	assert.Equal(t, "2", string(st.Turn["round"]))
	assert.False(t, r.NeedsResync())
}

func TestReplicaVersionGapForcesResync(t *testing.T) {
	r := NewReplica("s1")
	require.NoError(t, r.OnUpdate(update(t, "0", "1", stateWith(t, 1))))

	err := r.OnUpdate(update(t, "2", "3", stateWith(t, 3)))
	assert.Equal(t, protocol.CodeVersionConflict, protocol.CodeOf(err))
	assert.True(t, r.NeedsResync())

	req := r.ResyncRequest()
	assert.Equal(t, protocol.TypeResyncRequest, req.Type)
	assert.Equal(t, "1", req.LastKnownVersion)

	err = r.OnUpdate(update(t, "1", "2", stateWith(t, 2)))
	assert.True(t, errors.Is(err, ErrAwaitingSnapshot), "updates are discarded until a snapshot arrives")
	assert.Equal(t, "1", r.Version())
}

func TestReplicaHashMismatchForcesResync(t *testing.T) {
	r := NewReplica("s1")
	u := update(t, "0", "1", stateWith(t, 1))
	u.Hash = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

	err := r.OnUpdate(u)
	assert.Equal(t, protocol.CodeHashMismatch, protocol.CodeOf(err))
	assert.True(t, r.NeedsResync())
	assert.Equal(t, "0", r.Version(), "rejected update is not applied")
}

func TestReplicaSnapshotReplacesState(t *testing.T) {
	r := NewReplica("s1")
	r.MarkStale()

	st := stateWith(t, 7)
	hash, _ := gamestate.Hash(st)
	bad := protocol.FullStateSnapshot{Version: "9", Hash: "deadbeef", State: st}
	assert.Equal(t, protocol.CodeHashMismatch, protocol.CodeOf(r.OnSnapshot(bad)))
	assert.True(t, r.NeedsResync())

	require.NoError(t, r.OnSnapshot(protocol.FullStateSnapshot{Version: "9", Hash: hash, State: st}))
	assert.False(t, r.NeedsResync())
	got, version, h := r.Snapshot()
	assert.Equal(t, "9", version)
	assert.Equal(t, hash, h)
	assert.True(t, gamestate.Verify(got, hash))

	require.NoError(t, r.OnUpdate(update(t, "9", "10", stateWith(t, 8))))
}
