package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tabletop-sync/internal/client"
	"tabletop-sync/internal/client/mocks"
	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func initialState() gamestate.State {
	return gamestate.NewWithDocuments(map[string]json.RawMessage{
		"actor-1": json.RawMessage(`{"name":"Ayla","hp":14}`),
	})
}

func startAuthority(t *testing.T, h client.ActionHandler) (*client.Authority, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	a := client.NewAuthority(h, initialState())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, conn) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a, conn
}

func joinFresh(t *testing.T, conn *fakeConn) protocol.StateUpdate {
	t.Helper()
	conn.push(t, protocol.SessionJoined{Type: protocol.TypeSessionJoined, SessionID: "s1", Role: protocol.RoleGM, Version: "0"})
	var upd protocol.StateUpdate
	conn.next(t, protocol.TypeStateUpdate, &upd)
	return upd
}

func TestAuthorityPublishesInitialStateOnFreshSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, conn := startAuthority(t, mocks.NewMockActionHandler(ctrl))

	upd := joinFresh(t, conn)
	assert.Equal(t, "0", upd.PreviousVersion)
	require.NotNil(t, upd.State)
	assert.True(t, gamestate.Verify(initialState(), upd.Hash))

	conn.push(t, protocol.HeartbeatPing{Type: protocol.TypeHeartbeatPing, SessionID: "s1", Epoch: 4})
	var pong protocol.HeartbeatPong
	conn.next(t, protocol.TypeHeartbeatPong, &pong)
	assert.Equal(t, uint64(4), pong.Epoch)
}

func TestAuthorityExecutesForwardedAction(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mocks.NewMockActionHandler(ctrl)
	a, conn := startAuthority(t, h)
	joinFresh(t, conn)

	var delta gamestate.Delta
	require.NoError(t, delta.Set(gamestate.ScopeTurn, "round", json.RawMessage(`1`)))
	h.EXPECT().Validate(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	h.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(client.Outcome{Delta: delta, Data: json.RawMessage(`{"ok":1}`)}, nil)

	conn.push(t, protocol.ActionRequest{Type: protocol.TypeActionForward, ID: "req-1", Action: "start_round", PlayerID: "p1", SessionID: "s1"})

	var upd protocol.StateUpdate
	conn.next(t, protocol.TypeStateUpdate, &upd)
	assert.Equal(t, "1", upd.PreviousVersion)
	require.NotNil(t, upd.Delta)
	assert.Nil(t, upd.State)

	var res protocol.ActionResult
	conn.next(t, protocol.TypeActionResult, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "req-1", res.RequestID)

	st, version := a.State()
	assert.Equal(t, "2", version)
	assert.Equal(t, "1", string(st.Turn["round"]))
	assert.True(t, gamestate.Verify(st, upd.Hash))
}

func TestAuthorityRejectsInvalidAction(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mocks.NewMockActionHandler(ctrl)
	a, conn := startAuthority(t, h)
	joinFresh(t, conn)

	h.EXPECT().Validate(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("not your turn"))

	conn.push(t, protocol.ActionRequest{Type: protocol.TypeActionForward, ID: "req-1", Action: "attack", PlayerID: "p2", SessionID: "s1"})
	var res protocol.ActionResult
	conn.next(t, protocol.TypeActionResult, &res)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, protocol.CodeActionRejected, res.Error.Code)
	assert.Contains(t, res.Error.Message, "not your turn")

	_, version := a.State()
	assert.Equal(t, "1", version, "rejected actions do not change state")
}

func TestAuthorityAnswersResyncAndSyncRequired(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, conn := startAuthority(t, mocks.NewMockActionHandler(ctrl))

	conn.push(t, protocol.SessionJoined{Type: protocol.TypeSessionJoined, SessionID: "s1", Role: protocol.RoleGM, Version: "0"})
	conn.next(t, protocol.TypeStateUpdate, nil)

	conn.push(t, protocol.ResyncRequest{Type: protocol.TypeResyncRequest, SessionID: "s1", LastKnownVersion: "0", RequesterID: "conn-p1"})
	var snap protocol.FullStateSnapshot
	conn.next(t, protocol.TypeFullStateSnapshot, &snap)
	assert.Equal(t, "conn-p1", snap.RequesterID)
	assert.Equal(t, "1", snap.Version)
	assert.True(t, gamestate.Verify(snap.State, snap.Hash))

	conn.push(t, protocol.SyncRequired{Type: protocol.TypeSyncRequired, SessionID: "s1", LastKnownVersion: "7"})
	snap = protocol.FullStateSnapshot{}
	conn.next(t, protocol.TypeFullStateSnapshot, &snap)
	assert.Empty(t, snap.RequesterID)
	assert.Equal(t, "7", snap.Version, "never behind the server's last version")

	// A conflict for the same version is already answered.
	conn.push(t, protocol.ErrorMessage{Type: protocol.TypeError, Code: protocol.CodeVersionConflict, CurrentVersion: "7"})
	conn.push(t, protocol.HeartbeatPing{Type: protocol.TypeHeartbeatPing, SessionID: "s1", Epoch: 2})
	conn.next(t, protocol.TypeHeartbeatPong, nil)
}

func TestAuthorityStopsOnSessionEnded(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := newFakeConn()
	a := client.NewAuthority(mocks.NewMockActionHandler(ctrl), initialState())
	conn.push(t, protocol.SessionEnded{Type: protocol.TypeSessionEnded, SessionID: "s1"})
	assert.NoError(t, a.Run(context.Background(), conn))
}

func TestAuthorityReturnsDemotedOnAuthorityLost(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := newFakeConn()
	a := client.NewAuthority(mocks.NewMockActionHandler(ctrl), initialState())
	conn.push(t, protocol.AuthorityLost{Type: protocol.TypeAuthorityLost, SessionID: "s1", Reason: protocol.CodeGMDisconnected})

	err := a.Run(context.Background(), conn)
	assert.ErrorIs(t, err, client.ErrDemoted)
	assert.Error(t, conn.WriteJSON(protocol.HeartbeatPong{Type: protocol.TypeHeartbeatPong}), "demoted connection is closed")
}
