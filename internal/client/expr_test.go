package client

import (
	"context"
	"encoding/json"
	"testing"

	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprHandlerGuardAndSet(t *testing.T) {
	h, err := NewExprHandler(map[string]Rule{
		"next_round": {Set: map[string]string{"turn.round": "turn_round + 1"}},
		"spend": {
			Guard: "session_gold >= params_amount",
			Set:   map[string]string{"session.gold": "session_gold - params_amount"},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()
	st := gamestate.New()

	req := protocol.ActionRequest{ID: "r1", Action: "next_round", PlayerID: "gm"}
	require.NoError(t, h.Validate(ctx, req, st))
	out, err := h.Execute(ctx, req, st)
	require.NoError(t, err)
	assert.Equal(t, "1", string(out.Delta.Turn["round"]), "missing variables read as zero")

	st, err = gamestate.ApplyDelta(st, out.Delta)
	require.NoError(t, err)
	out, err = h.Execute(ctx, req, st)
	require.NoError(t, err)
	assert.Equal(t, "2", string(out.Delta.Turn["round"]))

	st.Session = gamestate.Bag{"gold": json.RawMessage(`10`)}
	spend := protocol.ActionRequest{ID: "r2", Action: "spend", Parameters: json.RawMessage(`{"amount":15}`)}
	err = h.Validate(ctx, spend, st)
	assert.Equal(t, protocol.CodeActionRejected, protocol.CodeOf(err))

	spend.Parameters = json.RawMessage(`{"amount":4}`)
	require.NoError(t, h.Validate(ctx, spend, st))
	out, err = h.Execute(ctx, spend, st)
	require.NoError(t, err)
	assert.Equal(t, "6", string(out.Delta.Session["gold"]))
	assert.JSONEq(t, `{"action":"spend","set":{"session.gold":6}}`, string(out.Data))
}

func TestExprHandlerRejectsUnknownAction(t *testing.T) {
	h, err := NewExprHandler(map[string]Rule{})
	require.NoError(t, err)
	err = h.Validate(context.Background(), protocol.ActionRequest{Action: "fly"}, gamestate.New())
	assert.Equal(t, protocol.CodeActionRejected, protocol.CodeOf(err))
}

func TestNewExprHandlerValidatesRules(t *testing.T) {
	_, err := NewExprHandler(map[string]Rule{"x": {Set: map[string]string{"round": "1"}}})
	assert.Error(t, err)
	_, err = NewExprHandler(map[string]Rule{"x": {Set: map[string]string{"global.round": "1"}}})
	assert.ErrorIs(t, err, gamestate.ErrUnknownScope)
	_, err = NewExprHandler(map[string]Rule{"x": {Guard: "(("}})
	assert.Error(t, err)
}
