package client

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_action_handler.go -package=mocks . ActionHandler

import (
	"context"
	"encoding/json"

	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/protocol"
)

// Outcome is what executing an action produced. Delta is applied to the
// authority's state and published; Data is returned to the requester.
type Outcome struct {
	Delta gamestate.Delta
	Data  json.RawMessage
}

// ActionHandler holds the game rules. The sync layer never interprets
// actions itself.
type ActionHandler interface {
	Validate(ctx context.Context, req protocol.ActionRequest, state gamestate.State) error
	Execute(ctx context.Context, req protocol.ActionRequest, state gamestate.State) (Outcome, error)
}
