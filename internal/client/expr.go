package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/protocol"

	"github.com/Knetic/govaluate"
)

// Rule is one action a table accepts. Guard must evaluate to true for the
// action to be allowed; each Set entry writes the value of an expression to
// a bag key, e.g. {"turn.round": "turn_round + 1"}.
type Rule struct {
	Guard string            `json:"guard,omitempty"`
	Set   map[string]string `json:"set,omitempty"`
}

// ExprHandler is a data-driven ActionHandler. Expressions see the action
// parameters as params_<name>, bag values as <scope>_<key>, and the acting
// participant as player_id. Missing numeric variables read as zero.
type ExprHandler struct {
	rules map[string]compiledRule
}

type compiledRule struct {
	guard *govaluate.EvaluableExpression
	sets  []compiledSet
}

type compiledSet struct {
	scope gamestate.Scope
	key   string
	expr  *govaluate.EvaluableExpression
}

var ErrUnknownAction = errors.New("unknown_action")

func NewExprHandler(rules map[string]Rule) (*ExprHandler, error) {
	h := &ExprHandler{rules: make(map[string]compiledRule, len(rules))}
	for name, r := range rules {
		var cr compiledRule
		if g := strings.TrimSpace(r.Guard); g != "" {
			expr, err := govaluate.NewEvaluableExpression(g)
			if err != nil {
				return nil, fmt.Errorf("action %q guard: %w", name, err)
			}
			cr.guard = expr
		}
		for target, src := range r.Set {
			scope, key, ok := strings.Cut(target, ".")
			if !ok || key == "" {
				return nil, fmt.Errorf("action %q: set target %q must be <scope>.<key>", name, target)
			}
			switch gamestate.Scope(scope) {
			case gamestate.ScopeTurn, gamestate.ScopeSession, gamestate.ScopePersistent:
			default:
				return nil, fmt.Errorf("action %q: %w %q", name, gamestate.ErrUnknownScope, scope)
			}
			expr, err := govaluate.NewEvaluableExpression(src)
			if err != nil {
				return nil, fmt.Errorf("action %q set %q: %w", name, target, err)
			}
			cr.sets = append(cr.sets, compiledSet{scope: gamestate.Scope(scope), key: key, expr: expr})
		}
		h.rules[name] = cr
	}
	return h, nil
}

func (h *ExprHandler) Validate(_ context.Context, req protocol.ActionRequest, state gamestate.State) error {
	rule, ok := h.rules[req.Action]
	if !ok {
		return protocol.Errorf(protocol.CodeActionRejected, "%v: %q", ErrUnknownAction, req.Action)
	}
	if rule.guard == nil {
		return nil
	}
	result, err := rule.guard.Evaluate(h.params(rule.guard, req, state))
	if err != nil {
		return protocol.Errorf(protocol.CodeActionRejected, "guard: %v", err)
	}
	allowed, ok := result.(bool)
	if !ok {
		return protocol.Errorf(protocol.CodeActionRejected, "guard did not evaluate to boolean")
	}
	if !allowed {
		return protocol.Errorf(protocol.CodeActionRejected, "action %q not allowed now", req.Action)
	}
	return nil
}

func (h *ExprHandler) Execute(_ context.Context, req protocol.ActionRequest, state gamestate.State) (Outcome, error) {
	rule, ok := h.rules[req.Action]
	if !ok {
		return Outcome{}, protocol.Errorf(protocol.CodeActionRejected, "%v: %q", ErrUnknownAction, req.Action)
	}
	var out Outcome
	written := map[string]any{}
	for _, s := range rule.sets {
		v, err := s.expr.Evaluate(h.params(s.expr, req, state))
		if err != nil {
			return Outcome{}, protocol.Errorf(protocol.CodeActionRejected, "set %s.%s: %v", s.scope, s.key, err)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return Outcome{}, err
		}
		if err := out.Delta.Set(s.scope, s.key, raw); err != nil {
			return Outcome{}, err
		}
		written[string(s.scope)+"."+s.key] = v
	}
	data, err := json.Marshal(map[string]any{"action": req.Action, "set": written})
	if err != nil {
		return Outcome{}, err
	}
	out.Data = data
	return out, nil
}

// params builds the variable set for expr. Variables the expression names
// but the state lacks default to zero.
func (h *ExprHandler) params(expr *govaluate.EvaluableExpression, req protocol.ActionRequest, state gamestate.State) map[string]any {
	params := map[string]any{"player_id": req.PlayerID, "actor_id": req.ActorID}
	for _, scope := range []gamestate.Scope{gamestate.ScopeTurn, gamestate.ScopeSession, gamestate.ScopePersistent} {
		for k, raw := range state.Bag(scope) {
			var v any
			if err := json.Unmarshal(raw, &v); err == nil {
				params[string(scope)+"_"+k] = v
			}
		}
	}
	if len(req.Parameters) > 0 {
		var p map[string]any
		if err := json.Unmarshal(req.Parameters, &p); err == nil {
			for k, v := range p {
				params["params_"+k] = v
			}
		}
	}
	for _, name := range expr.Vars() {
		if _, ok := params[name]; !ok {
			params[name] = 0.0
		}
	}
	return params
}
