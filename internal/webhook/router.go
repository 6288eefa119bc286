package webhook

import (
	"strings"

	"tabletop-sync/internal/eventfeed"
)

func matchTargets(targets []Target, ev eventfeed.Event) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if !listed(t.Sessions, ev.SessionID, false) {
			continue
		}
		if !listed(t.Events, ev.Event, true) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func listed(allow []string, v string, fold bool) bool {
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		a = strings.TrimSpace(a)
		if a == v || (fold && strings.EqualFold(a, v)) {
			return true
		}
	}
	return false
}
