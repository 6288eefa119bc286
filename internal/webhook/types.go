package webhook

import (
	"time"

	"tabletop-sync/internal/eventfeed"
)

// Target is one HTTP endpoint that receives session events. Empty Events or
// Sessions match everything.
type Target struct {
	Endpoint string   `json:"endpoint"`
	Secret   string   `json:"secret"`
	Events   []string `json:"events"`
	Sessions []string `json:"sessions"`
}

type Config struct {
	Targets             []Target
	Workers             int
	RetryMax            int
	RetryBase           time.Duration
	FailureThreshold    int
	CircuitOpenDuration time.Duration
	RequestTimeout      time.Duration
	DispatchBuffer      int
}

func (c Config) Enabled() bool { return len(c.Targets) > 0 }

type delivery struct {
	Target  Target
	Event   eventfeed.Event
	Attempt int
}

func (d delivery) key() string { return d.Target.Endpoint }
