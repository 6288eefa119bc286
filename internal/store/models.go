package store

import (
	"encoding/json"
	"time"
)

type SessionRecord struct {
	ID           string
	CampaignID   string
	GMID         string
	Status       string
	Participants []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CampaignMember struct {
	CampaignID    string
	ParticipantID string
	Role          string
	CreatedAt     time.Time
}

type Document struct {
	CampaignID string          `json:"campaign_id"`
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Body       json.RawMessage `json:"body"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
