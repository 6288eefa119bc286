package campaign

import "encoding/json"

type DocumentsResponse struct {
	CampaignID string                     `json:"campaign_id"`
	Documents  map[string]json.RawMessage `json:"documents"`
}

type PutDocumentInput struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

type AddMemberInput struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}
