package store

import (
	"context"
	"encoding/json"
)

func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO documents (campaign_id, id, kind, body, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (campaign_id, id) DO UPDATE
		SET kind = EXCLUDED.kind, body = EXCLUDED.body, updated_at = now()`,
		doc.CampaignID, doc.ID, doc.Kind, []byte(doc.Body))
	return err
}

func (s *Store) DeleteDocument(ctx context.Context, campaignID, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM documents WHERE campaign_id = $1 AND id = $2`, campaignID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadDocuments returns the campaign's document map keyed by document id.
func (s *Store) LoadDocuments(ctx context.Context, campaignID string) (map[string]json.RawMessage, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, body FROM documents
		WHERE campaign_id = $1
		ORDER BY id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]json.RawMessage{}
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		out[id] = json.RawMessage(body)
	}
	return out, rows.Err()
}
