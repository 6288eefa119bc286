package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO sessions (id, campaign_id, gm_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.CampaignID, rec.GMID, rec.Status, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return err
	}
	for _, p := range rec.Participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_participants (session_id, participant_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, rec.ID, p); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET status = $2, updated_at = now()
		WHERE id = $1`, sessionID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddSessionParticipant(ctx context.Context, sessionID, participantID string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO session_participants (session_id, participant_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, sessionID, participantID)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT s.id, s.campaign_id, s.gm_id, s.status, s.created_at, s.updated_at,
		       COALESCE(array_agg(p.participant_id ORDER BY p.participant_id) FILTER (WHERE p.participant_id IS NOT NULL), '{}')
		FROM sessions s
		LEFT JOIN session_participants p ON p.session_id = s.id
		WHERE s.id = $1
		GROUP BY s.id`, sessionID)
	var rec SessionRecord
	if err := row.Scan(&rec.ID, &rec.CampaignID, &rec.GMID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.Participants); err != nil {
		return nil, mapNotFound(err)
	}
	return &rec, nil
}

// ListLiveSessions returns every session that has not ended.
func (s *Store) ListLiveSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT s.id, s.campaign_id, s.gm_id, s.status, s.created_at, s.updated_at,
		       COALESCE(array_agg(p.participant_id ORDER BY p.participant_id) FILTER (WHERE p.participant_id IS NOT NULL), '{}')
		FROM sessions s
		LEFT JOIN session_participants p ON p.session_id = s.id
		WHERE s.status IN ('active', 'paused')
		GROUP BY s.id
		ORDER BY s.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.GMID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.Participants); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AddCampaignMember(ctx context.Context, campaignID, participantID, role string) error {
	if role == "" {
		role = "player"
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO campaign_members (campaign_id, participant_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, participant_id) DO UPDATE SET role = EXCLUDED.role`,
		campaignID, participantID, role)
	return err
}

func (s *Store) IsCampaignMember(ctx context.Context, campaignID, participantID string) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM campaign_members
			WHERE campaign_id = $1 AND participant_id = $2
		)`, campaignID, participantID).Scan(&ok)
	return ok, err
}
