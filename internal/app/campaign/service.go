package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"tabletop-sync/internal/store"
)

// Store is the slice of the document store the campaign surface needs.
type Store interface {
	LoadDocuments(ctx context.Context, campaignID string) (map[string]json.RawMessage, error)
	UpsertDocument(ctx context.Context, doc store.Document) error
	DeleteDocument(ctx context.Context, campaignID, id string) error
	AddCampaignMember(ctx context.Context, campaignID, participantID, role string) error
}

// Service serves campaign documents that GM clients load into the initial
// game state. The server never interprets document bodies.
type Service struct {
	store Store
}

// NewService accepts a nil store; every call then fails with ErrUnavailable.
func NewService(st Store) *Service {
	return &Service{store: st}
}

func (s *Service) Documents(ctx context.Context, campaignID string) (*DocumentsResponse, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, ErrInvalidRequest
	}
	docs, err := s.store.LoadDocuments(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &DocumentsResponse{CampaignID: campaignID, Documents: docs}, nil
}

func (s *Service) PutDocument(ctx context.Context, campaignID, id string, in PutDocumentInput) error {
	if s.store == nil {
		return ErrUnavailable
	}
	campaignID, id = strings.TrimSpace(campaignID), strings.TrimSpace(id)
	if campaignID == "" || id == "" || !json.Valid(in.Body) {
		return ErrInvalidRequest
	}
	kind := strings.TrimSpace(in.Kind)
	if kind == "" {
		kind = "document"
	}
	return s.store.UpsertDocument(ctx, store.Document{CampaignID: campaignID, ID: id, Kind: kind, Body: in.Body})
}

func (s *Service) DeleteDocument(ctx context.Context, campaignID, id string) error {
	if s.store == nil {
		return ErrUnavailable
	}
	if err := s.store.DeleteDocument(ctx, campaignID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// AddMember registers a verified campaign participant. Members may join any
// of the campaign's sessions without being listed on it.
func (s *Service) AddMember(ctx context.Context, campaignID string, in AddMemberInput) error {
	if s.store == nil {
		return ErrUnavailable
	}
	campaignID = strings.TrimSpace(campaignID)
	pid := strings.TrimSpace(in.ParticipantID)
	if campaignID == "" || pid == "" {
		return ErrInvalidRequest
	}
	switch in.Role {
	case "", "player", "gm":
	default:
		return ErrInvalidRequest
	}
	return s.store.AddCampaignMember(ctx, campaignID, pid, in.Role)
}
