package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tabletop-sync/internal/store"
	"tabletop-sync/internal/testutil"
)

func openStore(t *testing.T) (*store.Store, context.Context, func()) {
	t.Helper()
	st, cleanup := testutil.OpenTestStore(t)
	return st, context.Background(), cleanup
}

func mustSaveSession(t *testing.T, st *store.Store, ctx context.Context, campaignID, gmID string, participants ...string) store.SessionRecord {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := store.SessionRecord{
		ID:           store.NewID(),
		CampaignID:   campaignID,
		GMID:         gmID,
		Status:       "active",
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.SaveSession(ctx, rec); err != nil {
		t.Fatalf("save session: %v", err)
	}
	return rec
}

func TestSessionStoreCRUD(t *testing.T) {
	st, ctx, cleanup := openStore(t)
	defer cleanup()

	rec := mustSaveSession(t, st, ctx, "camp-1", "gm-1", "p-b", "p-a")

	got, err := st.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.GMID != "gm-1" || got.CampaignID != "camp-1" || got.Status != "active" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "p-a" || got.Participants[1] != "p-b" {
		t.Fatalf("unexpected participants: %v", got.Participants)
	}

	if err := st.AddSessionParticipant(ctx, rec.ID, "p-c"); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if err := st.AddSessionParticipant(ctx, rec.ID, "p-c"); err != nil {
		t.Fatalf("add participant twice: %v", err)
	}
	got, err = st.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get session after add: %v", err)
	}
	if len(got.Participants) != 3 {
		t.Fatalf("participants = %v, want 3", got.Participants)
	}

	if err := st.UpdateSessionStatus(ctx, rec.ID, "ended"); err != nil {
		t.Fatalf("end session: %v", err)
	}
	live, err := st.ListLiveSessions(ctx)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	for _, s := range live {
		if s.ID == rec.ID {
			t.Fatal("ended session should not be listed as live")
		}
	}

	if err := st.UpdateSessionStatus(ctx, "missing", "ended"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListLiveSessionsWithoutParticipants(t *testing.T) {
	st, ctx, cleanup := openStore(t)
	defer cleanup()

	rec := mustSaveSession(t, st, ctx, "camp-1", "gm-1")
	live, err := st.ListLiveSessions(ctx)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 1 || live[0].ID != rec.ID {
		t.Fatalf("unexpected live sessions: %+v", live)
	}
	if len(live[0].Participants) != 0 {
		t.Fatalf("participants = %v, want none", live[0].Participants)
	}
}

func TestCampaignMembership(t *testing.T) {
	st, ctx, cleanup := openStore(t)
	defer cleanup()

	ok, err := st.IsCampaignMember(ctx, "camp-1", "p-1")
	if err != nil || ok {
		t.Fatalf("IsCampaignMember before add = %v, %v", ok, err)
	}
	if err := st.AddCampaignMember(ctx, "camp-1", "p-1", ""); err != nil {
		t.Fatalf("add member: %v", err)
	}
	ok, err = st.IsCampaignMember(ctx, "camp-1", "p-1")
	if err != nil || !ok {
		t.Fatalf("IsCampaignMember after add = %v, %v", ok, err)
	}
	ok, _ = st.IsCampaignMember(ctx, "camp-2", "p-1")
	if ok {
		t.Fatal("membership must be scoped to the campaign")
	}
}

func TestDocumentsLoadAndDelete(t *testing.T) {
	st, ctx, cleanup := openStore(t)
	defer cleanup()

	docs := []store.Document{
		{CampaignID: "camp-1", ID: "actor-1", Kind: "actor", Body: json.RawMessage(`{"name":"Ayla","hp":12}`)},
		{CampaignID: "camp-1", ID: "item-1", Kind: "item", Body: json.RawMessage(`{"name":"Rope"}`)},
		{CampaignID: "camp-2", ID: "actor-9", Kind: "actor", Body: json.RawMessage(`{"name":"Other"}`)},
	}
	for _, d := range docs {
		if err := st.UpsertDocument(ctx, d); err != nil {
			t.Fatalf("upsert %s: %v", d.ID, err)
		}
	}
	docs[0].Body = json.RawMessage(`{"name":"Ayla","hp":9}`)
	if err := st.UpsertDocument(ctx, docs[0]); err != nil {
		t.Fatalf("update actor-1: %v", err)
	}

	got, err := st.LoadDocuments(ctx, "camp-1")
	if err != nil {
		t.Fatalf("load documents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("documents = %d, want 2", len(got))
	}
	var actor map[string]any
	if err := json.Unmarshal(got["actor-1"], &actor); err != nil {
		t.Fatalf("decode actor: %v", err)
	}
	if actor["hp"] != float64(9) {
		t.Fatalf("actor hp = %v, want 9", actor["hp"])
	}

	if err := st.DeleteDocument(ctx, "camp-1", "item-1"); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if err := st.DeleteDocument(ctx, "camp-1", "item-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
