package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestDealUpsertAndList(t *testing.T) {
	db := testDB(t)

	deal := &Deal{
		ID: "d1", FromName: "Acme", Subject: "Collab", Company: "Acme Corp",
		Budget: "$5,000", Status: "pending", ReceivedAt: 2000,
		Labels: []string{"INBOX"}, Tags: []string{"sponsorship"},
		RelevanceScore: 0.9, AIActivated: true,
	}
	if err := db.UpsertDeal(deal); err != nil {
		t.Fatal(err)
	}

	// Update subject; must not create a second row.
	deal.Subject = "Collab updated"
	if err := db.UpsertDeal(deal); err != nil {
		t.Fatal(err)
	}

	if err := db.UpsertDeal(&Deal{ID: "d2", FromName: "Beta", ReceivedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	deals, err := db.ListDeals(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(deals) != 2 {
		t.Fatalf("got %d deals, want 2", len(deals))
	}
	// Newest received first.
	if deals[0].ID != "d1" {
		t.Errorf("first deal = %s, want d1", deals[0].ID)
	}
	if deals[0].Subject != "Collab updated" {
		t.Errorf("subject = %q", deals[0].Subject)
	}
	if len(deals[0].Tags) != 1 || deals[0].Tags[0] != "sponsorship" {
		t.Errorf("tags = %v", deals[0].Tags)
	}
}

func TestGetDealMissing(t *testing.T) {
	db := testDB(t)

	d, err := db.GetDeal("nope")
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Errorf("expected nil for missing deal, got %+v", d)
	}
}

func TestSetAIActivated(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertDeal(&Deal{ID: "d1", AIActivated: false}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetAIActivated("d1", true); err != nil {
		t.Fatal(err)
	}
	d, err := db.GetDeal("d1")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || !d.AIActivated {
		t.Error("activation flag not set")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{DealID: "d1", MsgID: "m1", Author: "user", Body: "hello", State: StateConfirmed, CreatedAt: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
}

func TestMessageOrdering(t *testing.T) {
	db := testDB(t)

	// Same created_at: insertion sequence breaks the tie.
	rows := []*Message{
		{DealID: "d1", MsgID: "m2", Author: "ai", Body: "second", State: StateConfirmed, CreatedAt: 2000},
		{DealID: "d1", MsgID: "m1", Author: "user", Body: "first", State: StateConfirmed, CreatedAt: 1000},
		{DealID: "d1", MsgID: "m3", Author: "user", Body: "third-a", State: StateConfirmed, CreatedAt: 3000},
		{DealID: "d1", MsgID: "m4", Author: "ai", Body: "third-b", State: StateConfirmed, CreatedAt: 3000},
	}
	for _, m := range rows {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("d1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third-a", "third-b"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Body != w {
			t.Errorf("msgs[%d].Body = %q, want %q", i, msgs[i].Body, w)
		}
	}
}

func TestConfirmMessage(t *testing.T) {
	db := testDB(t)

	local := &Message{DealID: "d1", MsgID: "client-uuid", Author: "user", Body: "hi", State: StatePendingLocal, CreatedAt: 1000}
	if err := db.UpsertMessage(local); err != nil {
		t.Fatal(err)
	}
	if err := db.ConfirmMessage("d1", "client-uuid", "srv-1", 1500); err != nil {
		t.Fatal(err)
	}

	// A later poll upserting the server copy lands on the same row.
	if err := db.UpsertMessage(&Message{DealID: "d1", MsgID: "srv-1", Author: "user", Body: "hi", State: StateConfirmed, CreatedAt: 1500}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (confirm + poll must not duplicate)", len(msgs))
	}
	if msgs[0].MsgID != "srv-1" || msgs[0].State != StateConfirmed {
		t.Errorf("row = %+v", msgs[0])
	}
}

func TestSuggestedActionsRoundTrip(t *testing.T) {
	db := testDB(t)

	msg := &Message{
		DealID: "d1", MsgID: "m1", Author: "ai", Body: "pick one",
		SuggestedActions: []SuggestedAction{
			{Name: "Send Invoice", Description: "Generate and send the invoice"},
		},
		State: StateConfirmed, CreatedAt: 1000,
	}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || len(msgs[0].SuggestedActions) != 1 {
		t.Fatalf("suggested actions lost: %+v", msgs)
	}
	if msgs[0].SuggestedActions[0].Description != "Generate and send the invoice" {
		t.Errorf("description = %q", msgs[0].SuggestedActions[0].Description)
	}
}

func TestActions(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertAction(&Action{ActionID: "a2", DealID: "d1", MsgID: "m1", Summary: "later", Type: "step_output", CreatedAt: 2000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertAction(&Action{ActionID: "a1", DealID: "d1", MsgID: "m1", Summary: "earlier", Type: "step_output", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	// Idempotent on action_id.
	if err := db.UpsertAction(&Action{ActionID: "a1", DealID: "d1", MsgID: "m1", Summary: "earlier v2", Type: "step_output", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	actions, err := db.ListActions("d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	if actions[0].Summary != "earlier v2" || actions[1].Summary != "later" {
		t.Errorf("order = %q, %q", actions[0].Summary, actions[1].Summary)
	}
}

func TestOutboundLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbound("c1", "d1", "hello"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbound()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "c1" {
		t.Fatalf("pending = %+v", pending)
	}

	ok, err := db.HasPendingSend("d1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("HasPendingSend = false, want true")
	}

	if err := db.MarkOutboundSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboundConfirmed("c1", "srv-1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbound()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after confirm, want 0", len(pending))
	}

	ok, err = db.HasPendingSend("d1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("HasPendingSend = true after confirm, want false")
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)

	v, err := db.GetCheckpoint(CheckpointLastScan)
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("unset checkpoint = %q, want empty", v)
	}

	if err := db.SetCheckpoint(CheckpointLastScan, "123"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(CheckpointLastScan, "456"); err != nil {
		t.Fatal(err)
	}

	v, err = db.GetCheckpoint(CheckpointLastScan)
	if err != nil {
		t.Fatal(err)
	}
	if v != "456" {
		t.Errorf("checkpoint = %q, want 456", v)
	}
}
