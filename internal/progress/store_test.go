package progress

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/database"
	"github.com/educaition/station/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenInMemory(context.Background())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, zerolog.Nop())
}

func intp(v int) *int { return &v }

func TestLoadMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Load(context.Background(), "personality_test", "room-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil session, got %+v", sess)
	}
}

func TestSaveMergesDisjointPatches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Registration writes identity fields.
	pid := "p-77"
	if err := store.Save(ctx, "personality_test", "room-1", model.SessionPatch{
		ParticipantID: &pid,
		Registration:  &model.RegistrationFields{Name: "Deniz"},
	}); err != nil {
		t.Fatalf("save registration patch: %v", err)
	}

	// The answer sequencer writes answers and position independently.
	answers := []*int{intp(4), nil, nil}
	pos := 1
	if err := store.Save(ctx, "personality_test", "room-1", model.SessionPatch{
		Answers:         answers,
		CurrentPosition: &pos,
	}); err != nil {
		t.Fatalf("save answers patch: %v", err)
	}

	sess, err := store.Load(ctx, "personality_test", "room-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess == nil {
		t.Fatal("expected stored session")
	}
	if sess.ParticipantID != "p-77" {
		t.Fatalf("participant id clobbered: %q", sess.ParticipantID)
	}
	if sess.Registration.Name != "Deniz" {
		t.Fatalf("registration clobbered: %+v", sess.Registration)
	}
	if len(sess.Answers) != 3 || sess.Answers[0] == nil || *sess.Answers[0] != 4 {
		t.Fatalf("answers not merged: %+v", sess.Answers)
	}
	if sess.CurrentPosition != 1 {
		t.Fatalf("position = %d, want 1", sess.CurrentPosition)
	}
}

func TestRestorationFidelity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sess := model.NewParticipantSession("dissonance_test", "room-2", "p-1", "", model.RegistrationFields{Name: "A"}, 4)
	sess.Answers[0] = intp(1)
	sess.Answers[1] = intp(3)
	sess.CurrentPosition = 2
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put: %v", err)
	}

	restored, err := store.Load(ctx, "dissonance_test", "room-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if restored == nil {
		t.Fatal("expected restored session")
	}
	if restored.CurrentPosition != 2 {
		t.Fatalf("position = %d, want 2", restored.CurrentPosition)
	}
	if *restored.Answers[0] != 1 || *restored.Answers[1] != 3 {
		t.Fatalf("answers not intact: %+v", restored.Answers)
	}
	if restored.Answers[2] != nil || restored.Answers[3] != nil {
		t.Fatal("unanswered entries must stay nil")
	}
}

func TestCorruptPayloadTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenInMemory(ctx)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	store := NewStore(db, zerolog.Nop())

	if _, err := db.ExecContext(ctx,
		`INSERT INTO sessions (test_key, room_id, payload, updated_at) VALUES (?, ?, ?, 0)`,
		"personality_test", "room-3", "{not json",
	); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	sess, err := store.Load(ctx, "personality_test", "room-3")
	if err != nil {
		t.Fatalf("load returned error on corrupt data: %v", err)
	}
	if sess != nil {
		t.Fatalf("corrupt payload produced a session: %+v", sess)
	}

	// The corrupt row is gone; the key can be written fresh.
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("corrupt row not discarded, %d rows remain", n)
	}
}

func TestClearDeletesSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sess := model.NewParticipantSession("personality_test", "room-4", "p-2", "", model.RegistrationFields{}, 2)
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Clear(ctx, "personality_test", "room-4"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := store.Load(ctx, "personality_test", "room-4")
	if err != nil || got != nil {
		t.Fatalf("session survived clear: %+v err=%v", got, err)
	}
}
