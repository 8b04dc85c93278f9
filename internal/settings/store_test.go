package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/educaition/station/internal/database"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenInMemory(context.Background())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, bcrypt.MinCost, zerolog.Nop())
}

func TestGetMissingKey(t *testing.T) {
	s := newStore(t)
	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("missing key reported present")
	}
}

func TestSetOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.Set(ctx, "station_label", "lab-a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "station_label", "lab-b"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "station_label")
	if err != nil || !ok {
		t.Fatalf("get: %v, %v", ok, err)
	}
	if v != "lab-b" {
		t.Fatalf("value = %q, want lab-b", v)
	}
}

func TestVerifyPIN(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.VerifyPIN(ctx, "1234"); !errors.Is(err, ErrPINNotSet) {
		t.Fatalf("err = %v, want ErrPINNotSet", err)
	}

	if err := s.SetPIN(ctx, "1234"); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	if err := s.VerifyPIN(ctx, "1234"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := s.VerifyPIN(ctx, "9999"); !errors.Is(err, ErrPINMismatch) {
		t.Fatalf("err = %v, want ErrPINMismatch", err)
	}
}
