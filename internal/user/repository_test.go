package user

import (
	"context"
	"errors"
	"os"
	"testing"

	"gamechat/internal/db"
)

func TestRepositoryUpsert(t *testing.T) {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set, skipping directory test")
	}

	database, err := db.NewDatabase(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { database.Conn.Close() })
	if err := database.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := NewRepository(database.Conn)
	ctx := context.Background()
	id := Identity{UserID: "900001", Username: "first", DisplayName: "First", AvatarURL: "a"}

	if err := repo.Upsert(ctx, id); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	id.DisplayName = "Renamed"
	if err := repo.Upsert(ctx, id); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, err := repo.GetUser(ctx, "900001")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.DisplayName != "Renamed" {
		t.Errorf("expected refreshed display name, got %q", got.DisplayName)
	}
	if got.LastSeen.Before(got.FirstSeen) {
		t.Errorf("last_seen %v before first_seen %v", got.LastSeen, got.FirstSeen)
	}

	if _, err := repo.GetUser(ctx, "does-not-exist"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
