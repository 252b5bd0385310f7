package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestConnectRejectsEmptyDSN(t *testing.T) {
	if _, err := Connect(""); err == nil {
		t.Fatal("Connect(\"\") should error instead of guessing a DSN")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	database := setupTestDB(t)
	// Running migrations a second time must not error.
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := UpsertOAuthToken(ctx, database, "twitch-test", "acc-1", "ref-1", expiry, "chat:read"); err != nil {
		t.Fatalf("UpsertOAuthToken: %v", err)
	}
	access, refresh, exp, scope, err := GetOAuthToken(ctx, database, "twitch-test")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if access != "acc-1" || refresh != "ref-1" || scope != "chat:read" {
		t.Errorf("got (%q,%q,%q), want (acc-1,ref-1,chat:read)", access, refresh, scope)
	}
	if !exp.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", exp, expiry)
	}

	// Upsert replaces the row.
	if err := UpsertOAuthToken(ctx, database, "twitch-test", "acc-2", "ref-2", expiry, ""); err != nil {
		t.Fatalf("second UpsertOAuthToken: %v", err)
	}
	access, refresh, _, _, err = GetOAuthToken(ctx, database, "twitch-test")
	if err != nil {
		t.Fatalf("GetOAuthToken after upsert: %v", err)
	}
	if access != "acc-2" || refresh != "ref-2" {
		t.Errorf("after upsert got (%q,%q), want (acc-2,ref-2)", access, refresh)
	}
}

func TestGetOAuthTokenMissing(t *testing.T) {
	database := setupTestDB(t)
	access, refresh, exp, scope, err := GetOAuthToken(context.Background(), database, "no-such-provider")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if access != "" || refresh != "" || scope != "" || !exp.IsZero() {
		t.Errorf("missing provider returned non-zero values: (%q,%q,%v,%q)", access, refresh, exp, scope)
	}
}

func TestKVRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if v, err := GetKV(ctx, database, "warden-test-key"); err != nil || v != "" {
		t.Fatalf("GetKV on missing key = (%q, %v), want (\"\", nil)", v, err)
	}
	if err := SetKV(ctx, database, "warden-test-key", "v1"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if err := SetKV(ctx, database, "warden-test-key", "v2"); err != nil {
		t.Fatalf("SetKV overwrite: %v", err)
	}
	v, err := GetKV(ctx, database, "warden-test-key")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if v != "v2" {
		t.Errorf("GetKV = %q, want v2", v)
	}
}
