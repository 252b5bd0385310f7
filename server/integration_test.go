package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chat-warden/moderation"
	"github.com/onnwee/chat-warden/testutil"
	"github.com/onnwee/chat-warden/twitchapi"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

// helixAdapter mirrors the wiring main uses between the Helix client and the
// moderation engine interfaces.
type helixAdapter struct {
	hc *twitchapi.HelixClient
}

func (a *helixAdapter) Mute(ctx context.Context, userID string, d time.Duration, reason string) error {
	return a.hc.BanUser(ctx, userID, d, reason)
}

func (a *helixAdapter) Unmute(ctx context.Context, userID string) error {
	return a.hc.UnbanUser(ctx, userID)
}

func TestAdminMuteEndToEnd(t *testing.T) {
	ms := testutil.NewModerationServer()
	defer ms.Close()

	hc := &twitchapi.HelixClient{
		UserTokens:    staticTokens("user-token"),
		ClientID:      "cid",
		BroadcasterID: "b1",
		ModeratorID:   "m1",
		BaseURL:       ms.URL,
	}
	mgr := moderation.NewManager(&helixAdapter{hc: hc}, nopStore{}, 2*time.Hour, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(NewMux(ctx, nil, mgr, hc))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/mute", "application/json",
		bytes.NewReader([]byte(`{"user_id":"u1","display_name":"Alice"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin mute status = %d", resp.StatusCode)
	}
	if d, ok := ms.Banned("u1"); !ok || d != 7200 {
		t.Fatalf("remote ban = (%d, %v), want 7200s timeout", d, ok)
	}
	if !mgr.IsMuted("u1") {
		t.Fatal("manager should record the mute")
	}

	resp, err = http.Post(srv.URL+"/admin/unmute", "application/json",
		bytes.NewReader([]byte(`{"user_id":"u1"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin unmute status = %d", resp.StatusCode)
	}
	if _, ok := ms.Banned("u1"); ok {
		t.Fatal("remote ban should be lifted")
	}
	if got := ms.Unbans(); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("unbans = %v", got)
	}
	if mgr.IsMuted("u1") {
		t.Fatal("manager should clear the mute")
	}
}

func TestAdminMuteFailClosedEndToEnd(t *testing.T) {
	ms := testutil.NewModerationServer()
	defer ms.Close()
	ms.FailAll(true)

	hc := &twitchapi.HelixClient{
		UserTokens:    staticTokens("user-token"),
		ClientID:      "cid",
		BroadcasterID: "b1",
		ModeratorID:   "m1",
		BaseURL:       ms.URL,
	}
	mgr := moderation.NewManager(&helixAdapter{hc: hc}, nopStore{}, time.Hour, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(NewMux(ctx, nil, mgr, hc))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/mute", "application/json",
		bytes.NewReader([]byte(`{"user_id":"u1"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 when the remote API fails", resp.StatusCode)
	}
	if mgr.IsMuted("u1") {
		t.Fatal("failed remote mute must not be recorded")
	}
}
