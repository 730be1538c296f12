package gdrive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestSaveLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	auth := NewAuthenticator("id", "secret", path)

	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := auth.saveToken(want); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("token file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := auth.loadToken()
	if err != nil {
		t.Fatalf("loadToken failed: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("loaded token %+v, want %+v", got, want)
	}
}

func TestGetClient_NoToken(t *testing.T) {
	auth := NewAuthenticator("id", "secret", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := auth.GetClient(context.Background()); err == nil {
		t.Error("expected error without a token file")
	}
}

func TestGetClient_ExpiredWithoutRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	auth := NewAuthenticator("id", "secret", path)

	if err := auth.saveToken(&oauth2.Token{
		AccessToken: "old",
		Expiry:      time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}

	if _, err := auth.GetClient(context.Background()); err == nil {
		t.Error("expected error for expired token without refresh token")
	}
}

func TestGetClient_ValidToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	auth := NewAuthenticator("id", "secret", path)

	if err := auth.saveToken(&oauth2.Token{
		AccessToken: "live",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}

	client, err := auth.GetClient(context.Background())
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if client == nil {
		t.Fatal("expected client")
	}
}

type staticSource struct{ token *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.token, nil }

func TestPersistingTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	auth := NewAuthenticator("id", "secret", path)

	ts := &persistingTokenSource{
		base: staticSource{&oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}},
		auth: auth,
		last: "stale",
	}

	if _, err := ts.Token(); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	saved, err := auth.loadToken()
	if err != nil {
		t.Fatalf("refreshed token was not saved: %v", err)
	}
	if saved.AccessToken != "fresh" {
		t.Errorf("saved access token = %q, want fresh", saved.AccessToken)
	}
}
