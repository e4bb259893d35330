package platform_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kyodoai/dealdesk/internal/platform"
	"github.com/kyodoai/dealdesk/internal/stub"
	"go.uber.org/zap"
)

func newStubClient(t *testing.T) (*platform.Client, *platform.Auth) {
	t.Helper()
	srv := stub.NewServer(zap.NewNop())
	srv.ReplyDelay = 0
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	auth := platform.NewAuth(ts.URL, "anon-key", zap.NewNop())
	if err := auth.SignIn(context.Background(), "creator@example.com", "hunter2"); err != nil {
		t.Fatal(err)
	}
	return platform.NewClient(ts.URL, ts.URL, "anon-key", auth, zap.NewNop()), auth
}

func TestSignInAndListDeals(t *testing.T) {
	client, auth := newStubClient(t)
	ctx := context.Background()

	creds, err := auth.Credentials()
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken == "" || creds.UserID == "" {
		t.Fatalf("creds = %+v", creds)
	}

	// Scan seeds the store; the listing then returns only activated deals.
	result, err := client.SearchEmails(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.TotalFound == 0 {
		t.Fatal("scan found no deals")
	}

	deals, err := client.ListActiveDeals(ctx, creds.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deals) == 0 {
		t.Fatal("no activated deals listed")
	}
	for _, d := range deals {
		if !d.AIActivated {
			t.Errorf("listing returned deactivated deal %s", d.ID)
		}
	}
}

func TestListDealsScopedToUser(t *testing.T) {
	client, auth := newStubClient(t)
	ctx := context.Background()

	if _, err := client.SearchEmails(ctx); err != nil {
		t.Fatal(err)
	}
	creds, err := auth.Credentials()
	if err != nil {
		t.Fatal(err)
	}

	mine, err := client.ListActiveDeals(ctx, creds.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) == 0 {
		t.Fatal("owner sees no deals")
	}

	// A listing scoped to a different account returns nothing; an empty
	// user id in particular must not match.
	other, err := client.ListActiveDeals(ctx, "someone-else")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("foreign listing returned %d deals, want 0", len(other))
	}
	none, err := client.ListActiveDeals(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unscoped listing returned %d deals, want 0", len(none))
	}
}

func TestAppendMessageRoundTrip(t *testing.T) {
	client, _ := newStubClient(t)
	ctx := context.Background()

	result, err := client.SearchEmails(ctx)
	if err != nil {
		t.Fatal(err)
	}
	dealID := result.Emails[0].ID

	sent, err := client.AppendMessage(ctx, dealID, platform.AuthorUser, "what do you think?")
	if err != nil {
		t.Fatal(err)
	}
	if sent.ID == "" {
		t.Error("server did not assign an id")
	}
	if sent.CreatedAt.IsZero() {
		t.Error("server did not assign a timestamp")
	}

	conv, err := client.ListMessagesWithActions(ctx, dealID)
	if err != nil {
		t.Fatal(err)
	}
	// With zero reply delay the stub answers immediately: user message
	// plus agent reply carrying a reasoning trace.
	if len(conv) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv))
	}
	if conv[0].Message.ID != sent.ID {
		t.Errorf("first message = %s, want %s", conv[0].Message.ID, sent.ID)
	}
	if conv[1].Message.Author != platform.AuthorAI {
		t.Errorf("second author = %q, want ai", conv[1].Message.Author)
	}
	if len(conv[1].Actions) == 0 {
		t.Error("agent reply carries no actions")
	}
	if len(conv[1].Message.SuggestedActions) == 0 {
		t.Error("agent reply carries no suggested actions")
	}
}

func TestToggleFiresKickoffExactlyOnce(t *testing.T) {
	srv := stub.NewServer(zap.NewNop())
	srv.ReplyDelay = 0
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var kickoffs atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start-process" {
			kickoffs.Add(1)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"started"}`))
	}))
	defer backend.Close()

	auth := platform.NewAuth(ts.URL, "anon-key", zap.NewNop())
	if err := auth.SignIn(context.Background(), "creator@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	client := platform.NewClient(ts.URL, backend.URL, "anon-key", auth, zap.NewNop())
	ctx := context.Background()

	storeClient := platform.NewClient(ts.URL, ts.URL, "anon-key", auth, zap.NewNop())
	result, err := storeClient.SearchEmails(ctx)
	if err != nil {
		t.Fatal(err)
	}
	dealID := result.Emails[0].ID

	if err := client.ToggleAIActivation(ctx, dealID, true); err != nil {
		t.Fatal(err)
	}
	if n := kickoffs.Load(); n != 1 {
		t.Errorf("kickoff calls = %d, want 1", n)
	}

	// Deactivation must not fire another kickoff.
	if err := client.ToggleAIActivation(ctx, dealID, false); err != nil {
		t.Fatal(err)
	}
	if n := kickoffs.Load(); n != 1 {
		t.Errorf("kickoff calls after deactivate = %d, want still 1", n)
	}
}

func TestToggleKeepsFlagOnKickoffFailure(t *testing.T) {
	srv := stub.NewServer(zap.NewNop())
	srv.ReplyDelay = 0
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer backend.Close()

	auth := platform.NewAuth(ts.URL, "anon-key", zap.NewNop())
	if err := auth.SignIn(context.Background(), "creator@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	client := platform.NewClient(ts.URL, backend.URL, "anon-key", auth, zap.NewNop())
	storeClient := platform.NewClient(ts.URL, ts.URL, "anon-key", auth, zap.NewNop())
	ctx := context.Background()

	result, err := storeClient.SearchEmails(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Pick a deactivated deal so the toggle actually flips it on.
	var dealID string
	for _, d := range result.Emails {
		if !d.AIActivated {
			dealID = d.ID
			break
		}
	}
	if dealID == "" {
		t.Fatal("no deactivated deal in seed data")
	}

	err = client.ToggleAIActivation(ctx, dealID, true)
	if !errors.Is(err, platform.ErrProcessKickoff) {
		t.Fatalf("err = %v, want ErrProcessKickoff", err)
	}

	// The activation itself stuck: the deal now shows up as activated.
	creds, err := auth.Credentials()
	if err != nil {
		t.Fatal(err)
	}
	deals, err := storeClient.ListActiveDeals(ctx, creds.UserID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range deals {
		if d.ID == dealID {
			found = true
		}
	}
	if !found {
		t.Error("flag rolled back after kickoff failure")
	}
}

func TestUnauthorizedMapsToErrAuthRequired(t *testing.T) {
	deny := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer deny.Close()

	auth := platform.NewAuth(deny.URL, "anon-key", zap.NewNop())
	auth.SetCredentials(platform.Credentials{
		AccessToken: "stale", RefreshToken: "stale", UserID: "u1",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	client := platform.NewClient(deny.URL, deny.URL, "anon-key", auth, zap.NewNop())

	_, err := client.ListActiveDeals(context.Background(), "u1")
	if !errors.Is(err, platform.ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
}

func TestExpiredCredentialsRejectedLocally(t *testing.T) {
	auth := platform.NewAuth("http://127.0.0.1:1", "anon-key", zap.NewNop())
	auth.SetCredentials(platform.Credentials{
		AccessToken: "old", ExpiresAt: time.Now().Add(-time.Minute),
	})

	_, err := auth.Credentials()
	if !errors.Is(err, platform.ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
}
