package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestHistoryPrivate(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/private/peer1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q want 2", got)
		}
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %q want 25", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]v1.Message{{ID: "m1"}, {ID: "m2"}})
	}))
	t.Cleanup(ts.Close)

	c := NewClient(testLogger(t), ts.URL, func() string { return "tok" }, time.Second)
	msgs, err := c.History(context.Background(), HistoryQuery{PeerID: "peer1", Page: 2, Limit: 25})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestHistoryGroup(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/group/g1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]v1.Message{{ID: "m1"}})
	}))
	t.Cleanup(ts.Close)

	c := NewClient(testLogger(t), ts.URL, nil, time.Second)
	msgs, err := c.History(context.Background(), HistoryQuery{GroupID: "g1", Page: 1})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestHistoryQueryValidation(t *testing.T) {
	t.Parallel()

	c := NewClient(testLogger(t), "http://unused", nil, time.Second)
	if _, err := c.History(context.Background(), HistoryQuery{}); err == nil {
		t.Fatalf("expected error for empty query")
	}
	if _, err := c.History(context.Background(), HistoryQuery{PeerID: "p", GroupID: "g"}); err == nil {
		t.Fatalf("expected error when both peer and group are set")
	}
}

func TestReact(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages/m1/reactions" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["emoji"] != "🔥" {
			t.Errorf("body = %v err = %v", body, err)
		}
		_ = json.NewEncoder(w).Encode(v1.Message{
			ID:        "m1",
			Reactions: []v1.Reaction{{Emoji: "🔥"}},
		})
	}))
	t.Cleanup(ts.Close)

	c := NewClient(testLogger(t), ts.URL, nil, time.Second)
	msg, err := c.React(context.Background(), "m1", "🔥")
	if err != nil {
		t.Fatalf("react: %v", err)
	}
	if msg.ID != "m1" || len(msg.Reactions) != 1 {
		t.Fatalf("message = %+v", msg)
	}

	if _, err := c.React(context.Background(), "", "🔥"); err == nil {
		t.Fatalf("expected error for missing message id")
	}
}

func TestErrorStatusIncludesSnippet(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database down"}`))
	}))
	t.Cleanup(ts.Close)

	c := NewClient(testLogger(t), ts.URL, nil, time.Second)
	_, err := c.Users(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "status 500") || !strings.Contains(err.Error(), "database down") {
		t.Fatalf("error = %v", err)
	}
}

func TestDirectoryLookups(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users":
			_ = json.NewEncoder(w).Encode([]v1.UserRef{{ID: "u1", Username: "alice"}})
		case "/groups":
			_ = json.NewEncoder(w).Encode([]v1.GroupRef{{ID: "g1", Name: "team"}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)

	c := NewClient(testLogger(t), ts.URL, nil, time.Second)

	users, err := c.Users(context.Background())
	if err != nil || len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("users = %+v err = %v", users, err)
	}
	groups, err := c.Groups(context.Background())
	if err != nil || len(groups) != 1 || groups[0].Name != "team" {
		t.Fatalf("groups = %+v err = %v", groups, err)
	}
}
