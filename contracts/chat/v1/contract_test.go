package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ts := time.Now().UTC()
	payload := json.RawMessage(`{}`)

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "valid known event", env: Envelope{V: Version, Event: EventMessageReceived, TS: ts, Payload: payload}},
		{name: "valid upload event", env: Envelope{V: Version, Event: EventUploadProgressPrefix + "abc123", TS: ts, Payload: payload}},
		{name: "missing v", env: Envelope{Event: EventMessageReceived}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Event: EventMessageReceived}, wantErr: true},
		{name: "missing event", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown event", env: Envelope{V: Version, Event: "bogus_event"}, wantErr: true},
		{name: "upload prefix without id", env: Envelope{V: Version, Event: EventUploadProgressPrefix}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestIsUploadEvent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{in: EventUploadProgressPrefix + "id1", want: true},
		{in: EventUploadCompletePrefix + "id1", want: true},
		{in: EventUploadErrorPrefix + "id1", want: true},
		{in: EventUploadProgressPrefix, want: false},
		{in: EventMessageReceived, want: false},
		{in: "", want: false},
	}

	for _, tc := range cases {
		if got := IsUploadEvent(tc.in); got != tc.want {
			t.Fatalf("IsUploadEvent(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestMessageOrdering(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := Message{ID: "a", Timestamp: t0}
	b := Message{ID: "b", Timestamp: t0.Add(time.Second)}
	if !a.Before(b) || b.Before(a) {
		t.Fatalf("expected a < b by timestamp")
	}

	// Equal timestamps break ties by id for determinism.
	c := Message{ID: "c", Timestamp: t0}
	d := Message{ID: "d", Timestamp: t0}
	if !c.Before(d) || d.Before(c) {
		t.Fatalf("expected c < d by id tiebreak")
	}

	// DisplayTime falls back to createdAt when the display timestamp is
	// unset.
	e := Message{ID: "e", CreatedAt: t0.Add(2 * time.Second)}
	if !b.Before(e) {
		t.Fatalf("expected b < e via createdAt fallback")
	}
	if got := e.DisplayTime(); !got.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("DisplayTime=%v want createdAt", got)
	}
}
