package meet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wendybot/pkg/logx"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestCreateVote(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/votes" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 42, "name": "일정 투표", "code": "abc123",
			"adminUrl": "https://x/admin/42", "shareUrl": "https://x/42",
		})
	}))

	got, err := c.CreateVote(context.Background(), CreateVoteRequest{
		Name:         "일정 투표",
		StartDate:    time.Date(2025, time.September, 8, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2025, time.September, 14, 0, 0, 0, 0, time.UTC),
		Participants: []string{"Alice", "Bob"},
	})
	if err != nil {
		t.Fatalf("CreateVote error: %v", err)
	}
	if got.ID != 42 || got.ShareURL != "https://x/42" {
		t.Fatalf("summary = %+v", got)
	}

	if gotBody["startDate"] != "2025-09-08" || gotBody["endDate"] != "2025-09-14" {
		t.Fatalf("wire dates = %v / %v", gotBody["startDate"], gotBody["endDate"])
	}
	names, _ := gotBody["participantNames"].([]any)
	if len(names) != 2 {
		t.Fatalf("participantNames = %v", gotBody["participantNames"])
	}
}

func TestRankedResult(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/votes/42/result" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"rankings":[
			{"rank":1,"date":"2025-09-12","period":"LUNCH","voterCount":2,
			 "voters":[{"name":"Alice","priority":1},{"name":"Bob","priority":null}]},
			{"rank":2,"date":"2025-09-13","period":"DINNER","voterCount":1,"voters":[]}
		]}`))
	}))

	got, err := c.RankedResult(context.Background(), 42)
	if err != nil {
		t.Fatalf("RankedResult error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	first := got[0]
	if first.Rank != 1 || first.Period != PeriodLunch || first.VoterCount != 2 {
		t.Fatalf("first ranking = %+v", first)
	}
	if first.Date.Format("2006-01-02") != "2025-09-12" {
		t.Fatalf("date = %v", first.Date)
	}
	if len(first.Voters) != 2 || first.Voters[0].Priority != 1 || first.Voters[1].Priority != 0 {
		t.Fatalf("voters = %+v", first.Voters)
	}
}

func TestRankedResultBadDate(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"rankings":[{"rank":1,"date":"12/09/2025","period":"LUNCH"}]}`))
	}))

	if _, err := c.RankedResult(context.Background(), 42); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestParticipantStatuses(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/votes/42/participants/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[
			{"displayName":"Alice","submitted":true},
			{"displayName":"Bob","submitted":false}
		]`))
	}))

	got, err := c.ParticipantStatuses(context.Background(), 42)
	if err != nil {
		t.Fatalf("ParticipantStatuses error: %v", err)
	}
	if len(got) != 2 || !got[0].Submitted || got[1].Submitted {
		t.Fatalf("statuses = %+v", got)
	}
}

func TestAddParticipant(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/votes/42/participants" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			DisplayName string `json:"displayName"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.DisplayName != "Carol" {
			t.Errorf("displayName = %q", body.DisplayName)
		}
		_, _ = w.Write([]byte(`{"id":7}`))
	}))

	id, err := c.AddParticipant(context.Background(), 42, "Carol")
	if err != nil {
		t.Fatalf("AddParticipant error: %v", err)
	}
	if id != 7 {
		t.Fatalf("id = %d", id)
	}
}

func TestServerError(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	if _, err := c.RankedResult(context.Background(), 42); err == nil {
		t.Fatal("expected error for http 502")
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(Config{BaseURL: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty base url")
	}
	// trailing slash is normalized away
	c, err := NewClient(Config{BaseURL: "https://x/"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if c.base != "https://x" {
		t.Fatalf("base = %q", c.base)
	}
}
