package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"wendybot/internal/kit"
	"wendybot/internal/meet"
	"wendybot/internal/session"
	"wendybot/internal/storage"
	"wendybot/pkg/logx"
)

type captureAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *captureAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *captureAdapter) Stop(context.Context) error                     { return nil }

func (a *captureAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *captureAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *captureAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *captureAdapter) lastSent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

type stubGateway struct{}

func (stubGateway) CreateVote(context.Context, meet.CreateVoteRequest) (meet.VoteSummary, error) {
	return meet.VoteSummary{ID: 1, ShareURL: "https://x/1"}, nil
}
func (stubGateway) RankedResult(context.Context, int64) ([]meet.Ranking, error) { return nil, nil }
func (stubGateway) ParticipantStatuses(context.Context, int64) ([]meet.ParticipantStatus, error) {
	return nil, nil
}
func (stubGateway) AddParticipant(context.Context, int64, string) (int64, error) { return 1, nil }

type memStore struct {
	entries []storage.DeliveryEntry
}

func (s *memStore) AppendDelivery(_ context.Context, e storage.DeliveryEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) RecentDeliveries(_ context.Context, limit int) ([]storage.DeliveryEntry, error) {
	if limit > len(s.entries) {
		limit = len(s.entries)
	}
	return s.entries[:limit], nil
}

func (s *memStore) Close() error { return nil }

func TestSessionKeyRoundTrip(t *testing.T) {
	t.Parallel()
	key := SessionKey(-1001234567890)
	target, ok := ParseSessionKey(key)
	if !ok {
		t.Fatalf("ParseSessionKey(%q) failed", key)
	}
	if target != (kit.ChatTarget{ChatID: -1001234567890}) {
		t.Fatalf("target = %+v", target)
	}

	if _, ok := ParseSessionKey("not-a-chat"); ok {
		t.Fatal("garbage key accepted")
	}
}

func TestStatusShowsDeliveryHistory(t *testing.T) {
	t.Parallel()
	ad := &captureAdapter{}
	engine := session.NewEngine(session.Config{MaxWeeks: 6}, stubGateway{}, logx.Nop())
	store := &memStore{entries: []storage.DeliveryEntry{
		{At: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC), Channel: "status", ChatID: 7},
		{At: time.Date(2025, 9, 1, 12, 5, 0, 0, time.UTC), Channel: "reminder", ChatID: 7, Error: "send failed"},
		{At: time.Date(2025, 9, 1, 12, 9, 0, 0, time.UTC), Channel: "final", ChatID: 99},
	}}
	d := NewDispatcher(logx.Nop(), ad, engine, stubGateway{}, store)

	chat := kit.ChatTarget{ChatID: 7}
	d.cmdStatus(context.Background(), chat, SessionKey(chat.ChatID))

	got := ad.lastSent()
	if got == "" {
		t.Fatal("no reply sent")
	}
	if !strings.Contains(got, "진행 중인 일정 조율 없음") {
		t.Fatalf("missing idle phase label:\n%s", got)
	}
	if !strings.Contains(got, "status") || !strings.Contains(got, "reminder") {
		t.Fatalf("missing this chat's delivery history:\n%s", got)
	}
	if !strings.Contains(got, "⚠️") {
		t.Fatalf("failed delivery not marked:\n%s", got)
	}
	if strings.Contains(got, "final") {
		t.Fatalf("other chat's history leaked:\n%s", got)
	}
}

func TestStatusWithoutStore(t *testing.T) {
	t.Parallel()
	ad := &captureAdapter{}
	engine := session.NewEngine(session.Config{MaxWeeks: 6}, stubGateway{}, logx.Nop())
	d := NewDispatcher(logx.Nop(), ad, engine, stubGateway{}, nil)

	chat := kit.ChatTarget{ChatID: 7}
	engine.Start(SessionKey(chat.ChatID))
	d.cmdStatus(context.Background(), chat, SessionKey(chat.ChatID))

	got := ad.lastSent()
	if !strings.Contains(got, "참여자 모집 중") {
		t.Fatalf("missing phase label:\n%s", got)
	}
	if strings.Contains(got, "최근 알림") {
		t.Fatalf("delivery section shown without a store:\n%s", got)
	}
}

func TestShareMarkup(t *testing.T) {
	t.Parallel()
	if m := shareMarkup(""); m != nil {
		t.Fatalf("empty url produced markup: %v", m)
	}
	if m := shareMarkup("https://x/1"); m == nil {
		t.Fatal("share url produced no markup")
	}
}

func TestMentionMarkdown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		id   string
		who  string
		want string
	}{
		{name: "numeric id becomes mention", id: "12345", who: "Alice", want: "[Alice](tg://user?id=12345)"},
		{name: "guest id stays plain", id: "guest:Carol", who: "Carol", want: "Carol"},
		{name: "empty id stays plain", id: "", who: "Bob", want: "Bob"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := MentionMarkdown(tt.id, tt.who); got != tt.want {
				t.Fatalf("MentionMarkdown(%q, %q) = %q, want %q", tt.id, tt.who, got, tt.want)
			}
		})
	}
}
