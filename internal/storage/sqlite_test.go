package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wendybot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestDeliveryRoundTrip(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	entries := []DeliveryEntry{
		{Channel: "status-10m", ChatID: 7, Text: "status", Attempts: 1},
		{Channel: "final-24h", ChatID: 7, ThreadID: 3, Text: "final", Attempts: 3, Error: "send failed"},
	}
	for _, e := range entries {
		if err := st.AppendDelivery(context.Background(), e); err != nil {
			t.Fatalf("AppendDelivery error: %v", err)
		}
	}

	got, err := st.RecentDeliveries(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentDeliveries error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	// newest first
	if got[0].Channel != "final-24h" || got[0].Error != "send failed" || got[0].Attempts != 3 {
		t.Fatalf("newest = %+v", got[0])
	}
	if got[1].Channel != "status-10m" || got[1].Error != "" {
		t.Fatalf("oldest = %+v", got[1])
	}
	if got[0].At.IsZero() {
		t.Fatal("timestamp not persisted")
	}
}

func TestRecentDeliveriesLimit(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "audit.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	for i := 0; i < 5; i++ {
		if err := st.AppendDelivery(context.Background(), DeliveryEntry{Channel: "c", ChatID: int64(i), Text: "x", Attempts: 1}); err != nil {
			t.Fatalf("AppendDelivery error: %v", err)
		}
	}
	got, err := st.RecentDeliveries(context.Background(), 3)
	if err != nil {
		t.Fatalf("RecentDeliveries error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ChatID != 4 {
		t.Fatalf("newest chat_id = %d, want 4", got[0].ChatID)
	}
}
