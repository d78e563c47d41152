package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestScanMissingRoot(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "does-not-exist"))
	snap, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap == nil || snap.Sessions == nil || len(snap.Sessions) != 0 {
		t.Fatalf("expected empty non-nil snapshot, got %#v", snap)
	}
}

func TestScanRootIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	snap, err := NewScanner(path).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Len() != 0 {
		t.Fatalf("expected empty snapshot, got %d sessions", snap.Len())
	}
}

func TestScanOrdersByLastActivityAndCaps(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 55; i++ {
		project := fmt.Sprintf("-tmp-p%d", i%3)
		writeSession(t, root, project, fmt.Sprintf("s%02d.jsonl", i),
			eventLine("user", 0, "", ""),
			eventLine("assistant", time.Duration(i)*time.Minute, "", ""),
		)
	}

	snap, err := NewScanner(root, WithClock(fixedClock(baseTime.Add(time.Hour)))).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Len() != MaxSessions {
		t.Fatalf("len=%d, want %d", snap.Len(), MaxSessions)
	}
	if snap.Sessions[0].ID != "s54" {
		t.Errorf("first=%q, want newest s54", snap.Sessions[0].ID)
	}
	if last := snap.Sessions[MaxSessions-1].ID; last != "s05" {
		t.Errorf("last=%q, want s05", last)
	}
	seen := map[string]bool{}
	for i, rec := range snap.Sessions {
		if seen[rec.ID] {
			t.Errorf("duplicate id %q", rec.ID)
		}
		seen[rec.ID] = true
		if i > 0 && rec.LastActivity.After(snap.Sessions[i-1].LastActivity) {
			t.Errorf("sessions[%d] newer than sessions[%d]", i, i-1)
		}
	}
}

func TestScanKeepsNewestDuplicateID(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-tmp-old", "same.jsonl", eventLine("user", 0, "/tmp/old", ""))
	writeSession(t, root, "-tmp-new", "same.jsonl", eventLine("user", time.Minute, "/tmp/new", ""))
	writeSession(t, root, "-tmp-other", "other.jsonl", eventLine("user", 30*time.Second, "", ""))
	writeSession(t, root, "-tmp-tie-b", "tie.jsonl", eventLine("user", 10*time.Second, "", ""))
	writeSession(t, root, "-tmp-tie-a", "tie.jsonl", eventLine("user", 10*time.Second, "", ""))

	snap, err := NewScanner(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []string
	for _, rec := range snap.Sessions {
		ids = append(ids, rec.ID)
	}
	if !reflect.DeepEqual(ids, []string{"same", "other", "tie"}) {
		t.Fatalf("ids=%v, want [same other tie]", ids)
	}
	if got, want := snap.Sessions[0].SourcePath, filepath.Join(root, "-tmp-new", "same.jsonl"); got != want {
		t.Errorf("same source=%q, want %q", got, want)
	}
	if got, want := snap.Sessions[2].SourcePath, filepath.Join(root, "-tmp-tie-a", "tie.jsonl"); got != want {
		t.Errorf("tie source=%q, want %q", got, want)
	}
}

func TestScanSkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := t.TempDir()
	writeSession(t, root, "-tmp-ok", "ok.jsonl", eventLine("user", 0, "", ""))
	writeSession(t, root, "-tmp-locked", "hidden.jsonl", eventLine("user", 0, "", ""))
	locked := filepath.Join(root, "-tmp-locked")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	snap, err := NewScanner(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Len() != 1 || snap.Sessions[0].ID != "ok" {
		t.Fatalf("sessions=%#v, want only ok", snap.Sessions)
	}
}

func TestScanRespectsLimitOption(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeSession(t, root, "-tmp", fmt.Sprintf("s%d.jsonl", i), eventLine("user", time.Duration(i)*time.Second, "", ""))
	}
	snap, err := NewScanner(root, WithLimit(2), WithWorkers(1)).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := []string{snap.Sessions[0].ID, snap.Sessions[1].ID}; snap.Len() != 2 || !reflect.DeepEqual(got, []string{"s4", "s3"}) {
		t.Fatalf("sessions=%v, want [s4 s3]", got)
	}
}

func TestScanExcludesBrokenSources(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-tmp-good", "good.jsonl", eventLine("user", 0, "", ""))
	writeSession(t, root, "-tmp-good", "agent-summary.jsonl", eventLine("user", 0, "", ""))
	writeSession(t, root, "-tmp-bad", "garbage.jsonl", "{{{", "nope")
	writeSession(t, root, "-tmp-bad", "empty.jsonl")
	writeSession(t, root, "-tmp-bad", "notes.txt", eventLine("user", 0, "", ""))
	if err := os.MkdirAll(filepath.Join(root, "-tmp-bad", "dir.jsonl"), 0o755); err != nil {
		t.Fatal(err)
	}

	snap, err := NewScanner(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Len() != 1 || snap.Sessions[0].ID != "good" {
		t.Fatalf("sessions=%#v, want only good", snap.Sessions)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-tmp-a", "a.jsonl", eventLine("user", 0, "/tmp/a", ""), toolResultLine(time.Second, "Edit", "/tmp/a/x.go"))
	writeSession(t, root, "-tmp-b", "b.jsonl", eventLine("user", 2*time.Second, "/tmp/b", "main"))

	s := NewScanner(root, WithClock(fixedClock(baseTime.Add(2*time.Minute))))
	first, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !reflect.DeepEqual(first.Sessions, second.Sessions) {
		t.Fatalf("scans differ\nfirst:  %#v\nsecond: %#v", first.Sessions, second.Sessions)
	}
	if first.Sessions[0].ID != "b" || first.Sessions[0].Status != StatusActive {
		t.Errorf("first session=%q status=%q, want b/active", first.Sessions[0].ID, first.Sessions[0].Status)
	}
}

func TestScanStatusFollowsClock(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-tmp", "s.jsonl", eventLine("user", 0, "", ""))

	tests := []struct {
		elapsed time.Duration
		want    Status
	}{
		{30 * time.Second, StatusWorking},
		{2 * time.Minute, StatusActive},
		{10 * time.Minute, StatusIdle},
		{time.Hour, StatusCompleted},
	}
	for _, tt := range tests {
		snap, err := NewScanner(root, WithClock(fixedClock(baseTime.Add(tt.elapsed)))).Scan(context.Background())
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if got := snap.Sessions[0].Status; got != tt.want {
			t.Errorf("elapsed %s: status=%q, want %q", tt.elapsed, got, tt.want)
		}
	}
}

func TestScanCancelled(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-tmp", "s.jsonl", eventLine("user", 0, "", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewScanner(root).Scan(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
}
