package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/pkgsync/internal/domain"
)

const testTarget = "indexed/indexed/apt/dists/stable"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestNewManager(t *testing.T) {
	tmpDir := t.TempDir()

	manager, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	if manager.db == nil {
		t.Error("Database connection is nil")
	}

	// Verify database file was created
	dbPath := filepath.Join(tmpDir, DBFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNewManager_EmptyDir(t *testing.T) {
	_, err := NewManager("")
	if err == nil {
		t.Error("Expected error for empty directory, got nil")
	}
}

func TestNewManager_Reopen(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if _, err := first.SaveExecution(ExecutionRecord{
		Target: testTarget, Operation: domain.OperationPull,
		StartTime: time.Now(), EndTime: time.Now(), Status: StatusSuccess,
	}); err != nil {
		t.Fatalf("Failed to save execution: %v", err)
	}
	first.Close()

	second, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("Failed to reopen manager: %v", err)
	}
	defer second.Close()

	history, err := second.GetHistory(testTarget, 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected history to survive reopen, got %d records", len(history))
	}
}

func TestSaveAndGetExecution(t *testing.T) {
	manager := newTestManager(t)

	record := ExecutionRecord{
		Target:        testTarget,
		Operation:     domain.OperationPush,
		StartTime:     time.Now().Add(-10 * time.Minute),
		EndTime:       time.Now(),
		Status:        StatusSuccess,
		Skipped:       40,
		Uploaded:      3,
		DeletedRemote: 2,
	}

	id, err := manager.SaveExecution(record)
	if err != nil {
		t.Fatalf("Failed to save execution: %v", err)
	}
	if id <= 0 {
		t.Errorf("Expected positive ID, got %d", id)
	}

	history, err := manager.GetHistory(testTarget, 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}

	if len(history) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(history))
	}

	retrieved := history[0]
	if retrieved.ID != id {
		t.Errorf("Expected ID %d, got %d", id, retrieved.ID)
	}
	if retrieved.Operation != domain.OperationPush {
		t.Errorf("Expected operation push, got %s", retrieved.Operation)
	}
	if retrieved.Status != StatusSuccess {
		t.Errorf("Expected status %s, got %s", StatusSuccess, retrieved.Status)
	}
	if retrieved.Skipped != 40 || retrieved.Uploaded != 3 || retrieved.DeletedRemote != 2 {
		t.Errorf("Counts not persisted: %+v", retrieved)
	}
	if retrieved.Changed() != 5 {
		t.Errorf("Expected 5 changed paths, got %d", retrieved.Changed())
	}
	if retrieved.StartTime.Sub(record.StartTime).Abs() > time.Millisecond {
		t.Errorf("StartTime = %v, want %v", retrieved.StartTime, record.StartTime)
	}
}

func TestGetLastExecution(t *testing.T) {
	manager := newTestManager(t)

	now := time.Now()
	records := []ExecutionRecord{
		{Target: testTarget, Operation: domain.OperationPush, StartTime: now.Add(-30 * time.Minute), EndTime: now.Add(-29 * time.Minute), Status: StatusSuccess, Uploaded: 5},
		{Target: testTarget, Operation: domain.OperationPull, StartTime: now.Add(-20 * time.Minute), EndTime: now.Add(-19 * time.Minute), Status: StatusSuccess, Downloaded: 7},
		{Target: testTarget, Operation: domain.OperationPush, StartTime: now.Add(-10 * time.Minute), EndTime: now.Add(-9 * time.Minute), Status: StatusFailed, Error: "remote storage error"},
	}

	for _, record := range records {
		if _, err := manager.SaveExecution(record); err != nil {
			t.Fatalf("Failed to save execution: %v", err)
		}
	}

	last, err := manager.GetLastExecution(testTarget, domain.OperationPush)
	if err != nil {
		t.Fatalf("Failed to get last execution: %v", err)
	}
	if last == nil {
		t.Fatal("Expected last execution, got nil")
	}
	if last.Status != StatusFailed || last.Error != "remote storage error" {
		t.Errorf("Expected the failed push, got %+v", last)
	}

	last, err = manager.GetLastExecution(testTarget, domain.OperationPull)
	if err != nil {
		t.Fatalf("Failed to get last execution: %v", err)
	}
	if last == nil || last.Downloaded != 7 {
		t.Errorf("Expected the pull with 7 downloads, got %+v", last)
	}
}

func TestGetLastExecution_None(t *testing.T) {
	manager := newTestManager(t)

	last, err := manager.GetLastExecution(testTarget, domain.OperationSnapshot)
	if err != nil {
		t.Fatalf("Failed to get last execution: %v", err)
	}
	if last != nil {
		t.Error("Expected nil for last execution, got a record")
	}
}

func TestGetHistory_AllTargets(t *testing.T) {
	manager := newTestManager(t)

	now := time.Now()
	records := []ExecutionRecord{
		{Target: "incoming/incoming/stable/1", Operation: domain.OperationPull, StartTime: now.Add(-30 * time.Minute), EndTime: now, Status: StatusSuccess},
		{Target: testTarget, Operation: domain.OperationPull, StartTime: now.Add(-20 * time.Minute), EndTime: now, Status: StatusSuccess},
		{Target: "incoming/incoming/stable/1", Operation: domain.OperationPush, StartTime: now.Add(-10 * time.Minute), EndTime: now, Status: StatusFailed, Error: "error"},
	}

	for _, record := range records {
		if _, err := manager.SaveExecution(record); err != nil {
			t.Fatalf("Failed to save execution: %v", err)
		}
	}

	all, err := manager.GetHistory("", 100)
	if err != nil {
		t.Fatalf("Failed to get all history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}

	// Newest first
	if all[0].Operation != domain.OperationPush || all[0].Status != StatusFailed {
		t.Error("Expected most recent record to be the failed push")
	}

	scoped, err := manager.GetHistory(testTarget, 100)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(scoped) != 1 {
		t.Errorf("Expected 1 record for %s, got %d", testTarget, len(scoped))
	}
}

func TestGetHistory_Limit(t *testing.T) {
	manager := newTestManager(t)

	now := time.Now()
	for i := 0; i < 5; i++ {
		record := ExecutionRecord{
			Target:     testTarget,
			Operation:  domain.OperationPull,
			StartTime:  now.Add(time.Duration(-i*10) * time.Minute),
			EndTime:    now.Add(time.Duration(-i*10+1) * time.Minute),
			Status:     StatusSuccess,
			Downloaded: i,
		}
		if _, err := manager.SaveExecution(record); err != nil {
			t.Fatalf("Failed to save execution: %v", err)
		}
	}

	history, err := manager.GetHistory(testTarget, 3)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}

	if len(history) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(history))
	}

	if history[0].Downloaded != 0 {
		t.Errorf("Expected most recent record to have 0 downloads, got %d", history[0].Downloaded)
	}
}

func TestSaveExecution_Invalid(t *testing.T) {
	manager := newTestManager(t)

	tests := []struct {
		name   string
		record ExecutionRecord
	}{
		{"invalid status", ExecutionRecord{Target: testTarget, StartTime: time.Now(), EndTime: time.Now(), Status: "partial"}},
		{"empty target", ExecutionRecord{StartTime: time.Now(), EndTime: time.Now(), Status: StatusSuccess}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.SaveExecution(tt.record); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestGetHistory_InvalidLimit(t *testing.T) {
	manager := newTestManager(t)

	if _, err := manager.GetHistory(testTarget, 0); err == nil {
		t.Error("Expected error for limit=0, got nil")
	}
	if _, err := manager.GetHistory("", -1); err == nil {
		t.Error("Expected error for limit=-1, got nil")
	}
	if _, err := manager.ListSnapshots(testTarget, 0); err == nil {
		t.Error("Expected error for snapshot limit=0, got nil")
	}
}

func TestSaveAndListSnapshots(t *testing.T) {
	manager := newTestManager(t)

	taken := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snapshots := []domain.Snapshot{
		{Key: "apt/dists/stable/Release", ID: "2026-03-01T12:00:00.0000000Z", CreatedAt: taken},
		{Key: "apt/dists/stable/main/binary-amd64/Packages", ID: "2026-03-01T12:00:01.0000000Z", CreatedAt: taken.Add(time.Second)},
	}

	if err := manager.SaveSnapshots(testTarget, snapshots); err != nil {
		t.Fatalf("Failed to save snapshots: %v", err)
	}
	if err := manager.SaveSnapshots(testTarget, nil); err != nil {
		t.Fatalf("Saving no snapshots should be a no-op: %v", err)
	}

	listed, err := manager.ListSnapshots(testTarget, 10)
	if err != nil {
		t.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(listed))
	}
	if listed[0].Key != "apt/dists/stable/main/binary-amd64/Packages" {
		t.Errorf("Expected newest snapshot first, got %s", listed[0].Key)
	}
	if listed[1].SnapshotID != snapshots[0].ID {
		t.Errorf("SnapshotID = %q, want %q", listed[1].SnapshotID, snapshots[0].ID)
	}

	other, err := manager.ListSnapshots("indexed/indexed/yum/stable", 10)
	if err != nil {
		t.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no snapshots for another target, got %d", len(other))
	}
}

func TestCleanupOldRecords(t *testing.T) {
	manager := newTestManager(t)

	now := time.Now()
	old := now.Add(-90 * 24 * time.Hour)

	for _, start := range []time.Time{old, now} {
		if _, err := manager.SaveExecution(ExecutionRecord{
			Target: testTarget, Operation: domain.OperationIndex,
			StartTime: start, EndTime: start, Status: StatusSuccess,
		}); err != nil {
			t.Fatalf("Failed to save execution: %v", err)
		}
	}
	if err := manager.SaveSnapshots(testTarget, []domain.Snapshot{
		{Key: "apt/dists/stable/Release", ID: "old", CreatedAt: old},
		{Key: "apt/dists/stable/Release", ID: "new", CreatedAt: now},
	}); err != nil {
		t.Fatalf("Failed to save snapshots: %v", err)
	}

	removed, err := manager.CleanupOldRecords(now.Add(-30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("CleanupOldRecords failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed rows, got %d", removed)
	}

	history, _ := manager.GetHistory(testTarget, 10)
	if len(history) != 1 {
		t.Errorf("Expected 1 execution left, got %d", len(history))
	}
	snapshots, _ := manager.ListSnapshots(testTarget, 10)
	if len(snapshots) != 1 || snapshots[0].SnapshotID != "new" {
		t.Errorf("Expected only the new snapshot left, got %+v", snapshots)
	}
}
