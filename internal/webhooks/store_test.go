package webhooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:webhooks_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS webhook_events (
  id TEXT PRIMARY KEY,
  provider_event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  payload TEXT,
  processed INTEGER NOT NULL DEFAULT 0,
  processing_error TEXT,
  received_at DATETIME,
  processed_at DATETIME
);`
	if err := db.Exec(schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestRecordIfNewFirstDelivery(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	result, err := store.RecordIfNew(ctx, "evt_1", "payment_intent.succeeded", json.RawMessage(`{"id":"evt_1"}`))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !result.IsNew {
		t.Fatal("expected first delivery to be new")
	}
	if result.RecordID == uuid.Nil {
		t.Fatal("expected a record id")
	}
}

func TestRecordIfNewDuplicateDelivery(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	first, err := store.RecordIfNew(ctx, "evt_1", "payment_intent.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("first record: %v", err)
	}

	second, err := store.RecordIfNew(ctx, "evt_1", "payment_intent.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if second.IsNew {
		t.Fatal("expected duplicate delivery to not be new")
	}
	if second.RecordID != first.RecordID {
		t.Fatalf("expected same record id, got %s and %s", first.RecordID, second.RecordID)
	}
	if second.Processed {
		t.Fatal("duplicate of an unapplied event must report processed=false")
	}
}

func TestRecordIfNewDuplicateReportsProcessedState(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	first, err := store.RecordIfNew(ctx, "evt_1", "payment_intent.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := store.MarkProcessed(ctx, first.RecordID, nil); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	second, err := store.RecordIfNew(ctx, "evt_1", "payment_intent.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if !second.Processed {
		t.Fatal("duplicate of a processed event must report processed=true")
	}
}

func TestListUnprocessedReturnsOnlyStuckEvents(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	stuck, err := store.RecordIfNew(ctx, "evt_stuck", "refund.updated", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("record stuck: %v", err)
	}
	done, err := store.RecordIfNew(ctx, "evt_done", "payment_intent.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("record done: %v", err)
	}
	if err := store.MarkProcessed(ctx, done.RecordID, nil); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	failed, err := store.RecordIfNew(ctx, "evt_orphan", "payment_intent.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("record orphan: %v", err)
	}
	reason := "orphan intent reference pi_unknown"
	if err := store.MarkProcessed(ctx, failed.RecordID, &reason); err != nil {
		t.Fatalf("mark orphan: %v", err)
	}

	records, err := store.ListUnprocessed(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list unprocessed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 stuck event, got %d", len(records))
	}
	if records[0].ID != stuck.RecordID {
		t.Fatalf("expected stuck record %s, got %s", stuck.RecordID, records[0].ID)
	}
}

func TestListUnprocessedHonorsCutoff(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	if _, err := store.RecordIfNew(ctx, "evt_fresh", "refund.updated", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := store.ListUnprocessed(ctx, time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list unprocessed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("fresh events must not be listed, got %d", len(records))
	}
}

func TestMarkProcessedRecordsOutcome(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	result, err := store.RecordIfNew(ctx, "evt_1", "payment_intent.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := store.MarkProcessed(ctx, result.RecordID, nil); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	record, err := store.FindByID(ctx, result.RecordID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !record.Processed {
		t.Fatal("expected record to be processed")
	}
	if record.ProcessedAt == nil {
		t.Fatal("expected processed_at to be set")
	}
	if record.ProcessingError != nil {
		t.Fatalf("expected no processing error, got %q", *record.ProcessingError)
	}
}

func TestMarkProcessedWithError(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	result, err := store.RecordIfNew(ctx, "evt_orphan", "payment_intent.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	reason := "orphan intent reference pi_unknown"
	if err := store.MarkProcessed(ctx, result.RecordID, &reason); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	record, err := store.FindByID(ctx, result.RecordID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.ProcessingError == nil || *record.ProcessingError != reason {
		t.Fatalf("expected processing error %q, got %v", reason, record.ProcessingError)
	}
}
