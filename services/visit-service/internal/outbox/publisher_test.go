package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/visitbook/libs/db"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/migrations"
)

type fakeWriter struct {
	mu   sync.Mutex
	err  error
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestDeliverWritesBatchInOrder(t *testing.T) {
	records := []Record{
		{ID: 3, EventID: "e3", AggregateID: "V1", EventType: EventVisitCreated, Payload: []byte(`{}`)},
		{ID: 4, EventID: "e4", AggregateID: "V1", EventType: EventVisitCanceled, Payload: []byte(`{}`)},
	}
	w := &fakeWriter{}
	ids, err := deliver(context.Background(), w, records)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 4 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if len(w.msgs) != 2 || w.msgs[0].Topic != EventVisitCreated || w.msgs[1].Topic != EventVisitCanceled {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	if string(w.msgs[1].Key) != "V1" {
		t.Fatalf("expected aggregate id as key, got %q", w.msgs[1].Key)
	}
}

func TestDeliverReturnsNoIDsOnWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	ids, err := deliver(context.Background(), w, []Record{{ID: 1, EventType: EventVisitCreated}})
	if err == nil || ids != nil {
		t.Fatalf("expected error and no ids, got %v %v", ids, err)
	}
}

func TestPublishBatchMarksOnlyWrittenRows(t *testing.T) {
	url := os.Getenv("VISIT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VISIT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE outbox_events`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	repo := NewRepository(pool)
	if err := repo.Emit(ctx, Event{AggregateType: AggregateVisit, AggregateID: "V1", EventType: EventVisitCreated, Payload: []byte(`{"visit_id":"V1"}`)}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	pub := NewPublisher(pool, repo, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{Brokers: "localhost:9092"})

	failing := &fakeWriter{err: errors.New("broker down")}
	if n, err := pub.publishBatch(ctx, failing); err == nil || n != 0 {
		t.Fatalf("expected failed batch, got %d %v", n, err)
	}

	w := &fakeWriter{}
	if n, err := pub.publishBatch(ctx, w); err != nil || n != 1 {
		t.Fatalf("expected the row to be retried and published, got %d %v", n, err)
	}
	if n, err := pub.publishBatch(ctx, w); err != nil || n != 0 {
		t.Fatalf("published row sent again: %d %v", n, err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "V1" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
}
