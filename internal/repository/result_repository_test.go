package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atd/signal-comms/internal/domain"
	"atd/signal-comms/internal/repository/kafka"
)

type recordingWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type memorySink struct {
	records map[string]domain.Record
}

func newMemorySink() *memorySink {
	return &memorySink{records: make(map[string]domain.Record)}
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Persist(_ context.Context, batch domain.PublishBatch) (domain.Ack, error) {
	for _, record := range batch.Records {
		m.records[record.ID] = record
	}
	return domain.Ack{Sink: m.Name(), Destination: batch.RunID, Records: len(batch.Records)}, nil
}

type failingRepository struct{}

func (failingRepository) Name() string { return "broken" }

func (failingRepository) Persist(context.Context, domain.PublishBatch) (domain.Ack, error) {
	return domain.Ack{}, errors.New("disk full")
}

func testPublishBatch() domain.PublishBatch {
	runAt := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	runID := domain.NewRunID(domain.DeviceTypeCamera, runAt)
	batch := domain.PublishBatch{RunID: runID, RunAt: runAt, DeviceType: domain.DeviceTypeCamera, Env: "dev"}
	for _, id := range []string{"1", "2", "3"} {
		batch.Records = append(batch.Records, domain.Record{
			ID:         domain.RecordID(id, domain.DeviceTypeCamera, runAt),
			DeviceID:   id,
			IPAddress:  "10.0.0." + id,
			StatusCode: 1,
			StatusDesc: "online",
			Attempts:   1,
			DeviceType: "camera",
			RunID:      runID,
		})
	}
	return batch
}

func TestKafkaResultRepository_KeysByRecordID(t *testing.T) {
	w := &recordingWriter{}
	repo := NewKafkaResultRepository(kafka.NewProducerWithWriter(w, "comm-status"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	batch := testPublishBatch()

	ack, err := repo.Persist(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, domain.Ack{Sink: "kafka", Destination: "comm-status", Records: 3}, ack)
	require.Len(t, w.msgs, 3)
	for i, msg := range w.msgs {
		assert.Equal(t, batch.Records[i].ID, string(msg.Key))
	}
}

func TestKafkaResultRepository_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	repo := NewKafkaResultRepository(kafka.NewProducerWithWriter(w, "comm-status"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := repo.Persist(context.Background(), testPublishBatch())

	var sinkErr *domain.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "kafka", sinkErr.Sink)
}

func TestMultiResultRepository_TriesEverySink(t *testing.T) {
	first := newMemorySink()
	last := newMemorySink()
	multi := NewMultiResultRepository(first, failingRepository{}, last)
	batch := testPublishBatch()

	acks, err := multi.PersistAll(context.Background(), batch)

	require.Error(t, err)
	var sinkErr *domain.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "broken", sinkErr.Sink)
	assert.Len(t, acks, 2)
	assert.Len(t, first.records, 3)
	assert.Len(t, last.records, 3)
	assert.Equal(t, []string{"memory", "broken", "memory"}, multi.Names())
}

func TestMultiResultRepository_AcksEverySink(t *testing.T) {
	multi := NewMultiResultRepository(newMemorySink(), newMemorySink())
	batch := testPublishBatch()

	acks, err := multi.PersistAll(context.Background(), batch)

	require.NoError(t, err)
	require.Len(t, acks, 2)
	for _, ack := range acks {
		assert.Equal(t, domain.Ack{Sink: "memory", Destination: batch.RunID, Records: 3}, ack)
	}
}
